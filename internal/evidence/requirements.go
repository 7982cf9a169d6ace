package evidence

import (
	"github.com/disputekit/backend/pkg/models"
)

// Requirement is a declared category of supporting material expected for a
// given dispute type.
type Requirement struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Example     string `json:"example"`
	Required    bool   `json:"required"`
}

// State is the reconciled evidence position for a case: what is expected,
// what has been uploaded, and whether there is enough to proceed.
type State struct {
	Required           []Requirement `json:"required"`
	Uploaded           int           `json:"uploaded"`
	Missing            []string      `json:"missing"`
	HasMinimumEvidence bool          `json:"has_minimum_evidence"`
}

// genericRequirement is the fallback when the dispute type is unknown or not
// yet established.
var genericRequirement = Requirement{
	Kind:        "general",
	Description: "Evidence of what happened",
	Example:     "Photos, letters, receipts or any written record of the dispute",
	Required:    true,
}

// requirementsByType maps each known dispute type to an ordered list of
// evidence kinds. Order matters: it is the order shown to the user and the
// order missing descriptions are reported in.
var requirementsByType = map[string][]Requirement{
	"tenancy_deposit": {
		{Kind: "tenancy_agreement", Description: "Your tenancy agreement", Example: "Signed AST or lease document", Required: true},
		{Kind: "deposit_proof", Description: "Proof of the deposit payment", Example: "Bank statement or deposit protection certificate", Required: true},
		{Kind: "correspondence", Description: "Messages with your landlord or agent", Example: "Emails or texts about the deposit", Required: false},
		{Kind: "inventory", Description: "Check-in or check-out inventory", Example: "Inventory report with photos", Required: false},
	},
	"employment": {
		{Kind: "contract", Description: "Your employment contract or offer letter", Example: "Signed contract, offer email", Required: true},
		{Kind: "payslips", Description: "Recent payslips", Example: "Last three payslips", Required: true},
		{Kind: "correspondence", Description: "Messages with your employer about the issue", Example: "Emails, HR letters, grievance records", Required: false},
	},
	"consumer": {
		{Kind: "purchase_proof", Description: "Proof of purchase", Example: "Receipt, invoice or order confirmation", Required: true},
		{Kind: "fault_evidence", Description: "Evidence of the fault or problem", Example: "Photos of the defect, inspection report", Required: true},
		{Kind: "correspondence", Description: "Messages with the seller", Example: "Complaint emails and their replies", Required: false},
	},
	"unpaid_invoice": {
		{Kind: "invoice", Description: "The unpaid invoice", Example: "Invoice PDF with due date", Required: true},
		{Kind: "agreement", Description: "The underlying agreement or order", Example: "Signed contract, purchase order or email chain", Required: true},
		{Kind: "chase_history", Description: "Payment reminders you have sent", Example: "Chaser emails, statements of account", Required: false},
	},
	"contract_breach": {
		{Kind: "contract", Description: "The contract that was breached", Example: "Signed agreement or written terms", Required: true},
		{Kind: "breach_evidence", Description: "Evidence of the breach", Example: "Photos, delivery records, correspondence", Required: true},
		{Kind: "loss_evidence", Description: "Evidence of your losses", Example: "Receipts for remedial costs, quotes", Required: false},
	},
	"service_quality": {
		{Kind: "service_agreement", Description: "The service agreement or quote", Example: "Written quote, booking confirmation", Required: true},
		{Kind: "quality_evidence", Description: "Evidence of the poor workmanship or service", Example: "Photos, independent assessment", Required: true},
		{Kind: "correspondence", Description: "Messages with the provider", Example: "Complaint emails and their replies", Required: false},
	},
}

// RequirementsFor returns the ordered evidence requirements for a dispute
// type, falling back to the generic requirement when the type is nil or
// unknown.
func RequirementsFor(disputeType *string) []Requirement {
	if disputeType != nil {
		if reqs, ok := requirementsByType[*disputeType]; ok {
			return reqs
		}
	}
	return []Requirement{genericRequirement}
}

// Assess reconciles what a case type requires against what has been uploaded.
// Pure function of its inputs: no store access, no error conditions.
//
// The tracker does not classify uploaded items against specific kinds; it
// only checks presence. Missing lists every required kind while zero items
// are uploaded, and empties once anything is.
func Assess(disputeType *string, items []models.EvidenceItem) State {
	reqs := RequirementsFor(disputeType)

	missing := []string{}
	if len(items) == 0 {
		for _, r := range reqs {
			if r.Required {
				missing = append(missing, r.Description)
			}
		}
	}

	return State{
		Required:           reqs,
		Uploaded:           len(items),
		Missing:            missing,
		HasMinimumEvidence: len(items) >= 1,
	}
}

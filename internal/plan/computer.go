package plan

import (
	"regexp"

	"github.com/disputekit/backend/pkg/models"
)

// Thresholds tune the complexity scoring. Defaults mirror what the scoring
// was calibrated against; they are configuration, not law.
type Thresholds struct {
	ModerateAt int // score at or above which the case is moderate
	ComplexAt  int // score at or above which the case is complex
}

// DefaultThresholds returns the production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{ModerateAt: 5, ComplexAt: 9}
}

// PlannedDocument is one entry of a computed, unpersisted plan.
type PlannedDocument struct {
	Type     models.DocumentType `json:"type"`
	Order    int                 `json:"order"`
	Required bool                `json:"required"`
}

// ComputedPlan is the in-memory result of plan computation.
type ComputedPlan struct {
	Complexity   models.Complexity `json:"complexity"`
	DocumentType models.PlanType   `json:"document_type"`
	Documents    []PlannedDocument `json:"documents"`
}

// Result is either a computed plan or a validation failure listing the fact
// fields still missing. A validation failure is user-correctable, not fatal.
type Result struct {
	Success    bool          `json:"success"`
	Validation []string      `json:"validation,omitempty"`
	Plan       *ComputedPlan `json:"plan,omitempty"`
}

// Dispute types that involve a tribunal or court track; these never get a
// bare single letter.
var forcedModerateTypes = map[string]bool{
	"employment":      true,
	"contract_breach": true,
}

var reMoney = regexp.MustCompile(`[£$€]\s?\d|\b\d{3,}(?:[.,]\d+)?\b`)

// Compute validates the case facts and scores complexity into an ordered
// document list. Deterministic: identical inputs always produce the same
// document sequence.
func Compute(facts *models.CaseFacts, evidenceCount int, cfg Thresholds) Result {
	missing := []string{}
	if facts == nil || facts.DisputeType == nil || *facts.DisputeType == "" {
		missing = append(missing, "dispute_type")
	}
	if facts == nil || len(facts.KeyFacts) == 0 {
		missing = append(missing, "key_facts")
	}
	if facts == nil || facts.DesiredOutcome == "" {
		missing = append(missing, "desired_outcome")
	}
	if len(missing) > 0 {
		return Result{Success: false, Validation: missing}
	}

	score := 0

	// Fact volume: each key fact adds weight, capped so rambling histories
	// do not force a bundle on their own.
	n := len(facts.KeyFacts)
	if n > 6 {
		n = 6
	}
	score += n

	// Evidence volume.
	if evidenceCount >= 1 {
		score += 1
	}
	if evidenceCount >= 3 {
		score += 1
	}

	// A quantified claim needs a schedule of loss.
	hasAmount := reMoney.MatchString(facts.DesiredOutcome)
	if hasAmount {
		score += 2
	}

	complexity := models.ComplexitySimple
	switch {
	case score >= cfg.ComplexAt:
		complexity = models.ComplexityComplex
	case score >= cfg.ModerateAt:
		complexity = models.ComplexityModerate
	}

	// Tribunal/court matters are at least moderate regardless of score.
	if forcedModerateTypes[*facts.DisputeType] && complexity == models.ComplexitySimple {
		complexity = models.ComplexityModerate
	}

	return Result{Success: true, Plan: assemble(complexity, hasAmount)}
}

// assemble turns a complexity tier into the ordered document list. The
// primary letter always comes first; bundles add supporting documents in a
// stable order.
func assemble(complexity models.Complexity, hasAmount bool) *ComputedPlan {
	docs := []PlannedDocument{
		{Type: models.DocLetterBeforeAction, Order: 1, Required: true},
	}

	if complexity == models.ComplexitySimple {
		return &ComputedPlan{
			Complexity:   complexity,
			DocumentType: models.PlanSimpleLetter,
			Documents:    docs,
		}
	}

	docs = append(docs,
		PlannedDocument{Type: models.DocScheduleOfLoss, Order: 2, Required: hasAmount},
		PlannedDocument{Type: models.DocEvidenceIndex, Order: 3, Required: true},
	)
	if complexity == models.ComplexityComplex {
		docs = append(docs, PlannedDocument{Type: models.DocWitnessStatement, Order: 4, Required: false})
	}

	return &ComputedPlan{
		Complexity:   complexity,
		DocumentType: models.PlanBundle,
		Documents:    docs,
	}
}

package chat

import (
	"regexp"
	"strings"

	"github.com/disputekit/backend/pkg/models"
)

// FactKind names one of the fact categories the conversation must establish
// before a case is ready for document planning.
type FactKind string

const (
	FactDisputeType  FactKind = "dispute_type"
	FactOtherParty   FactKind = "other_party"
	FactWhatHappened FactKind = "what_happened"
	FactAmount       FactKind = "amount"
	FactRelationship FactKind = "relationship"
)

// AllFactKinds is the fixed set of categories, in reporting order.
var AllFactKinds = []FactKind{
	FactDisputeType, FactOtherParty, FactWhatHappened, FactAmount, FactRelationship,
}

// FactPredicate reports whether a fact category is present in the stored
// case facts. Implementations are pluggable: the keyword matchers below are
// the default, but the state builder only depends on this signature, so a
// classifier can replace any of them without touching the state machine.
type FactPredicate func(facts *models.CaseFacts) bool

// Currency symbol or standalone number, e.g. "£1,200", "$500", "850".
var reAmount = regexp.MustCompile(`[£$€]\s?\d|(?:^|\s)\d{2,}(?:[.,]\d+)?(?:\s|$|\.)`)

var relationshipWords = []string{
	"tenant", "landlord", "employee", "employer", "customer", "client",
	"contractor", "supplier", "neighbour", "neighbor", "buyer", "seller",
}

var partyWords = []string{
	"landlord", "employer", "company", "agency", "seller", "builder",
	"garage", "shop", "store", "provider", "ltd", "limited", "mr ", "mrs ", "ms ",
}

// defaultPredicates are the keyword heuristics used in production today.
var defaultPredicates = map[FactKind]FactPredicate{
	FactDisputeType: func(f *models.CaseFacts) bool {
		return f != nil && f.DisputeType != nil && *f.DisputeType != ""
	},
	FactOtherParty: func(f *models.CaseFacts) bool {
		return f != nil && containsAny(joined(f.KeyFacts), partyWords)
	},
	FactWhatHappened: func(f *models.CaseFacts) bool {
		return f != nil && len(f.KeyFacts) > 0
	},
	FactAmount: func(f *models.CaseFacts) bool {
		if f == nil {
			return false
		}
		return reAmount.MatchString(f.DesiredOutcome) || reAmount.MatchString(joined(f.KeyFacts))
	},
	FactRelationship: func(f *models.CaseFacts) bool {
		if f == nil {
			return false
		}
		blob := joined(f.KeyFacts) + " " + strings.ToLower(f.DesiredOutcome)
		return containsAny(blob, relationshipWords)
	},
}

// PredicateSet is the full pluggable predicate table used by the state
// builder. Construct with DefaultPredicates and override entries as needed.
type PredicateSet map[FactKind]FactPredicate

// DefaultPredicates returns a fresh copy of the built-in keyword matchers.
func DefaultPredicates() PredicateSet {
	out := make(PredicateSet, len(defaultPredicates))
	for k, p := range defaultPredicates {
		out[k] = p
	}
	return out
}

// IsFactPresent evaluates one category against the stored facts. Unknown
// kinds report false.
func (ps PredicateSet) IsFactPresent(kind FactKind, facts *models.CaseFacts) bool {
	if p, ok := ps[kind]; ok {
		return p(facts)
	}
	return false
}

// Complete reports whether every category is present.
func (ps PredicateSet) Complete(facts *models.CaseFacts) bool {
	for _, k := range AllFactKinds {
		if !ps.IsFactPresent(k, facts) {
			return false
		}
	}
	return true
}

func joined(parts []string) string {
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

/* =========================== Fact extraction ============================ */

// disputeTypeHints maps user vocabulary onto dispute types. First match wins.
var disputeTypeHints = []struct {
	keywords []string
	disputeT string
}{
	{[]string{"deposit", "tenancy", "landlord won't return"}, "tenancy_deposit"},
	{[]string{"unfair dismissal", "fired", "redundan", "my employer", "wages", "payslip"}, "employment"},
	{[]string{"refund", "faulty", "not as described", "returned the item"}, "consumer"},
	{[]string{"unpaid invoice", "hasn't paid my invoice", "invoice is overdue"}, "unpaid_invoice"},
	{[]string{"breach of contract", "broke the contract", "didn't deliver"}, "contract_breach"},
	{[]string{"poor workmanship", "bad service", "botched"}, "service_quality"},
}

var reOutcome = regexp.MustCompile(`(?i)\bi (?:want|would like|expect|am seeking|need)\b.*`)

// ExtractFacts folds one user message into the stored case facts. This is the
// keyword placeholder for real extraction: it sets the dispute type on first
// match, appends the message's sentences as key facts, records evidence the
// user mentions, and captures an "I want..." clause as the desired outcome.
// It mutates facts in place and reports whether anything changed.
func ExtractFacts(facts *models.CaseFacts, userMessage string) bool {
	changed := false
	lower := strings.ToLower(userMessage)

	if facts.DisputeType == nil {
		for _, h := range disputeTypeHints {
			if containsAny(lower, h.keywords) {
				t := h.disputeT
				facts.DisputeType = &t
				changed = true
				break
			}
		}
	}

	for _, sentence := range SplitSentences(userMessage) {
		s := strings.TrimSpace(sentence)
		if len(s) < 12 || strings.HasSuffix(s, "?") {
			continue
		}
		if !containsString(facts.KeyFacts, s) {
			facts.KeyFacts = append(facts.KeyFacts, s)
			changed = true
		}
	}

	for _, w := range []string{"photo", "receipt", "contract", "email", "screenshot", "invoice", "statement"} {
		if strings.Contains(lower, w) && !containsString(facts.EvidenceMentioned, w) {
			facts.EvidenceMentioned = append(facts.EvidenceMentioned, w)
			changed = true
		}
	}

	if facts.DesiredOutcome == "" {
		if m := reOutcome.FindString(userMessage); m != "" {
			facts.DesiredOutcome = strings.TrimSpace(m)
			changed = true
		}
	}

	return changed
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package chat

import (
	"testing"

	"github.com/disputekit/backend/pkg/models"
)

func Test_ExtractFacts_DisputeTypeFirstMatchWins(t *testing.T) {
	facts := &models.CaseFacts{}

	changed := ExtractFacts(facts, "My landlord is refusing to return my deposit after the tenancy ended.")
	if !changed {
		t.Fatal("expected a change")
	}
	if facts.DisputeType == nil || *facts.DisputeType != "tenancy_deposit" {
		t.Fatalf("dispute type = %v, want tenancy_deposit", facts.DisputeType)
	}

	// Once set, later messages never overwrite it.
	ExtractFacts(facts, "My employer also owes me wages.")
	if *facts.DisputeType != "tenancy_deposit" {
		t.Fatalf("dispute type was overwritten to %s", *facts.DisputeType)
	}
}

func Test_ExtractFacts_KeyFactsDeduplicated(t *testing.T) {
	facts := &models.CaseFacts{}
	msg := "The boiler broke in January and was never repaired."

	ExtractFacts(facts, msg)
	if len(facts.KeyFacts) != 1 {
		t.Fatalf("key facts = %v, want one entry", facts.KeyFacts)
	}
	if changed := ExtractFacts(facts, msg); changed {
		t.Fatal("repeating the same message should change nothing")
	}
	if len(facts.KeyFacts) != 1 {
		t.Fatalf("key facts grew on repeat: %v", facts.KeyFacts)
	}
}

func Test_ExtractFacts_SkipsQuestionsAndFragments(t *testing.T) {
	facts := &models.CaseFacts{}
	ExtractFacts(facts, "What can I do? Ok.")
	if len(facts.KeyFacts) != 0 {
		t.Fatalf("questions and short fragments should not become key facts: %v", facts.KeyFacts)
	}
}

func Test_ExtractFacts_EvidenceMentionsAndOutcome(t *testing.T) {
	facts := &models.CaseFacts{}
	ExtractFacts(facts, "I have photos and the signed contract. I want a full refund of £450.")

	if !containsString(facts.EvidenceMentioned, "photo") || !containsString(facts.EvidenceMentioned, "contract") {
		t.Fatalf("evidence mentioned = %v", facts.EvidenceMentioned)
	}
	if facts.DesiredOutcome != "I want a full refund of £450." {
		t.Fatalf("desired outcome = %q", facts.DesiredOutcome)
	}
}

func Test_AmountPredicate(t *testing.T) {
	p := DefaultPredicates()

	with := &models.CaseFacts{DesiredOutcome: "I want £1,200 back"}
	without := &models.CaseFacts{DesiredOutcome: "I want an apology"}

	if !p.IsFactPresent(FactAmount, with) {
		t.Fatal("currency amount should satisfy the amount predicate")
	}
	if p.IsFactPresent(FactAmount, without) {
		t.Fatal("no figures should not satisfy the amount predicate")
	}

	bare := &models.CaseFacts{KeyFacts: []string{"They owe me 850 for the repair."}}
	if !p.IsFactPresent(FactAmount, bare) {
		t.Fatal("bare number in key facts should satisfy the amount predicate")
	}
}

func Test_PredicateSet_OverrideIsRespected(t *testing.T) {
	preds := DefaultPredicates()
	preds[FactAmount] = func(*models.CaseFacts) bool { return true }

	if !preds.IsFactPresent(FactAmount, &models.CaseFacts{}) {
		t.Fatal("overridden predicate was not used")
	}
	if preds.IsFactPresent(FactKind("unknown"), &models.CaseFacts{}) {
		t.Fatal("unknown kinds must report false")
	}
}

func Test_NilFactsAreNeverPresent(t *testing.T) {
	p := DefaultPredicates()
	for _, k := range AllFactKinds {
		if p.IsFactPresent(k, nil) {
			t.Fatalf("%s reported present for nil facts", k)
		}
	}
}

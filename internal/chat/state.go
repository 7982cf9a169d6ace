package chat

import (
	"strings"

	"github.com/disputekit/backend/pkg/models"
)

// ConversationState is what the turn handler derives from the message history
// and stored facts: what has been asked, what is known, and which phase the
// conversation is in. Recomputed from persisted state on every turn; never
// cached between calls.
type ConversationState struct {
	QuestionsAsked     []string          `json:"questions_asked"`
	AnswersProvided    map[FactKind]bool `json:"answers_provided"`
	EvidenceRequested  bool              `json:"evidence_requested"`
	WaitingForEvidence bool              `json:"waiting_for_evidence"`
	Phase              models.ChatPhase  `json:"phase"`
}

// FactsComplete reports whether all five answer categories are present.
func (s ConversationState) FactsComplete() bool {
	for _, k := range AllFactKinds {
		if !s.AnswersProvided[k] {
			return false
		}
	}
	return true
}

// Phrases in an AI message that indicate it told the user it would wait for
// an upload.
var waitingPhrases = []string{
	"once you've uploaded", "once you have uploaded", "when you've uploaded",
	"i'll wait", "i will wait", "take your time uploading", "waiting for your upload",
}

// BuildConversationState derives the current conversation state.
//
// Phase precedence: locked beats everything; waiting only holds while the
// evidence count is zero (an upload always ends waiting, whatever the text
// said); ready requires all five answers plus at least one evidence item.
func BuildConversationState(
	history []models.ChatMessage,
	facts *models.CaseFacts,
	evidenceCount int,
	chatLocked bool,
	preds PredicateSet,
) ConversationState {
	st := ConversationState{
		QuestionsAsked:  []string{},
		AnswersProvided: make(map[FactKind]bool, len(AllFactKinds)),
	}

	var lastAI string
	for _, m := range history {
		if m.Role != models.RoleAI {
			continue
		}
		lastAI = m.Content
		for _, sentence := range SplitSentences(m.Content) {
			if strings.HasSuffix(strings.TrimSpace(sentence), "?") {
				st.QuestionsAsked = append(st.QuestionsAsked, strings.TrimSpace(sentence))
			}
		}
		lower := strings.ToLower(m.Content)
		if strings.Contains(lower, "evidence") &&
			(strings.Contains(lower, "upload") || strings.Contains(lower, "need")) {
			st.EvidenceRequested = true
		}
	}

	for _, k := range AllFactKinds {
		st.AnswersProvided[k] = preds.IsFactPresent(k, facts)
	}

	st.WaitingForEvidence = containsAny(strings.ToLower(lastAI), waitingPhrases) ||
		(st.EvidenceRequested && evidenceCount == 0)

	switch {
	case chatLocked:
		st.Phase = models.PhaseLocked
	case st.WaitingForEvidence && evidenceCount == 0:
		st.Phase = models.PhaseWaiting
	case st.FactsComplete() && evidenceCount >= 1:
		st.Phase = models.PhaseReady
	default:
		st.Phase = models.PhaseGathering
	}

	return st
}

// SplitSentences breaks text on sentence terminators, keeping the terminator
// attached. Good enough for question detection; not a tokenizer.
func SplitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

/* ============================ Turn snapshot ============================= */

// TurnState is the single authoritative snapshot produced once per turn and
// passed into the mode transition. It is the one owner of "are facts
// complete" and "is evidence sufficient"; nothing downstream recomputes them.
type TurnState struct {
	Conversation  ConversationState
	EvidenceCount int
}

func (t TurnState) EvidenceExists() bool { return t.EvidenceCount >= 1 }
func (t TurnState) FactsComplete() bool  { return t.Conversation.FactsComplete() }

package chat

import (
	"strings"
	"time"

	"github.com/disputekit/backend/pkg/models"
)

// Event is a discrete occurrence fed into the mode transition alongside the
// turn snapshot.
type Event string

const (
	EventEvidenceUploaded   Event = "evidence_uploaded"
	EventEvidenceRemoved    Event = "evidence_removed"
	EventUserAsksGuidance   Event = "user_asks_for_guidance"
	EventUserConfirmsUpload Event = "user_confirms_upload_intent"
	EventFactsComplete      Event = "facts_complete"
	EventDocumentsTriggered Event = "documents_triggered"
	EventNone               Event = ""
)

// NextMode is the pure transition function over assistant permission modes.
//
// EvidenceUploaded always lands in info_gathering, from any mode, locked
// included: the assistant must never stay silent once evidence exists.
// Every other event leaves locked alone. Unrecognized events leave the mode
// unchanged.
func NextMode(mode models.AIMode, event Event, evidenceExists, factsComplete bool) models.AIMode {
	if event == EventEvidenceUploaded {
		return models.ModeInfoGathering
	}
	if mode == models.ModeLocked {
		return models.ModeLocked
	}

	switch event {
	case EventUserAsksGuidance:
		return models.ModeGuidance
	case EventUserConfirmsUpload:
		if !evidenceExists {
			return models.ModeWaitingForUpload
		}
		return mode
	case EventFactsComplete:
		if !evidenceExists {
			return models.ModeGuidance
		}
		return models.ModeProcessing
	case EventDocumentsTriggered:
		return models.ModeLocked
	default:
		return mode
	}
}

// CanSendMessage is the hard gate in front of the AI collaborator. When it
// returns false the generation call must not be made at all; the model is not
// trusted to self-censor into silence.
//
// waiting_for_upload allows exactly one message on first entry
// (lastMessageAt == nil) and one when the wait ends via an upload.
func CanSendMessage(mode models.AIMode, lastMessageAt *time.Time, event Event) bool {
	switch mode {
	case models.ModeInfoGathering, models.ModeGuidance:
		return true
	case models.ModeWaitingForUpload:
		return lastMessageAt == nil || event == EventEvidenceUploaded
	default: // processing, locked
		return false
	}
}

// DeriveEvent inspects a user message and the turn snapshot and picks the
// event for this turn. Facts completing takes priority over anything the
// message itself says, because it is what moves the case forward.
func DeriveEvent(userMessage string, turn TurnState) Event {
	if turn.FactsComplete() && turn.EvidenceExists() {
		return EventFactsComplete
	}

	lower := strings.ToLower(userMessage)
	if containsAny(lower, []string{"what should i do", "what are my options", "advice", "guidance", "what happens next"}) {
		return EventUserAsksGuidance
	}
	if containsAny(lower, []string{"i'll upload", "i will upload", "let me upload", "i'll send the", "i have the documents", "i'll attach"}) {
		return EventUserConfirmsUpload
	}
	if turn.FactsComplete() {
		// Facts done but no evidence yet: steer toward uploading.
		return EventFactsComplete
	}
	return EventNone
}

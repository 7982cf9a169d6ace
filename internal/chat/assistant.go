package chat

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/disputekit/backend/pkg/models"
	"github.com/disputekit/backend/pkg/sanitize"
)

// Generator is the AI text-generation collaborator. Called only when
// CanSendMessage allows it. Failures are transient: the caller logs, leaves
// the mode unchanged, and lets the next turn retry.
type Generator interface {
	Generate(ctx context.Context, promptContext string, modeInstruction string) (string, error)
}

// Assistant generates replies with Claude via the Anthropic SDK.
type Assistant struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAssistant builds an Assistant from ANTHROPIC_API_KEY; the model defaults
// to claude-sonnet-4-5 and can be overridden with ANTHROPIC_MODEL.
func NewAssistant() (*Assistant, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	model := anthropic.Model(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &Assistant{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (a *Assistant) Generate(ctx context.Context, promptContext, modeInstruction string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: modeInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(promptContext)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return b.String(), nil
}

/* ============================ Prompt building =========================== */

// modeInstructions tell the model how to behave for each permission mode it
// is allowed to speak in.
var modeInstructions = map[models.AIMode]string{
	models.ModeInfoGathering: "You are a fact-gathering assistant for a legal dispute service. " +
		"Ask one short question at a time to establish: what kind of dispute this is, who the other party is, " +
		"what happened, any amount involved, and the relationship between the parties. " +
		"Never re-ask a question listed as already asked. Do not give legal advice.",
	models.ModeGuidance: "You are a guidance assistant for a legal dispute service. " +
		"Explain the usual next steps for this kind of dispute in plain language. " +
		"Remind the user to upload supporting evidence if they have not. Do not give formal legal advice.",
	models.ModeWaitingForUpload: "Briefly acknowledge that you are waiting for the user to upload their evidence. " +
		"One or two sentences, no new questions.",
}

// BuildPromptContext renders the turn snapshot into the collaborator's input.
// All free text is PII-redacted before it leaves the system.
func BuildPromptContext(cs *models.Case, facts *models.CaseFacts, turn TurnState, history []models.ChatMessage, userMessage string) string {
	var b strings.Builder

	b.WriteString("Case: " + sanitize.RedactPII(cs.Title) + "\n")
	if facts.DisputeType != nil {
		b.WriteString("Dispute type: " + *facts.DisputeType + "\n")
	}
	if len(facts.KeyFacts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts.KeyFacts {
			b.WriteString("- " + sanitize.RedactPII(f) + "\n")
		}
	}
	if facts.DesiredOutcome != "" {
		b.WriteString("Desired outcome: " + sanitize.RedactPII(facts.DesiredOutcome) + "\n")
	}
	b.WriteString(fmt.Sprintf("Evidence uploaded: %d item(s)\n", turn.EvidenceCount))

	missing := []string{}
	for _, k := range AllFactKinds {
		if !turn.Conversation.AnswersProvided[k] {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		b.WriteString("Still missing: " + strings.Join(missing, ", ") + "\n")
	}
	if len(turn.Conversation.QuestionsAsked) > 0 {
		b.WriteString("Questions already asked:\n")
		for _, q := range turn.Conversation.QuestionsAsked {
			b.WriteString("- " + q + "\n")
		}
	}

	// Keep a short tail of the conversation for continuity.
	tail := history
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	if len(tail) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range tail {
			b.WriteString(string(m.Role) + ": " + sanitize.RedactPII(m.Content) + "\n")
		}
	}

	b.WriteString("User says: " + sanitize.RedactPII(userMessage) + "\n")
	return b.String()
}

// ModeInstruction returns the system prompt for a speaking mode.
func ModeInstruction(mode models.AIMode) string {
	if s, ok := modeInstructions[mode]; ok {
		return s
	}
	return modeInstructions[models.ModeInfoGathering]
}

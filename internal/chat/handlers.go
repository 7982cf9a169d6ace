package chat

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/internal/evidence"
	"github.com/disputekit/backend/pkg/models"
	"github.com/disputekit/backend/pkg/validation"
)

// ===== DTOs =====

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type TurnResponse struct {
	Message  *string           `json:"message"` // nil when the assistant stayed silent
	Mode     models.AIMode     `json:"mode"`
	Phase    models.ChatPhase  `json:"phase"`
	State    ConversationState `json:"state"`
	Evidence evidence.State    `json:"evidence"`
}

type Handler struct {
	db    *gorm.DB
	gen   Generator
	preds PredicateSet
}

func NewHandler(db *gorm.DB, gen Generator) *Handler {
	return &Handler{db: db, gen: gen, preds: DefaultPredicates()}
}

// loadOwnedCase fetches a case and enforces ownership.
func loadOwnedCase(db *gorm.DB, caseID, userID string) (*models.Case, error) {
	var cs models.Case
	err := db.Where("id = ? AND user_id = ?", caseID, userID).First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	return &cs, nil
}

// Send Message godoc
// @Summary      Send a chat message
// @Description  Appends a user message, re-derives the turn state, advances the
// @Description  assistant mode, and responds with the assistant's reply when the
// @Description  mode allows one.
// @Tags         chat
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "case id (uuid)"
// @Param        payload  body  SendMessageRequest  true  "Message payload"
// @Success      200  {object}  TurnResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/messages [post]
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	caseID := c.Params("id")

	var in SendMessageRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	cs, err := loadOwnedCase(h.db, caseID, userID)
	if err != nil {
		return err
	}

	// Store the user's message regardless of what the assistant may do.
	userMsg := models.ChatMessage{CaseID: cs.ID, Role: models.RoleUser, Content: in.Content}
	if err := h.db.Create(&userMsg).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	facts, err := h.loadOrCreateFacts(cs)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if ExtractFacts(facts, in.Content) {
		if facts.DisputeType != nil && cs.DisputeType == nil {
			if err := h.db.Model(cs).Update("dispute_type", *facts.DisputeType).Error; err != nil {
				log.Printf("dispute_type sync failed case=%s: %v", cs.ID, err)
			}
			cs.DisputeType = facts.DisputeType
		}
		facts.UpdatedAt = time.Now()
		if err := h.db.Save(facts).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	}

	turn, history, err := h.buildTurn(cs, facts)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	event := DeriveEvent(in.Content, turn)
	// The upload handler's one-shot event can race a concurrent turn or fail
	// to persist. The evidence count was re-read for this snapshot, so a
	// waiting case with evidence present has nothing left to wait for: force
	// the escape unless this turn's event already leaves the waiting mode.
	if cs.AIMode == models.ModeWaitingForUpload && turn.EvidenceExists() &&
		NextMode(cs.AIMode, event, true, turn.FactsComplete()) == models.ModeWaitingForUpload {
		event = EventEvidenceUploaded
	}
	nextMode := NextMode(cs.AIMode, event, turn.EvidenceExists(), turn.FactsComplete())

	var reply *string
	if CanSendMessage(nextMode, modeMessageAt(cs, nextMode), event) {
		text, genErr := h.gen.Generate(c.Context(),
			BuildPromptContext(cs, facts, turn, history, in.Content),
			ModeInstruction(nextMode))
		if genErr != nil {
			// Transient: no message sent, mode unchanged, next turn retries.
			log.Printf("assistant generate failed case=%s: %v", cs.ID, genErr)
			return c.JSON(TurnResponse{
				Mode:     cs.AIMode,
				Phase:    turn.Conversation.Phase,
				State:    turn.Conversation,
				Evidence: h.evidenceState(cs, facts),
			})
		}
		aiMsg := models.ChatMessage{CaseID: cs.ID, Role: models.RoleAI, Content: text}
		if err := h.db.Create(&aiMsg).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		reply = &text
	}

	if err := h.persistTurn(cs, nextMode, turn, reply != nil); err != nil {
		return fiber.ErrInternalServerError
	}

	// Rebuild phase with the reply included so waiting detection sees it.
	turn, _, _ = h.buildTurn(cs, facts)

	return c.JSON(TurnResponse{
		Message:  reply,
		Mode:     cs.AIMode,
		Phase:    turn.Conversation.Phase,
		State:    turn.Conversation,
		Evidence: h.evidenceState(cs, facts),
	})
}

// List Messages godoc
// @Summary      List chat messages
// @Tags         chat
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {array}   models.ChatMessage
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/messages [get]
func (h *Handler) ListMessages(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	cs, err := loadOwnedCase(h.db, c.Params("id"), userID)
	if err != nil {
		return err
	}

	msgs := []models.ChatMessage{}
	if err := h.db.Where("case_id = ?", cs.ID).Order("created_at ASC").Find(&msgs).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(msgs)
}

// Get Turn State godoc
// @Summary      Current conversation state
// @Description  The derived turn snapshot: phase, answers provided, evidence
// @Description  position. Pure read.
// @Tags         chat
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  TurnResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/state [get]
func (h *Handler) GetState(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	cs, err := loadOwnedCase(h.db, c.Params("id"), userID)
	if err != nil {
		return err
	}
	facts, err := h.loadOrCreateFacts(cs)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	turn, _, err := h.buildTurn(cs, facts)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(TurnResponse{
		Mode:     cs.AIMode,
		Phase:    turn.Conversation.Phase,
		State:    turn.Conversation,
		Evidence: h.evidenceState(cs, facts),
	})
}

/* ============================== Internals =============================== */

func (h *Handler) loadOrCreateFacts(cs *models.Case) (*models.CaseFacts, error) {
	var facts models.CaseFacts
	err := h.db.Where("case_id = ?", cs.ID).First(&facts).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		facts = models.CaseFacts{CaseID: cs.ID, KeyFacts: []string{}, EvidenceMentioned: []string{}}
		if cs.DisputeType != nil {
			facts.DisputeType = cs.DisputeType
		}
		if err := h.db.Create(&facts).Error; err != nil {
			return nil, err
		}
		return &facts, nil
	}
	if err != nil {
		return nil, err
	}
	return &facts, nil
}

// buildTurn produces the single authoritative snapshot for this turn.
func (h *Handler) buildTurn(cs *models.Case, facts *models.CaseFacts) (TurnState, []models.ChatMessage, error) {
	var history []models.ChatMessage
	if err := h.db.Where("case_id = ?", cs.ID).Order("created_at ASC").Find(&history).Error; err != nil {
		return TurnState{}, nil, err
	}
	var count int64
	if err := h.db.Model(&models.EvidenceItem{}).Where("case_id = ?", cs.ID).Count(&count).Error; err != nil {
		return TurnState{}, nil, err
	}

	conv := BuildConversationState(history, facts, int(count), cs.ChatPhase == models.PhaseLocked, h.preds)
	return TurnState{Conversation: conv, EvidenceCount: int(count)}, history, nil
}

func (h *Handler) evidenceState(cs *models.Case, facts *models.CaseFacts) evidence.State {
	items := []models.EvidenceItem{}
	_ = h.db.Where("case_id = ?", cs.ID).Order("item_index ASC").Find(&items).Error
	return evidence.Assess(factsDisputeType(cs, facts), items)
}

func factsDisputeType(cs *models.Case, facts *models.CaseFacts) *string {
	if facts != nil && facts.DisputeType != nil {
		return facts.DisputeType
	}
	return cs.DisputeType
}

// modeMessageAt returns the timestamp gate input for CanSendMessage: nil on
// first entry into a mode, the last assistant message time otherwise.
func modeMessageAt(cs *models.Case, next models.AIMode) *time.Time {
	if next != cs.AIMode {
		return nil
	}
	return cs.LastAIMessageAt
}

// persistTurn writes the system-owned fields back to the case. The per-mode
// message clock resets when the mode changes and advances when a reply was
// sent this turn.
func (h *Handler) persistTurn(cs *models.Case, nextMode models.AIMode, turn TurnState, sentReply bool) error {
	updates := map[string]any{
		"ai_mode":    nextMode,
		"chat_phase": turn.Conversation.Phase,
	}
	switch {
	case sentReply:
		now := time.Now()
		cs.LastAIMessageAt = &now
		updates["last_ai_message_at"] = now
	case nextMode != cs.AIMode:
		cs.LastAIMessageAt = nil
		updates["last_ai_message_at"] = nil
	}
	if err := h.db.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(updates).Error; err != nil {
		return err
	}
	cs.AIMode = nextMode
	cs.ChatPhase = turn.Conversation.Phase
	return nil
}

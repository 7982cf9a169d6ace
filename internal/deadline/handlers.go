package deadline

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/disputekit/backend/internal/auth"
)

type Handler struct {
	db     *gorm.DB
	engine *Engine
}

func NewHandler(db *gorm.DB, engine *Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func mapEngineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, ErrNotOwner):
		return fiber.ErrForbidden
	case errors.Is(err, ErrNotCompleted):
		return fiber.NewError(fiber.StatusConflict, "document is not completed")
	case errors.Is(err, ErrWrongStatus):
		return fiber.NewError(fiber.StatusConflict, "case is not in the expected status")
	default:
		return fiber.ErrInternalServerError
	}
}

// Mark Completed godoc
// @Summary      Mark a document as completed
// @Description  Finalises a pending document so it can be sent. Idempotent.
// @Tags         lifecycle
// @Security     BearerAuth
// @Produce      json
// @Param        documentID  path  string  true  "document id (uuid)"
// @Success      200  {object}  map[string]any  "id, status"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /documents/{documentID}/completed [post]
func (h *Handler) MarkCompleted(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	docID, err := parseUUIDParam(c, "documentID")
	if err != nil {
		return err
	}

	doc, err := h.engine.MarkCompleted(c.Context(), userID, docID)
	if err != nil {
		return mapEngineErr(err)
	}
	return c.JSON(fiber.Map{"id": doc.ID, "status": doc.Status})
}

// Mark Sent godoc
// @Summary      Mark a document as sent
// @Description  Starts the waiting window for a response.
// @Tags         lifecycle
// @Security     BearerAuth
// @Produce      json
// @Param        documentID  path  string  true  "document id (uuid)"
// @Success      200  {object}  map[string]any  "lifecycle_status, waiting_until"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /documents/{documentID}/sent [post]
func (h *Handler) MarkSent(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	docID, err := parseUUIDParam(c, "documentID")
	if err != nil {
		return err
	}

	cs, err := h.engine.MarkSent(c.Context(), userID, docID)
	if err != nil {
		return mapEngineErr(err)
	}
	return c.JSON(fiber.Map{
		"lifecycle_status": cs.LifecycleStatus,
		"waiting_until":    cs.WaitingUntil,
	})
}

// Record Response godoc
// @Summary      Record that the other party responded
// @Tags         lifecycle
// @Security     BearerAuth
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/response [post]
func (h *Handler) RecordResponse(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.engine.RecordResponse(c.Context(), userID, caseID); err != nil {
		return mapEngineErr(err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Close Case godoc
// @Summary      Close a case
// @Tags         lifecycle
// @Security     BearerAuth
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/close [post]
func (h *Handler) CloseCase(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.engine.CloseCase(c.Context(), userID, caseID); err != nil {
		return mapEngineErr(err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Run Sweep godoc
// @Summary      Run the deadline sweep immediately
// @Description  Same pass the scheduler runs hourly: flip missed deadlines,
// @Description  then generate follow-ups. Idempotent.
// @Tags         lifecycle
// @Produce      json
// @Success      200  {object}  map[string]any  "missed, follow_ups"
// @Router       /internal/sweep [post]
func (h *Handler) RunSweep(c *fiber.Ctx) error {
	missed, err := h.engine.SweepMissedDeadlines(c.Context())
	if err != nil {
		return fiber.ErrInternalServerError
	}
	followUps, err := h.engine.GenerateFollowUps(c.Context())
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"missed": missed, "follow_ups": followUps})
}

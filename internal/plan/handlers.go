package plan

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/pkg/models"
)

type Handler struct {
	db      *gorm.DB
	gateway *Gateway
}

func NewHandler(db *gorm.DB, gateway *Gateway) *Handler {
	return &Handler{db: db, gateway: gateway}
}

// ownedCase enforces ownership and returns the case.
func (h *Handler) ownedCase(c *fiber.Ctx) (*models.Case, error) {
	userID := auth.MustUserID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var cs models.Case
	err := h.db.Where("id = ? AND user_id = ?", caseID, userID).First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	return &cs, nil
}

// Get Plan godoc
// @Summary      Get or preview the document plan
// @Description  Returns the persisted plan when one exists, otherwise a
// @Description  non-persisted preview (or the list of facts still missing).
// @Tags         plan
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  PreviewResult
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/plan [get]
func (h *Handler) GetPlan(c *fiber.Ctx) error {
	cs, err := h.ownedCase(c)
	if err != nil {
		return err
	}

	res, err := h.gateway.GetOrPreview(c.Context(), cs.ID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if res.Validation != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}
	return c.JSON(res)
}

// Create Plan godoc
// @Summary      Create the document plan
// @Description  Idempotent: a second call (or a concurrent one) returns the
// @Description  existing plan with created=false. Requires payment.
// @Tags         plan
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      201  {object}  CreateResult
// @Success      200  {object}  CreateResult  "plan already existed"
// @Failure      402  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      422  {object}  CreateResult  "facts incomplete"
// @Router       /cases/{id}/plan [post]
func (h *Handler) CreatePlan(c *fiber.Ctx) error {
	cs, err := h.ownedCase(c)
	if err != nil {
		return err
	}

	// Document generation is gated by payment.
	if !cs.Paid {
		return fiber.NewError(fiber.StatusPaymentRequired, "payment required before documents can be generated")
	}

	res, err := h.gateway.CreateIfAbsent(c.Context(), cs.ID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if res.Validation != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}
	if res.Created {
		return c.Status(fiber.StatusCreated).JSON(res)
	}
	return c.JSON(res)
}

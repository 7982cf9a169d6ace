package cases

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/internal/storage"
	"github.com/disputekit/backend/pkg/models"
	"github.com/disputekit/backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	DisputeType string `json:"dispute_type" validate:"omitempty,disputetype"`
	Description string `json:"description" validate:"max=4000"`
}

type CaseListItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DisputeType     string `json:"dispute_type"`
	LifecycleStatus string `json:"lifecycle_status"`
	ChatPhase       string `json:"chat_phase"`
	CreatedAt       string `json:"created_at"`
	Evidence        int64  `json:"evidence"`
}

type Handler struct {
	db *gorm.DB
	sb *storage.Supabase
}

func NewHandler(db *gorm.DB, sb *storage.Supabase) *Handler {
	return &Handler{db: db, sb: sb}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// Create Case godoc
// @Summary      Create case
// @Description  Open a new dispute case. The first chat message usually fills
// @Description  in the dispute type; passing it here is optional.
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userUUID, _ := uuid.Parse(auth.MustUserID(c))
	cs := models.Case{
		UserID:          userUUID,
		Title:           strings.TrimSpace(in.Title),
		LifecycleStatus: models.LifecycleDraft,
		ChatPhase:       models.PhaseGathering,
		AIMode:          models.ModeInfoGathering,
	}
	if t := strings.TrimSpace(strings.ToLower(in.DisputeType)); t != "" {
		cs.DisputeType = &t
	}
	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Seed the facts row so fact extraction has somewhere to write. The
	// description, if given, becomes the first key fact.
	facts := models.CaseFacts{
		CaseID:            cs.ID,
		DisputeType:       cs.DisputeType,
		KeyFacts:          []string{},
		EvidenceMentioned: []string{},
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		facts.KeyFacts = append(facts.KeyFacts, d)
	}
	if err := h.db.Create(&facts).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID})
}

type caseWithCounts struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DisputeType     *string   `json:"dispute_type"`
	LifecycleStatus string    `json:"lifecycle_status"`
	ChatPhase       string    `json:"chat_phase"`
	CreatedAt       string    `json:"created_at"`
	Evidence        int64     `json:"evidence"`
}

// List My Cases godoc
// @Summary      List my cases
// @Description  Paginated, newest first, with evidence counts
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	var total int64
	if err := h.db.Model(&models.Case{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]caseWithCounts, 0, size)
	if err := h.db.
		Table("cases").
		Select(`cases.id, cases.title, cases.dispute_type, cases.lifecycle_status,
	      cases.chat_phase, cases.created_at, COUNT(evidence_items.id) AS evidence`).
		Joins("LEFT JOIN evidence_items ON evidence_items.case_id = cases.id").
		Where("cases.user_id = ?", userID).
		Group("cases.id").
		Order("cases.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if rows == nil {
		rows = []caseWithCounts{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// Get case detail godoc
// @Summary      Case detail
// @Description  Full case with facts, evidence, plan and recent messages
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  models.Case
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var cs models.Case
	err := h.db.
		Where("id = ? AND user_id = ?", id, userID).
		Preload("Facts").
		Preload("Evidence", func(db *gorm.DB) *gorm.DB { return db.Order("item_index ASC") }).
		Preload("Plan.Documents", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	// Never send null collections
	if cs.Evidence == nil {
		cs.Evidence = []models.EvidenceItem{}
	}

	return c.JSON(cs)
}

// Timeline godoc
// @Summary      Case timeline
// @Description  Append-only audit log of lifecycle events, newest first
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {array}   models.TimelineEvent
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/timeline [get]
func (h *Handler) Timeline(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	var cnt int64
	if err := h.db.Model(&models.Case{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.ErrNotFound
	}

	events := []models.TimelineEvent{}
	if err := h.db.Where("case_id = ?", id).
		Order("occurred_at DESC").
		Find(&events).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(events)
}

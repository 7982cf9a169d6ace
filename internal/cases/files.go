package cases

import (
	"errors"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/internal/chat"
	"github.com/disputekit/backend/internal/evidence"
	"github.com/disputekit/backend/pkg/models"
)

// Upload Evidence godoc
// @Summary      Upload evidence files (PDF/PNG/JPEG)
// @Description  Owner uploads up to 10 files; each becomes an EvidenceItem and
// @Description  the assistant mode snaps back to info_gathering.
// @Tags         evidence
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string   true  "case id (uuid)"
// @Param        files  formData  []file   true  "PDF/PNG/JPEG (max 10)"
// @Success      201    {object}  map[string]any  "results"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Router       /cases/{id}/evidence [post]
func (h *Handler) UploadEvidence(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.Where("id = ? AND user_id = ?", caseID, userID).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrForbidden
		}
		return fiber.ErrInternalServerError
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}

	// Next index continues the per-case monotonic sequence.
	var maxIndex int
	h.db.Model(&models.EvidenceItem{}).
		Where("case_id = ?", cs.ID).
		Select("COALESCE(MAX(item_index), 0)").
		Scan(&maxIndex)

	titles := form.Value["titles[]"]
	descriptions := form.Value["descriptions[]"]

	results := make([]fiber.Map, 0, len(files))
	uploaded := 0

	for i, fh := range files {
		res := fiber.Map{
			"name": fh.Filename,
			"size": fh.Size,
		}

		if fh.Size <= 0 {
			res["error"] = "empty file"
			results = append(results, res)
			continue
		}
		if fh.Size > 10*1024*1024 {
			res["error"] = "max 10MB per file"
			results = append(results, res)
			continue
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png", "image/jpeg":
			// ok
		default:
			res["error"] = "only PDF, PNG or JPEG are allowed"
			results = append(results, res)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			res["error"] = "open failed"
			results = append(results, res)
			continue
		}
		defer f.Close()

		key := h.sb.MakeObjectKey(caseID, fh.Filename)
		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		title := strings.TrimSpace(fh.Filename)
		if i < len(titles) && strings.TrimSpace(titles[i]) != "" {
			title = strings.TrimSpace(titles[i])
		}
		rec := models.EvidenceItem{
			CaseID:   cs.ID,
			Title:    title,
			FileType: ct,
			Key:      key,
			Size:     int(fh.Size),
			Index:    maxIndex + uploaded + 1,
		}
		if i < len(descriptions) && strings.TrimSpace(descriptions[i]) != "" {
			d := strings.TrimSpace(descriptions[i])
			rec.Description = &d
		}
		if err := h.db.Create(&rec).Error; err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		uploaded++
		res["id"] = rec.ID
		res["key"] = rec.Key
		results = append(results, res)
	}

	if uploaded > 0 {
		h.applyEvidenceEvent(&cs, chat.EventEvidenceUploaded)
	}

	// 201 even when some items failed; the client checks per-item "error".
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// Evidence Status godoc
// @Summary      Evidence requirements and what is still missing
// @Tags         evidence
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  evidence.State
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/evidence [get]
func (h *Handler) EvidenceStatus(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.Where("id = ? AND user_id = ?", caseID, userID).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	items := []models.EvidenceItem{}
	if err := h.db.Where("case_id = ?", cs.ID).Order("item_index ASC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(evidence.Assess(cs.DisputeType, items))
}

// Signed Download URL godoc
// @Summary      Get a short-lived signed URL for an evidence file
// @Tags         evidence
// @Security     BearerAuth
// @Produce      json
// @Param        itemID  path string true "evidence item id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /evidence/{itemID}/signed-url [get]
func (h *Handler) SignedDownloadURL(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	itemID := c.Params("itemID")

	var item models.EvidenceItem
	if err := h.db.Preload("Case").First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if item.Case.UserID.String() != userID {
		return fiber.ErrForbidden
	}

	url, err := h.sb.SignedURL(item.Key, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}

// Delete Evidence godoc
// @Summary      Delete an evidence item
// @Description  Removes the stored object and the row. The assistant mode is
// @Description  left unchanged; removal is not an escape hatch.
// @Tags         evidence
// @Security     BearerAuth
// @Param        itemID  path string true "evidence item id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /evidence/{itemID} [delete]
func (h *Handler) DeleteEvidence(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	itemID := c.Params("itemID")

	var item models.EvidenceItem
	if err := h.db.Preload("Case").First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if item.Case.UserID.String() != userID {
		return fiber.ErrForbidden
	}

	if h.sb != nil {
		if err := h.sb.Delete(item.Key); err != nil {
			return fiber.ErrInternalServerError
		}
	}
	if err := h.db.Delete(&item).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	cs := item.Case
	h.applyEvidenceEvent(&cs, chat.EventEvidenceRemoved)

	return c.JSON(fiber.Map{"ok": true})
}

// applyEvidenceEvent recomputes the assistant mode after an evidence change
// and persists it. The mode clock resets on a mode change so a fresh
// info_gathering entry may speak again.
func (h *Handler) applyEvidenceEvent(cs *models.Case, event chat.Event) {
	var count int64
	if err := h.db.Model(&models.EvidenceItem{}).Where("case_id = ?", cs.ID).Count(&count).Error; err != nil {
		// The next chat turn re-reads the evidence count and recovers.
		log.Printf("evidence count failed case=%s: %v", cs.ID, err)
		return
	}

	next := chat.NextMode(cs.AIMode, event, count >= 1, false)
	if next == cs.AIMode {
		return
	}
	if err := h.db.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(map[string]any{
		"ai_mode":            next,
		"last_ai_message_at": nil,
	}).Error; err != nil {
		log.Printf("mode flip failed case=%s: %v", cs.ID, err)
		return
	}
	cs.AIMode = next
}

package payments

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/pkg/models"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	return &Handler{db: db}
}

func priceCents() int {
	if v, err := strconv.Atoi(os.Getenv("DOCUMENT_PRICE_CENTS")); err == nil && v > 0 {
		return v
	}
	return 4900
}

// Create Checkout godoc
// @Summary      Start checkout for a case
// @Description  Creates (or reuses) a payment and returns the redirect URL.
// @Description  Paying unlocks document generation for the case.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      201  {object}  map[string]any  "payment_id, redirect_url, provider"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/checkout [post]
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.UserID.String() != userID {
		return fiber.ErrForbidden
	}
	if cs.Paid {
		return fiber.NewError(fiber.StatusConflict, "case is already paid")
	}

	amount := priceCents()

	if os.Getenv("PAYMENT_PROVIDER") == "stripe" {
		return h.createStripeCheckout(c, &cs, amount)
	}

	// ---- mock provider (dev) ----
	pay := models.Payment{
		CaseID:      cs.ID,
		UserID:      cs.UserID,
		AmountCents: amount,
		Status:      models.PayInitiated,
		CreatedAt:   time.Now(),
	}
	mockID := "mock_" + uuid.NewString()
	pay.StripeSessionID = &mockID
	if err := h.db.Create(&pay).Error; err != nil {
		// Unique on case_id: a payment already exists, reuse it.
		var existing models.Payment
		if e := h.db.First(&existing, "case_id = ?", cs.ID).Error; e == nil {
			pay = existing
		} else {
			return fiber.ErrInternalServerError
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":   pay.ID,
		"redirect_url": "mock://checkout?payment_id=" + pay.ID.String(),
		"provider":     "mock",
	})
}

func (h *Handler) createStripeCheckout(c *fiber.Ctx, cs *models.Case, amount int) error {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("gbp"),
				UnitAmount: stripe.Int64(int64(amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Dispute document bundle"),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(os.Getenv("CHECKOUT_SUCCESS_URL")),
		CancelURL:         stripe.String(os.Getenv("CHECKOUT_CANCEL_URL")),
		ClientReferenceID: stripe.String(cs.ID.String()),
	}
	sess, err := session.New(params)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	pay := models.Payment{
		CaseID:          cs.ID,
		UserID:          cs.UserID,
		StripeSessionID: &sess.ID,
		AmountCents:     amount,
		Status:          models.PayInitiated,
		CreatedAt:       time.Now(),
	}
	if err := h.db.Create(&pay).Error; err != nil {
		var existing models.Payment
		if e := h.db.First(&existing, "case_id = ?", cs.ID).Error; e == nil {
			pay = existing
		} else {
			return fiber.ErrInternalServerError
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":   pay.ID,
		"redirect_url": sess.URL,
		"provider":     "stripe",
	})
}

// Stripe Webhook godoc
// @Summary      Stripe webhook (server-only)
// @Description  Verifies the signature and marks the payment (and case) paid
// @Description  on checkout.session.completed.
// @Tags         payments
// @Accept       json
// @Router       /payments/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(
		c.Body(),
		c.Get("Stripe-Signature"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
	)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	if event.Type != "checkout.session.completed" {
		return c.SendStatus(fiber.StatusOK)
	}

	sessID, _ := event.Data.Object["id"].(string)
	if sessID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing session id")
	}

	if err := h.completeBySession(sessID); err != nil {
		return fiber.ErrInternalServerError
	}
	return c.SendStatus(fiber.StatusOK)
}

// ========== Mock Complete (dev only) ==========
// Body: { "payment_id": "<uuid>" }
// Header: X-Dev-Secret: <DEV_PAYMENT_SECRET>
type mockCompleteReq struct {
	PaymentID string `json:"payment_id"`
}

func (h *Handler) MockComplete(c *fiber.Ctx) error {
	if os.Getenv("APP_ENV") != "dev" || os.Getenv("PAYMENT_PROVIDER") != "mock" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != os.Getenv("DEV_PAYMENT_SECRET") {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}
	var in mockCompleteReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	pid, err := uuid.Parse(in.PaymentID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	if err := h.completeByID(pid); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

/* ============================== Internals =============================== */

func (h *Handler) completeBySession(sessionID string) error {
	var pay models.Payment
	if err := h.db.First(&pay, "stripe_session_id = ?", sessionID).Error; err != nil {
		return err
	}
	return h.completeByID(pay.ID)
}

// completeByID marks a payment paid and unlocks the case, atomically and
// idempotently: re-delivered webhooks find the payment already paid and stop.
func (h *Handler) completeByID(paymentID uuid.UUID) error {
	return h.db.Transaction(func(tx *gorm.DB) error {
		var pay models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pay, "id = ?", paymentID).Error; err != nil {
			return err
		}
		if pay.Status == models.PayPaid {
			return nil // already paid (idempotent)
		}

		if err := tx.Model(&models.Payment{}).Where("id = ?", pay.ID).
			Updates(map[string]any{"status": models.PayPaid, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Case{}).Where("id = ?", pay.CaseID).
			Update("paid", true).Error
	})
}

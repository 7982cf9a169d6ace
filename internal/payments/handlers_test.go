package payments

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/disputekit/backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Case{}, &models.Payment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	payments,
	cases,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func injectAuth(userID uuid.UUID) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		return c.Next()
	}
}

func newTestApp(h *Handler, userID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID))
	app.Post("/api/cases/:id/checkout", h.CreateCheckout)
	app.Post("/api/payments/mock/complete", h.MockComplete)
	return app
}

func seedCase(t *testing.T, db *gorm.DB, paid bool) (uuid.UUID, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	if err := db.Create(&models.User{
		ID:    userID,
		Email: "u_" + userID.String()[:8] + "@x.com",
	}).Error; err != nil {
		t.Fatal(err)
	}
	cs := models.Case{UserID: userID, Title: "Deposit dispute", Paid: paid}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return userID, cs.ID
}

func mockEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PAYMENT_PROVIDER", "mock")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DEV_PAYMENT_SECRET", "test-secret")
}

/* ============================================================================
   Tests — mock checkout, payment reuse, idempotent completion
   ============================================================================

   These run against the committed connection (no wrapping transaction): the
   completion path opens its own transaction with a row lock.
*/

func Test_CreateCheckout_MockProvider(t *testing.T) {
	db := openTestDB(t)
	mockEnv(t)
	userID, caseID := seedCase(t, db, false)
	app := newTestApp(NewHandler(db), userID)

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 201 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out struct {
		PaymentID   string `json:"payment_id"`
		RedirectURL string `json:"redirect_url"`
		Provider    string `json:"provider"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Provider != "mock" || out.PaymentID == "" || out.RedirectURL == "" {
		t.Fatalf("response: %+v", out)
	}

	// One payment per case: a second checkout reuses the pending payment.
	resp2, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp2.StatusCode != 201 {
		t.Fatalf("second checkout status %d", resp2.StatusCode)
	}
	var out2 struct {
		PaymentID string `json:"payment_id"`
	}
	_ = json.NewDecoder(resp2.Body).Decode(&out2)
	if out2.PaymentID != out.PaymentID {
		t.Fatalf("second checkout created a new payment: %s vs %s", out2.PaymentID, out.PaymentID)
	}

	var n int64
	if err := db.Model(&models.Payment{}).Where("case_id = ?", caseID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("payments for case = %d, want 1", n)
	}
}

func Test_CreateCheckout_PaidCaseConflicts(t *testing.T) {
	db := openTestDB(t)
	mockEnv(t)
	userID, caseID := seedCase(t, db, true)
	app := newTestApp(NewHandler(db), userID)

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 409 {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}
}

func Test_CreateCheckout_StrangersForbidden(t *testing.T) {
	db := openTestDB(t)
	mockEnv(t)
	_, caseID := seedCase(t, db, false)
	app := newTestApp(NewHandler(db), uuid.New())

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 403 {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}

// Completion marks both payment and case paid, and re-delivery is a no-op.
func Test_MockComplete_UnlocksCaseIdempotently(t *testing.T) {
	db := openTestDB(t)
	mockEnv(t)
	userID, caseID := seedCase(t, db, false)
	app := newTestApp(NewHandler(db), userID)

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	var out struct {
		PaymentID string `json:"payment_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	complete := func() int {
		req := httptest.NewRequest("POST", "/api/payments/mock/complete",
			strings.NewReader(`{"payment_id":"`+out.PaymentID+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Dev-Secret", "test-secret")
		r, _ := app.Test(req)
		return r.StatusCode
	}

	if status := complete(); status != 200 {
		t.Fatalf("complete status %d", status)
	}

	var cs models.Case
	if err := db.First(&cs, "id = ?", caseID).Error; err != nil {
		t.Fatal(err)
	}
	if !cs.Paid {
		t.Fatal("case not marked paid")
	}
	var pay models.Payment
	if err := db.First(&pay, "id = ?", out.PaymentID).Error; err != nil {
		t.Fatal(err)
	}
	if pay.Status != models.PayPaid {
		t.Fatalf("payment status = %s, want paid", pay.Status)
	}

	// Webhook-style re-delivery.
	if status := complete(); status != 200 {
		t.Fatalf("repeat complete status %d", status)
	}
}

func Test_MockComplete_RequiresDevSecret(t *testing.T) {
	db := openTestDB(t)
	mockEnv(t)
	userID, _ := seedCase(t, db, false)
	app := newTestApp(NewHandler(db), userID)

	req := httptest.NewRequest("POST", "/api/payments/mock/complete",
		strings.NewReader(`{"payment_id":"`+uuid.NewString()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 401 {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
}

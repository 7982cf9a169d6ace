package plan

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/disputekit/backend/pkg/models"
)

func injectAuth(userID uuid.UUID) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		return c.Next()
	}
}

func newTestApp(tx *gorm.DB, userID uuid.UUID) *fiber.App {
	h := NewHandler(tx, NewGateway(tx, DefaultThresholds()))
	app := fiber.New()
	app.Use(injectAuth(userID))
	app.Get("/api/cases/:id/plan", h.GetPlan)
	app.Post("/api/cases/:id/plan", h.CreatePlan)
	return app
}

func markPaid(t *testing.T, tx *gorm.DB, caseID uuid.UUID) {
	t.Helper()
	if err := tx.Model(&models.Case{}).Where("id = ?", caseID).
		Update("paid", true).Error; err != nil {
		t.Fatal(err)
	}
}

// Plan creation is behind the paywall.
func Test_CreatePlan_RequiresPayment(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedReadyCase(t, tx, 2)
		app := newTestApp(tx, seed.UserID)

		req := httptest.NewRequest("POST", "/api/cases/"+seed.CaseID.String()+"/plan", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 402 {
			t.Fatalf("unpaid case got %d, want 402", resp.StatusCode)
		}

		var plans int64
		if err := tx.Model(&models.DocumentPlan{}).Count(&plans).Error; err != nil {
			t.Fatal(err)
		}
		if plans != 0 {
			t.Fatal("unpaid request persisted a plan")
		}
	})
}

// First POST creates (201); the second returns the same plan with 200.
func Test_CreatePlan_IdempotentOverHTTP(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedReadyCase(t, tx, 2)
		markPaid(t, tx, seed.CaseID)
		app := newTestApp(tx, seed.UserID)

		resp1, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+seed.CaseID.String()+"/plan", nil))
		if resp1.StatusCode != 201 {
			t.Fatalf("first create got %d, want 201", resp1.StatusCode)
		}
		var out1 CreateResult
		_ = json.NewDecoder(resp1.Body).Decode(&out1)
		if !out1.Created || out1.Plan == nil {
			t.Fatalf("first create: %+v", out1)
		}

		resp2, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+seed.CaseID.String()+"/plan", nil))
		if resp2.StatusCode != 200 {
			t.Fatalf("second create got %d, want 200", resp2.StatusCode)
		}
		var out2 CreateResult
		_ = json.NewDecoder(resp2.Body).Decode(&out2)
		if out2.Created || out2.Plan == nil || out2.Plan.ID != out1.Plan.ID {
			t.Fatalf("second create: %+v", out2)
		}
	})
}

func Test_GetPlan_IncompleteFactsAre422(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedBareCase(t, tx)
		app := newTestApp(tx, seed.UserID)

		resp, _ := app.Test(httptest.NewRequest("GET", "/api/cases/"+seed.CaseID.String()+"/plan", nil))
		if resp.StatusCode != 422 {
			t.Fatalf("got %d, want 422", resp.StatusCode)
		}
		var out PreviewResult
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if len(out.Validation) == 0 {
			t.Fatal("want the list of missing facts")
		}
	})
}

func Test_GetPlan_StrangersGet404(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedReadyCase(t, tx, 1)
		app := newTestApp(tx, uuid.New())

		resp, _ := app.Test(httptest.NewRequest("GET", "/api/cases/"+seed.CaseID.String()+"/plan", nil))
		if resp.StatusCode != 404 {
			t.Fatalf("got %d, want 404", resp.StatusCode)
		}
	})
}

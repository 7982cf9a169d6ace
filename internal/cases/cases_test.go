package cases

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

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
		&models.User{}, &models.Case{}, &models.CaseFacts{},
		&models.EvidenceItem{}, &models.ChatMessage{},
		&models.DocumentPlan{}, &models.GeneratedDocument{},
		&models.TimelineEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	generated_documents,
	document_plans,
	timeline_events,
	chat_messages,
	evidence_items,
	case_facts,
	cases,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

// withTx wraps a function in a DB transaction and commits it at the end.
// If the function panics, the transaction is rolled back and the panic is rethrown.
func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

// injectAuth puts the authenticated user ID into Fiber context without a
// real JWT.
func injectAuth(userID uuid.UUID) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		return c.Next()
	}
}

// newTestApp registers routes in a safe order for tests. Static paths
// (like /mine) go BEFORE parameterized ones so :id does not shadow them.
func newTestApp(h *Handler, userID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID))

	app.Get("/api/cases/mine", h.ListMine)
	app.Post("/api/cases", h.Create)

	app.Get("/api/cases/:id/evidence", h.EvidenceStatus)
	app.Get("/api/cases/:id/timeline", h.Timeline)
	app.Delete("/api/evidence/:itemID", h.DeleteEvidence)

	app.Get("/api/cases/:id", h.GetDetail)
	return app
}

func makeUser(t *testing.T, tx *gorm.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := tx.Create(&models.User{
		ID:    id,
		Email: "u_" + id.String()[:8] + "@x.com",
	}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

// makeCase inserts one case with a fixed CreatedAt for deterministic DESC
// pagination.
func makeCase(t *testing.T, tx *gorm.DB, userID uuid.UUID, createdAt time.Time) uuid.UUID {
	t.Helper()
	cs := models.Case{
		UserID:    userID,
		Title:     "Case " + uuid.NewString()[:6],
		CreatedAt: createdAt,
	}
	if err := tx.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return cs.ID
}

func addEvidence(t *testing.T, tx *gorm.DB, caseID uuid.UUID, index int) models.EvidenceItem {
	t.Helper()
	item := models.EvidenceItem{
		CaseID:   caseID,
		Title:    "item",
		FileType: "application/pdf",
		Key:      "evidence/" + caseID.String() + "/item.pdf",
		Size:     10,
		Index:    index,
	}
	if err := tx.Create(&item).Error; err != nil {
		t.Fatal(err)
	}
	return item
}

/* ============================================================================
   Tests — creation, pagination, detail, evidence status, timeline
   ============================================================================ */

// Creating a case seeds its facts row; the description becomes the first
// key fact.
func Test_Create_SeedsFactsFromDescription(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		app := newTestApp(NewHandler(tx, nil), userID)

		body := `{"title":"Deposit dispute","dispute_type":"tenancy_deposit","description":"Landlord kept the deposit."}`
		req := httptest.NewRequest("POST", "/api/cases", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 201 {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var out struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)

		var facts models.CaseFacts
		if err := tx.Where("case_id = ?", out.ID).First(&facts).Error; err != nil {
			t.Fatal(err)
		}
		if facts.DisputeType == nil || *facts.DisputeType != "tenancy_deposit" {
			t.Fatalf("facts dispute type = %v", facts.DisputeType)
		}
		if len(facts.KeyFacts) != 1 || facts.KeyFacts[0] != "Landlord kept the deposit." {
			t.Fatalf("key facts = %v", facts.KeyFacts)
		}

		var cs models.Case
		if err := tx.First(&cs, "id = ?", out.ID).Error; err != nil {
			t.Fatal(err)
		}
		if cs.AIMode != models.ModeInfoGathering || cs.ChatPhase != models.PhaseGathering {
			t.Fatalf("new case mode/phase = %s/%s", cs.AIMode, cs.ChatPhase)
		}
		if cs.LifecycleStatus != models.LifecycleDraft {
			t.Fatalf("new case status = %s, want draft", cs.LifecycleStatus)
		}
	})
}

func Test_Create_RejectsUnknownDisputeType(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		app := newTestApp(NewHandler(tx, nil), userID)

		body := `{"title":"x","dispute_type":"interplanetary"}`
		req := httptest.NewRequest("POST", "/api/cases", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("status %d, want 400", resp.StatusCode)
		}
	})
}

// ListMine returns deterministic pagination and per-case evidence counts.
func Test_ListMine_Pagination_And_EvidenceCounts(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		now := time.Now()
		c1 := makeCase(t, tx, userID, now.Add(-3*time.Minute))
		c2 := makeCase(t, tx, userID, now.Add(-2*time.Minute))
		c3 := makeCase(t, tx, userID, now.Add(-1*time.Minute))

		// Evidence counts: c1=2, c2=1, c3=0
		addEvidence(t, tx, c1, 1)
		addEvidence(t, tx, c1, 2)
		addEvidence(t, tx, c2, 1)

		app := newTestApp(NewHandler(tx, nil), userID)

		req := httptest.NewRequest("GET", "/api/cases/mine?page=1&pageSize=2", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var out struct {
			Total int `json:"total"`
			Items []struct {
				ID       string `json:"id"`
				Evidence int64  `json:"evidence"`
			} `json:"items"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)

		if out.Total != 3 {
			t.Fatalf("total = %d, want 3", out.Total)
		}
		if len(out.Items) != 2 {
			t.Fatalf("page 1 items = %d, want 2", len(out.Items))
		}
		// DESC: item[0] = c3 (0 items), item[1] = c2 (1 item)
		if out.Items[0].ID != c3.String() || out.Items[0].Evidence != 0 {
			t.Fatalf("item[0] should be c3 with 0 evidence, got %#v", out.Items[0])
		}
		if out.Items[1].ID != c2.String() || out.Items[1].Evidence != 1 {
			t.Fatalf("item[1] should be c2 with 1 evidence, got %#v", out.Items[1])
		}

		req2 := httptest.NewRequest("GET", "/api/cases/mine?page=2&pageSize=2", nil)
		resp2, _ := app.Test(req2)
		var out2 struct {
			Items []struct {
				ID       string `json:"id"`
				Evidence int64  `json:"evidence"`
			} `json:"items"`
		}
		_ = json.NewDecoder(resp2.Body).Decode(&out2)
		if len(out2.Items) != 1 || out2.Items[0].ID != c1.String() || out2.Items[0].Evidence != 2 {
			t.Fatalf("page 2 should be c1 with 2 evidence, got %#v", out2.Items)
		}
	})
}

// GetDetail returns the case with ordered evidence; other users get 404.
func Test_GetDetail_OwnershipAndOrdering(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		caseID := makeCase(t, tx, userID, time.Now())
		addEvidence(t, tx, caseID, 2)
		addEvidence(t, tx, caseID, 1)

		h := NewHandler(tx, nil)

		app := newTestApp(h, userID)
		req := httptest.NewRequest("GET", "/api/cases/"+caseID.String(), nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}
		var body models.Case
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if len(body.Evidence) != 2 {
			t.Fatalf("evidence = %d items, want 2", len(body.Evidence))
		}
		if body.Evidence[0].Index != 1 || body.Evidence[1].Index != 2 {
			t.Fatalf("evidence out of order: %+v", body.Evidence)
		}

		// Someone else's view.
		stranger := makeUser(t, tx)
		appStranger := newTestApp(h, stranger)
		req2 := httptest.NewRequest("GET", "/api/cases/"+caseID.String(), nil)
		resp2, _ := appStranger.Test(req2)
		if resp2.StatusCode != 404 {
			t.Fatalf("stranger got %d, want 404", resp2.StatusCode)
		}
	})
}

// Evidence status reflects the requirements for the case's dispute type.
func Test_EvidenceStatus_TracksRequirements(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		dt := "consumer"
		cs := models.Case{UserID: userID, Title: "Faulty kettle", DisputeType: &dt}
		if err := tx.Create(&cs).Error; err != nil {
			t.Fatal(err)
		}

		app := newTestApp(NewHandler(tx, nil), userID)

		req := httptest.NewRequest("GET", "/api/cases/"+cs.ID.String()+"/evidence", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}
		var st struct {
			Uploaded           int      `json:"uploaded"`
			Missing            []string `json:"missing"`
			HasMinimumEvidence bool     `json:"has_minimum_evidence"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&st)
		if st.Uploaded != 0 || st.HasMinimumEvidence {
			t.Fatalf("fresh case: %+v", st)
		}
		if len(st.Missing) == 0 {
			t.Fatal("fresh consumer case should list missing requirements")
		}

		addEvidence(t, tx, cs.ID, 1)
		resp2, _ := app.Test(httptest.NewRequest("GET", "/api/cases/"+cs.ID.String()+"/evidence", nil))
		_ = json.NewDecoder(resp2.Body).Decode(&st)
		if st.Uploaded != 1 || !st.HasMinimumEvidence || len(st.Missing) != 0 {
			t.Fatalf("after upload: %+v", st)
		}
	})
}

// Deleting evidence removes the row; a stranger gets 403.
func Test_DeleteEvidence_OwnershipEnforced(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		caseID := makeCase(t, tx, userID, time.Now())
		item := addEvidence(t, tx, caseID, 1)

		h := NewHandler(tx, nil)

		stranger := makeUser(t, tx)
		appStranger := newTestApp(h, stranger)
		resp, _ := appStranger.Test(httptest.NewRequest("DELETE", "/api/evidence/"+item.ID.String(), nil))
		if resp.StatusCode != 403 {
			t.Fatalf("stranger got %d, want 403", resp.StatusCode)
		}

		app := newTestApp(h, userID)
		resp2, _ := app.Test(httptest.NewRequest("DELETE", "/api/evidence/"+item.ID.String(), nil))
		if resp2.StatusCode != 200 {
			t.Fatalf("owner got %d", resp2.StatusCode)
		}

		var n int64
		if err := tx.Model(&models.EvidenceItem{}).Where("id = ?", item.ID).Count(&n).Error; err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatal("item still present after delete")
		}
	})
}

// Timeline is newest first and owner-only.
func Test_Timeline_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := makeUser(t, tx)
		caseID := makeCase(t, tx, userID, time.Now())

		t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i, typ := range []models.TimelineType{
			models.EventDocumentSent, models.EventDeadlineMissed, models.EventFollowUpGenerated,
		} {
			if err := tx.Create(&models.TimelineEvent{
				CaseID:     caseID,
				Type:       typ,
				OccurredAt: t0.Add(time.Duration(i) * time.Hour),
			}).Error; err != nil {
				t.Fatal(err)
			}
		}

		app := newTestApp(NewHandler(tx, nil), userID)
		resp, _ := app.Test(httptest.NewRequest("GET", "/api/cases/"+caseID.String()+"/timeline", nil))
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}
		var events []models.TimelineEvent
		_ = json.NewDecoder(resp.Body).Decode(&events)
		if len(events) != 3 {
			t.Fatalf("events = %d, want 3", len(events))
		}
		if events[0].Type != models.EventFollowUpGenerated || events[2].Type != models.EventDocumentSent {
			t.Fatalf("events not newest first: %+v", events)
		}

		stranger := makeUser(t, tx)
		appStranger := newTestApp(NewHandler(tx, nil), stranger)
		resp2, _ := appStranger.Test(httptest.NewRequest("GET", "/api/cases/"+caseID.String()+"/timeline", nil))
		if resp2.StatusCode != 404 {
			t.Fatalf("stranger got %d, want 404", resp2.StatusCode)
		}
	})
}

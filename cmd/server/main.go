// @title           DisputeKit API
// @version         1.0
// @description     API for a dispute-letter service: users describe a dispute in chat, upload evidence, pay, and receive a generated legal document bundle driven through deadline cycles.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"context"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/disputekit/backend/internal/auth"
	"github.com/disputekit/backend/internal/cases"
	"github.com/disputekit/backend/internal/chat"
	"github.com/disputekit/backend/internal/deadline"
	"github.com/disputekit/backend/internal/notify"
	"github.com/disputekit/backend/internal/payments"
	"github.com/disputekit/backend/internal/plan"
	"github.com/disputekit/backend/internal/storage"
	"github.com/disputekit/backend/pkg/database"
	"github.com/disputekit/backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.Case{}, &models.CaseFacts{}, &models.EvidenceItem{},
		&models.ChatMessage{}, &models.DocumentPlan{}, &models.GeneratedDocument{},
		&models.TimelineEvent{}, &models.Payment{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Storage helper
	sb := storage.NewSupabase() // uses SUPABASE_URL / SUPABASE_SERVICE_KEY / SUPABASE_BUCKET

	// Cases & evidence
	caseH := cases.NewHandler(db, sb)
	api.Post("/cases", auth.RequireAuth(), caseH.Create)
	api.Get("/cases/mine", auth.RequireAuth(), caseH.ListMine)
	api.Get("/cases/:id", auth.RequireAuth(), caseH.GetDetail)
	api.Get("/cases/:id/timeline", auth.RequireAuth(), caseH.Timeline)
	api.Post("/cases/:id/evidence", auth.RequireAuth(), caseH.UploadEvidence)
	api.Get("/cases/:id/evidence", auth.RequireAuth(), caseH.EvidenceStatus)
	api.Get("/evidence/:itemID/signed-url", auth.RequireAuth(), caseH.SignedDownloadURL)
	api.Delete("/evidence/:itemID", auth.RequireAuth(), caseH.DeleteEvidence)

	// Chat
	assistant, err := chat.NewAssistant()
	if err != nil {
		log.Fatal("assistant init failed:", err)
	}
	chatH := chat.NewHandler(db, assistant)
	api.Post("/cases/:id/messages", auth.RequireAuth(), chatH.SendMessage)
	api.Get("/cases/:id/messages", auth.RequireAuth(), chatH.ListMessages)
	api.Get("/cases/:id/state", auth.RequireAuth(), chatH.GetState)

	// Document plan
	gateway := plan.NewGateway(db, plan.DefaultThresholds())
	planH := plan.NewHandler(db, gateway)
	api.Get("/cases/:id/plan", auth.RequireAuth(), planH.GetPlan)
	api.Post("/cases/:id/plan", auth.RequireAuth(), planH.CreatePlan)

	// Deadline engine
	engine := deadline.NewEngine(db, deadline.DefaultConfig(), notify.LogNotifier{})
	dlH := deadline.NewHandler(db, engine)
	api.Post("/documents/:documentID/completed", auth.RequireAuth(), dlH.MarkCompleted)
	api.Post("/documents/:documentID/sent", auth.RequireAuth(), dlH.MarkSent)
	api.Post("/cases/:id/response", auth.RequireAuth(), dlH.RecordResponse)
	api.Post("/cases/:id/close", auth.RequireAuth(), dlH.CloseCase)

	// Payments
	payH := payments.NewHandler(db)
	api.Post("/cases/:id/checkout", auth.RequireAuth(), payH.CreateCheckout)
	api.Post("/payments/stripe/webhook", payH.StripeWebhook)
	if os.Getenv("APP_ENV") == "dev" && os.Getenv("PAYMENT_PROVIDER") == "mock" {
		api.Post("/payments/mock/complete", payH.MockComplete) // Protected by X-Dev-Secret
	}

	// Periodic deadline pass: sweep first, then follow-ups, so a deadline
	// missed this tick gets its follow-up this tick. Both operations are
	// idempotent, so overlapping or repeated runs are safe.
	schedule := os.Getenv("SWEEP_SCHEDULE")
	if schedule == "" {
		schedule = "@hourly"
	}
	cr := cron.New()
	if _, err := cr.AddFunc(schedule, func() {
		ctx := context.Background()
		missed, err := engine.SweepMissedDeadlines(ctx)
		if err != nil {
			log.Println("deadline sweep:", err)
			return
		}
		followUps, err := engine.GenerateFollowUps(ctx)
		if err != nil {
			log.Println("follow-up generation:", err)
			return
		}
		if missed > 0 || followUps > 0 {
			log.Printf("deadline pass: %d missed, %d follow-ups", missed, followUps)
		}
	}); err != nil {
		log.Fatal("cron schedule invalid:", err)
	}
	cr.Start()
	defer cr.Stop()

	// Manual trigger for ops and tests; same pass the cron runs.
	api.Post("/internal/sweep", dlH.RunSweep)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}

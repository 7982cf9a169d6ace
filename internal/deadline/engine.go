package deadline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/disputekit/backend/internal/notify"
	"github.com/disputekit/backend/pkg/models"
	"github.com/disputekit/backend/pkg/utils"
)

// Sentinel outcomes reported to callers. None of these are fatal.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotOwner     = errors.New("case does not belong to user")
	ErrNotCompleted = errors.New("document is not completed")
	ErrWrongStatus  = errors.New("case is not in the expected lifecycle status")
)

// Config holds the tunables of the deadline cycle.
type Config struct {
	WaitingWindow time.Duration // how long to wait for a response after sending
}

// DefaultConfig matches the standard 14-day letter-before-action window.
func DefaultConfig() Config {
	return Config{WaitingWindow: 14 * 24 * time.Hour}
}

// Engine drives a case's lifecycle from "document sent" through waiting,
// missed deadlines and follow-up generation until it closes. All operations
// are idempotent and safe under concurrent or duplicate invocation: guard
// predicates, not locks, provide correctness.
type Engine struct {
	db       *gorm.DB
	cfg      Config
	notifier notify.Notifier
	now      func() time.Time // injectable for tests
}

func NewEngine(db *gorm.DB, cfg Config, notifier notify.Notifier) *Engine {
	return &Engine{db: db, cfg: cfg, notifier: notifier, now: time.Now}
}

// WithClock replaces the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// loadOwnedDocument resolves a document through its plan to the owning case
// and checks the caller owns it.
func (e *Engine) loadOwnedDocument(ctx context.Context, userID, documentID uuid.UUID) (*models.GeneratedDocument, *models.Case, error) {
	var doc models.GeneratedDocument
	if err := e.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var plan models.DocumentPlan
	if err := e.db.WithContext(ctx).First(&plan, "id = ?", doc.PlanID).Error; err != nil {
		return nil, nil, err
	}

	var cs models.Case
	if err := e.db.WithContext(ctx).First(&cs, "id = ?", plan.CaseID).Error; err != nil {
		return nil, nil, err
	}
	if cs.UserID != userID {
		return nil, nil, ErrNotOwner
	}
	return &doc, &cs, nil
}

// MarkCompleted finalises a pending document so it becomes eligible for
// sending. The document's content is produced outside this engine; completing
// it is the user saying "this is ready to go". Repeat calls are no-ops.
func (e *Engine) MarkCompleted(ctx context.Context, userID, documentID uuid.UUID) (*models.GeneratedDocument, error) {
	doc, cs, err := e.loadOwnedDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocCompleted {
		return doc, nil
	}
	if doc.Status != models.DocPending {
		return nil, ErrWrongStatus // generating or failed
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GeneratedDocument{}).
			Where("id = ? AND status = ?", doc.ID, models.DocPending).
			Update("status", models.DocCompleted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWrongStatus
		}
		return utils.LogTimelineEvent(ctx, tx, cs.ID, models.EventDocumentCompleted,
			"Document finalised and ready to send", &doc.ID)
	})
	if err != nil {
		return nil, err
	}

	doc.Status = models.DocCompleted
	return doc, nil
}

// MarkSent records that a completed document went out to the other party:
// the case starts waiting for a response with a fresh deadline. Fails with a
// sentinel (reported to the caller, never fatal) when the document is not
// completed or the case is not the caller's.
func (e *Engine) MarkSent(ctx context.Context, userID, documentID uuid.UUID) (*models.Case, error) {
	doc, cs, err := e.loadOwnedDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocCompleted {
		return nil, ErrNotCompleted
	}

	deadline := e.now().Add(e.cfg.WaitingWindow)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(map[string]any{
			"lifecycle_status": models.LifecycleAwaitingResponse,
			"waiting_until":    deadline,
		}).Error; err != nil {
			return err
		}
		return utils.LogTimelineEvent(ctx, tx, cs.ID, models.EventDocumentSent,
			fmt.Sprintf("Document sent; response expected by %s", deadline.Format("2 Jan 2006")),
			&doc.ID)
	})
	if err != nil {
		return nil, err
	}

	if nerr := e.notifier.Notify(ctx, cs.UserID, cs.ID, models.EventDocumentSent); nerr != nil {
		log.Printf("notify failed case=%s: %v", cs.ID, nerr)
	}

	cs.LifecycleStatus = models.LifecycleAwaitingResponse
	cs.WaitingUntil = &deadline
	return cs, nil
}

// SweepMissedDeadlines flips every awaiting case whose deadline has passed to
// deadline_missed and writes one timeline event per flip. At-least-once safe:
// the guard predicate in the UPDATE means a second sweep, or an overlapping
// one, matches zero rows. Returns the number of cases flipped.
func (e *Engine) SweepMissedDeadlines(ctx context.Context) (int, error) {
	now := e.now()

	var overdue []models.Case
	if err := e.db.WithContext(ctx).
		Where("lifecycle_status = ? AND waiting_until < ?", models.LifecycleAwaitingResponse, now).
		Find(&overdue).Error; err != nil {
		return 0, err
	}

	flipped := 0
	for _, cs := range overdue {
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Re-check under the same predicate so an overlapping sweep that
			// got here first turns this into a no-op.
			res := tx.Model(&models.Case{}).
				Where("id = ? AND lifecycle_status = ?", cs.ID, models.LifecycleAwaitingResponse).
				Updates(map[string]any{
					"lifecycle_status": models.LifecycleDeadlineMissed,
					"waiting_until":    nil, // non-null iff awaiting_response
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrWrongStatus
			}
			return utils.LogTimelineEvent(ctx, tx, cs.ID, models.EventDeadlineMissed,
				"No response received before the deadline", nil)
		})
		if errors.Is(err, ErrWrongStatus) {
			continue
		}
		if err != nil {
			log.Printf("deadline sweep failed case=%s: %v", cs.ID, err)
			continue
		}
		flipped++
		if nerr := e.notifier.Notify(ctx, cs.UserID, cs.ID, models.EventDeadlineMissed); nerr != nil {
			log.Printf("notify failed case=%s: %v", cs.ID, nerr)
		}
	}
	return flipped, nil
}

// GenerateFollowUps creates one pending follow-up document for every
// non-restricted case sitting in deadline_missed with a persisted plan, and
// puts the case back into a fresh waiting cycle. The existing-followup guard
// makes any number of invocations produce at most one follow-up per cycle.
// Returns the number of follow-ups created.
func (e *Engine) GenerateFollowUps(ctx context.Context) (int, error) {
	var missed []models.Case
	if err := e.db.WithContext(ctx).
		Where("lifecycle_status = ? AND restricted = ?", models.LifecycleDeadlineMissed, false).
		Find(&missed).Error; err != nil {
		return 0, err
	}

	created := 0
	for _, cs := range missed {
		var plan models.DocumentPlan
		err := e.db.WithContext(ctx).Where("case_id = ?", cs.ID).First(&plan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue // no plan, nothing to follow up on
		}
		if err != nil {
			return created, err
		}

		deadline := e.now().Add(e.cfg.WaitingWindow)
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Duplicate-prevention guard, checked under the plan row lock so
			// overlapping runs serialize here.
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&models.DocumentPlan{}, "id = ?", plan.ID).Error; err != nil {
				return err
			}
			var existing int64
			if err := tx.Model(&models.GeneratedDocument{}).
				Where("plan_id = ? AND is_follow_up = ?", plan.ID, true).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return ErrWrongStatus
			}

			doc := models.GeneratedDocument{
				PlanID:     plan.ID,
				Type:       models.DocFollowUpLetter,
				Order:      1000, // after every planned document
				Required:   true,
				IsFollowUp: true,
				Status:     models.DocPending,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}

			res := tx.Model(&models.Case{}).
				Where("id = ? AND lifecycle_status = ?", cs.ID, models.LifecycleDeadlineMissed).
				Updates(map[string]any{
					"lifecycle_status": models.LifecycleAwaitingResponse,
					"waiting_until":    deadline,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrWrongStatus
			}

			if err := utils.LogTimelineEvent(ctx, tx, cs.ID, models.EventFollowUpGenerated,
				"Follow-up letter queued after missed deadline", &doc.ID); err != nil {
				return err
			}
			return utils.LogTimelineEvent(ctx, tx, cs.ID, models.EventDeadlineSet,
				fmt.Sprintf("New response deadline: %s", deadline.Format("2 Jan 2006")), &doc.ID)
		})
		if errors.Is(err, ErrWrongStatus) {
			continue
		}
		if err != nil {
			log.Printf("follow-up generation failed case=%s: %v", cs.ID, err)
			continue
		}
		created++
		if nerr := e.notifier.Notify(ctx, cs.UserID, cs.ID, models.EventFollowUpGenerated); nerr != nil {
			log.Printf("notify failed case=%s: %v", cs.ID, nerr)
		}
	}
	return created, nil
}

// RecordResponse notes that the other party replied: waiting ends and the
// cycle stops until the user decides what happens next.
func (e *Engine) RecordResponse(ctx context.Context, userID, caseID uuid.UUID) error {
	return e.flip(ctx, userID, caseID,
		[]models.LifecycleStatus{models.LifecycleAwaitingResponse, models.LifecycleDeadlineMissed},
		models.LifecycleResponseReceived, models.EventResponseReceived,
		"Response received from the other party")
}

// CloseCase ends the lifecycle entirely. Terminal.
func (e *Engine) CloseCase(ctx context.Context, userID, caseID uuid.UUID) error {
	return e.flip(ctx, userID, caseID,
		nil, // closable from any non-closed status
		models.LifecycleClosed, models.EventCaseClosed, "Case closed")
}

// flip transitions a case's lifecycle status with an ownership check, an
// optional allowed-from set, and a timeline event, all in one transaction.
func (e *Engine) flip(
	ctx context.Context,
	userID, caseID uuid.UUID,
	allowedFrom []models.LifecycleStatus,
	to models.LifecycleStatus,
	event models.TimelineType,
	description string,
) error {
	var cs models.Case
	if err := e.db.WithContext(ctx).First(&cs, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if cs.UserID != userID {
		return ErrNotOwner
	}
	if cs.LifecycleStatus == models.LifecycleClosed {
		return ErrWrongStatus
	}
	if allowedFrom != nil {
		ok := false
		for _, s := range allowedFrom {
			if cs.LifecycleStatus == s {
				ok = true
				break
			}
		}
		if !ok {
			return ErrWrongStatus
		}
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Case{}).Where("id = ?", caseID).Updates(map[string]any{
			"lifecycle_status": to,
			"waiting_until":    nil, // non-null iff awaiting_response
		}).Error; err != nil {
			return err
		}
		return utils.LogTimelineEvent(ctx, tx, caseID, event, description, nil)
	})
	if err != nil {
		return err
	}

	if event == models.EventCaseClosed {
		if nerr := e.notifier.Notify(ctx, cs.UserID, cs.ID, models.EventCaseClosed); nerr != nil {
			log.Printf("notify failed case=%s: %v", cs.ID, nerr)
		}
	}
	return nil
}

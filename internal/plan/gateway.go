package plan

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/disputekit/backend/pkg/models"
)

// Gateway is the idempotent persistence layer for document plans. A plan and
// its documents are created as one atomic unit, at most once per case; the
// unique index on document_plans.case_id resolves concurrent creators.
type Gateway struct {
	db  *gorm.DB
	cfg Thresholds
}

func NewGateway(db *gorm.DB, cfg Thresholds) *Gateway {
	return &Gateway{db: db, cfg: cfg}
}

// PreviewResult is what GetOrPreview returns: either the persisted plan or an
// in-memory computation (or its validation failure).
type PreviewResult struct {
	Persisted  bool                 `json:"persisted"`
	Plan       *models.DocumentPlan `json:"plan,omitempty"`
	Preview    *ComputedPlan        `json:"preview,omitempty"`
	Validation []string             `json:"validation,omitempty"`
}

// CreateResult is what CreateIfAbsent returns. Created is false both for the
// idempotent no-op and for the losing side of a concurrent create.
type CreateResult struct {
	Created    bool                 `json:"created"`
	Plan       *models.DocumentPlan `json:"plan,omitempty"`
	Validation []string             `json:"validation,omitempty"`
}

// GetOrPreview returns the persisted plan when one exists, otherwise computes
// one in memory without persisting anything. Pure read.
func (g *Gateway) GetOrPreview(ctx context.Context, caseID uuid.UUID) (*PreviewResult, error) {
	if existing, err := g.fetch(ctx, caseID); err != nil {
		return nil, err
	} else if existing != nil {
		return &PreviewResult{Persisted: true, Plan: existing}, nil
	}

	facts, count, err := g.loadInputs(ctx, caseID)
	if err != nil {
		return nil, err
	}
	res := Compute(facts, count, g.cfg)
	if !res.Success {
		return &PreviewResult{Validation: res.Validation}, nil
	}
	return &PreviewResult{Preview: res.Plan}, nil
}

// CreateIfAbsent persists the plan and all its documents in one transaction,
// exactly once per case. Calling it again, or losing a race to a concurrent
// caller, returns the existing plan with Created=false. Creation also locks
// the conversation: documents are now the source of truth for the case.
func (g *Gateway) CreateIfAbsent(ctx context.Context, caseID uuid.UUID) (*CreateResult, error) {
	if existing, err := g.fetch(ctx, caseID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateResult{Created: false, Plan: existing}, nil
	}

	facts, count, err := g.loadInputs(ctx, caseID)
	if err != nil {
		return nil, err
	}
	res := Compute(facts, count, g.cfg)
	if !res.Success {
		return &CreateResult{Validation: res.Validation}, nil
	}

	plan := models.DocumentPlan{
		CaseID:       caseID,
		Complexity:   res.Plan.Complexity,
		DocumentType: res.Plan.DocumentType,
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&plan).Error; err != nil {
			return err
		}
		for _, d := range res.Plan.Documents {
			doc := models.GeneratedDocument{
				PlanID:   plan.ID,
				Type:     d.Type,
				Order:    d.Order,
				Required: d.Required,
				Status:   models.DocPending,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
		}
		// Documents triggered: the conversation subsystem is done with this
		// case. Terminal for the chat, by the same write that creates the plan.
		return tx.Model(&models.Case{}).Where("id = ?", caseID).Updates(map[string]any{
			"ai_mode":         models.ModeLocked,
			"chat_phase":      models.PhaseLocked,
			"strategy_locked": true,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race: the winner's plan is the plan.
			winner, ferr := g.fetch(ctx, caseID)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				return &CreateResult{Created: false, Plan: winner}, nil
			}
		}
		return nil, err
	}

	created, err := g.fetch(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Created: true, Plan: created}, nil
}

/* ============================== Internals =============================== */

func (g *Gateway) fetch(ctx context.Context, caseID uuid.UUID) (*models.DocumentPlan, error) {
	var p models.DocumentPlan
	err := g.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("case_id = ?", caseID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *Gateway) loadInputs(ctx context.Context, caseID uuid.UUID) (*models.CaseFacts, int, error) {
	var facts models.CaseFacts
	err := g.db.WithContext(ctx).Where("case_id = ?", caseID).First(&facts).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}
	factsPtr := &facts
	if errors.Is(err, gorm.ErrRecordNotFound) {
		factsPtr = nil
	}

	var count int64
	if err := g.db.WithContext(ctx).Model(&models.EvidenceItem{}).
		Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return nil, 0, err
	}
	return factsPtr, int(count), nil
}

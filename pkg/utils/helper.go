package utils

import (
	"context"
	"time"

	"github.com/disputekit/backend/pkg/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogTimelineEvent inserts an audit record into timeline_events. Runs inside
// the caller's transaction when db is a tx handle, so lifecycle flips and
// their audit rows commit together.
func LogTimelineEvent(
	ctx context.Context,
	db *gorm.DB,
	caseID uuid.UUID,
	eventType models.TimelineType,
	description string,
	relatedDocumentID *uuid.UUID,
) error {
	return db.WithContext(ctx).Create(&models.TimelineEvent{
		CaseID:            caseID,
		Type:              eventType,
		Description:       description,
		RelatedDocumentID: relatedDocumentID,
		OccurredAt:        time.Now(),
	}).Error
}

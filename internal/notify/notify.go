package notify

import (
	"context"
	"log"

	"github.com/disputekit/backend/pkg/models"
	"github.com/google/uuid"
)

// Notifier is invoked by the deadline engine on lifecycle-significant events.
// Delivery mechanics (email/push) live behind this interface; the engine only
// cares that the call is best-effort and never blocks a transition.
type Notifier interface {
	Notify(ctx context.Context, userID, caseID uuid.UUID, eventType models.TimelineType) error
}

// LogNotifier writes notifications to the process log. The default in dev and
// in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, caseID uuid.UUID, eventType models.TimelineType) error {
	log.Printf("notify user=%s case=%s event=%s", userID, caseID, eventType)
	return nil
}

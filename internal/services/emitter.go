package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/db"
	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/queue"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
)

// EventRecorder mirrors engine events into the event log collection and
// publishes them to the queue. Emission runs after the mutation committed,
// so failures here are logged and swallowed: observers may miss an event,
// the books never roll back.
type EventRecorder struct {
	db           db.DbInterface
	queueManager *queue.QueueManager
}

var _ types.EventSink = (*EventRecorder)(nil)

func NewEventRecorder(db db.DbInterface, qm *queue.QueueManager) *EventRecorder {
	return &EventRecorder{db: db, queueManager: qm}
}

func (r *EventRecorder) Emit(ctx context.Context, event types.Event) {
	if r.db != nil {
		doc := &model.EventDocument{
			EventID:    event.ID,
			Type:       event.Type.String(),
			Component:  event.Component,
			Attributes: event.Attributes,
			EmittedAt:  event.Timestamp,
		}
		if err := r.db.SaveEvent(ctx, doc); err != nil && !db.IsDuplicateKeyError(err) {
			log.Ctx(ctx).Error().Err(err).
				Str("event_id", event.ID).
				Str("type", event.Type.String()).
				Msg("Failed to record event")
		}
	}
	if r.queueManager != nil {
		// PublishEvent already counts and logs its own failures.
		_ = r.queueManager.PublishEvent(ctx, event)
	}
}

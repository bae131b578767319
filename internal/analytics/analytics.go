// Package analytics records channel-level delivery outcomes. Recording is
// decoupled from dispatch through the analytics queue; a broken analytics
// path can never fail or retry a notification.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/store"
)

// Emitter enqueues track-delivery jobs. Track is fire-and-forget: enqueue
// failures are logged and swallowed so the dispatch path never observes them.
type Emitter struct {
	q      queue.Queue
	logger *zap.Logger
}

func NewEmitter(q queue.Queue, logger *zap.Logger) *Emitter {
	return &Emitter{q: q, logger: logger}
}

func (e *Emitter) Track(ctx context.Context, ev model.DeliveryEvent) {
	if _, err := e.q.Enqueue(ctx, queue.JobTrackDelivery, ev, queue.Options{}); err != nil {
		e.logger.Warn("Failed to enqueue delivery event",
			zap.String("notification_id", ev.NotificationID),
			zap.String("event", ev.Event),
			zap.Error(err),
		)
	}
}

// Tracker consumes track-delivery jobs and appends DeliveryTracking rows.
// One row per event; the log accumulates across retries.
type Tracker struct {
	store  store.TrackingStore
	logger *zap.Logger
}

func NewTracker(s store.TrackingStore, logger *zap.Logger) *Tracker {
	return &Tracker{store: s, logger: logger}
}

// HandleTrackDelivery processes one analytics job. Persistence errors are
// returned so the broker retries the recording; that retry loop is isolated
// to the analytics queue.
func (t *Tracker) HandleTrackDelivery(ctx context.Context, job *queue.Job) error {
	var ev model.DeliveryEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal delivery event: %w", err)
	}

	now := time.Now()
	row := &model.DeliveryTracking{
		ID:             uuid.NewString(),
		NotificationID: ev.NotificationID,
		Channel:        ev.Channel,
		Status:         statusForEvent(ev.Event),
		ProviderID:     ev.ProviderID,
		Successful:     ev.Successful,
		Failed:         ev.Failed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ev.Event == "delivered" {
		row.DeliveredAt = &now
	}

	if err := t.store.CreateDeliveryTracking(ctx, row); err != nil {
		return fmt.Errorf("failed to record delivery event: %w", err)
	}

	t.logger.Debug("Delivery event tracked",
		zap.String("notification_id", ev.NotificationID),
		zap.String("event", ev.Event),
		zap.String("channel", string(ev.Channel)),
	)
	return nil
}

func statusForEvent(event string) model.DeliveryStatus {
	switch event {
	case "sent":
		return model.DeliverySent
	case "delivered":
		return model.DeliveryDelivered
	default:
		return model.DeliveryFailed
	}
}

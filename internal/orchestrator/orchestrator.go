// Package orchestrator accepts notification requests, persists them, and
// fans them out to the per-channel queues.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/analytics"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/store"
	"notifyhub/pkg/events"
)

// Orchestrator owns the intake side of the pipeline: Submit validates and
// persists, the router job moves the notification onto its channel queue.
type Orchestrator struct {
	store    store.NotificationStore
	router   queue.Queue
	channels map[model.Channel]queue.Queue
	emitter  *analytics.Emitter
	bus      *events.Publisher // optional, nil when the event bus is disabled
	logger   *zap.Logger
}

func New(
	s store.NotificationStore,
	router queue.Queue,
	channels map[model.Channel]queue.Queue,
	emitter *analytics.Emitter,
	bus *events.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    s,
		router:   router,
		channels: channels,
		emitter:  emitter,
		bus:      bus,
		logger:   logger,
	}
}

// Submit validates the request, persists a PENDING notification and places
// exactly one router job. Validation failures are permanent: they surface
// synchronously and nothing is enqueued. The returned id identifies the
// notification for status and tracking lookups.
func (o *Orchestrator) Submit(ctx context.Context, req model.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	now := time.Now()
	n := model.Notification{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Type:        req.Type,
		Channel:     req.Channel,
		Title:       req.Title,
		Content:     req.Content,
		Data:        req.Data,
		TemplateID:  req.TemplateID,
		Status:      model.StatusPending,
		Priority:    priority,
		MaxRetries:  model.DefaultMaxRetries,
		Metadata:    req.Metadata,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateNotification(ctx, &n); err != nil {
		return "", fmt.Errorf("failed to persist notification: %w", err)
	}

	var delay time.Duration
	if req.ScheduledAt != nil {
		if d := time.Until(*req.ScheduledAt); d > 0 {
			delay = d
		}
	}

	jobID, err := o.router.Enqueue(ctx, queue.JobProcessNotification, n, queue.Options{
		Priority: priority.Weight(),
		Delay:    delay,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue notification: %w", err)
	}

	o.logger.Info("Notification submitted",
		zap.String("notification_id", n.ID),
		zap.String("job_id", jobID),
		zap.String("user_id", n.UserID),
		zap.String("channel", string(n.Channel)),
		zap.Duration("delay", delay),
	)
	o.emitEvent(events.Event{
		Type:           events.NotificationSent,
		NotificationID: n.ID,
		JobID:          jobID,
		UserID:         n.UserID,
		Channel:        string(n.Channel),
	})
	return n.ID, nil
}

// HandleProcessNotification is the router job: PROCESSING, hand off to the
// channel queue, SENT. SENT means "handed to a channel queue", delivery is
// the dispatcher's verdict.
func (o *Orchestrator) HandleProcessNotification(ctx context.Context, job *queue.Job) error {
	var n model.Notification
	if err := json.Unmarshal(job.Payload, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification job: %w", err)
	}

	log := o.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
	)
	log.Info("Processing notification")

	o.setStatus(ctx, n.ID, model.StatusProcessing)

	cq, ok := o.channels[n.Channel]
	if !ok {
		// Permanent: complete the job so the broker never retries it.
		log.Error("Unsupported channel, failing permanently")
		o.update(ctx, n.ID, store.NotificationUpdate{
			Status:       statusPtr(model.StatusFailed),
			ErrorMessage: strPtr(fmt.Sprintf("unsupported notification channel: %q", n.Channel)),
		})
		return nil
	}

	payload := dispatch.SendJob{Notification: n, JobID: job.ID}
	if _, err := cq.Enqueue(ctx, sendJobName(n.Channel), payload, queue.Options{
		Priority: n.Priority.Weight(),
	}); err != nil {
		return fmt.Errorf("failed to enqueue channel job: %w", err)
	}

	o.setStatus(ctx, n.ID, model.StatusSent)
	o.emitter.Track(ctx, model.DeliveryEvent{
		NotificationID: n.ID,
		Event:          "sent",
		Channel:        n.Channel,
	})

	log.Info("Notification routed to channel queue")
	return nil
}

func sendJobName(c model.Channel) string {
	switch c {
	case model.ChannelEmail:
		return queue.JobSendEmail
	case model.ChannelPush:
		return queue.JobSendPush
	case model.ChannelSMS:
		return queue.JobSendSMS
	default:
		return queue.JobSendInApp
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, id string, s model.Status) {
	o.update(ctx, id, store.NotificationUpdate{Status: &s})
}

func (o *Orchestrator) update(ctx context.Context, id string, upd store.NotificationUpdate) {
	if err := o.store.UpdateNotification(ctx, id, upd); err != nil {
		o.logger.Error("Failed to update notification status",
			zap.String("notification_id", id),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) emitEvent(e events.Event) {
	if o.bus != nil {
		o.bus.Emit(e)
	}
}

func statusPtr(s model.Status) *model.Status { return &s }
func strPtr(s string) *string                { return &s }

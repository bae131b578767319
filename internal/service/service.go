// Package service assembles the delivery pipeline: seven queues, the intake
// orchestrator, per-channel dispatchers, the recurrence planner, and the
// analytics tracker, with one lifecycle around them.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/admin"
	"notifyhub/internal/analytics"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/internal/orchestrator"
	"notifyhub/internal/queue"
	"notifyhub/internal/scheduler"
	"notifyhub/internal/sender"
	"notifyhub/internal/store"
	"notifyhub/pkg/events"
	"notifyhub/pkg/metrics"
)

// QueueFactory builds one named queue. The worker wires a redis-backed
// factory; tests and single-node deployments use the memory backend.
type QueueFactory func(name string, cfg queue.Config) queue.Queue

// Service is the notification pipeline. Construct with New, then Start; all
// submission and operator methods are safe for concurrent use.
type Service struct {
	store   store.Store
	queues  map[string]queue.Queue
	orch    *orchestrator.Orchestrator
	planner *scheduler.Planner
	admin   *admin.Admin
	bus     *events.Publisher
	logger  *zap.Logger
}

// New builds the pipeline. bus may be nil to run without lifecycle event
// publication.
func New(
	st store.Store,
	senders sender.Senders,
	factory QueueFactory,
	cfg queue.Config,
	bus *events.Publisher,
	logger *zap.Logger,
) *Service {
	queues := make(map[string]queue.Queue)
	for _, name := range []string{
		queue.QueueNotification,
		queue.QueueEmail,
		queue.QueuePush,
		queue.QueueSMS,
		queue.QueueInApp,
		queue.QueueScheduled,
		queue.QueueAnalytics,
	} {
		queues[name] = factory(name, cfg)
	}

	channels := map[model.Channel]queue.Queue{
		model.ChannelEmail: queues[queue.QueueEmail],
		model.ChannelPush:  queues[queue.QueuePush],
		model.ChannelSMS:   queues[queue.QueueSMS],
		model.ChannelInApp: queues[queue.QueueInApp],
	}

	emitter := analytics.NewEmitter(queues[queue.QueueAnalytics], logger)
	tracker := analytics.NewTracker(st, logger)
	dispatcher := dispatch.New(st, senders, emitter, logger)
	orch := orchestrator.New(st, queues[queue.QueueNotification], channels, emitter, bus, logger)
	planner := scheduler.New(queues[queue.QueueScheduled], orch, st, logger)

	s := &Service{
		store:   st,
		queues:  queues,
		orch:    orch,
		planner: planner,
		admin:   admin.New(queues, logger),
		bus:     bus,
		logger:  logger,
	}

	queues[queue.QueueNotification].Process(queue.JobProcessNotification, orch.HandleProcessNotification)
	queues[queue.QueueEmail].Process(queue.JobSendEmail, dispatcher.Handler(model.ChannelEmail))
	queues[queue.QueuePush].Process(queue.JobSendPush, dispatcher.Handler(model.ChannelPush))
	queues[queue.QueueSMS].Process(queue.JobSendSMS, dispatcher.Handler(model.ChannelSMS))
	queues[queue.QueueInApp].Process(queue.JobSendInApp, dispatcher.Handler(model.ChannelInApp))
	queues[queue.QueueScheduled].Process(queue.JobProcessScheduled, planner.HandleProcessScheduled)
	queues[queue.QueueAnalytics].Process(queue.JobTrackDelivery, tracker.HandleTrackDelivery)

	for _, q := range queues {
		q.Subscribe(s)
	}
	return s
}

// Start launches every queue's workers.
func (s *Service) Start() {
	for name, q := range s.queues {
		q.Start()
		s.logger.Info("Queue started", zap.String("queue", name))
	}
	s.logger.Info("Notification service started")
}

// Shutdown drains and closes every queue.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error
	for name, q := range s.queues {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close queue %s: %w", name, err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	s.logger.Info("Notification service stopped")
	return nil
}

// Submit accepts one notification for delivery and returns its id.
func (s *Service) Submit(ctx context.Context, req model.Request) (string, error) {
	return s.orch.Submit(ctx, req)
}

// Schedule places a future or recurring notification.
func (s *Service) Schedule(ctx context.Context, req model.ScheduledRequest) (string, error) {
	return s.planner.Schedule(ctx, req)
}

// Status returns the current notification row.
func (s *Service) Status(ctx context.Context, id string) (*model.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// Tracking returns the delivery event log for one notification.
func (s *Service) Tracking(ctx context.Context, id string) ([]model.DeliveryTracking, error) {
	return s.store.ListDeliveryTracking(ctx, id)
}

// Admin exposes the operator controls over the pipeline's queues.
func (s *Service) Admin() *admin.Admin {
	return s.admin
}

// OnCompleted implements queue.Listener.
func (s *Service) OnCompleted(queueName string, job *queue.Job) {
	metrics.RecordJob(queueName, "completed")
	s.emit(events.Event{
		Type:  events.NotificationDelivered,
		JobID: job.ID,
		Queue: queueName,
	})
}

// OnFailed implements queue.Listener. It fires only after the attempt budget
// is exhausted.
func (s *Service) OnFailed(queueName string, job *queue.Job, err error) {
	metrics.RecordJob(queueName, "failed")
	s.logger.Error("Job exhausted its attempts",
		zap.String("queue", queueName),
		zap.String("job_id", job.ID),
		zap.Int("attempts_made", job.AttemptsMade),
		zap.Error(err),
	)
	s.emit(events.Event{
		Type:  events.NotificationFailed,
		JobID: job.ID,
		Queue: queueName,
		Error: err.Error(),
	})
}

// OnStalled implements queue.Listener.
func (s *Service) OnStalled(queueName string, job *queue.Job) {
	metrics.RecordJob(queueName, "stalled")
	s.logger.Warn("Job stalled, requeued",
		zap.String("queue", queueName),
		zap.String("job_id", job.ID),
	)
}

func (s *Service) emit(e events.Event) {
	if s.bus != nil {
		s.bus.Emit(e)
	}
}

// Package scheduler plans future and recurring notifications. Each occurrence
// is one delayed job on the scheduled queue; recurring chains re-enqueue
// themselves one occurrence at a time so a crash never loses more than the
// current link.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/store"
)

// Fallbacks used when a scheduled request names no template.
const (
	defaultTitle   = "Scheduled Notification"
	defaultContent = "This is a scheduled notification"
)

// Submitter hands a resolved request to the intake pipeline.
type Submitter interface {
	Submit(ctx context.Context, req model.Request) (string, error)
}

// Planner owns the scheduled queue: Schedule places delayed jobs,
// HandleProcessScheduled fires them and extends recurring chains.
type Planner struct {
	q         queue.Queue
	submitter Submitter
	templates store.TemplateStore
	logger    *zap.Logger
}

func New(q queue.Queue, submitter Submitter, templates store.TemplateStore, logger *zap.Logger) *Planner {
	return &Planner{q: q, submitter: submitter, templates: templates, logger: logger}
}

// Schedule places one process-scheduled job delayed until the requested time.
// A time already in the past fires immediately.
func (p *Planner) Schedule(ctx context.Context, req model.ScheduledRequest) (string, error) {
	if req.UserID == "" {
		return "", errors.New("userId is required")
	}
	if req.Type == "" {
		return "", errors.New("type is required")
	}
	if !req.Channel.Valid() {
		return "", fmt.Errorf("%w: %q", model.ErrUnsupportedChannel, req.Channel)
	}
	if req.IsRecurring && req.RecurrencePattern == nil {
		return "", errors.New("recurring request needs a recurrence pattern")
	}

	jobID, err := p.q.Enqueue(ctx, queue.JobProcessScheduled, req, queue.Options{
		Delay: delayUntil(req.ScheduledAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scheduled notification: %w", err)
	}

	p.logger.Info("Notification scheduled",
		zap.String("job_id", jobID),
		zap.String("user_id", req.UserID),
		zap.Time("scheduled_at", req.ScheduledAt),
		zap.Bool("recurring", req.IsRecurring),
	)
	return jobID, nil
}

// HandleProcessScheduled fires one occurrence: resolve template defaults,
// submit through the intake pipeline, then re-enqueue the next link of a
// recurring chain. The chain ends when the pattern yields no next occurrence.
func (p *Planner) HandleProcessScheduled(ctx context.Context, job *queue.Job) error {
	var req model.ScheduledRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal scheduled request: %w", err)
	}

	title, content, err := p.resolveTemplate(ctx, req.TemplateID)
	if err != nil {
		return err
	}

	id, err := p.submitter.Submit(ctx, model.Request{
		UserID:     req.UserID,
		Type:       req.Type,
		Channel:    req.Channel,
		Title:      title,
		Content:    content,
		Data:       req.Data,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		return fmt.Errorf("failed to submit scheduled notification: %w", err)
	}
	p.logger.Info("Scheduled notification fired",
		zap.String("notification_id", id),
		zap.String("user_id", req.UserID),
	)

	if !req.IsRecurring || req.RecurrencePattern == nil {
		return nil
	}

	next := req.RecurrencePattern.NextOccurrence(req.ScheduledAt)
	if next == nil {
		p.logger.Info("Recurrence chain complete", zap.String("user_id", req.UserID))
		return nil
	}

	req.ScheduledAt = *next
	if _, err := p.q.Enqueue(ctx, queue.JobProcessScheduled, req, queue.Options{
		Delay: delayUntil(*next),
	}); err != nil {
		return fmt.Errorf("failed to enqueue next occurrence: %w", err)
	}
	p.logger.Info("Next occurrence enqueued",
		zap.String("user_id", req.UserID),
		zap.Time("next_at", *next),
	)
	return nil
}

// resolveTemplate returns the title and content for an occurrence. A missing
// or unknown template falls back to the generic defaults; any other store
// error is retryable.
func (p *Planner) resolveTemplate(ctx context.Context, templateID string) (string, string, error) {
	if templateID == "" {
		return defaultTitle, defaultContent, nil
	}
	tpl, err := p.templates.GetTemplate(ctx, templateID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("Template not found, using defaults", zap.String("template_id", templateID))
		return defaultTitle, defaultContent, nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	title, content := tpl.Title, tpl.Content
	if title == "" {
		title = defaultTitle
	}
	if content == "" {
		content = defaultContent
	}
	return title, content, nil
}

func delayUntil(at time.Time) time.Duration {
	if d := time.Until(at); d > 0 {
		return d
	}
	return 0
}

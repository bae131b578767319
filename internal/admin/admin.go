// Package admin exposes operator controls over the pipeline's queues:
// pause/resume, cleanup, per-job cancel and retry, and aggregated stats.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/queue"
	"notifyhub/pkg/metrics"
)

// ErrUnknownQueue is returned when an operation addresses a queue name the
// pipeline does not run.
var ErrUnknownQueue = errors.New("unknown queue")

// Overview is the stats answer: one snapshot per queue plus the totals.
type Overview struct {
	Queues map[string]queue.Stats `json:"queues"`
	Total  queue.Stats            `json:"total"`
}

// Admin drives operator actions against the named queues.
type Admin struct {
	queues map[string]queue.Queue
	logger *zap.Logger
}

func New(queues map[string]queue.Queue, logger *zap.Logger) *Admin {
	return &Admin{queues: queues, logger: logger}
}

// QueueNames returns the administered queue names, sorted for stable output.
func (a *Admin) QueueNames() []string {
	names := make([]string, 0, len(a.queues))
	for name := range a.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Admin) lookup(name string) (queue.Queue, error) {
	q, ok := a.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	return q, nil
}

// PauseQueue stops intake on one queue; running jobs finish.
func (a *Admin) PauseQueue(ctx context.Context, name string) error {
	q, err := a.lookup(name)
	if err != nil {
		return err
	}
	if err := q.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause queue %s: %w", name, err)
	}
	a.logger.Info("Queue paused", zap.String("queue", name))
	return nil
}

// ResumeQueue re-enables intake on one queue.
func (a *Admin) ResumeQueue(ctx context.Context, name string) error {
	q, err := a.lookup(name)
	if err != nil {
		return err
	}
	if err := q.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume queue %s: %w", name, err)
	}
	a.logger.Info("Queue resumed", zap.String("queue", name))
	return nil
}

// CleanQueue purges settled jobs older than grace and returns the count.
func (a *Admin) CleanQueue(ctx context.Context, name string, grace time.Duration) (int, error) {
	q, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	removed, err := q.Clean(ctx, grace)
	if err != nil {
		return 0, fmt.Errorf("failed to clean queue %s: %w", name, err)
	}
	a.logger.Info("Queue cleaned",
		zap.String("queue", name),
		zap.Duration("grace", grace),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// CancelJob removes a not-yet-running job. False means the job was already
// dispatched or does not exist.
func (a *Admin) CancelJob(ctx context.Context, name, jobID string) (bool, error) {
	q, err := a.lookup(name)
	if err != nil {
		return false, err
	}
	ok, err := q.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	a.logger.Info("Job cancel requested",
		zap.String("queue", name),
		zap.String("job_id", jobID),
		zap.Bool("cancelled", ok),
	)
	return ok, nil
}

// RetryJob replays a job from the failed set with a fresh attempt budget.
func (a *Admin) RetryJob(ctx context.Context, name, jobID string) (bool, error) {
	q, err := a.lookup(name)
	if err != nil {
		return false, err
	}
	ok, err := q.Retry(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}
	a.logger.Info("Job retry requested",
		zap.String("queue", name),
		zap.String("job_id", jobID),
		zap.Bool("retried", ok),
	)
	return ok, nil
}

// JobInfo is the operator view of one job.
type JobInfo struct {
	Job   queue.Job `json:"job"`
	State string    `json:"state"`
}

// GetJob returns one job by id.
func (a *Admin) GetJob(ctx context.Context, name, jobID string) (JobInfo, error) {
	q, err := a.lookup(name)
	if err != nil {
		return JobInfo{}, err
	}
	job, state, err := q.Lookup(ctx, jobID)
	if err != nil {
		return JobInfo{}, err
	}
	return JobInfo{Job: *job, State: state}, nil
}

// QueueStats snapshots one queue.
func (a *Admin) QueueStats(ctx context.Context, name string) (queue.Stats, error) {
	q, err := a.lookup(name)
	if err != nil {
		return queue.Stats{}, err
	}
	s, err := q.Stats(ctx)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("failed to read stats for queue %s: %w", name, err)
	}
	return s, nil
}

// Stats snapshots every queue and the totals, and refreshes the queue depth
// gauges as a side effect.
func (a *Admin) Stats(ctx context.Context) (Overview, error) {
	out := Overview{Queues: make(map[string]queue.Stats, len(a.queues))}
	for name, q := range a.queues {
		s, err := q.Stats(ctx)
		if err != nil {
			return Overview{}, fmt.Errorf("failed to read stats for queue %s: %w", name, err)
		}
		out.Queues[name] = s
		out.Total.Add(s)
		metrics.SetQueueDepth(name, "waiting", s.Waiting)
		metrics.SetQueueDepth(name, "delayed", s.Delayed)
		metrics.SetQueueDepth(name, "failed", s.Failed)
	}
	return out, nil
}

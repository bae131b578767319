// Package queue defines the durable job broker contract the pipeline
// consumes: priority-ordered, at-least-once delivery with delayed execution,
// exponential retry backoff, a failed set for operator replay, and per-state
// statistics. Two backends implement it, a redis-backed one for production
// and an in-process one for tests and single-node deployments.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue names used by the pipeline.
const (
	QueueNotification = "notification"
	QueueEmail        = "email"
	QueuePush         = "push"
	QueueSMS          = "sms"
	QueueInApp        = "in-app"
	QueueScheduled    = "scheduled"
	QueueAnalytics    = "analytics"
)

// Job type names.
const (
	JobProcessNotification = "process-notification"
	JobSendEmail           = "send-email"
	JobSendPush            = "send-push"
	JobSendSMS             = "send-sms"
	JobSendInApp           = "send-in-app"
	JobProcessScheduled    = "process-scheduled"
	JobTrackDelivery       = "track-delivery"
)

var (
	// ErrJobNotFound is returned when a job id does not exist in the
	// addressed set.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned for operations on a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// Job is one unit of work. AttemptsMade counts started attempts, including
// the current one while a handler is running.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	AttemptsMade int             `json:"attemptsMade"`
	LastError    string          `json:"lastError,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

// Options control placement of an enqueued job. Zero values fall back to the
// queue defaults (NORMAL priority, no delay, configured attempt cap).
type Options struct {
	// Priority orders ready jobs; lower values dequeue first. 1..4 per the
	// URGENT..LOW mapping, 0 means NORMAL (3).
	Priority int
	// Delay holds the job back until now+Delay.
	Delay time.Duration
	// Attempts caps total tries for this job, overriding the queue default.
	Attempts int
}

// Job states reported by Lookup.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Stats is a point-in-time snapshot of one queue's job states.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Paused    int `json:"paused"`
}

// Add accumulates s into t, used for cross-queue totals.
func (t *Stats) Add(s Stats) {
	t.Waiting += s.Waiting
	t.Active += s.Active
	t.Completed += s.Completed
	t.Failed += s.Failed
	t.Delayed += s.Delayed
	t.Paused += s.Paused
}

// Handler processes one job. A returned error sends the job through the
// broker's retry machinery; the final failure parks it in the failed set.
// Handlers must tolerate redelivery: a stalled job may run more than once.
type Handler func(ctx context.Context, job *Job) error

// Listener observes job outcomes. Callbacks run on the worker goroutine
// after the job has settled; implementations must not block.
type Listener interface {
	OnCompleted(queue string, job *Job)
	OnFailed(queue string, job *Job, err error)
	OnStalled(queue string, job *Job)
}

// Queue is the broker contract consumed by the pipeline.
type Queue interface {
	Name() string

	// Enqueue serializes payload and places a job. It returns the job id.
	Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error)

	// Process registers the handler for a job name. Workers begin consuming
	// once Start is called.
	Process(name string, h Handler)

	// Start launches the worker pool. Enqueue works before Start; jobs
	// simply wait.
	Start()

	// Pause stops intake of ready jobs; in-flight jobs finish. Idempotent.
	Pause(ctx context.Context) error
	// Resume re-enables intake. Idempotent.
	Resume(ctx context.Context) error

	// Clean purges completed and failed jobs that settled more than grace
	// ago. It returns the number of removed jobs; a no-op is not an error.
	Clean(ctx context.Context, grace time.Duration) (int, error)

	// Cancel removes a waiting or delayed job. It returns false when the job
	// is gone or already running; cancellation is best-effort pre-dispatch.
	Cancel(ctx context.Context, jobID string) (bool, error)

	// Retry moves a job from the failed set back to waiting with a fresh
	// attempt budget. It returns false when the job is not in the failed set.
	Retry(ctx context.Context, jobID string) (bool, error)

	// Lookup returns a job and its current state, or ErrJobNotFound.
	Lookup(ctx context.Context, jobID string) (*Job, string, error)

	Stats(ctx context.Context) (Stats, error)

	// Subscribe attaches an outcome listener. Must be called before Start.
	Subscribe(l Listener)

	// Close drains workers and releases broker resources.
	Close() error
}

// Config carries the retry policy and worker sizing shared by all backends.
type Config struct {
	// Attempts is the default total tries per job.
	Attempts int
	// BackoffBase is the first retry delay; attempt n waits
	// BackoffBase * 2^(n-1).
	BackoffBase time.Duration
	// Concurrency is the worker pool size per queue.
	Concurrency int
}

// Defaults mirrors the broker configuration the pipeline was designed
// against: 3 attempts, 5s exponential base.
func Defaults() Config {
	return Config{Attempts: 3, BackoffBase: 5 * time.Second, Concurrency: 4}
}

func (c Config) withFallbacks() Config {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Backoff returns the delay before retry attempt n (1-based over already
// made attempts).
func (c Config) Backoff(attemptsMade int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < attemptsMade; i++ {
		d *= 2
	}
	return d
}

func normalizePriority(p int) int {
	if p < 1 || p > 4 {
		return 3
	}
	return p
}

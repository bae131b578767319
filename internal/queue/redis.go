package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the production broker backend. The data layout follows the
// pipeline's original Redis queue: a wait zset scored by priority+sequence,
// a delayed zset scored by ready time, per-job hashes, and completed/failed
// zsets scored by settle time so Clean can purge by age. Claims go through
// ZPOPMIN, which is atomic, so each ready job is handed to exactly one
// worker; the stall sweep re-queues claims whose worker died, giving
// at-least-once delivery.
type Redis struct {
	name   string
	cfg    Config
	rdb    *redis.Client
	logger *zap.Logger

	mu        sync.Mutex
	handlers  map[string]Handler
	listeners []Listener
	started   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pollInterval time.Duration
	stallTimeout time.Duration
}

// NewRedis creates a redis-backed queue on an existing client. The client is
// shared; Close does not close it.
func NewRedis(name string, cfg Config, rdb *redis.Client, logger *zap.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		name:         name,
		cfg:          cfg.withFallbacks(),
		rdb:          rdb,
		logger:       logger,
		handlers:     make(map[string]Handler),
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: 200 * time.Millisecond,
		stallTimeout: 30 * time.Second,
	}
}

func (q *Redis) Name() string { return q.name }

func (q *Redis) key(parts ...string) string {
	k := "queue:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Redis) jobKey(id string) string { return q.key("job", id) }

// waitScore packs priority and FIFO sequence into one zset score. Sequence
// numbers stay well below 1e12, so priorities never collide.
func waitScore(priority int, seq int64) float64 {
	return float64(priority)*1e12 + float64(seq)
}

func (q *Redis) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.cfg.Attempts
	}
	priority := normalizePriority(opts.Priority)

	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate job sequence: %w", err)
	}

	id := uuid.NewString()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"name":         name,
		"payload":      string(body),
		"priority":     priority,
		"attempts":     attempts,
		"attemptsMade": 0,
		"seq":          seq,
		"enqueuedAt":   time.Now().UnixMilli(),
	})
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: waitScore(priority, seq), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

func (q *Redis) Process(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

func (q *Redis) Subscribe(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Redis) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.janitorLoop()
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workLoop()
	}
}

// janitorLoop promotes due delayed jobs and requeues stalled claims.
func (q *Redis) janitorLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.promoteDelayed()
			q.requeueStalled()
		}
	}
}

func (q *Redis) promoteDelayed() {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(q.ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		vals, err := q.rdb.HMGet(q.ctx, q.jobKey(id), "priority", "seq").Result()
		if err != nil {
			continue
		}
		priority, seq := parseIntField(vals[0], 3), parseInt64Field(vals[1], 0)
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(q.ctx, q.key("delayed"), id)
		pipe.ZAdd(q.ctx, q.key("wait"), redis.Z{Score: waitScore(priority, seq), Member: id})
		if _, err := pipe.Exec(q.ctx); err != nil {
			q.logger.Error("Failed to promote delayed job",
				zap.String("queue", q.name),
				zap.String("job_id", id),
				zap.Error(err),
			)
		}
	}
}

// requeueStalled returns claims held longer than the stall timeout to the
// wait set. The original worker is assumed dead; redelivery is the
// at-least-once guarantee, so handlers must be idempotent.
func (q *Redis) requeueStalled() {
	cutoff := strconv.FormatInt(time.Now().Add(-q.stallTimeout).UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(q.ctx, q.key("active"), &redis.ZRangeBy{
		Min: "-inf", Max: cutoff, Count: 100,
	}).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		removed, err := q.rdb.ZRem(q.ctx, q.key("active"), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		vals, _ := q.rdb.HMGet(q.ctx, q.jobKey(id), "priority", "seq").Result()
		priority, seq := parseIntField(vals[0], 3), parseInt64Field(vals[1], 0)
		q.rdb.ZAdd(q.ctx, q.key("wait"), redis.Z{Score: waitScore(priority, seq), Member: id})

		q.logger.Warn("Requeued stalled job",
			zap.String("queue", q.name),
			zap.String("job_id", id),
		)
		if job, err := q.loadJob(id); err == nil {
			for _, l := range q.listeners {
				l.OnStalled(q.name, job)
			}
		}
	}
}

func (q *Redis) workLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		if paused, _ := q.rdb.Exists(q.ctx, q.key("paused")).Result(); paused > 0 {
			q.sleep()
			continue
		}

		zs, err := q.rdb.ZPopMin(q.ctx, q.key("wait"), 1).Result()
		if err != nil || len(zs) == 0 {
			q.sleep()
			continue
		}
		id := zs[0].Member.(string)

		q.rdb.ZAdd(q.ctx, q.key("active"), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: id,
		})

		job, err := q.loadJob(id)
		if err != nil {
			// Hash vanished (cancel raced the claim); drop the stale member.
			q.rdb.ZRem(q.ctx, q.key("active"), id)
			continue
		}

		q.mu.Lock()
		h, ok := q.handlers[job.Name]
		q.mu.Unlock()
		if !ok {
			// No handler in this process; hand the claim back.
			pipe := q.rdb.TxPipeline()
			pipe.ZRem(q.ctx, q.key("active"), id)
			pipe.ZAdd(q.ctx, q.key("wait"), redis.Z{
				Score:  waitScore(job.Priority, parseJobSeq(job)),
				Member: id,
			})
			pipe.Exec(q.ctx)
			q.sleep()
			continue
		}

		made, _ := q.rdb.HIncrBy(q.ctx, q.jobKey(id), "attemptsMade", 1).Result()
		job.AttemptsMade = int(made)

		err = q.run(h, job)
		q.settle(job, err)
	}
}

func (q *Redis) sleep() {
	select {
	case <-q.ctx.Done():
	case <-time.After(q.pollInterval):
	}
}

func (q *Redis) run(h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			q.logger.Error("Handler panic recovered",
				zap.String("queue", q.name),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
			)
		}
	}()
	return h(q.ctx, job)
}

func (q *Redis) settle(job *Job, err error) {
	now := float64(time.Now().UnixMilli())

	if err == nil {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(q.ctx, q.key("active"), job.ID)
		pipe.ZAdd(q.ctx, q.key("completed"), redis.Z{Score: now, Member: job.ID})
		pipe.Exec(q.ctx)
		for _, l := range q.listeners {
			l.OnCompleted(q.name, job)
		}
		return
	}

	q.rdb.HSet(q.ctx, q.jobKey(job.ID), "lastError", err.Error())
	job.LastError = err.Error()

	if job.AttemptsMade < job.Attempts {
		backoff := q.cfg.Backoff(job.AttemptsMade)
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(q.ctx, q.key("active"), job.ID)
		pipe.ZAdd(q.ctx, q.key("delayed"), redis.Z{
			Score:  float64(time.Now().Add(backoff).UnixMilli()),
			Member: job.ID,
		})
		pipe.Exec(q.ctx)
		q.logger.Warn("Job failed, scheduling retry",
			zap.String("queue", q.name),
			zap.String("job_id", job.ID),
			zap.Int("attempts_made", job.AttemptsMade),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		return
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(q.ctx, q.key("active"), job.ID)
	pipe.ZAdd(q.ctx, q.key("failed"), redis.Z{Score: now, Member: job.ID})
	pipe.Exec(q.ctx)
	q.logger.Error("Job failed permanently",
		zap.String("queue", q.name),
		zap.String("job_id", job.ID),
		zap.Int("attempts_made", job.AttemptsMade),
		zap.Error(err),
	)
	for _, l := range q.listeners {
		l.OnFailed(q.name, job, err)
	}
}

func (q *Redis) loadJob(id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(q.ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	job := &Job{
		ID:           id,
		Name:         fields["name"],
		Payload:      json.RawMessage(fields["payload"]),
		Priority:     parseIntField(fields["priority"], 3),
		Attempts:     parseIntField(fields["attempts"], q.cfg.Attempts),
		AttemptsMade: parseIntField(fields["attemptsMade"], 0),
		LastError:    fields["lastError"],
	}
	if ms := parseInt64Field(fields["enqueuedAt"], 0); ms > 0 {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	return job, nil
}

func (q *Redis) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.key("paused"), "1", 0).Err()
}

func (q *Redis) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key("paused")).Err()
}

func (q *Redis) Clean(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-grace).UnixMilli(), 10)
	removed := 0
	for _, set := range []string{"completed", "failed"} {
		ids, err := q.rdb.ZRangeByScore(ctx, q.key(set), &redis.ZRangeBy{
			Min: "-inf", Max: cutoff,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan %s set: %w", set, err)
		}
		for _, id := range ids {
			pipe := q.rdb.TxPipeline()
			pipe.ZRem(ctx, q.key(set), id)
			pipe.Del(ctx, q.jobKey(id))
			if _, err := pipe.Exec(ctx); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (q *Redis) Cancel(ctx context.Context, jobID string) (bool, error) {
	for _, set := range []string{"wait", "delayed"} {
		n, err := q.rdb.ZRem(ctx, q.key(set), jobID).Result()
		if err != nil {
			return false, err
		}
		if n > 0 {
			q.rdb.Del(ctx, q.jobKey(jobID))
			return true, nil
		}
	}
	return false, nil
}

func (q *Redis) Retry(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.ZRem(ctx, q.key("failed"), jobID).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return false, err
	}
	priority := parseIntField(q.rdb.HGet(ctx, q.jobKey(jobID), "priority").Val(), 3)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), "attemptsMade", 0, "seq", seq)
	pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: waitScore(priority, seq), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Redis) Lookup(ctx context.Context, jobID string) (*Job, string, error) {
	job, err := q.loadJob(jobID)
	if err != nil {
		return nil, "", err
	}
	for _, set := range []string{"wait", "delayed", "active", "completed", "failed"} {
		if err := q.rdb.ZScore(ctx, q.key(set), jobID).Err(); err == nil {
			state := set
			if set == "wait" {
				state = StateWaiting
			}
			return job, state, nil
		}
	}
	return job, "", nil
}

func (q *Redis) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	paused := pipe.Exists(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to collect queue stats: %w", err)
	}
	s := Stats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
		Delayed:   int(delayed.Val()),
	}
	if paused.Val() > 0 {
		s.Paused = 1
	}
	return s, nil
}

func (q *Redis) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

func parseIntField(v any, def int) int {
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Field(v any, def int64) int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseJobSeq(job *Job) int64 {
	// Sequence is only needed to restore FIFO order on requeue; enqueue time
	// in milliseconds preserves it closely enough when the field is absent.
	return job.EnqueuedAt.UnixMilli()
}

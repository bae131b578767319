package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/analytics"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	memstore "notifyhub/internal/store/memory"
)

func testConfig() queue.Config {
	return queue.Config{Attempts: 3, BackoffBase: 5 * time.Millisecond, Concurrency: 1}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type capture struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (c *capture) handler(ctx context.Context, job *queue.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func (c *capture) first() *queue.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[0]
}

type fixture struct {
	store     *memstore.Store
	router    *queue.Memory
	email     *queue.Memory
	analytics *queue.Memory
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	st := memstore.New()
	router := queue.NewMemory(queue.QueueNotification, testConfig(), logger)
	email := queue.NewMemory(queue.QueueEmail, testConfig(), logger)
	analyticsQ := queue.NewMemory(queue.QueueAnalytics, testConfig(), logger)
	emitter := analytics.NewEmitter(analyticsQ, logger)
	orch := New(st, router, map[model.Channel]queue.Queue{
		model.ChannelEmail: email,
	}, emitter, nil, logger)
	t.Cleanup(func() {
		router.Close()
		email.Close()
		analyticsQ.Close()
	})
	return &fixture{store: st, router: router, email: email, analytics: analyticsQ, orch: orch}
}

func validRequest() model.Request {
	return model.Request{
		UserID:  "u1",
		Type:    "welcome",
		Channel: model.ChannelEmail,
		Title:   "Welcome",
		Content: "Hello there",
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validRequest()
	req.UserID = ""
	_, err := f.orch.Submit(ctx, req)
	require.Error(t, err)

	req = validRequest()
	req.Channel = "CARRIER_PIGEON"
	_, err = f.orch.Submit(ctx, req)
	require.ErrorIs(t, err, model.ErrUnsupportedChannel)

	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting, "rejected requests must not enqueue")
}

func TestSubmitPersistsPendingAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	n, err := f.store.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.Equal(t, model.PriorityNormal, n.Priority)
	assert.Equal(t, model.DefaultMaxRetries, n.MaxRetries)

	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestSubmitScheduledGoesDelayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validRequest()
	at := time.Now().Add(time.Hour)
	req.ScheduledAt = &at
	_, err := f.orch.Submit(ctx, req)
	require.NoError(t, err)

	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
	assert.Zero(t, stats.Waiting)
}

func TestRouterHandsOffToChannelQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got capture
	f.router.Process(queue.JobProcessNotification, f.orch.HandleProcessNotification)
	f.email.Process(queue.JobSendEmail, got.handler)
	f.router.Start()
	f.email.Start()

	id, err := f.orch.Submit(ctx, validRequest())
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return got.count() == 1 })

	var payload dispatch.SendJob
	require.NoError(t, json.Unmarshal(got.first().Payload, &payload))
	assert.Equal(t, id, payload.Notification.ID)
	assert.Equal(t, "u1", payload.Notification.UserID)

	waitFor(t, time.Second, func() bool {
		n, err := f.store.GetNotification(ctx, id)
		return err == nil && n.Status == model.StatusSent
	})

	// The router emits one sent-class analytics job.
	waitFor(t, time.Second, func() bool {
		stats, err := f.analytics.Stats(ctx)
		return err == nil && stats.Waiting == 1
	})
}

func TestRouterUnsupportedChannelFailsPermanently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Process(queue.JobProcessNotification, f.orch.HandleProcessNotification)
	f.router.Start()

	n := model.Notification{
		ID:      "n-sms",
		UserID:  "u1",
		Type:    "alert",
		Channel: model.ChannelSMS, // no SMS queue registered in the fixture
		Title:   "t",
		Content: "c",
		Status:  model.StatusPending,
	}
	require.NoError(t, f.store.CreateNotification(ctx, &n))
	_, err := f.router.Enqueue(ctx, queue.JobProcessNotification, n, queue.Options{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		got, err := f.store.GetNotification(ctx, "n-sms")
		return err == nil && got.Status == model.StatusFailed
	})

	// Permanent failure completes the job instead of retrying it.
	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Failed)
}

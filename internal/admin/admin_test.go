package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/queue"
)

func newAdmin(t *testing.T) (*Admin, *queue.Memory, *queue.Memory) {
	t.Helper()
	cfg := queue.Config{Attempts: 3, BackoffBase: 5 * time.Millisecond, Concurrency: 1}
	email := queue.NewMemory(queue.QueueEmail, cfg, zap.NewNop())
	push := queue.NewMemory(queue.QueuePush, cfg, zap.NewNop())
	t.Cleanup(func() {
		email.Close()
		push.Close()
	})
	a := New(map[string]queue.Queue{
		queue.QueueEmail: email,
		queue.QueuePush:  push,
	}, zap.NewNop())
	return a, email, push
}

func TestUnknownQueueRejected(t *testing.T) {
	a, _, _ := newAdmin(t)
	ctx := context.Background()

	require.ErrorIs(t, a.PauseQueue(ctx, "telegraph"), ErrUnknownQueue)
	require.ErrorIs(t, a.ResumeQueue(ctx, "telegraph"), ErrUnknownQueue)
	_, err := a.CleanQueue(ctx, "telegraph", 0)
	require.ErrorIs(t, err, ErrUnknownQueue)
	_, err = a.CancelJob(ctx, "telegraph", "j1")
	require.ErrorIs(t, err, ErrUnknownQueue)
	_, err = a.RetryJob(ctx, "telegraph", "j1")
	require.ErrorIs(t, err, ErrUnknownQueue)
	_, err = a.QueueStats(ctx, "telegraph")
	require.ErrorIs(t, err, ErrUnknownQueue)
}

func TestPauseResumeAddressesOneQueue(t *testing.T) {
	a, email, push := newAdmin(t)
	ctx := context.Background()

	require.NoError(t, a.PauseQueue(ctx, queue.QueueEmail))

	_, err := email.Enqueue(ctx, queue.JobSendEmail, map[string]string{"k": "v"}, queue.Options{})
	require.NoError(t, err)
	es, err := email.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, es.Paused)

	ps, err := push.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, ps.Paused)

	require.NoError(t, a.ResumeQueue(ctx, queue.QueueEmail))
	es, err = email.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, es.Waiting)
	assert.Zero(t, es.Paused)
}

func TestCancelWaitingJob(t *testing.T) {
	a, email, _ := newAdmin(t)
	ctx := context.Background()

	id, err := email.Enqueue(ctx, queue.JobSendEmail, map[string]string{}, queue.Options{})
	require.NoError(t, err)

	ok, err := a.CancelJob(ctx, queue.QueueEmail, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second cancel finds nothing.
	ok, err = a.CancelJob(ctx, queue.QueueEmail, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetJob(t *testing.T) {
	a, email, _ := newAdmin(t)
	ctx := context.Background()

	id, err := email.Enqueue(ctx, queue.JobSendEmail, map[string]string{}, queue.Options{Delay: time.Hour})
	require.NoError(t, err)

	info, err := a.GetJob(ctx, queue.QueueEmail, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobSendEmail, info.Job.Name)
	assert.Equal(t, queue.StateDelayed, info.State)

	_, err = a.GetJob(ctx, queue.QueueEmail, "missing")
	require.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStatsAggregateAcrossQueues(t *testing.T) {
	a, email, push := newAdmin(t)
	ctx := context.Background()

	_, err := email.Enqueue(ctx, queue.JobSendEmail, map[string]string{}, queue.Options{})
	require.NoError(t, err)
	_, err = push.Enqueue(ctx, queue.JobSendPush, map[string]string{}, queue.Options{})
	require.NoError(t, err)
	_, err = push.Enqueue(ctx, queue.JobSendPush, map[string]string{}, queue.Options{Delay: time.Hour})
	require.NoError(t, err)

	ov, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.Queues[queue.QueueEmail].Waiting)
	assert.Equal(t, 1, ov.Queues[queue.QueuePush].Waiting)
	assert.Equal(t, 1, ov.Queues[queue.QueuePush].Delayed)
	assert.Equal(t, 2, ov.Total.Waiting)
	assert.Equal(t, 1, ov.Total.Delayed)
}

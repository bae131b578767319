package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{Attempts: 3, BackoffBase: 5 * time.Millisecond, Concurrency: 1}
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

type recordingListener struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (l *recordingListener) OnCompleted(queue string, job *Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, job.ID)
}

func (l *recordingListener) OnFailed(queue string, job *Job, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, job.ID)
}

func (l *recordingListener) OnStalled(queue string, job *Job) {}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed)
}

func TestMemoryPriorityOrdering(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	var mu sync.Mutex
	var order []string
	q.Process("job", func(ctx context.Context, job *Job) error {
		var payload string
		_ = json.Unmarshal(job.Payload, &payload)
		mu.Lock()
		order = append(order, payload)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "job", "low", Options{Priority: 4})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "job", "urgent", Options{Priority: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "job", "normal", Options{Priority: 3})
	require.NoError(t, err)

	q.Start()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"urgent", "normal", "low"}, order)
}

func TestMemoryFIFOAmongEqualPriority(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	var mu sync.Mutex
	var order []string
	q.Process("job", func(ctx context.Context, job *Job) error {
		var payload string
		_ = json.Unmarshal(job.Payload, &payload)
		mu.Lock()
		order = append(order, payload)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for _, name := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(ctx, "job", name, Options{})
		require.NoError(t, err)
	}

	q.Start()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMemoryRetryBound(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	listener := &recordingListener{}
	q.Subscribe(listener)

	var mu sync.Mutex
	attempts := 0
	q.Process("job", func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("transport down")
	})

	_, err := q.Enqueue(context.Background(), "job", nil, Options{})
	require.NoError(t, err)
	q.Start()

	waitFor(t, time.Second, func() bool {
		_, failed := listener.counts()
		return failed == 1
	})

	// Exactly the attempt cap, never cap+1.
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestMemoryRetrySucceedsBeforeExhaustion(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	listener := &recordingListener{}
	q.Subscribe(listener)

	var mu sync.Mutex
	attempts := 0
	q.Process("job", func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	_, err := q.Enqueue(context.Background(), "job", nil, Options{})
	require.NoError(t, err)
	q.Start()

	waitFor(t, time.Second, func() bool {
		completed, _ := listener.counts()
		return completed == 1
	})

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	_, failed := listener.counts()
	assert.Zero(t, failed)
}

func TestMemoryDelayedJob(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	done := make(chan time.Time, 1)
	q.Process("job", func(ctx context.Context, job *Job) error {
		done <- time.Now()
		return nil
	})

	start := time.Now()
	_, err := q.Enqueue(context.Background(), "job", nil, Options{Delay: 30 * time.Millisecond})
	require.NoError(t, err)
	q.Start()

	select {
	case ran := <-done:
		assert.GreaterOrEqual(t, ran.Sub(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestMemoryPauseResume(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	var mu sync.Mutex
	processed := 0
	q.Process("job", func(ctx context.Context, job *Job) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Pause(ctx))
	require.NoError(t, q.Pause(ctx)) // idempotent

	_, err := q.Enqueue(ctx, "job", nil, Options{})
	require.NoError(t, err)
	q.Start()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, processed)
	mu.Unlock()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Paused)
	assert.Equal(t, 1, stats.Waiting)

	require.NoError(t, q.Resume(ctx))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 1
	})
}

func TestMemoryCancel(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "job", nil, Options{Delay: time.Hour})
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// Already gone: idempotent false, not an error.
	ok, err = q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRetryFailedJob(t *testing.T) {
	q := NewMemory("test", Config{Attempts: 1, BackoffBase: time.Millisecond, Concurrency: 1}, zap.NewNop())
	defer q.Close()

	listener := &recordingListener{}
	q.Subscribe(listener)

	var mu sync.Mutex
	fail := true
	q.Process("job", func(ctx context.Context, job *Job) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	id, err := q.Enqueue(ctx, "job", nil, Options{})
	require.NoError(t, err)
	q.Start()

	waitFor(t, time.Second, func() bool {
		_, failed := listener.counts()
		return failed == 1
	})

	mu.Lock()
	fail = false
	mu.Unlock()

	ok, err := q.Retry(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	waitFor(t, time.Second, func() bool {
		completed, _ := listener.counts()
		return completed == 1
	})

	// Not in the failed set anymore.
	ok, err = q.Retry(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryClean(t *testing.T) {
	q := NewMemory("test", testConfig(), zap.NewNop())
	defer q.Close()

	listener := &recordingListener{}
	q.Subscribe(listener)
	q.Process("job", func(ctx context.Context, job *Job) error { return nil })

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "job", nil, Options{})
	require.NoError(t, err)
	q.Start()

	waitFor(t, time.Second, func() bool {
		completed, _ := listener.counts()
		return completed == 1
	})

	// Inside the grace window nothing matches; that is a no-op, not an error.
	removed, err := q.Clean(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = q.Clean(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Completed)
}

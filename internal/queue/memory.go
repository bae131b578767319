package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memState int

const (
	stateWaiting memState = iota
	stateDelayed
	stateActive
	stateCompleted
	stateFailed
)

type memJob struct {
	job       Job
	state     memState
	seq       uint64
	readyAt   time.Time
	settledAt time.Time
}

// Memory is the embedded broker backend. It honors the full contract:
// priority order with FIFO among equals, delayed jobs, exponential retry
// backoff, a failed set, pause/resume, clean, and stats.
type Memory struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	jobs      map[string]*memJob
	waiting   []*memJob // sorted by (priority, seq)
	delayed   []*memJob
	handlers  map[string]Handler
	listeners []Listener
	paused    bool
	closed    bool
	started   bool
	seq       uint64

	wg       sync.WaitGroup
	stopPoll chan struct{}
}

// NewMemory creates an embedded queue with the given retry policy.
func NewMemory(name string, cfg Config, logger *zap.Logger) *Memory {
	m := &Memory{
		name:     name,
		cfg:      cfg.withFallbacks(),
		logger:   logger,
		jobs:     make(map[string]*memJob),
		handlers: make(map[string]Handler),
		stopPoll: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = m.cfg.Attempts
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrQueueClosed
	}

	m.seq++
	mj := &memJob{
		job: Job{
			ID:         uuid.NewString(),
			Name:       name,
			Payload:    body,
			Priority:   normalizePriority(opts.Priority),
			Attempts:   attempts,
			EnqueuedAt: time.Now(),
		},
		seq: m.seq,
	}
	m.jobs[mj.job.ID] = mj

	if opts.Delay > 0 {
		mj.state = stateDelayed
		mj.readyAt = time.Now().Add(opts.Delay)
		m.delayed = append(m.delayed, mj)
	} else {
		m.pushWaitingLocked(mj)
	}
	m.cond.Broadcast()
	return mj.job.ID, nil
}

// pushWaitingLocked inserts mj keeping (priority, seq) order.
func (m *Memory) pushWaitingLocked(mj *memJob) {
	mj.state = stateWaiting
	i := sort.Search(len(m.waiting), func(i int) bool {
		w := m.waiting[i]
		if w.job.Priority != mj.job.Priority {
			return w.job.Priority > mj.job.Priority
		}
		return w.seq > mj.seq
	})
	m.waiting = append(m.waiting, nil)
	copy(m.waiting[i+1:], m.waiting[i:])
	m.waiting[i] = mj
}

func (m *Memory) Process(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

func (m *Memory) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Memory) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.promoteLoop()

	for i := 0; i < m.cfg.Concurrency; i++ {
		m.wg.Add(1)
		go m.workLoop()
	}
}

// promoteLoop moves due delayed jobs into the waiting set.
func (m *Memory) promoteLoop() {
	defer m.wg.Done()

	interval := m.cfg.BackoffBase / 4
	if interval > 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopPoll:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			kept := m.delayed[:0]
			promoted := false
			for _, mj := range m.delayed {
				if !mj.readyAt.After(now) {
					m.pushWaitingLocked(mj)
					promoted = true
				} else {
					kept = append(kept, mj)
				}
			}
			m.delayed = kept
			if promoted {
				m.cond.Broadcast()
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) workLoop() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		var mj *memJob
		var h Handler
		for {
			if m.closed {
				m.mu.Unlock()
				return
			}
			if !m.paused {
				mj, h = m.claimLocked()
				if mj != nil {
					break
				}
			}
			m.cond.Wait()
		}
		mj.state = stateActive
		mj.job.AttemptsMade++
		job := mj.job
		m.mu.Unlock()

		err := m.runHandler(h, &job)
		m.settle(mj, &job, err)
	}
}

// claimLocked pops the first waiting job that has a registered handler.
func (m *Memory) claimLocked() (*memJob, Handler) {
	for i, mj := range m.waiting {
		if h, ok := m.handlers[mj.job.Name]; ok {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return mj, h
		}
	}
	return nil, nil
}

func (m *Memory) runHandler(h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			m.logger.Error("Handler panic recovered",
				zap.String("queue", m.name),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
			)
		}
	}()
	return h(context.Background(), job)
}

func (m *Memory) settle(mj *memJob, job *Job, err error) {
	m.mu.Lock()
	mj.job.AttemptsMade = job.AttemptsMade

	if err == nil {
		mj.state = stateCompleted
		mj.settledAt = time.Now()
		listeners := m.listeners
		jobCopy := mj.job
		m.mu.Unlock()
		for _, l := range listeners {
			l.OnCompleted(m.name, &jobCopy)
		}
		return
	}

	mj.job.LastError = err.Error()
	if mj.job.AttemptsMade < mj.job.Attempts {
		backoff := m.cfg.Backoff(mj.job.AttemptsMade)
		mj.state = stateDelayed
		mj.readyAt = time.Now().Add(backoff)
		m.delayed = append(m.delayed, mj)
		m.logger.Warn("Job failed, scheduling retry",
			zap.String("queue", m.name),
			zap.String("job_id", mj.job.ID),
			zap.Int("attempts_made", mj.job.AttemptsMade),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		m.mu.Unlock()
		return
	}

	mj.state = stateFailed
	mj.settledAt = time.Now()
	listeners := m.listeners
	jobCopy := mj.job
	m.logger.Error("Job failed permanently",
		zap.String("queue", m.name),
		zap.String("job_id", mj.job.ID),
		zap.Int("attempts_made", mj.job.AttemptsMade),
		zap.Error(err),
	)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnFailed(m.name, &jobCopy, err)
	}
}

func (m *Memory) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

func (m *Memory) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.cond.Broadcast()
	return nil
}

func (m *Memory) Clean(ctx context.Context, grace time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-grace)
	removed := 0
	for id, mj := range m.jobs {
		if (mj.state == stateCompleted || mj.state == stateFailed) && mj.settledAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Cancel(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	switch mj.state {
	case stateWaiting:
		for i, w := range m.waiting {
			if w == mj {
				m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
				break
			}
		}
	case stateDelayed:
		for i, d := range m.delayed {
			if d == mj {
				m.delayed = append(m.delayed[:i], m.delayed[i+1:]...)
				break
			}
		}
	default:
		// Active jobs are not preemptible; settled jobs are gone already.
		return false, nil
	}
	delete(m.jobs, jobID)
	return true, nil
}

func (m *Memory) Retry(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[jobID]
	if !ok || mj.state != stateFailed {
		return false, nil
	}
	mj.job.AttemptsMade = 0
	m.seq++
	mj.seq = m.seq
	m.pushWaitingLocked(mj)
	m.cond.Broadcast()
	return true, nil
}

func (m *Memory) Lookup(ctx context.Context, jobID string) (*Job, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[jobID]
	if !ok {
		return nil, "", ErrJobNotFound
	}
	job := mj.job
	return &job, stateName(mj.state), nil
}

func stateName(s memState) string {
	switch s {
	case stateWaiting:
		return StateWaiting
	case stateDelayed:
		return StateDelayed
	case stateActive:
		return StateActive
	case stateCompleted:
		return StateCompleted
	default:
		return StateFailed
	}
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, mj := range m.jobs {
		switch mj.state {
		case stateWaiting:
			s.Waiting++
		case stateDelayed:
			s.Delayed++
		case stateActive:
			s.Active++
		case stateCompleted:
			s.Completed++
		case stateFailed:
			s.Failed++
		}
	}
	if m.paused {
		s.Paused = 1
	}
	return s, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.cond.Broadcast()
	m.mu.Unlock()

	if started {
		close(m.stopPoll)
	}
	m.wg.Wait()
	return nil
}

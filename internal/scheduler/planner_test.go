package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	memstore "notifyhub/internal/store/memory"
)

type enqueued struct {
	name    string
	payload model.ScheduledRequest
	opts    queue.Options
}

// fakeQueue records enqueues; the planner never touches the rest of the
// broker contract in these tests.
type fakeQueue struct {
	queue.Queue
	calls []enqueued
}

func (f *fakeQueue) Enqueue(ctx context.Context, name string, payload any, opts queue.Options) (string, error) {
	f.calls = append(f.calls, enqueued{
		name:    name,
		payload: payload.(model.ScheduledRequest),
		opts:    opts,
	})
	return "job-1", nil
}

type fakeSubmitter struct {
	requests []model.Request
}

func (f *fakeSubmitter) Submit(ctx context.Context, req model.Request) (string, error) {
	f.requests = append(f.requests, req)
	return "n-1", nil
}

func newPlanner(t *testing.T) (*Planner, *fakeQueue, *fakeSubmitter, *memstore.Store) {
	t.Helper()
	q := &fakeQueue{}
	sub := &fakeSubmitter{}
	st := memstore.New()
	return New(q, sub, st, zap.NewNop()), q, sub, st
}

func scheduledJob(t *testing.T, req model.ScheduledRequest) *queue.Job {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Name: queue.JobProcessScheduled, Payload: body}
}

func TestScheduleDelaysUntilScheduledAt(t *testing.T) {
	p, q, _, _ := newPlanner(t)

	at := time.Now().Add(time.Hour)
	_, err := p.Schedule(context.Background(), model.ScheduledRequest{
		UserID:      "u1",
		Type:        "reminder",
		Channel:     model.ChannelEmail,
		ScheduledAt: at,
	})
	require.NoError(t, err)

	require.Len(t, q.calls, 1)
	assert.Equal(t, queue.JobProcessScheduled, q.calls[0].name)
	assert.InDelta(t, time.Hour, q.calls[0].opts.Delay, float64(time.Second))
}

func TestScheduleValidation(t *testing.T) {
	p, q, _, _ := newPlanner(t)
	ctx := context.Background()

	_, err := p.Schedule(ctx, model.ScheduledRequest{Type: "x", Channel: model.ChannelEmail})
	require.Error(t, err)

	_, err = p.Schedule(ctx, model.ScheduledRequest{UserID: "u1", Type: "x", Channel: "FAX"})
	require.ErrorIs(t, err, model.ErrUnsupportedChannel)

	_, err = p.Schedule(ctx, model.ScheduledRequest{
		UserID: "u1", Type: "x", Channel: model.ChannelEmail, IsRecurring: true,
	})
	require.Error(t, err, "recurring without a pattern is rejected")

	assert.Empty(t, q.calls)
}

func TestFireUsesTemplateWithDefaultsFallback(t *testing.T) {
	p, _, sub, st := newPlanner(t)
	ctx := context.Background()

	st.PutTemplate(model.Template{ID: "tpl-1", Title: "Weekly digest", Content: "Your digest is ready"})

	req := model.ScheduledRequest{
		UserID:      "u1",
		Type:        "digest",
		Channel:     model.ChannelEmail,
		TemplateID:  "tpl-1",
		ScheduledAt: time.Now(),
	}
	require.NoError(t, p.HandleProcessScheduled(ctx, scheduledJob(t, req)))

	require.Len(t, sub.requests, 1)
	assert.Equal(t, "Weekly digest", sub.requests[0].Title)
	assert.Equal(t, "Your digest is ready", sub.requests[0].Content)

	// Unknown template falls back rather than failing the occurrence.
	req.TemplateID = "missing"
	require.NoError(t, p.HandleProcessScheduled(ctx, scheduledJob(t, req)))
	require.Len(t, sub.requests, 2)
	assert.Equal(t, defaultTitle, sub.requests[1].Title)
	assert.Equal(t, defaultContent, sub.requests[1].Content)
}

func TestRecurringChainStopsAtEndDate(t *testing.T) {
	p, q, sub, _ := newPlanner(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)
	req := model.ScheduledRequest{
		UserID:      "u1",
		Type:        "standup",
		Channel:     model.ChannelInApp,
		ScheduledAt: start,
		IsRecurring: true,
		RecurrencePattern: &model.RecurrencePattern{
			Frequency: model.FrequencyWeekly,
			Interval:  1,
			EndDate:   &end,
		},
	}

	// First occurrence fires and re-enqueues start+7d.
	require.NoError(t, p.HandleProcessScheduled(ctx, scheduledJob(t, req)))
	require.Len(t, q.calls, 1)
	assert.Equal(t, start.AddDate(0, 0, 7), q.calls[0].payload.ScheduledAt)

	// Second occurrence fires; start+14d is past the end date, chain stops.
	require.NoError(t, p.HandleProcessScheduled(ctx, scheduledJob(t, q.calls[0].payload)))
	assert.Len(t, q.calls, 1)
	assert.Len(t, sub.requests, 2)
}

func TestNonRecurringFiresOnce(t *testing.T) {
	p, q, sub, _ := newPlanner(t)

	req := model.ScheduledRequest{
		UserID:      "u1",
		Type:        "reminder",
		Channel:     model.ChannelPush,
		ScheduledAt: time.Now(),
	}
	require.NoError(t, p.HandleProcessScheduled(context.Background(), scheduledJob(t, req)))
	assert.Len(t, sub.requests, 1)
	assert.Empty(t, q.calls)
}

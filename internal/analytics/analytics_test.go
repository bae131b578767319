package analytics

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

func trackingJob(t *testing.T, ev model.DeliveryEvent) *queue.Job {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Name: queue.JobTrackDelivery, Payload: body}
}

func TestTrackerRecordsDeliveredEvent(t *testing.T) {
	st := memstore.New()
	tr := NewTracker(st, zap.NewNop())
	ctx := context.Background()

	err := tr.HandleTrackDelivery(ctx, trackingJob(t, model.DeliveryEvent{
		NotificationID: "n1",
		Event:          "delivered",
		Channel:        model.ChannelPush,
		Successful:     2,
		Failed:         1,
	}))
	require.NoError(t, err)

	rows, err := st.ListDeliveryTracking(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DeliveryDelivered, rows[0].Status)
	assert.Equal(t, 2, rows[0].Successful)
	assert.Equal(t, 1, rows[0].Failed)
	assert.NotNil(t, rows[0].DeliveredAt)
}

func TestTrackerEventStatusMapping(t *testing.T) {
	st := memstore.New()
	tr := NewTracker(st, zap.NewNop())
	ctx := context.Background()

	for _, ev := range []string{"sent", "failed", "bounced"} {
		require.NoError(t, tr.HandleTrackDelivery(ctx, trackingJob(t, model.DeliveryEvent{
			NotificationID: "n1",
			Event:          ev,
			Channel:        model.ChannelEmail,
		})))
	}

	rows, err := st.ListDeliveryTracking(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, model.DeliverySent, rows[0].Status)
	assert.Equal(t, model.DeliveryFailed, rows[1].Status)
	assert.Equal(t, model.DeliveryFailed, rows[2].Status)
	for _, r := range rows {
		assert.Nil(t, r.DeliveredAt)
	}
}

func TestEmitterSwallowsEnqueueFailure(t *testing.T) {
	q := queue.NewMemory(queue.QueueAnalytics, queue.Config{Attempts: 1, BackoffBase: time.Millisecond, Concurrency: 1}, zap.NewNop())
	require.NoError(t, q.Close())

	e := NewEmitter(q, zap.NewNop())
	// The queue is closed; Track must not panic or surface the error.
	e.Track(context.Background(), model.DeliveryEvent{NotificationID: "n1", Event: "sent"})
}

// Package dispatch turns queued channel jobs into send attempts. All four
// channels run the same shape: preference gate, target resolution, send,
// status update, analytics event. Only the gate field and the sender differ,
// so one dispatcher switches on the channel enum instead of keeping four
// copies of the loop.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/analytics"
	"notifyhub/internal/model"
	"notifyhub/internal/queue"
	"notifyhub/internal/sender"
	"notifyhub/internal/store"
	"notifyhub/pkg/metrics"
)

// SendJob is the payload of every send-<channel> job.
type SendJob struct {
	Notification model.Notification `json:"notification"`
	JobID        string             `json:"jobId"`
}

// Result reports what one dispatch attempt did. Skip results are successes:
// a disabled channel or missing target completes the job without touching
// the notification status.
type Result struct {
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
	Successful int    `json:"successful,omitempty"`
	Failed     int    `json:"failed,omitempty"`
}

// Dispatcher executes channel sends. One instance serves all channels.
type Dispatcher struct {
	store   store.Store
	senders sender.Senders
	emitter *analytics.Emitter
	logger  *zap.Logger
}

func New(s store.Store, senders sender.Senders, emitter *analytics.Emitter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: s, senders: senders, emitter: emitter, logger: logger}
}

// Handler returns the queue handler for one channel.
func (d *Dispatcher) Handler(channel model.Channel) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload SendJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal send job: %w", err)
		}
		_, err := d.Dispatch(ctx, channel, &payload.Notification, job.AttemptsMade)
		return err
	}
}

// Dispatch runs one attempt for one channel. An error return goes back to
// the broker for retry with backoff; skip results return nil. Attempts are
// idempotent from the store's perspective, so redelivery of the same job is
// safe.
func (d *Dispatcher) Dispatch(ctx context.Context, channel model.Channel, n *model.Notification, attemptsMade int) (Result, error) {
	start := time.Now()
	log := d.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("channel", string(channel)),
	)
	log.Info("Dispatching notification")

	prefs, err := d.store.GetPreferences(ctx, n.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	// No preference row means the channel was never opted in.
	if prefs == nil || !prefs.Enabled(channel) {
		log.Info("Channel disabled for user, skipping")
		metrics.RecordDelivery(string(channel), "skipped")
		return Result{Skipped: true, Reason: disabledReason(channel)}, nil
	}

	res, err := d.send(ctx, channel, n)
	metrics.RecordDispatch(string(channel), time.Since(start))
	if err != nil {
		retryCount := attemptsMade - 1
		if retryCount < 0 {
			retryCount = 0
		}
		d.updateStatus(ctx, n.ID, store.NotificationUpdate{
			Status:       statusPtr(model.StatusFailed),
			ErrorMessage: strPtr(err.Error()),
			RetryCount:   &retryCount,
		})
		metrics.RecordDelivery(string(channel), "failed")
		log.Error("Dispatch failed", zap.Error(err))
		// Propagate so the broker applies its retry/backoff policy.
		return Result{Failed: res.Failed}, err
	}

	if res.Skipped {
		log.Info("No delivery target, skipping", zap.String("reason", res.Reason))
		metrics.RecordDelivery(string(channel), "skipped")
		return res, nil
	}

	now := time.Now()
	d.updateStatus(ctx, n.ID, store.NotificationUpdate{
		Status: statusPtr(model.StatusDelivered),
		SentAt: &now,
	})
	metrics.RecordDelivery(string(channel), "delivered")
	d.emitter.Track(ctx, model.DeliveryEvent{
		NotificationID: n.ID,
		Event:          "delivered",
		Channel:        channel,
		ProviderID:     res.ProviderID,
		Successful:     res.Successful,
		Failed:         res.Failed,
	})
	log.Info("Notification delivered", zap.String("provider_id", res.ProviderID))
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, channel model.Channel, n *model.Notification) (Result, error) {
	switch channel {
	case model.ChannelEmail:
		return d.sendEmail(ctx, n)
	case model.ChannelPush:
		return d.sendPush(ctx, n)
	case model.ChannelSMS:
		return d.sendSMS(ctx, n)
	case model.ChannelInApp:
		return d.sendInApp(ctx, n)
	default:
		return Result{}, fmt.Errorf("%w: %q", model.ErrUnsupportedChannel, channel)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n *model.Notification) (Result, error) {
	user, err := d.store.GetUser(ctx, n.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load user %s: %w", n.UserID, err)
	}
	if user.Email == "" {
		return Result{Skipped: true, Reason: "no_target"}, nil
	}

	res, err := d.senders.Email.SendEmail(ctx, sender.EmailMessage{
		To:      user.Email,
		Subject: n.Title,
		HTML:    n.Content,
		Data:    n.Data,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderID: res.ProviderID, Successful: 1}, nil
}

// sendPush fans out to every active subscription concurrently and tolerates
// partial failure: one successful endpoint is a delivery.
func (d *Dispatcher) sendPush(ctx context.Context, n *model.Notification) (Result, error) {
	subs, err := d.store.GetActiveSubscriptions(ctx, n.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Result{Skipped: true, Reason: "no_target"}, nil
	}

	msg := sender.PushMessage{Title: n.Title, Body: n.Content, Data: n.Data}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successful int
		failed     int
		lastErr    error
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub model.PushSubscription) {
			defer wg.Done()
			_, err := d.senders.Push.SendPush(ctx, sub, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				return
			}
			successful++
		}(sub)
	}
	wg.Wait()

	if successful == 0 {
		return Result{Failed: failed}, fmt.Errorf("all %d push sends failed: %w", failed, lastErr)
	}
	return Result{Successful: successful, Failed: failed}, nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, n *model.Notification) (Result, error) {
	user, err := d.store.GetUser(ctx, n.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load user %s: %w", n.UserID, err)
	}
	if user.PhoneNumber == "" {
		return Result{Skipped: true, Reason: "no_target"}, nil
	}

	res, err := d.senders.SMS.SendSMS(ctx, sender.SMSMessage{
		To:      user.PhoneNumber,
		Message: fmt.Sprintf("%s: %s", n.Title, n.Content),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderID: res.ProviderID, Successful: 1}, nil
}

func (d *Dispatcher) sendInApp(ctx context.Context, n *model.Notification) (Result, error) {
	res, err := d.senders.InApp.SendInApp(ctx, sender.InAppMessage{
		UserID:  n.UserID,
		Title:   n.Title,
		Content: n.Content,
		Data:    n.Data,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderID: res.ProviderID, Successful: 1}, nil
}

// updateStatus is best-effort bookkeeping around the send; a store hiccup
// here must not mask the send outcome, so it only logs.
func (d *Dispatcher) updateStatus(ctx context.Context, id string, upd store.NotificationUpdate) {
	if err := d.store.UpdateNotification(ctx, id, upd); err != nil {
		d.logger.Error("Failed to update notification status",
			zap.String("notification_id", id),
			zap.Error(err),
		)
	}
}

func disabledReason(c model.Channel) string {
	return strings.ToLower(string(c)) + "_disabled"
}

func statusPtr(s model.Status) *model.Status { return &s }
func strPtr(s string) *string                { return &s }

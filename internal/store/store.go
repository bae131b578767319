// Package store defines the persistence collaborators the pipeline writes
// through. The postgres backend serves production; the memory backend serves
// tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"notifyhub/internal/model"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("not found")

// NotificationUpdate is a partial update applied to one notification row.
// Nil fields are left untouched; writes are last-write-wins, only one attempt
// per job is in flight under the broker's claim.
type NotificationUpdate struct {
	Status       *model.Status
	ErrorMessage *string
	SentAt       *time.Time
	RetryCount   *int
}

// NotificationStore persists Notification aggregates.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	UpdateNotification(ctx context.Context, id string, upd NotificationUpdate) error
}

// TrackingStore appends delivery audit rows.
type TrackingStore interface {
	CreateDeliveryTracking(ctx context.Context, t *model.DeliveryTracking) error
	ListDeliveryTracking(ctx context.Context, notificationID string) ([]model.DeliveryTracking, error)
}

// PreferenceGate looks up per-user channel opt-in flags.
type PreferenceGate interface {
	GetPreferences(ctx context.Context, userID string) (*model.Preferences, error)
}

// UserStore resolves delivery targets from the user read model.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// SubscriptionStore lists a user's active push subscriptions.
type SubscriptionStore interface {
	GetActiveSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// TemplateStore resolves notification templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
}

// Store bundles every persistence collaborator the pipeline needs.
type Store interface {
	NotificationStore
	TrackingStore
	PreferenceGate
	UserStore
	SubscriptionStore
	TemplateStore
}

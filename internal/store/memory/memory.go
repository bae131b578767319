// Package memory is the in-process store backend used by tests and
// single-node runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyhub/internal/model"
	"notifyhub/internal/store"
)

// Store keeps every entity in mutex-guarded maps. Values are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	notifications map[string]model.Notification
	tracking      map[string][]model.DeliveryTracking
	preferences   map[string]model.Preferences
	users         map[string]model.User
	subscriptions map[string][]model.PushSubscription
	templates     map[string]model.Template
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		notifications: make(map[string]model.Notification),
		tracking:      make(map[string][]model.DeliveryTracking),
		preferences:   make(map[string]model.Preferences),
		users:         make(map[string]model.User),
		subscriptions: make(map[string][]model.PushSubscription),
		templates:     make(map[string]model.Template),
	}
}

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = *n
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *Store) UpdateNotification(ctx context.Context, id string, upd store.NotificationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		n.Status = *upd.Status
	}
	if upd.ErrorMessage != nil {
		n.ErrorMessage = *upd.ErrorMessage
	}
	if upd.SentAt != nil {
		n.SentAt = upd.SentAt
	}
	if upd.RetryCount != nil {
		n.RetryCount = *upd.RetryCount
	}
	n.UpdatedAt = time.Now()
	s.notifications[id] = n
	return nil
}

func (s *Store) CreateDeliveryTracking(ctx context.Context, t *model.DeliveryTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tracking[t.NotificationID] = append(s.tracking[t.NotificationID], *t)
	return nil
}

func (s *Store) ListDeliveryTracking(ctx context.Context, notificationID string) ([]model.DeliveryTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tracking[notificationID]
	out := make([]model.DeliveryTracking, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

// PutPreferences seeds preference flags; used by tests and local fixtures.
func (s *Store) PutPreferences(p model.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[p.UserID] = p
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

// PutUser seeds a user read model row.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) GetActiveSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PushSubscription
	for _, sub := range s.subscriptions[userID] {
		if sub.IsActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

// PutSubscription seeds a push subscription.
func (s *Store) PutSubscription(sub model.PushSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.subscriptions[sub.UserID] = append(s.subscriptions[sub.UserID], sub)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

// PutTemplate seeds a template.
func (s *Store) PutTemplate(t model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

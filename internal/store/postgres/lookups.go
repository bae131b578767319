package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"notifyhub/internal/model"
	"notifyhub/internal/store"
)

// The preference, user, subscription and template tables are owned by the
// surrounding CRUD services; the pipeline only reads them.

func (s *Store) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	query := `
        SELECT user_id, email_enabled, push_enabled, sms_enabled, in_app_enabled
        FROM notification_preferences
        WHERE user_id = $1
    `
	var p model.Preferences
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.EmailEnabled, &p.PushEnabled, &p.SMSEnabled, &p.InAppEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &p, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, COALESCE(email, ''), COALESCE(phone_number, '') FROM users WHERE id = $1`
	var u model.User
	err := s.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.PhoneNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetActiveSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	query := `
        SELECT id, user_id, endpoint, p256dh, auth, COALESCE(user_agent, ''), is_active, created_at
        FROM push_subscriptions
        WHERE user_id = $1 AND is_active = TRUE
    `
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256DH, &sub.Auth,
			&sub.UserAgent, &sub.IsActive, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan push subscription row: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	query := `
        SELECT id, name, type, channel, title, content
        FROM notification_templates
        WHERE id = $1 AND is_active = TRUE
    `
	var t model.Template
	err := s.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Type, &t.Channel, &t.Title, &t.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

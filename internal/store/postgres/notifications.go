package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/store"
)

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	query := `
        INSERT INTO notifications (
            id, user_id, type, channel, title, content, data, template_id,
            status, priority, retry_count, max_retries, error_message,
            metadata, scheduled_at, sent_at, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
    `
	_, err = s.db.Exec(ctx, query,
		n.ID, n.UserID, n.Type, n.Channel, n.Title, n.Content, data, nullable(n.TemplateID),
		n.Status, n.Priority, n.RetryCount, n.MaxRetries, nullable(n.ErrorMessage),
		metadata, n.ScheduledAt, n.SentAt, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert notification",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	query := `
        SELECT id, user_id, type, channel, title, content, data, template_id,
               status, priority, retry_count, max_retries, error_message,
               metadata, scheduled_at, sent_at, created_at, updated_at
        FROM notifications
        WHERE id = $1
    `
	var (
		n                    model.Notification
		data, metadata       []byte
		templateID, errorMsg *string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&n.ID, &n.UserID, &n.Type, &n.Channel, &n.Title, &n.Content, &data, &templateID,
		&n.Status, &n.Priority, &n.RetryCount, &n.MaxRetries, &errorMsg,
		&metadata, &n.ScheduledAt, &n.SentAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	if templateID != nil {
		n.TemplateID = *templateID
	}
	if errorMsg != nil {
		n.ErrorMessage = *errorMsg
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification metadata: %w", err)
		}
	}
	return &n, nil
}

// UpdateNotification applies a partial update. Single-row upsert semantics,
// last write wins; the broker guarantees one in-flight attempt per job.
func (s *Store) UpdateNotification(ctx context.Context, id string, upd store.NotificationUpdate) error {
	query := `
        UPDATE notifications SET
            status        = COALESCE($2, status),
            error_message = COALESCE($3, error_message),
            sent_at       = COALESCE($4, sent_at),
            retry_count   = COALESCE($5, retry_count),
            updated_at    = NOW()
        WHERE id = $1
    `
	tag, err := s.db.Exec(ctx, query, id, upd.Status, upd.ErrorMessage, upd.SentAt, upd.RetryCount)
	if err != nil {
		s.logger.Error("Failed to update notification",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

func (s *Store) CreateDeliveryTracking(ctx context.Context, t *model.DeliveryTracking) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
        INSERT INTO delivery_tracking (
            id, notification_id, channel, status, provider_id,
            successful, failed, delivered_at, retry_count, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := s.db.Exec(ctx, query,
		t.ID, t.NotificationID, t.Channel, t.Status, nullable(t.ProviderID),
		t.Successful, t.Failed, t.DeliveredAt, t.RetryCount, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert delivery tracking",
			zap.String("notification_id", t.NotificationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert delivery tracking: %w", err)
	}
	return nil
}

func (s *Store) ListDeliveryTracking(ctx context.Context, notificationID string) ([]model.DeliveryTracking, error) {
	query := `
        SELECT id, notification_id, channel, status, provider_id,
               successful, failed, delivered_at, retry_count, created_at, updated_at
        FROM delivery_tracking
        WHERE notification_id = $1
        ORDER BY created_at
    `
	rows, err := s.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery tracking: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryTracking
	for rows.Next() {
		var (
			t          model.DeliveryTracking
			providerID *string
		)
		if err := rows.Scan(
			&t.ID, &t.NotificationID, &t.Channel, &t.Status, &providerID,
			&t.Successful, &t.Failed, &t.DeliveredAt, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery tracking row: %w", err)
		}
		if providerID != nil {
			t.ProviderID = *providerID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InAppRedis pushes in-app notifications to the user's live sessions over a
// redis pub/sub channel. The notification row itself is the durable copy;
// this delivers the real-time nudge to connected clients.
type InAppRedis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewInAppRedis(rdb *redis.Client, logger *zap.Logger) *InAppRedis {
	return &InAppRedis{rdb: rdb, logger: logger}
}

func sessionChannel(userID string) string {
	return "inapp:" + userID
}

func (s *InAppRedis) SendInApp(ctx context.Context, msg InAppMessage) (Result, error) {
	body, err := json.Marshal(map[string]any{
		"userId":  msg.UserID,
		"title":   msg.Title,
		"content": msg.Content,
		"data":    msg.Data,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal in-app payload: %w", err)
	}

	receivers, err := s.rdb.Publish(ctx, sessionChannel(msg.UserID), body).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	s.logger.Debug("In-app notification published",
		zap.String("user_id", msg.UserID),
		zap.Int64("receivers", receivers),
	)
	return Result{}, nil
}

package model

import "time"

// DeliveryStatus is a channel-level outcome recorded for one attempt.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryTracking is one row of the append-only delivery audit log. A
// notification accumulates many rows across retries; rows are owned by the
// notification but stored independently for audit.
type DeliveryTracking struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notificationId"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	ProviderID     string         `json:"providerId,omitempty"`
	Successful     int            `json:"successful,omitempty"`
	Failed         int            `json:"failed,omitempty"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	RetryCount     int            `json:"retryCount"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DeliveryEvent is the payload of a track-delivery analytics job.
type DeliveryEvent struct {
	NotificationID string  `json:"notificationId"`
	Event          string  `json:"event"`
	Channel        Channel `json:"channel,omitempty"`
	ProviderID     string  `json:"providerId,omitempty"`
	Successful     int     `json:"successful,omitempty"`
	Failed         int     `json:"failed,omitempty"`
}

package model

import (
	"errors"
	"fmt"
	"time"
)

// Channel is a notification delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

// Channels lists every supported delivery channel.
var Channels = []Channel{ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification. Transitions follow
// PENDING -> PROCESSING -> SENT -> DELIVERED, with FAILED reachable from
// PROCESSING and SENT. DELIVERED and exhausted FAILED are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
)

// Priority orders jobs within a queue. Lower weight dequeues first.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Weight maps a priority to its numeric dequeue order. Unknown or empty
// priorities fall back to NORMAL.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// DefaultMaxRetries is the attempt cap applied when a request does not set one.
const DefaultMaxRetries = 3

// Notification is the unit of delivery and the aggregate root for
// DeliveryTracking rows.
type Notification struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Type         string            `json:"type"`
	Channel      Channel           `json:"channel"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Data         map[string]any    `json:"data,omitempty"`
	TemplateID   string            `json:"templateId,omitempty"`
	Status       Status            `json:"status"`
	Priority     Priority          `json:"priority"`
	RetryCount   int               `json:"retryCount"`
	MaxRetries   int               `json:"maxRetries"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduledAt,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Request is a submission to the pipeline.
type Request struct {
	UserID      string            `json:"userId"`
	Type        string            `json:"type"`
	Channel     Channel           `json:"channel"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Data        map[string]any    `json:"data,omitempty"`
	TemplateID  string            `json:"templateId,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrUnsupportedChannel marks a permanent submission failure. Requests
// carrying it are rejected synchronously and never enqueued.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// Validate checks the required request fields. A violation is a permanent
// failure, never retried.
func (r Request) Validate() error {
	if r.UserID == "" {
		return errors.New("userId is required")
	}
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.Title == "" {
		return errors.New("title is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, r.Channel)
	}
	return nil
}

// Package sender holds the transport capabilities the dispatchers invoke.
// The pipeline treats these as opaque: a send either returns a provider
// reference or an error that the broker will retry.
package sender

import (
	"context"

	"notifyhub/internal/model"
)

// Result carries the provider's reference for a successful send.
type Result struct {
	ProviderID string
}

// EmailMessage is one outbound email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Data    map[string]any
}

// PushMessage is one outbound push payload, fanned out per subscription.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]any
}

// SMSMessage is one outbound text message.
type SMSMessage struct {
	To      string
	Message string
}

// InAppMessage is one in-app notification delivered to live sessions.
type InAppMessage struct {
	UserID  string
	Title   string
	Content string
	Data    map[string]any
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (Result, error)
}

type PushSender interface {
	SendPush(ctx context.Context, sub model.PushSubscription, msg PushMessage) (Result, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (Result, error)
}

type InAppSender interface {
	SendInApp(ctx context.Context, msg InAppMessage) (Result, error)
}

// Senders bundles one capability per channel.
type Senders struct {
	Email EmailSender
	Push  PushSender
	SMS   SMSSender
	InApp InAppSender
}

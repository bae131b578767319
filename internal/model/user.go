package model

import "time"

// User carries the contact data the dispatchers resolve delivery targets
// from. The user CRUD service owns the full record; this is the read model.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Preferences holds per-user channel opt-in flags.
type Preferences struct {
	UserID       string `json:"userId"`
	EmailEnabled bool   `json:"emailEnabled"`
	PushEnabled  bool   `json:"pushEnabled"`
	SMSEnabled   bool   `json:"smsEnabled"`
	InAppEnabled bool   `json:"inAppEnabled"`
}

// Enabled returns the opt-in flag for the given channel.
func (p Preferences) Enabled(c Channel) bool {
	switch c {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelPush:
		return p.PushEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelInApp:
		return p.InAppEnabled
	}
	return false
}

// PushSubscription is one registered push endpoint for a user.
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	P256DH    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"userAgent,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Template provides default title and content for scheduled notifications.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
}

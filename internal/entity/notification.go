package entity

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// ChannelOrder is the fixed attempt order for notification fan-out.
var ChannelOrder = []Channel{ChannelEmail, ChannelPush, ChannelSMS, ChannelChat}

type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityInfo, PriorityWarning, PriorityCritical, PriorityUrgent:
		return true
	}
	return false
}

// Immediate reports whether the priority bypasses digest batching.
func (p Priority) Immediate() bool {
	return p == PriorityCritical || p == PriorityUrgent
}

// NotificationPayload is the transient intent handed to the orchestrator.
// It is never persisted as an entity; log rows are written per channel
// attempt instead.
type NotificationPayload struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Type           string         `json:"type"`
	Priority       Priority       `json:"priority"`
	Category       string         `json:"category"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	ActionURL      string         `json:"action_url,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ChannelResult is the normalized outcome a channel adapter reports back.
// The orchestrator never sees provider wire protocols, only this shape.
type ChannelResult struct {
	Success     bool       `json:"success"`
	MessageID   string     `json:"message_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Cost        float64    `json:"cost,omitempty"`
}

type ChannelFailure struct {
	Channel Channel `json:"channel"`
	Error   string  `json:"error"`
}

// SendResult is the contract returned by SendNotification. Success holds
// when at least one attempted channel went through, or when the call was a
// legitimate no-op (duplicate, opted out, batched).
type SendResult struct {
	Success              bool             `json:"success"`
	NotificationID       uuid.UUID        `json:"notification_id"`
	ChannelsUsed         []Channel        `json:"channels_used"`
	Failures             []ChannelFailure `json:"failures,omitempty"`
	DeduplicationApplied bool             `json:"deduplication_applied"`
	BatchedWith          int              `json:"batched_with,omitempty"`
}

// NotificationDelivery is one log row per channel attempt.
type NotificationDelivery struct {
	ID             uuid.UUID  `json:"id"`
	NotificationID uuid.UUID  `json:"notification_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Type           string     `json:"type"`
	Category       string     `json:"category"`
	Priority       Priority   `json:"priority"`
	Channel        Channel    `json:"channel"`
	Success        bool       `json:"success"`
	MessageID      string     `json:"message_id,omitempty"`
	Error          string     `json:"error,omitempty"`
	Cost           float64    `json:"cost,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

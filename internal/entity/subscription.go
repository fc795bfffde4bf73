package entity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// WebhookSubscription is an organization-owned endpoint registration.
// The secret is generated once at registration and never re-derived.
// Subscriptions are soft-deleted so the delivery audit trail stays intact.
type WebhookSubscription struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Events         []string   `json:"events"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func (s *WebhookSubscription) SubscribedTo(eventType string) bool {
	return slices.Contains(s.Events, eventType)
}

func (s *WebhookSubscription) Deliverable() bool {
	return s.Active && s.DeletedAt == nil
}

// SubscriptionPatch carries the mutable registration fields; nil means
// "leave unchanged".
type SubscriptionPatch struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed:
		return true
	}
	return false
}

func (s DeliveryStatus) String() string {
	return string(s)
}

// DeliveryAttempt is one delivery row per subscriber per event. The payload
// is a snapshot taken at queue time; the envelope is built at send time.
type DeliveryAttempt struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	LastResponse   string          `json:"last_response,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Transition is the only place a delivery status may change. Legal moves:
// pending->success, pending->pending (retry), pending->failed (dead-letter).
// Terminal states never move again and attempt_count never decreases.
func (d *DeliveryAttempt) Transition(to DeliveryStatus) error {
	if d.Status != DeliveryPending {
		return fmt.Errorf("from %s to %s: %w", d.Status, to, ErrInvalidTransition)
	}
	if !to.IsValid() {
		return fmt.Errorf("to %q: %w", to, ErrInvalidTransition)
	}
	d.Status = to
	return nil
}

func (d *DeliveryAttempt) Exhausted(maxRetries int) bool {
	return d.AttemptCount >= maxRetries
}

// DueDelivery joins a pending attempt with its subscription for one
// processing pass.
type DueDelivery struct {
	Attempt      DeliveryAttempt
	Subscription WebhookSubscription
}

// WebhookResult captures one outbound POST; StatusCode is zero on
// transport errors and Err covers timeouts and connection failures.
type WebhookResult struct {
	StatusCode int
	Body       string
	Duration   time.Duration
	Err        error
}

func (r WebhookResult) Delivered() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// WebhookEnvelope is the canonical wire body signed and POSTed to the
// subscriber.
type WebhookEnvelope struct {
	Event          string          `json:"event"`
	Timestamp      time.Time       `json:"timestamp"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Data           json.RawMessage `json:"data"`
}

// nolint: revive,staticcheck
// swagger:meta
package httpt

import (
	"time"
)

// swagger:model RegisterWebhookRequest
type RegisterWebhookRequest struct {
	OrganizationID string   `json:"organization_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	URL            string   `json:"url"             example:"https://hooks.example.com/compliance"`
	Events         []string `json:"events"          example:"employee.created,training.expired"`
}

// swagger:model RegisterWebhookResponse
type RegisterWebhookResponse struct {
	ID             string    `json:"id"              example:"550e8400-e29b-41d4-a716-446655440001"`
	OrganizationID string    `json:"organization_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	URL            string    `json:"url"             example:"https://hooks.example.com/compliance"`
	Events         []string  `json:"events"          example:"employee.created"`
	Secret         string    `json:"secret"          example:"4f6b..."`
	Active         bool      `json:"active"          example:"true"`
	CreatedAt      time.Time `json:"created_at"      example:"2024-03-01T10:00:00Z"`
}

// swagger:model UpdateWebhookRequest
type UpdateWebhookRequest struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// swagger:model EmitEventRequest
type EmitEventRequest struct {
	OrganizationID string         `json:"organization_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Event          string         `json:"event"           example:"employee.created"`
	Data           map[string]any `json:"data"`
	Notify         *NotifyRequest `json:"notify,omitempty"`
}

// swagger:model NotifyRequest
type NotifyRequest struct {
	OrganizationID string         `json:"organization_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	UserID         string         `json:"user_id"         example:"550e8400-e29b-41d4-a716-446655440002"`
	Type           string         `json:"type"            example:"training.expired"`
	Priority       string         `json:"priority"        example:"warning"`
	Category       string         `json:"category"        example:"compliance"`
	Message        string         `json:"message"         example:"Forklift certification expires in 14 days"`
	Data           map[string]any `json:"data,omitempty"`
	ActionURL      string         `json:"action_url,omitempty" example:"https://app.example.com/trainings/42"`
}

// swagger:model ErrorResponse
type ErrorResponse struct {
	Error   string `json:"error"             example:"subscription not found"`
	Code    string `json:"code,omitempty"    example:"not_found"`
	Details string `json:"details,omitempty"`
}

// swagger:model TaskStatsResponse
type TaskStatsResponse struct {
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Duration  string `json:"duration"`
}

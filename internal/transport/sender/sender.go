// Package sender holds the channel adapters. Each adapter transmits one
// resolved message over its medium and reports the normalized result; the
// orchestrator never sees provider wire protocols.
package sender

import (
	"context"
	"time"

	"eventdelivery/internal/entity"
)

// ChannelAdapter is the integration contract for one delivery medium.
// contact is the channel-specific address (email address, phone number,
// chat id, or the user id for in-app push).
type ChannelAdapter interface {
	Send(ctx context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult
}

func successResult(messageID string, cost float64) entity.ChannelResult {
	now := time.Now().UTC()
	return entity.ChannelResult{
		Success:     true,
		MessageID:   messageID,
		DeliveredAt: &now,
		Cost:        cost,
	}
}

func failureResult(err error) entity.ChannelResult {
	return entity.ChannelResult{Success: false, Error: err.Error()}
}

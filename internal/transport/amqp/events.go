// Package amqp bridges the surrounding application's domain events into the
// delivery subsystem: one published event feeds the webhook fan-out and,
// when a target user is named, the notification orchestrator in parallel.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	"eventdelivery/internal/entity"
	"eventdelivery/internal/service"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/rabbitmq"
)

// DomainEvent is the broker message emitted by domain-event producers.
type DomainEvent struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	Notify         *NotifyIntent   `json:"notify,omitempty"`
}

// NotifyIntent is the optional human-notification side of a domain event.
type NotifyIntent struct {
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Priority  entity.Priority `json:"priority"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	Data      map[string]any  `json:"data,omitempty"`
	ActionURL string          `json:"action_url,omitempty"`
}

// EventPublisher pushes domain events onto the exchange; used by the
// event-emit endpoint and available to in-process producers.
type EventPublisher struct {
	publisher *rabbitmq.Publisher
	log       logger.Logger
}

func NewEventPublisher(publisher *rabbitmq.Publisher, log logger.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, log: log}
}

func (p *EventPublisher) Publish(ctx context.Context, event DomainEvent) error {
	const op = "amqp.EventPublisher.Publish"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	if err := p.publisher.Publish(ctx, payload, event.Event); err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}

	p.log.LogAttrs(ctx, logger.DebugLevel, "domain event published",
		logger.String("op", op),
		logger.String("event", event.Event),
		logger.String("organization_id", event.OrganizationID.String()),
	)
	return nil
}

// EventConsumer feeds consumed events into both pipelines.
type EventConsumer struct {
	dispatcher   *service.Dispatcher
	orchestrator *service.Orchestrator
	log          logger.Logger
}

func NewEventConsumer(dispatcher *service.Dispatcher, orchestrator *service.Orchestrator, log logger.Logger) *EventConsumer {
	return &EventConsumer{
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		log:          log,
	}
}

// Handler returns the message handler for the RabbitMQ worker. A returned
// error leaves the message for redelivery; per-subscriber and per-channel
// failures are absorbed by the services and do not bounce the event.
func (c *EventConsumer) Handler() rabbitmq.MessageHandler {
	return func(ctx context.Context, msg amqp091.Delivery) error {
		const op = "amqp.EventConsumer.Handler"

		log := c.log.Ctx(ctx)

		var event DomainEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "unmarshal failed",
				logger.String("op", op),
				logger.Any("error", err),
			)
			return fmt.Errorf("%s: unmarshal: %w", op, err)
		}

		queued, err := c.dispatcher.QueueWebhook(ctx, event.OrganizationID, event.Event, event.Data)
		if err != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "webhook fan-out failed",
				logger.String("op", op),
				logger.String("event", event.Event),
				logger.Any("error", err),
			)
			return err
		}

		if event.Notify != nil {
			result, sendErr := c.orchestrator.SendNotification(ctx, entity.NotificationPayload{
				OrganizationID: event.OrganizationID,
				UserID:         event.Notify.UserID,
				Type:           event.Notify.Type,
				Priority:       event.Notify.Priority,
				Category:       event.Notify.Category,
				Message:        event.Notify.Message,
				Data:           event.Notify.Data,
				ActionURL:      event.Notify.ActionURL,
			})
			if sendErr != nil {
				log.LogAttrs(ctx, logger.ErrorLevel, "notification pipeline failed",
					logger.String("op", op),
					logger.String("event", event.Event),
					logger.Any("error", sendErr),
				)
				return sendErr
			}
			log.LogAttrs(ctx, logger.InfoLevel, "domain event processed",
				logger.String("op", op),
				logger.String("event", event.Event),
				logger.Int("webhooks_queued", queued),
				logger.Int("channels_used", len(result.ChannelsUsed)),
				logger.Any("deduplicated", result.DeduplicationApplied),
			)
			return nil
		}

		log.LogAttrs(ctx, logger.InfoLevel, "domain event processed",
			logger.String("op", op),
			logger.String("event", event.Event),
			logger.Int("webhooks_queued", queued),
		)
		return nil
	}
}

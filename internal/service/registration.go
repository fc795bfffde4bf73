package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/pkg/signature"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
)

// Register creates a subscription with a freshly generated 256-bit secret.
// The returned record is the only time the secret leaves the system.
func (d *Dispatcher) Register(ctx context.Context, orgID uuid.UUID, url string, events []string) (*entity.WebhookSubscription, error) {
	const op = "service.Dispatcher.Register"

	log := d.log.Ctx(ctx)

	if url == "" || len(events) == 0 {
		return nil, fmt.Errorf("%s: url and events are required: %w", op, entity.ErrInvalidData)
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := d.subs.Create(ctx, nil, entity.WebhookSubscription{
		OrganizationID: orgID,
		URL:            url,
		Secret:         secret,
		Events:         events,
		Active:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "webhook subscription registered",
		logger.String("op", op),
		logger.String("id", created.ID.String()),
		logger.String("organization_id", orgID.String()),
		logger.String("url", url),
	)
	return created, nil
}

func (d *Dispatcher) GetSubscription(ctx context.Context, id uuid.UUID) (*entity.WebhookSubscription, error) {
	const op = "service.Dispatcher.GetSubscription"

	sub, err := d.subs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (d *Dispatcher) UpdateSubscription(ctx context.Context, id uuid.UUID, patch entity.SubscriptionPatch) error {
	const op = "service.Dispatcher.UpdateSubscription"

	if patch.URL == nil && patch.Events == nil && patch.Active == nil {
		return fmt.Errorf("%s: empty patch: %w", op, entity.ErrInvalidData)
	}
	if err := d.subs.Update(ctx, nil, id, patch); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	d.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "webhook subscription updated",
		logger.String("op", op),
		logger.String("id", id.String()),
	)
	return nil
}

// DeactivateSubscription soft-deletes; the delivery audit trail survives.
func (d *Dispatcher) DeactivateSubscription(ctx context.Context, id uuid.UUID) error {
	const op = "service.Dispatcher.DeactivateSubscription"

	if err := d.subs.SoftDelete(ctx, nil, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	d.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "webhook subscription deactivated",
		logger.String("op", op),
		logger.String("id", id.String()),
	)
	return nil
}

// SendTest queues a synthetic event for one subscription through the
// normal pipeline; it is delivered, signed and retried like any other.
func (d *Dispatcher) SendTest(ctx context.Context, id uuid.UUID) (*entity.DeliveryAttempt, error) {
	const op = "service.Dispatcher.SendTest"

	sub, err := d.subs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !sub.Deliverable() {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrSubscriptionInactive)
	}

	payload, err := json.Marshal(map[string]any{
		"test":      true,
		"queued_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	attempt, err := d.deliveries.Create(ctx, nil, entity.DeliveryAttempt{
		SubscriptionID: sub.ID,
		OrganizationID: sub.OrganizationID,
		EventType:      "webhook.test",
		Payload:        payload,
		Status:         entity.DeliveryPending,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "test delivery queued",
		logger.String("op", op),
		logger.String("subscription_id", id.String()),
		logger.String("delivery_id", attempt.ID.String()),
	)
	return attempt, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/pkg/metric"
	"eventdelivery/pkg/signature"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"
	"golang.org/x/sync/errgroup"
)

const (
	_defaultBatchSize   = 100
	_maxBatchSize       = 500
	_defaultMaxRetries  = 3
	_defaultBaseBackoff = 1 * time.Second
	_defaultMaxBackoff  = 8 * time.Second
	_defaultWorkers     = 4
)

type (
	// SubscriptionRepository persists webhook endpoint registrations.
	SubscriptionRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, sub entity.WebhookSubscription) (*entity.WebhookSubscription, error)
		GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) (*entity.WebhookSubscription, error)
		ListDeliverable(ctx context.Context, qe pgxdriver.QueryExecuter, orgID uuid.UUID, eventType string) ([]entity.WebhookSubscription, error)
		Update(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, patch entity.SubscriptionPatch) error
		SoftDelete(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) error
	}

	// DeliveryRepository persists one row per delivery attempt per
	// subscriber.
	DeliveryRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, attempt entity.DeliveryAttempt) (*entity.DeliveryAttempt, error)
		GetDue(ctx context.Context, qe pgxdriver.QueryExecuter, limit uint64, maxRetries int) ([]entity.DueDelivery, error)
		MarkSuccess(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, body string) error
		MarkFailedAttempt(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, lastErr string, terminal bool) error
		FailTerminal(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, reason string) error
		FailExhausted(ctx context.Context, qe pgxdriver.QueryExecuter, maxRetries int) (int64, error)
	}

	// WebhookSender performs one signed HTTP delivery.
	WebhookSender interface {
		Deliver(ctx context.Context, sub entity.WebhookSubscription, attempt entity.DeliveryAttempt) entity.WebhookResult
	}

	// Dispatcher runs the webhook pipeline: fan-out on queue, polled batch
	// delivery with backoff, dead-letter escalation, and endpoint
	// registration.
	Dispatcher struct {
		subs       SubscriptionRepository
		deliveries DeliveryRepository
		tm         transaction.Manager
		sender     WebhookSender
		metrics    *metric.Delivery
		log        logger.Logger

		batchSize   uint64
		maxRetries  int
		baseBackoff time.Duration
		maxBackoff  time.Duration
		workers     int
	}

	// DispatchStats reports one processQueue pass for observability.
	DispatchStats struct {
		Processed int
		Succeeded int
		Failed    int
		Duration  time.Duration
	}
)

func NewDispatcher(
	subs SubscriptionRepository,
	deliveries DeliveryRepository,
	tm transaction.Manager,
	sender WebhookSender,
	metrics *metric.Delivery,
	log logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		subs:        subs,
		deliveries:  deliveries,
		tm:          tm,
		sender:      sender,
		metrics:     metrics,
		log:         log,
		batchSize:   _defaultBatchSize,
		maxRetries:  _defaultMaxRetries,
		baseBackoff: _defaultBaseBackoff,
		maxBackoff:  _defaultMaxBackoff,
		workers:     _defaultWorkers,
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QueueWebhook fans an event out to every matching active subscription:
// one pending delivery row each. Zero matches is a no-op, not an error.
func (d *Dispatcher) QueueWebhook(ctx context.Context, orgID uuid.UUID, eventType string, payload json.RawMessage) (int, error) {
	const op = "service.Dispatcher.QueueWebhook"

	log := d.log.Ctx(ctx)

	matched, err := d.subs.ListDeliverable(ctx, nil, orgID, eventType)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(matched) == 0 {
		log.LogAttrs(ctx, logger.DebugLevel, "no matching subscriptions",
			logger.String("op", op),
			logger.String("organization_id", orgID.String()),
			logger.String("event_type", eventType),
		)
		return 0, nil
	}

	queued := 0
	err = d.tm.ExecuteInTransaction(ctx, "queue_webhook", func(tx pgxdriver.QueryExecuter) error {
		for _, sub := range matched {
			attempt := entity.DeliveryAttempt{
				SubscriptionID: sub.ID,
				OrganizationID: orgID,
				EventType:      eventType,
				Payload:        payload,
				Status:         entity.DeliveryPending,
			}
			if _, createErr := d.deliveries.Create(ctx, tx, attempt); createErr != nil {
				return transaction.HandleError("queue_webhook", "create_attempt", createErr)
			}
			queued++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "webhook deliveries queued",
		logger.String("op", op),
		logger.String("organization_id", orgID.String()),
		logger.String("event_type", eventType),
		logger.Int("queued", queued),
	)
	return queued, nil
}

// ProcessQueue delivers one batch of due rows. Rows are grouped by
// subscription and each group runs in its own goroutine under a worker
// limit, so no two goroutines ever advance the same row and ordering holds
// loosely per subscription. Invoked by the external scheduler; not
// self-scheduling.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (*DispatchStats, error) {
	const op = "service.Dispatcher.ProcessQueue"

	log := d.log.Ctx(ctx)
	startTime := time.Now()
	stats := &DispatchStats{}

	due, err := d.deliveries.GetDue(ctx, nil, d.batchSize, d.maxRetries)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", op, err)
	}
	if len(due) == 0 {
		log.LogAttrs(ctx, logger.DebugLevel, "no deliveries to process",
			logger.String("op", op),
		)
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	log.LogAttrs(ctx, logger.InfoLevel, "processing delivery batch",
		logger.String("op", op),
		logger.Int("count", len(due)),
	)

	bySubscription := make(map[uuid.UUID][]entity.DueDelivery)
	for _, row := range due {
		bySubscription[row.Subscription.ID] = append(bySubscription[row.Subscription.ID], row)
	}

	results := make(chan bool, len(due))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.workers)

	for _, rows := range bySubscription {
		eg.Go(func() error {
			for _, row := range rows {
				ok, processErr := d.processOne(egCtx, row)
				if processErr != nil {
					// Store-level failure: leave the row pending for the
					// next pass rather than losing it.
					log.LogAttrs(egCtx, logger.ErrorLevel, "delivery row left pending",
						logger.String("op", op),
						logger.String("delivery_id", row.Attempt.ID.String()),
						logger.Any("error", processErr),
					)
					continue
				}
				results <- ok
			}
			return nil
		})
	}

	err = eg.Wait()
	close(results)
	for ok := range results {
		stats.Processed++
		if ok {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	stats.Duration = time.Since(startTime)

	if err != nil {
		return stats, fmt.Errorf("%s: %w", op, err)
	}

	log.LogAttrs(ctx, logger.InfoLevel, "delivery batch completed",
		logger.String("op", op),
		logger.Int("processed", stats.Processed),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// processOne advances a single row through the status machine. The bool
// reports delivery success; a non-nil error means the row was not advanced.
func (d *Dispatcher) processOne(ctx context.Context, row entity.DueDelivery) (bool, error) {
	const op = "service.Dispatcher.processOne"

	attempt, sub := row.Attempt, row.Subscription

	// Dead registration: terminal failure without a network call.
	if !sub.Deliverable() {
		if err := d.deliveries.FailTerminal(ctx, nil, attempt.ID, "subscription no longer active"); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		d.metrics.WebhookDeliveries.WithLabelValues("dead_subscription").Inc()
		return false, nil
	}

	// Retries wait out the backoff before hitting the endpoint again. The
	// sleep is ctx-aware so shutdown does not hang on it.
	if attempt.AttemptCount > 0 {
		if err := sleepCtx(ctx, d.backoff(attempt.AttemptCount)); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	result := d.sender.Deliver(ctx, sub, attempt)
	d.metrics.WebhookLatency.Observe(result.Duration.Seconds())

	if result.Delivered() {
		if err := attempt.Transition(entity.DeliverySuccess); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if err := d.deliveries.MarkSuccess(ctx, nil, attempt.ID, result.StatusCode, result.Body); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		d.metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		return true, nil
	}

	reason := deliveryFailureReason(result)
	terminal := attempt.AttemptCount+1 >= d.maxRetries

	next := entity.DeliveryPending
	if terminal {
		next = entity.DeliveryFailed
	}
	if err := attempt.Transition(next); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := d.deliveries.MarkFailedAttempt(ctx, nil, attempt.ID, result.StatusCode, reason, terminal); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if terminal {
		d.log.LogAttrs(ctx, logger.WarnLevel, "delivery dead-lettered",
			logger.String("op", op),
			logger.String("delivery_id", attempt.ID.String()),
			logger.String("url", sub.URL),
			logger.Int("attempts", attempt.AttemptCount+1),
			logger.String("reason", reason),
		)
		d.metrics.WebhookDeliveries.WithLabelValues("dead_letter").Inc()
	} else {
		d.metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
	}
	return false, nil
}

// SweepDeadLetters escalates any pending row that already spent its retry
// budget; the safety net when a crash lands between attempt increment and
// status write.
func (d *Dispatcher) SweepDeadLetters(ctx context.Context) (int64, error) {
	const op = "service.Dispatcher.SweepDeadLetters"

	swept, err := d.deliveries.FailExhausted(ctx, nil, d.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if swept > 0 {
		d.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "exhausted deliveries dead-lettered",
			logger.String("op", op),
			logger.Int64("count", swept),
		)
	}
	return swept, nil
}

// backoff returns the pre-attempt delay for the given prior attempt count:
// base, doubled per attempt, capped.
func (d *Dispatcher) backoff(attemptCount int) time.Duration {
	delay := d.baseBackoff
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	if delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}

func deliveryFailureReason(result entity.WebhookResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return fmt.Sprintf("unexpected status %d: %s", result.StatusCode, truncate(result.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerifySignature is the test oracle for inbound callback validation; it
// recomputes the HMAC and compares in constant time.
func VerifySignature(payload []byte, sig, secret string) bool {
	return signature.Verify(payload, sig, secret)
}

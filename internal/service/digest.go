package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
)

type digestKey struct {
	orgID  uuid.UUID
	userID uuid.UUID
}

// DigestBatch accumulates suppressed notifications for one user until the
// scheduled flush time.
type DigestBatch struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Payloads       []entity.NotificationPayload
	FlushAt        time.Time
}

// DigestBuffer is the process-local batch map. Cross-instance deployments
// must move this behind the durable store; see DESIGN.md.
type DigestBuffer struct {
	mu      sync.Mutex
	batches map[digestKey]*DigestBatch
}

func NewDigestBuffer() *DigestBuffer {
	return &DigestBuffer{batches: make(map[digestKey]*DigestBatch)}
}

// Add appends a payload to the user's batch, creating it with the given
// flush time when absent, and reports the batch size after the append.
func (b *DigestBuffer) Add(payload entity.NotificationPayload, flushAt time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := digestKey{orgID: payload.OrganizationID, userID: payload.UserID}
	batch, ok := b.batches[key]
	if !ok {
		batch = &DigestBatch{
			OrganizationID: payload.OrganizationID,
			UserID:         payload.UserID,
			FlushAt:        flushAt,
		}
		b.batches[key] = batch
	}
	batch.Payloads = append(batch.Payloads, payload)
	return len(batch.Payloads)
}

// TakeDue removes and returns every batch whose flush time has passed.
func (b *DigestBuffer) TakeDue(now time.Time) []*DigestBatch {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []*DigestBatch
	for key, batch := range b.batches {
		if !batch.FlushAt.After(now) {
			due = append(due, batch)
			delete(b.batches, key)
		}
	}
	return due
}

func (b *DigestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// DigestStats reports one flush pass.
type DigestStats struct {
	Flushed  int
	Dropped  int
	Duration time.Duration
}

// FlushDigests delivers every due batch as a single consolidated message
// per user and clears it. Meant to be invoked by the external scheduler.
func (o *Orchestrator) FlushDigests(ctx context.Context) (*DigestStats, error) {
	const op = "service.Orchestrator.FlushDigests"

	log := o.log.Ctx(ctx)
	startTime := time.Now()
	stats := &DigestStats{}

	due := o.digests.TakeDue(o.now())
	if len(due) == 0 {
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	log.LogAttrs(ctx, logger.InfoLevel, "flushing digest batches",
		logger.String("op", op),
		logger.Int("count", len(due)),
	)

	for _, batch := range due {
		if err := o.deliverDigest(ctx, batch); err != nil {
			log.LogAttrs(ctx, logger.WarnLevel, "digest batch dropped",
				logger.String("op", op),
				logger.String("user_id", batch.UserID.String()),
				logger.Int("payloads", len(batch.Payloads)),
				logger.Any("error", err),
			)
			stats.Dropped++
			continue
		}
		o.metrics.DigestFlushes.Inc()
		stats.Flushed++
	}

	stats.Duration = time.Since(startTime)
	log.LogAttrs(ctx, logger.InfoLevel, "digest flush completed",
		logger.String("op", op),
		logger.Int("flushed", stats.Flushed),
		logger.Int("dropped", stats.Dropped),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (o *Orchestrator) deliverDigest(ctx context.Context, batch *DigestBatch) error {
	const op = "service.Orchestrator.deliverDigest"

	prefs, err := o.resolvePreferences(ctx, batch.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !prefs.Enabled {
		// User opted out between batching and flush; drop quietly.
		return nil
	}

	channel, setting, ok := o.digestChannel(prefs)
	if !ok {
		return fmt.Errorf("%s: %w", op, entity.ErrNoUsableChannel)
	}

	consolidated := consolidateDigest(batch)
	notificationID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}

	result := o.sendChannel(ctx, channel, setting, consolidated)
	o.logDelivery(ctx, notificationID, consolidated, channel, result)
	if !result.Success {
		return fmt.Errorf("%s: %s delivery failed: %s", op, channel, result.Error)
	}
	return nil
}

// digestChannel prefers email for consolidated messages, falling back to
// the first usable channel in fixed order.
func (o *Orchestrator) digestChannel(prefs *entity.UserNotificationPreferences) (entity.Channel, entity.ChannelSetting, bool) {
	for _, ch := range entity.ChannelOrder {
		setting := prefs.Channels[ch]
		if setting.Usable(ch) {
			if _, registered := o.adapters[ch]; registered {
				return ch, setting, true
			}
		}
	}
	return "", entity.ChannelSetting{}, false
}

func consolidateDigest(batch *DigestBatch) entity.NotificationPayload {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d pending notifications:\n", len(batch.Payloads))
	for i, p := range batch.Payloads {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, p.Category, p.Message)
	}

	first := batch.Payloads[0]
	return entity.NotificationPayload{
		OrganizationID: batch.OrganizationID,
		UserID:         batch.UserID,
		Type:           "digest",
		Priority:       entity.PriorityInfo,
		Category:       first.Category,
		Message:        sb.String(),
		Data:           map[string]any{"batched": len(batch.Payloads)},
	}
}

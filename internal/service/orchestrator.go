package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/pkg/metric"
	"eventdelivery/pkg/signature"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"
)

const _defaultChannelTimeout = 10 * time.Second

type (
	// PreferenceRepository persists per-user notification settings.
	PreferenceRepository interface {
		Get(ctx context.Context, qe pgxdriver.QueryExecuter, userID uuid.UUID) (*entity.UserNotificationPreferences, error)
		Upsert(ctx context.Context, qe pgxdriver.QueryExecuter, prefs *entity.UserNotificationPreferences) error
	}

	// NotificationLogRepository appends one row per channel attempt.
	NotificationLogRepository interface {
		Create(ctx context.Context, qe pgxdriver.QueryExecuter, row entity.NotificationDelivery) error
	}

	// ChannelAdapter transmits one message over one medium and reports the
	// normalized result.
	ChannelAdapter interface {
		Send(ctx context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult
	}

	// Orchestrator runs the human-notification pipeline: dedup, preference
	// resolution, digest batching, quiet hours and independent per-channel
	// fan-out.
	Orchestrator struct {
		prefs    PreferenceRepository
		logRepo  NotificationLogRepository
		dedup    DeduplicationStore
		digests  *DigestBuffer
		adapters map[entity.Channel]ChannelAdapter
		metrics  *metric.Delivery
		log      logger.Logger

		channelTimeout time.Duration
		now            func() time.Time
	}
)

func NewOrchestrator(
	prefs PreferenceRepository,
	logRepo NotificationLogRepository,
	dedup DeduplicationStore,
	adapters map[entity.Channel]ChannelAdapter,
	metrics *metric.Delivery,
	log logger.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		prefs:          prefs,
		logRepo:        logRepo,
		dedup:          dedup,
		digests:        NewDigestBuffer(),
		adapters:       adapters,
		metrics:        metrics,
		log:            log,
		channelTimeout: _defaultChannelTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendNotification routes one notification intent. The call never throws
// per-channel failures at the caller; they come back enumerated in the
// result, and a no-op (duplicate, opted out, batched) is a success.
func (o *Orchestrator) SendNotification(ctx context.Context, payload entity.NotificationPayload) (*entity.SendResult, error) {
	const op = "service.Orchestrator.SendNotification"

	log := o.log.Ctx(ctx)

	if err := validatePayload(payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := dedupHash(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// 1. Duplicate inside the window: suppress, report the original id.
	// A store failure degrades to "no duplicate" so delivery keeps going.
	entry, lookupErr := o.dedup.Lookup(ctx, hash)
	if lookupErr != nil {
		log.LogAttrs(ctx, logger.WarnLevel, "dedup lookup failed, proceeding without suppression",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
			logger.Any("error", lookupErr),
		)
	}
	if entry != nil {
		o.metrics.DedupHits.Inc()
		log.LogAttrs(ctx, logger.InfoLevel, "duplicate notification suppressed",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
			logger.String("type", payload.Type),
		)
		return &entity.SendResult{
			Success:              true,
			NotificationID:       entry.NotificationID,
			DeduplicationApplied: true,
		}, nil
	}

	notificationID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}

	// 2. Preferences, defaulting on first contact.
	prefs, err := o.resolvePreferences(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !prefs.Enabled {
		log.LogAttrs(ctx, logger.DebugLevel, "user opted out",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
		)
		return &entity.SendResult{Success: true, NotificationID: notificationID}, nil
	}

	priority := prefs.EffectivePriority(payload.Category, payload.Priority)

	// 3. Digest batching for everything below critical.
	if prefs.Digest.Enabled && !priority.Immediate() {
		batched := o.digests.Add(payload, prefs.Digest.NextFlush(o.now()))
		log.LogAttrs(ctx, logger.DebugLevel, "notification batched into digest",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
			logger.Int("batch_size", batched),
		)
		return &entity.SendResult{
			Success:        true,
			NotificationID: notificationID,
			BatchedWith:    batched,
		}, nil
	}

	// 4. Channel determination plus contact-info filtering.
	channels := o.usableChannels(prefs, payload.Category, priority)

	// 5. Quiet hours.
	channels, batched, redirected := o.applyQuietHours(prefs, priority, channels, payload)
	if redirected {
		log.LogAttrs(ctx, logger.DebugLevel, "notification deferred by quiet hours",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
			logger.Int("batch_size", batched),
		)
		return &entity.SendResult{Success: true, NotificationID: notificationID, BatchedWith: batched}, nil
	}

	if len(channels) == 0 {
		// Nothing usable is a configuration skip, not a failure.
		log.LogAttrs(ctx, logger.DebugLevel, "no usable channels",
			logger.String("op", op),
			logger.String("user_id", payload.UserID.String()),
		)
		return &entity.SendResult{Success: true, NotificationID: notificationID}, nil
	}

	// 6. Independent per-channel fan-out in fixed order.
	result := o.fanOut(ctx, notificationID, prefs, payload, priority, channels)

	// 7. Register the dedup entry with the channels actually used.
	if rememberErr := o.dedup.Remember(ctx, hash, DedupEntry{
		NotificationID: notificationID,
		Channels:       result.ChannelsUsed,
	}); rememberErr != nil {
		log.LogAttrs(ctx, logger.WarnLevel, "dedup registration failed",
			logger.String("op", op),
			logger.Any("error", rememberErr),
		)
	}

	return result, nil
}

func validatePayload(p entity.NotificationPayload) error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required: %w", entity.ErrInvalidData)
	}
	if p.Type == "" {
		return fmt.Errorf("type is required: %w", entity.ErrInvalidData)
	}
	if p.Message == "" {
		return fmt.Errorf("message is required: %w", entity.ErrInvalidData)
	}
	if !p.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q: %w", p.Priority, entity.ErrInvalidData)
	}
	return nil
}

// dedupHash covers (user, type, category, data); message wording changes
// alone do not defeat suppression of a semantically identical notification.
func dedupHash(p entity.NotificationPayload) (string, error) {
	canonical, err := json.Marshal(struct {
		UserID   uuid.UUID      `json:"user_id"`
		Type     string         `json:"type"`
		Category string         `json:"category"`
		Data     map[string]any `json:"data"`
	}{p.UserID, p.Type, p.Category, p.Data})
	if err != nil {
		return "", fmt.Errorf("marshal dedup key: %w", err)
	}
	return signature.Hash(canonical), nil
}

func (o *Orchestrator) resolvePreferences(ctx context.Context, userID uuid.UUID) (*entity.UserNotificationPreferences, error) {
	prefs, err := o.prefs.Get(ctx, nil, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, entity.ErrDataNotFound) {
		return nil, err
	}

	// First notification for this user: create the documented defaults.
	prefs = entity.DefaultPreferences(userID)
	if upsertErr := o.prefs.Upsert(ctx, nil, prefs); upsertErr != nil {
		o.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "default preferences not persisted",
			logger.String("user_id", userID.String()),
			logger.Any("error", upsertErr),
		)
	}
	return prefs, nil
}

// usableChannels resolves the target list and drops channels lacking
// contact info or a registered adapter.
func (o *Orchestrator) usableChannels(prefs *entity.UserNotificationPreferences, category string, priority entity.Priority) []entity.Channel {
	var usable []entity.Channel
	for _, ch := range prefs.ChannelsFor(category, priority) {
		setting := prefs.Channels[ch]
		if !setting.Usable(ch) {
			continue
		}
		if _, registered := o.adapters[ch]; !registered {
			continue
		}
		usable = append(usable, ch)
	}
	return usable
}

// applyQuietHours reduces the channel list during the quiet window. Urgent
// notifications bypass the window when the user allows it; everything else
// drops to email, and when email is unavailable the payload is redirected
// into the digest batch instead (redirected=true).
func (o *Orchestrator) applyQuietHours(prefs *entity.UserNotificationPreferences, priority entity.Priority, channels []entity.Channel, payload entity.NotificationPayload) ([]entity.Channel, int, bool) {
	if len(channels) == 0 || !prefs.Quiet.Contains(o.now()) {
		return channels, 0, false
	}
	if priority == entity.PriorityUrgent && prefs.Quiet.AllowUrgent {
		return channels, 0, false
	}

	for _, ch := range channels {
		if ch == entity.ChannelEmail {
			return []entity.Channel{entity.ChannelEmail}, 0, false
		}
	}
	if priority != entity.PriorityUrgent {
		batched := o.digests.Add(payload, prefs.Digest.NextFlush(o.now()))
		return nil, batched, true
	}
	return nil, 0, false
}

// fanOut attempts every selected channel in fixed order; one channel's
// failure never blocks the next.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	notificationID uuid.UUID,
	prefs *entity.UserNotificationPreferences,
	payload entity.NotificationPayload,
	priority entity.Priority,
	channels []entity.Channel,
) *entity.SendResult {
	const op = "service.Orchestrator.fanOut"

	log := o.log.Ctx(ctx)
	result := &entity.SendResult{NotificationID: notificationID}

	selected := make(map[entity.Channel]struct{}, len(channels))
	for _, ch := range channels {
		selected[ch] = struct{}{}
	}

	attempted := 0
	for _, ch := range entity.ChannelOrder {
		if _, ok := selected[ch]; !ok {
			continue
		}
		attempted++

		channelResult := o.sendChannel(ctx, ch, prefs.Channels[ch], payload)
		o.logDelivery(ctx, notificationID, payload, ch, channelResult)

		if channelResult.Success {
			o.metrics.ChannelSends.WithLabelValues(string(ch), "success").Inc()
			result.ChannelsUsed = append(result.ChannelsUsed, ch)
			continue
		}

		o.metrics.ChannelSends.WithLabelValues(string(ch), "failure").Inc()
		result.Failures = append(result.Failures, entity.ChannelFailure{
			Channel: ch,
			Error:   channelResult.Error,
		})

		// A failed primary channel on a critical notification is an
		// escalation signal for ops tooling; the system surfaces the gap
		// rather than inventing a new channel.
		if priority.Immediate() && attempted == 1 {
			log.LogAttrs(ctx, logger.ErrorLevel, "primary channel failed for critical notification",
				logger.String("op", op),
				logger.String("notification_id", notificationID.String()),
				logger.String("user_id", payload.UserID.String()),
				logger.String("channel", string(ch)),
				logger.String("error", channelResult.Error),
			)
		}
	}

	result.Success = len(result.ChannelsUsed) > 0 || attempted == 0
	return result
}

// sendChannel invokes one adapter under the channel timeout. Push targets
// the user id; every other channel uses the configured contact address.
func (o *Orchestrator) sendChannel(ctx context.Context, ch entity.Channel, setting entity.ChannelSetting, payload entity.NotificationPayload) entity.ChannelResult {
	adapter, ok := o.adapters[ch]
	if !ok {
		return entity.ChannelResult{Success: false, Error: "no adapter registered"}
	}

	contact := setting.Address
	if ch == entity.ChannelPush {
		contact = payload.UserID.String()
	}

	ctx, cancel := context.WithTimeout(ctx, o.channelTimeout)
	defer cancel()

	return adapter.Send(ctx, contact, payload)
}

func (o *Orchestrator) logDelivery(ctx context.Context, notificationID uuid.UUID, payload entity.NotificationPayload, ch entity.Channel, res entity.ChannelResult) {
	row := entity.NotificationDelivery{
		NotificationID: notificationID,
		OrganizationID: payload.OrganizationID,
		UserID:         payload.UserID,
		Type:           payload.Type,
		Category:       payload.Category,
		Priority:       payload.Priority,
		Channel:        ch,
		Success:        res.Success,
		MessageID:      res.MessageID,
		Error:          res.Error,
		Cost:           res.Cost,
		DeliveredAt:    res.DeliveredAt,
	}
	if err := o.logRepo.Create(ctx, nil, row); err != nil {
		// The log row is for operator visibility; its loss must not turn a
		// delivered notification into an error.
		o.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "notification log write failed",
			logger.String("notification_id", notificationID.String()),
			logger.String("channel", string(ch)),
			logger.Any("error", err),
		)
	}
}

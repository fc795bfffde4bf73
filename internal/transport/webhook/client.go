// Package webhook implements the signed outbound HTTP delivery used by the
// dispatcher.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/pkg/signature"

	"github.com/wb-go/wbf/logger"
)

const (
	_userAgent      = "eventdelivery-webhook/1.0"
	_defaultTimeout = 10 * time.Second
	_defaultBodyCap = 512
)

type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	bodyCap    int64
	log        logger.Logger
}

func NewClient(timeout time.Duration, bodyCap int64, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = _defaultTimeout
	}
	if bodyCap <= 0 {
		bodyCap = _defaultBodyCap
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		bodyCap:    bodyCap,
		log:        log,
	}
}

// Deliver POSTs the canonical signed envelope for one attempt. The call is
// bounded by the client timeout and the caller's ctx; a hung endpoint must
// not stall the batch.
func (c *Client) Deliver(ctx context.Context, sub entity.WebhookSubscription, attempt entity.DeliveryAttempt) entity.WebhookResult {
	const op = "webhook.Client.Deliver"

	envelope := entity.WebhookEnvelope{
		Event:          attempt.EventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: attempt.OrganizationID,
		Data:           attempt.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return entity.WebhookResult{Err: fmt.Errorf("%s: marshal envelope: %w", op, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return entity.WebhookResult{Err: fmt.Errorf("%s: build request: %w", op, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", _userAgent)
	req.Header.Set("X-Event", attempt.EventType)
	req.Header.Set("X-Signature", signature.Sign(body, sub.Secret))
	req.Header.Set("X-Delivery-Id", attempt.ID.String())
	req.Header.Set("X-Attempt", strconv.Itoa(attempt.AttemptCount+1))

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.log.LogAttrs(ctx, logger.WarnLevel, "webhook delivery transport error",
			logger.String("op", op),
			logger.String("url", sub.URL),
			logger.String("delivery_id", attempt.ID.String()),
			logger.Duration("duration", duration),
			logger.Any("error", err),
		)
		return entity.WebhookResult{Duration: duration, Err: fmt.Errorf("%s: %w", op, err)}
	}
	defer resp.Body.Close()

	truncated, _ := io.ReadAll(io.LimitReader(resp.Body, c.bodyCap))

	c.log.LogAttrs(ctx, logger.DebugLevel, "webhook delivered",
		logger.String("op", op),
		logger.String("url", sub.URL),
		logger.String("delivery_id", attempt.ID.String()),
		logger.Int("status", resp.StatusCode),
		logger.Duration("duration", duration),
	)

	return entity.WebhookResult{
		StatusCode: resp.StatusCode,
		Body:       string(truncated),
		Duration:   duration,
	}
}

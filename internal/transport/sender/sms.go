package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"eventdelivery/internal/entity"

	"github.com/wb-go/wbf/logger"
)

const _smsTimeout = 10 * time.Second

// SMSSender posts to the SMS gateway's JSON API; the provider's own wire
// protocol stays behind this adapter.
type SMSSender struct {
	providerURL string
	apiKey      string
	from        string
	costPerMsg  float64
	httpClient  *http.Client
	log         logger.Logger
}

func NewSMSSender(providerURL, apiKey, from string, costPerMsg float64, log logger.Logger) *SMSSender {
	return &SMSSender{
		providerURL: providerURL,
		apiKey:      apiKey,
		from:        from,
		costPerMsg:  costPerMsg,
		httpClient:  &http.Client{Timeout: _smsTimeout},
		log:         log,
	}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (s *SMSSender) Send(ctx context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult {
	body, err := json.Marshal(smsRequest{To: contact, From: s.from, Text: n.Message})
	if err != nil {
		return failureResult(fmt.Errorf("marshal sms request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, _smsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.providerURL, bytes.NewReader(body))
	if err != nil {
		return failureResult(fmt.Errorf("build sms request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return failureResult(fmt.Errorf("sms provider call: %w", err))
	}
	defer resp.Body.Close()

	var providerResp smsResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&providerResp); decodeErr != nil {
		providerResp = smsResponse{}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := providerResp.Error
		if reason == "" {
			reason = resp.Status
		}
		return failureResult(fmt.Errorf("sms provider status %d: %s", resp.StatusCode, reason))
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "sms sent",
		logger.String("to", contact),
		logger.String("message_id", providerResp.MessageID),
	)

	return successResult(providerResp.MessageID, s.costPerMsg)
}

package external

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"omnirelay/internal/types"
)

// WebhookChannelClient delivers outbound messages for webhook-kind channels:
// the canonical message is posted as-is to the channel's configured endpoint.
// Consumers like n8n receive the same document the pipeline works with.
type WebhookChannelClient struct {
	base   *BaseClient
	logger types.Logger
}

// NewWebhookChannelClient creates the generic webhook channel client.
func NewWebhookChannelClient(base *BaseClient, logger types.Logger) *WebhookChannelClient {
	return &WebhookChannelClient{base: base, logger: logger}
}

// webhookChannelAck is the optional acknowledgment shape consumers may return.
type webhookChannelAck struct {
	MessageID string `json:"message_id"`
}

// Send posts the canonical message to cfg.APIBaseURL. A consumer-supplied
// message_id in the acknowledgment becomes the external id; a missing or
// unparseable body is still a successful send.
func (c *WebhookChannelClient) Send(ctx context.Context, cfg *types.ChannelConfig, payload any) (string, error) {
	msg, ok := payload.(*types.CanonicalMessage)
	if !ok {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"webhook channel expects a canonical message payload", nil)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode canonical message", err)
	}

	url := strings.TrimRight(cfg.APIBaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build webhook channel request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstreamError(types.ErrCodeChannelDelivery, "webhook channel rejected message", resp)
	}

	var ack webhookChannelAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", nil
	}
	return ack.MessageID, nil
}

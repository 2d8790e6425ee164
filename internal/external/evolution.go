package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"omnirelay/internal/translator"
	"omnirelay/internal/types"
)

// maxErrorBodyLen caps how much of an upstream error body ends up in an
// AppError detail.
const maxErrorBodyLen = 512

// EvolutionClient speaks the Evolution-style WhatsApp gateway API. Instance
// coordinates (base URL, API key, instance name) come from the channel
// configuration on every call, so one client serves any number of instances.
type EvolutionClient struct {
	base   *BaseClient
	logger types.Logger
}

// NewEvolutionClient creates the WhatsApp gateway client.
func NewEvolutionClient(base *BaseClient, logger types.Logger) *EvolutionClient {
	return &EvolutionClient{base: base, logger: logger}
}

// evolutionSendResponse is the slice of the gateway response the pipeline
// cares about: the gateway-assigned message identifier.
type evolutionSendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// Send posts an outbound payload to the gateway instance named by cfg and
// returns the gateway-assigned external message id.
func (c *EvolutionClient) Send(ctx context.Context, cfg *types.ChannelConfig, payload any) (string, error) {
	var endpoint string
	switch payload.(type) {
	case *translator.EvolutionTextPayload:
		endpoint = "message/sendText"
	case *translator.EvolutionMediaPayload:
		endpoint = "message/sendMedia"
	default:
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unsupported gateway payload type %T", payload), nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode gateway payload", err)
	}

	url := fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.APIBaseURL, "/"), endpoint, cfg.InstanceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", cfg.APIKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstreamError(types.ErrCodeChannelDelivery, "gateway rejected message", resp)
	}

	var out evolutionSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Accepted but unparseable body: the send succeeded, only the
		// external id is lost.
		c.logger.Warn("gateway response unparseable, external id unavailable",
			"instance", cfg.InstanceRef,
			"error", err.Error(),
		)
		return "", nil
	}
	return out.Key.ID, nil
}

// upstreamError builds a delivery AppError carrying the upstream status and a
// truncated body excerpt.
func upstreamError(code types.ErrorCode, message string, resp *http.Response) *types.AppError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return types.NewAppErrorWithDetails(code, message, nil, map[string]any{
		"status": resp.StatusCode,
		"body":   string(excerpt),
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"omnirelay/internal/core"
	"omnirelay/internal/types"
)

// maxGatewayBody bounds gateway webhook payloads. Larger than the typed-body
// cap because envelopes carry inline media previews.
const maxGatewayBody = 5 << 20

// GatewayChannelStore resolves a gateway instance name to its channel config.
type GatewayChannelStore interface {
	GetByInstance(ctx context.Context, instanceRef string) (*types.ChannelConfig, error)
}

// gatewayEnvelope is the minimal shape peeked at before full translation:
// just enough to filter event types and resolve the instance.
type gatewayEnvelope struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
}

// GatewayWebhookHandler receives native WhatsApp gateway webhook callbacks.
// Only message events enter the pipeline; everything else (connection state,
// presence, read receipts) is acknowledged and dropped.
type GatewayWebhookHandler struct {
	engine   MessageEngine
	channels GatewayChannelStore
	logger   *slog.Logger
}

// NewGatewayWebhookHandler creates a GatewayWebhookHandler.
func NewGatewayWebhookHandler(engine MessageEngine, channels GatewayChannelStore, logger *slog.Logger) *GatewayWebhookHandler {
	return &GatewayWebhookHandler{engine: engine, channels: channels, logger: logger}
}

// RegisterRoutes mounts the gateway webhook endpoint on the given router.
func (h *GatewayWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/evolution", h.HandleWebhook)
}

// isMessageEvent reports whether a gateway event type carries a message the
// pipeline should process.
func isMessageEvent(event string) bool {
	switch strings.ToLower(event) {
	case "messages.upsert", "send.message":
		return true
	default:
		return false
	}
}

// HandleWebhook ingests one gateway callback. Non-message events and unknown
// instances are acknowledged with 200 so the gateway does not retry them.
func (h *GatewayWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGatewayBody))
	if err != nil {
		core.Error(w, h.logger, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"could not read webhook body", err))
		return
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		core.Error(w, h.logger, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"webhook body is not valid JSON", err))
		return
	}

	if !isMessageEvent(env.Event) {
		h.logger.Info("gateway event ignored", "event", env.Event, "instance", env.Instance)
		core.JSON(w, http.StatusOK, map[string]any{"accepted": false, "reason": "event ignored"})
		return
	}

	cfg, err := h.channels.GetByInstance(r.Context(), env.Instance)
	if err != nil {
		// An unknown instance is a configuration drift problem, not a payload
		// problem. Acknowledge so the gateway stops retrying, but log it loudly.
		h.logger.Warn("gateway webhook for unknown instance",
			"instance", env.Instance, "event", env.Event, "error", err)
		core.JSON(w, http.StatusOK, map[string]any{"accepted": false, "reason": "unknown instance"})
		return
	}

	result, err := h.engine.Inbound(r.Context(), types.ChannelWhatsApp, cfg, body)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	core.JSON(w, status, result)
}

// Package handlers contains the HTTP handler implementations for the relay
// API: message ingestion and dispatch, the native gateway webhook, webhook
// target management, and the delivery-log audit trail.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"omnirelay/internal/core"
	"omnirelay/internal/db"
	"omnirelay/internal/routing"
	"omnirelay/internal/types"
)

// MessageEngine is the routing engine contract used by the message handler.
// Mirrors the concrete routing.Engine methods this handler calls.
type MessageEngine interface {
	Inbound(ctx context.Context, kind types.ChannelKind, cfg *types.ChannelConfig, raw json.RawMessage) (*routing.InboundResult, error)
	Outbound(ctx context.Context, msg *types.CanonicalMessage) (*routing.OutboundResult, error)
}

// MessageChannelStore resolves channel configurations for ingestion requests.
type MessageChannelStore interface {
	GetByRef(ctx context.Context, ref string) (*types.ChannelConfig, error)
	ListActiveByKind(ctx context.Context, kind types.ChannelKind) ([]*types.ChannelConfig, error)
}

// InboundMessageRequest is the request body for POST /v1/messages/inbound:
// a raw channel payload plus enough addressing to pick a translator.
type InboundMessageRequest struct {
	ChannelKind string          `json:"channel_kind" validate:"required,channel_kind"`
	ChannelRef  string          `json:"channel_ref,omitempty"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// OutboundMessageRequest is the request body for POST /v1/messages/outbound.
// The caller addresses a recipient on a channel kind; the engine picks the
// concrete sending channel by priority.
type OutboundMessageRequest struct {
	ChannelKind string `json:"channel_kind" validate:"required,channel_kind"`
	Recipient   string `json:"recipient" validate:"required,max=256"`

	Text string `json:"text,omitempty" validate:"required_without=MediaURL"`

	MediaURL     string `json:"media_url,omitempty" validate:"omitempty,url"`
	MediaKind    string `json:"media_kind,omitempty" validate:"omitempty,oneof=image video audio document"`
	MediaCaption string `json:"media_caption,omitempty"`
	Filename     string `json:"filename,omitempty"`

	ReplyTo  string         `json:"reply_to,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageHandler serves message ingestion and dispatch.
type MessageHandler struct {
	engine    MessageEngine
	channels  MessageChannelStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewMessageHandler creates a MessageHandler with the provided dependencies.
func NewMessageHandler(engine MessageEngine, channels MessageChannelStore, validator *core.Validator, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		engine:    engine,
		channels:  channels,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the message endpoints on the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/inbound", h.HandleInbound)
	r.Post("/messages/outbound", h.HandleOutbound)
}

// HandleInbound accepts a raw channel payload, translates it, and routes it
// through the inbound pipeline. The response reports per-destination outcomes.
func (h *MessageHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var req InboundMessageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, h.logger, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, h.logger, err)
		return
	}

	kind := types.ChannelKind(req.ChannelKind)
	cfg, err := h.resolveChannel(r.Context(), kind, req.ChannelRef)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	result, err := h.engine.Inbound(r.Context(), kind, cfg, req.Payload)
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

// HandleOutbound dispatches a message through the first send-enabled channel
// of the requested kind. The body is either the simplified request shape or a
// full serialized canonical message; the sender field tells them apart.
func (h *MessageHandler) HandleOutbound(w http.ResponseWriter, r *http.Request) {
	body, err := core.ReadBody(w, r)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	var msg *types.CanonicalMessage
	if isCanonicalDocument(body) {
		msg, err = parseCanonicalOutbound(body)
	} else {
		msg, err = parseSimplifiedOutbound(body, h.validator)
	}
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	result, err := h.engine.Outbound(r.Context(), msg)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	core.JSON(w, http.StatusAccepted, result)
}

// isCanonicalDocument sniffs for fields only a full canonical message carries.
// The simplified shape has neither a sender nor a message ID.
func isCanonicalDocument(body []byte) bool {
	var shape struct {
		MessageID string `json:"message_id"`
		Sender    string `json:"sender"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return false
	}
	return shape.MessageID != "" || shape.Sender != ""
}

func parseSimplifiedOutbound(body []byte, v *core.Validator) (*types.CanonicalMessage, error) {
	var req OutboundMessageRequest
	if err := core.DecodeJSONBytes(body, &req); err != nil {
		return nil, err
	}
	if err := v.ValidateStruct(req); err != nil {
		return nil, err
	}
	return buildOutboundMessage(&req), nil
}

// parseCanonicalOutbound accepts a caller-built canonical message, filling
// identity and timestamps where the caller left them out.
func parseCanonicalOutbound(body []byte) (*types.CanonicalMessage, error) {
	msg, err := types.DeserializeCanonicalMessage(body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"request body is not a valid canonical message", err)
	}

	msg.Channel = msg.Channel.Canonical()
	switch msg.Channel {
	case types.ChannelWhatsApp, types.ChannelTelegram, types.ChannelWebhook:
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeChannelUnsupported,
			"unsupported channel kind", nil,
			map[string]any{"channel_kind": string(msg.Channel)})
	}
	if msg.Recipient == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"canonical message must name a recipient", nil)
	}

	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.Sender == "" {
		msg.Sender = types.FormatAddress(msg.Channel, "crm")
	}
	now := time.Now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	return msg, nil
}

// resolveChannel picks the channel configuration for an ingestion request: an
// explicit ref wins, otherwise the highest-priority active channel of the
// kind. A kind with no configured channel resolves to nil and the engine
// falls back to the default destination set.
func (h *MessageHandler) resolveChannel(ctx context.Context, kind types.ChannelKind, ref string) (*types.ChannelConfig, error) {
	if ref != "" {
		return h.channels.GetByRef(ctx, ref)
	}

	configs, err := h.channels.ListActiveByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	return configs[0], nil
}

func buildOutboundMessage(req *OutboundMessageRequest) *types.CanonicalMessage {
	kind := types.ChannelKind(req.ChannelKind).Canonical()

	msg := types.NewCanonicalMessage(kind)
	msg.Sender = types.FormatAddress(kind, "crm")
	msg.Recipient = types.FormatAddress(kind, req.Recipient)
	msg.Text = req.Text
	msg.ReplyTo = req.ReplyTo

	if req.MediaURL != "" {
		mediaKind := types.MediaKind(req.MediaKind)
		if mediaKind == "" {
			mediaKind = types.MediaDocument
		}
		msg.AddMedia(types.MediaAttachment{
			Kind:     mediaKind,
			URL:      req.MediaURL,
			Filename: req.Filename,
			Caption:  req.MediaCaption,
		})
	}

	for k, v := range req.Metadata {
		msg.SetMetadata(k, v)
	}

	return msg
}

// DeliveryLogLister is the audit-trail read contract.
type DeliveryLogLister interface {
	List(ctx context.Context, filter db.DeliveryLogFilter) ([]*types.DeliveryLogEntry, error)
	GetByID(ctx context.Context, id string) (*types.DeliveryLogEntry, error)
}

// DeliveryLogHandler serves the delivery-log audit trail.
type DeliveryLogHandler struct {
	logs   DeliveryLogLister
	logger *slog.Logger
}

// NewDeliveryLogHandler creates a DeliveryLogHandler.
func NewDeliveryLogHandler(logs DeliveryLogLister, logger *slog.Logger) *DeliveryLogHandler {
	return &DeliveryLogHandler{logs: logs, logger: logger}
}

// RegisterRoutes mounts the delivery-log endpoints on the given router.
func (h *DeliveryLogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/delivery-logs", h.HandleList)
	r.Get("/delivery-logs/{id}", h.HandleGet)
}

// HandleList returns delivery log entries, newest first, filtered by the
// direction, status, channel, and since query parameters.
func (h *DeliveryLogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDeliveryLogFilter(r)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	entries, err := h.logs.List(r.Context(), filter)
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}

	core.JSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGet returns a single delivery log entry by ID.
func (h *DeliveryLogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.logs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, h.logger, err)
		return
	}
	core.JSON(w, http.StatusOK, entry)
}

func parseDeliveryLogFilter(r *http.Request) (db.DeliveryLogFilter, error) {
	q := r.URL.Query()
	filter := db.DeliveryLogFilter{
		Direction: types.Direction(q.Get("direction")),
		Status:    types.MessageStatus(q.Get("status")),
		Channel:   types.ChannelKind(q.Get("channel")).Canonical(),
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, types.NewAppError(types.ErrCodeValidationInvalidBody,
				"since must be an RFC 3339 timestamp", err)
		}
		filter.Since = since
	}

	var err error
	if filter.Limit, err = parseIntParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}

	return filter, nil
}

func parseIntParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"query parameter must be a non-negative integer", err,
			map[string]any{"parameter": name})
	}
	return v, nil
}

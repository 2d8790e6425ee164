package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"omnirelay/internal/translator"
	"omnirelay/internal/types"
)

// ChannelCaller performs the channel-specific network call for an outbound
// payload and returns the channel-assigned external message id. Satisfied by
// the gateway clients in internal/external.
type ChannelCaller interface {
	Send(ctx context.Context, cfg *types.ChannelConfig, payload any) (string, error)
}

// EngineConfig carries the engine's tunables.
type EngineConfig struct {
	// DefaultDestinations applies when a channel config has no explicit
	// destination list.
	DefaultDestinations []types.DestinationKind
	// ChannelCallTimeout bounds each outbound channel API call.
	ChannelCallTimeout time.Duration
}

// Engine is the routing and delivery core. One logical task per message:
// inbound messages fan out to core destinations plus webhook targets,
// outbound messages pick a channel and dispatch through its translator and
// caller. Every message leaves exactly one finalized DeliveryLogEntry behind.
type Engine struct {
	registry *translator.Registry
	channels types.ChannelConfigStore
	callers  map[types.ChannelKind]ChannelCaller
	crm      types.CRMSink
	logs     types.DeliveryLogStore
	webhooks *WebhookDispatcher
	clock    types.Clock
	logger   types.Logger
	config   EngineConfig
}

// NewEngine wires the routing engine.
func NewEngine(
	registry *translator.Registry,
	channels types.ChannelConfigStore,
	callers map[types.ChannelKind]ChannelCaller,
	crm types.CRMSink,
	logs types.DeliveryLogStore,
	webhooks *WebhookDispatcher,
	logger types.Logger,
	config EngineConfig,
) *Engine {
	if len(config.DefaultDestinations) == 0 {
		config.DefaultDestinations = []types.DestinationKind{types.DestinationCRM, types.DestinationWebhooks}
	}
	if config.ChannelCallTimeout <= 0 {
		config.ChannelCallTimeout = 30 * time.Second
	}
	return &Engine{
		registry: registry,
		channels: channels,
		callers:  callers,
		crm:      crm,
		logs:     logs,
		webhooks: webhooks,
		clock:    types.RealClock{},
		logger:   logger,
		config:   config,
	}
}

// SetClock overrides the clock. Testing hook.
func (e *Engine) SetClock(c types.Clock) { e.clock = c }

// InboundResult is the structured outcome of one inbound dispatch.
type InboundResult struct {
	Success      bool              `json:"success"`
	MessageID    string            `json:"message_id"`
	ProcessingMS int64             `json:"processing_ms"`
	Delivered    []string          `json:"destinations_delivered"`
	Errors       map[string]string `json:"errors,omitempty"`
	Webhooks     []TargetResult    `json:"webhooks,omitempty"`
}

// Inbound translates a raw channel payload and dispatches the canonical
// message. cfg is the originating channel configuration when one is known;
// it supplies the destination override and the forward target.
func (e *Engine) Inbound(ctx context.Context, kind types.ChannelKind, cfg *types.ChannelConfig, raw json.RawMessage) (*InboundResult, error) {
	start := e.clock.Now()

	tr, err := e.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	msg, err := tr.ToCanonical(ctx, raw)
	if err != nil {
		e.auditRejected(ctx, types.DirectionInbound, channelRef(cfg), raw, err)
		return nil, err
	}
	if cfg != nil {
		msg.ChannelRef = cfg.ID
	}

	entry := &types.DeliveryLogEntry{
		MessageID:        msg.MessageID,
		Direction:        types.DirectionInbound,
		Status:           types.StatusProcessing,
		OriginChannelRef: channelRef(cfg),
		OriginalPayload:  raw,
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		// Audit row creation failing must not drop the message.
		e.logger.Error("delivery log creation failed", "message_id", msg.MessageID, "error", err.Error())
	}

	result := e.dispatchInbound(ctx, msg, cfg)
	result.ProcessingMS = e.clock.Now().Sub(start).Milliseconds()

	e.finalizeAt(ctx, entry, msg, result.Success, joinErrors(result.Errors), start)
	return result, nil
}

// dispatchInbound runs core destinations and the webhook fan-out
// concurrently. Core destination failures flip the aggregate success flag;
// webhook outcomes are reported but never do.
func (e *Engine) dispatchInbound(ctx context.Context, msg *types.CanonicalMessage, cfg *types.ChannelConfig) *InboundResult {
	result := &InboundResult{
		MessageID: msg.MessageID,
		Errors:    map[string]string{},
	}

	destinations := e.config.DefaultDestinations
	if cfg != nil && len(cfg.Destinations) > 0 {
		destinations = cfg.Destinations
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)

	fanOut := false
	for _, dest := range destinations {
		dest := dest

		switch dest {
		case types.DestinationWebhooks:
			// An explicit list without "webhooks" opts that channel out of
			// fan-out; fan-out itself runs outside the core set and never
			// affects success.
			fanOut = true

		case types.DestinationCRM:
			g.Go(func() error {
				err := e.deliverCRM(gCtx, msg, types.DirectionInbound)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors[string(dest)] = err.Error()
				} else {
					result.Delivered = append(result.Delivered, string(dest))
				}
				return nil
			})

		case types.DestinationChannel:
			g.Go(func() error {
				err := e.forwardToChannel(gCtx, msg, cfg)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors[string(dest)] = err.Error()
				} else {
					result.Delivered = append(result.Delivered, string(dest))
				}
				return nil
			})

		default:
			mu.Lock()
			result.Errors[string(dest)] = "unknown destination kind"
			mu.Unlock()
		}
	}

	if fanOut {
		g.Go(func() error {
			hooks := e.webhooks.FanOut(gCtx, msg, types.DirectionInbound)
			mu.Lock()
			result.Webhooks = hooks
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	result.Success = len(result.Errors) == 0
	if result.Success {
		msg.Status = types.StatusSent
	} else {
		msg.Status = types.StatusFailed
		msg.ErrorMessage = joinErrors(result.Errors)
	}
	return result
}

// deliverCRM upserts the conversation for the message's contact and appends
// the interaction. Both operations are idempotent on the sink side. The
// contact is the remote party: sender for inbound, recipient for outbound.
func (e *Engine) deliverCRM(ctx context.Context, msg *types.CanonicalMessage, dir types.Direction) error {
	contactKey := msg.Sender
	if dir == types.DirectionOutbound {
		contactKey = msg.Recipient
	}

	conversationRef, err := e.crm.UpsertConversation(ctx, contactKey, msg.SenderName)
	if err != nil {
		return fmt.Errorf("conversation upsert: %w", err)
	}
	if err := e.crm.AppendInteraction(ctx, conversationRef, msg); err != nil {
		return fmt.Errorf("interaction append: %w", err)
	}
	return nil
}

// forwardToChannel re-dispatches an inbound message out through the channel
// named by the origin's forward reference.
func (e *Engine) forwardToChannel(ctx context.Context, msg *types.CanonicalMessage, cfg *types.ChannelConfig) error {
	if cfg == nil || cfg.ForwardChannelRef == "" {
		return fmt.Errorf("no forward channel configured")
	}

	target, err := e.channels.GetByRef(ctx, cfg.ForwardChannelRef)
	if err != nil {
		return err
	}
	_, err = e.sendVia(ctx, target, msg)
	return err
}

// OutboundResult is the structured outcome of one outbound dispatch.
type OutboundResult struct {
	Success      bool   `json:"success"`
	MessageID    string `json:"message_id"`
	ExternalID   string `json:"external_id,omitempty"`
	ProcessingMS int64  `json:"processing_ms"`
}

// Outbound selects the highest-priority active send-enabled channel of the
// message's kind and dispatches through it. On success the CRM sink records
// the interaction and outbound-matching webhook targets receive a copy.
func (e *Engine) Outbound(ctx context.Context, msg *types.CanonicalMessage) (*OutboundResult, error) {
	start := e.clock.Now()
	kind := msg.Channel.Canonical()
	msg.Channel = kind

	entry := &types.DeliveryLogEntry{
		MessageID: msg.MessageID,
		Direction: types.DirectionOutbound,
		Status:    types.StatusProcessing,
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		e.logger.Error("delivery log creation failed", "message_id", msg.MessageID, "error", err.Error())
	}

	fail := func(err error) (*OutboundResult, error) {
		msg.Status = types.StatusFailed
		msg.ErrorMessage = err.Error()
		e.finalizeAt(ctx, entry, msg, false, err.Error(), start)
		return nil, err
	}

	channels, err := e.channels.ListActiveByKind(ctx, kind)
	if err != nil {
		return fail(err)
	}
	cfg := firstSendable(channels)
	if cfg == nil {
		return fail(types.NewAppErrorWithDetails(types.ErrCodeChannelInactive,
			"no active send-enabled channel for kind", nil,
			map[string]any{"channel_kind": string(kind)}))
	}
	entry.DestinationChannelRef = cfg.ID
	msg.ChannelRef = cfg.ID

	externalID, err := e.sendVia(ctx, cfg, msg)
	if err != nil {
		return fail(err)
	}

	msg.ExternalID = externalID
	msg.Status = types.StatusSent

	// Post-send collaborator writes are best-effort: the message already left
	// through the channel, so their failure cannot unsend it.
	if err := e.deliverCRM(ctx, msg, types.DirectionOutbound); err != nil {
		e.logger.Warn("CRM record after outbound send failed",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
	}
	e.webhooks.FanOut(ctx, msg, types.DirectionOutbound)

	e.finalizeAt(ctx, entry, msg, true, "", start)

	return &OutboundResult{
		Success:      true,
		MessageID:    msg.MessageID,
		ExternalID:   externalID,
		ProcessingMS: e.clock.Now().Sub(start).Milliseconds(),
	}, nil
}

// sendVia maps the message through the kind's translator and performs the
// channel call with its own timeout.
func (e *Engine) sendVia(ctx context.Context, cfg *types.ChannelConfig, msg *types.CanonicalMessage) (string, error) {
	tr, err := e.registry.Get(cfg.Kind)
	if err != nil {
		return "", err
	}
	caller, ok := e.callers[cfg.Kind.Canonical()]
	if !ok {
		return "", types.NewAppErrorWithDetails(types.ErrCodeChannelUnsupported,
			"no caller registered for channel kind", nil,
			map[string]any{"channel_kind": string(cfg.Kind)})
	}

	payload, err := tr.FromCanonical(ctx, msg)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ChannelCallTimeout)
	defer cancel()

	return caller.Send(callCtx, cfg, payload)
}

// TestTarget sends one synthetic canonical message through the webhook
// delivery primitive without creating an audit row.
func (e *Engine) TestTarget(ctx context.Context, targetID string) (*TargetResult, error) {
	target, err := e.webhooks.store.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	msg := types.NewCanonicalMessage(types.ChannelWebhook)
	msg.Sender = "webhook:connectivity-test"
	msg.Text = "connectivity test"
	msg.SetMetadata("test", true)

	body, err := msg.Serialize()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize test message", err)
	}

	res := e.webhooks.Deliver(ctx, target, body)
	return &res, nil
}

// finalizeAt closes the audit row with the terminal outcome and the elapsed
// processing time measured from start.
func (e *Engine) finalizeAt(ctx context.Context, entry *types.DeliveryLogEntry, msg *types.CanonicalMessage, success bool, errText string, start time.Time) {
	status := types.StatusFailed
	if success {
		status = types.StatusSent
	}

	canonical, err := msg.Serialize()
	if err != nil {
		e.logger.Error("canonical snapshot failed", "message_id", msg.MessageID, "error", err.Error())
	}

	elapsed := e.clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	if err := e.logs.Finalize(ctx, entry.ID, status, errText, elapsed, canonical); err != nil {
		e.logger.Error("delivery log finalize failed", "entry_id", entry.ID, "error", err.Error())
	}
}

// auditRejected writes a create+finalize pair for payloads that never made it
// past translation, so rejected traffic still shows up in the audit trail.
func (e *Engine) auditRejected(ctx context.Context, dir types.Direction, originRef string, raw json.RawMessage, cause error) {
	entry := &types.DeliveryLogEntry{
		MessageID:        "rejected-" + uuid.NewString(),
		Direction:        dir,
		Status:           types.StatusProcessing,
		OriginChannelRef: originRef,
		OriginalPayload:  raw,
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		e.logger.Error("rejection audit creation failed", "error", err.Error())
		return
	}
	if err := e.logs.Finalize(ctx, entry.ID, types.StatusFailed, cause.Error(), 0, nil); err != nil {
		e.logger.Error("rejection audit finalize failed", "entry_id", entry.ID, "error", err.Error())
	}
}

func firstSendable(channels []*types.ChannelConfig) *types.ChannelConfig {
	for _, c := range channels {
		if c.SendEnabled {
			return c
		}
	}
	return nil
}

func channelRef(cfg *types.ChannelConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.ID
}

func joinErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}
	out := ""
	for dest, msg := range errs {
		if out != "" {
			out += "; "
		}
		out += dest + ": " + msg
	}
	return out
}

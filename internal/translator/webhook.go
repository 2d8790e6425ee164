package translator

import (
	"context"
	"encoding/json"

	"omnirelay/internal/types"
)

var _ Translator = (*WebhookTranslator)(nil)

// WebhookTranslator handles the generic webhook channel, whose native format
// is the canonical schema itself. Inbound it fills identity defaults; outbound
// it is a passthrough.
type WebhookTranslator struct{}

// NewWebhookTranslator creates the generic webhook translator.
func NewWebhookTranslator() *WebhookTranslator {
	return &WebhookTranslator{}
}

// Kind returns the canonical channel kind.
func (t *WebhookTranslator) Kind() types.ChannelKind {
	return types.ChannelWebhook
}

// ToCanonical parses a canonical-shaped body, minting the fields a caller may
// omit (message id, timestamps, channel).
func (t *WebhookTranslator) ToCanonical(_ context.Context, raw json.RawMessage) (*types.CanonicalMessage, error) {
	var in types.CanonicalMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody, "unparseable message body", err)
	}
	if in.Sender == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "sender is required", nil)
	}

	defaults := types.NewCanonicalMessage(types.ChannelWebhook)
	if in.MessageID == "" {
		in.MessageID = defaults.MessageID
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = defaults.Timestamp
	}
	in.ReceivedAt = defaults.ReceivedAt
	in.Channel = types.ChannelWebhook
	if in.ContentKind == "" {
		in.ContentKind = types.ContentText
	}
	if in.Status == "" {
		in.Status = types.StatusReceived
	}
	if in.Metadata == nil {
		in.Metadata = types.Metadata{}
	}
	if in.Media == nil {
		in.Media = types.MediaList{}
	}
	return &in, nil
}

// FromCanonical returns the message unchanged; webhook consumers speak the
// canonical schema.
func (t *WebhookTranslator) FromCanonical(_ context.Context, msg *types.CanonicalMessage) (any, error) {
	return msg, nil
}

package types

// ChannelKind identifies which translator produced or will consume a message.
type ChannelKind string

const (
	// ChannelWhatsApp is the WhatsApp channel, reached through an
	// Evolution-style third-party gateway.
	ChannelWhatsApp ChannelKind = "whatsapp"
	// ChannelEvolution is the legacy alias clients still send for the
	// WhatsApp gateway. Normalized to ChannelWhatsApp at every boundary.
	ChannelEvolution ChannelKind = "evo"
	// ChannelTelegram is the Telegram bot channel.
	ChannelTelegram ChannelKind = "telegram"
	// ChannelWebhook is the generic webhook-based channel (n8n and friends).
	ChannelWebhook ChannelKind = "webhook"
)

// Canonical collapses kind aliases to their canonical value.
func (k ChannelKind) Canonical() ChannelKind {
	if k == ChannelEvolution {
		return ChannelWhatsApp
	}
	return k
}

// Aliases returns every stored spelling of the kind, canonical form first.
// Queries that match on kind must use the full set so rows written before
// the alias cleanup stay visible.
func (k ChannelKind) Aliases() []string {
	if k.Canonical() == ChannelWhatsApp {
		return []string{string(ChannelWhatsApp), string(ChannelEvolution)}
	}
	return []string{string(k.Canonical())}
}

// ContentKind classifies the payload of a canonical message.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentMedia       ContentKind = "media"
	ContentInteractive ContentKind = "interactive"
	ContentSystem      ContentKind = "system"
)

// MediaKind classifies a single attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
	MediaLocation MediaKind = "location"
)

// MediaCategory selects the key-derivation label for encrypted gateway media.
// It is narrower than MediaKind: stickers decrypt with the image label and
// locations carry no binary payload at all.
type MediaCategory string

const (
	CategoryAudio    MediaCategory = "audio"
	CategoryImage    MediaCategory = "image"
	CategoryVideo    MediaCategory = "video"
	CategoryDocument MediaCategory = "document"
)

// MessageStatus tracks a canonical message through the delivery state machine.
// Terminal states are StatusSent and StatusFailed; Delivered and Read are
// upgrades reported asynchronously by the origin channel.
type MessageStatus string

const (
	StatusReceived   MessageStatus = "received"
	StatusProcessing MessageStatus = "processing"
	StatusSent       MessageStatus = "sent"
	StatusDelivered  MessageStatus = "delivered"
	StatusRead       MessageStatus = "read"
	StatusFailed     MessageStatus = "failed"
)

// Direction distinguishes inbound (channel -> CRM) from outbound (CRM -> channel)
// processing. Webhook targets filter on it.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// AudioFormat is the result of magic-byte sniffing on audio payloads.
type AudioFormat string

const (
	FormatMP3     AudioFormat = "mp3"
	FormatOgg     AudioFormat = "ogg"
	FormatWav     AudioFormat = "wav"
	FormatFlac    AudioFormat = "flac"
	FormatAMR     AudioFormat = "amr"
	FormatUnknown AudioFormat = "unknown"
)

// DestinationKind identifies a core routing destination for inbound messages.
type DestinationKind string

const (
	// DestinationCRM persists the message into the CRM sink
	// (conversation upsert + interaction append).
	DestinationCRM DestinationKind = "crm"
	// DestinationWebhooks fans the message out to matching webhook targets.
	// Listed as a destination so channel configs can opt out of fan-out.
	DestinationWebhooks DestinationKind = "webhooks"
	// DestinationChannel forwards the message to another configured channel.
	DestinationChannel DestinationKind = "channel"
)

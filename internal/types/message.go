package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalMessage is the channel-agnostic representation every translator
// converts to and from. It is the unit of exchange between translators, the
// routing engine, and all destinations.
//
// Invariants:
//   - Media is non-empty only when ContentKind == ContentMedia.
//   - Metadata and Media are always non-nil (initialized at construction).
//   - Sender and Recipient are "<channel_kind>:<address>" composites, always
//     parseable by splitting on the first colon.
//   - Timestamp is origin-asserted time; ReceivedAt is system-observed time.
//     The two are independent and never conflated.
type CanonicalMessage struct {
	MessageID  string    `json:"message_id"`
	ExternalID string    `json:"external_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	Sender     string      `json:"sender"`
	SenderName string      `json:"sender_name,omitempty"`
	Recipient  string      `json:"recipient"`
	Channel    ChannelKind `json:"channel_kind"`
	ChannelRef string      `json:"channel_ref,omitempty"`

	ContentKind ContentKind       `json:"content_kind"`
	Text        string            `json:"text,omitempty"`
	Media       []MediaAttachment `json:"media"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Forwarded   bool              `json:"forwarded,omitempty"`

	// Metadata is an open passthrough sidecar for channel-specific provenance
	// (raw origin payload, group flag, automation flag). The routing engine
	// never interprets it.
	Metadata Metadata `json:"metadata"`

	Status       MessageStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// MediaAttachment describes one attachment of a canonical message. The binary
// payload is never held here; only the resolved storage reference and metadata.
//
// URL lifecycle: created unresolved by a translator, populated synchronously by
// media acquisition before routing. After acquisition it is either a durable
// local reference or empty (acquisition failed; the attachment degrades to the
// original remote descriptor kept in the message metadata).
type MediaAttachment struct {
	Kind            MediaKind `json:"kind"`
	URL             string    `json:"url,omitempty"`
	MimeType        string    `json:"mime_type,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`

	// Location fields, populated only when Kind == MediaLocation.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// NewCanonicalMessage creates a message with a generated ID, both timestamps
// set to the current UTC time, and empty (non-nil) collections.
func NewCanonicalMessage(kind ChannelKind) *CanonicalMessage {
	now := time.Now().UTC().Round(0)
	return &CanonicalMessage{
		MessageID:   uuid.New().String(),
		Timestamp:   now,
		ReceivedAt:  now,
		Channel:     kind,
		ContentKind: ContentText,
		Media:       []MediaAttachment{},
		Metadata:    Metadata{},
		Status:      StatusReceived,
	}
}

// AddMedia appends an attachment, preserving insertion order (display order),
// and flips the content kind to media.
func (m *CanonicalMessage) AddMedia(att MediaAttachment) {
	m.Media = append(m.Media, att)
	m.ContentKind = ContentMedia
}

// SetMetadata stores a channel-specific provenance value.
func (m *CanonicalMessage) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = Metadata{}
	}
	m.Metadata[key] = value
}

// Serialize round-trips the message to a JSON document. Datetimes are encoded
// as RFC 3339 (ISO-8601) strings.
func (m *CanonicalMessage) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// DeserializeCanonicalMessage parses a JSON document produced by Serialize.
// Collections are normalized to non-nil so consumers never see absent maps.
func DeserializeCanonicalMessage(data []byte) (*CanonicalMessage, error) {
	var m CanonicalMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("canonical message: %w", err)
	}
	if m.Media == nil {
		m.Media = []MediaAttachment{}
	}
	if m.Metadata == nil {
		m.Metadata = Metadata{}
	}
	return &m, nil
}

// FormatAddress builds the "<channel_kind>:<address>" composite used for
// Sender and Recipient.
func FormatAddress(kind ChannelKind, address string) string {
	return string(kind) + ":" + address
}

// ParseAddress splits a composite address on the first colon. An address
// without a kind prefix is returned as-is with an empty kind.
func ParseAddress(composite string) (ChannelKind, string) {
	kind, addr, found := strings.Cut(composite, ":")
	if !found {
		return "", composite
	}
	return ChannelKind(kind), addr
}

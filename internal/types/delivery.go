package types

import "time"

// DeliveryLogEntry is the immutable audit record owned by the routing engine.
// One row exists per processed message. It is created at dispatch start and
// finalized exactly once when the terminal outcome is known; the repository
// rejects any further mutation after a terminal status is set.
type DeliveryLogEntry struct {
	ID        string        `json:"id"`
	MessageID string        `json:"message_id"`
	Direction Direction     `json:"direction"`
	Status    MessageStatus `json:"status"`

	OriginChannelRef      string `json:"origin_channel_ref,omitempty"`
	DestinationChannelRef string `json:"destination_channel_ref,omitempty"`

	// OriginalPayload is the raw channel payload as received; CanonicalPayload
	// is the serialized canonical message snapshot at dispatch time.
	OriginalPayload  []byte `json:"original_payload,omitempty"`
	CanonicalPayload []byte `json:"canonical_payload,omitempty"`

	ProcessingMS int64  `json:"processing_ms"`
	ErrorText    string `json:"error_text,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// WebhookTarget is an operator-configured external HTTP endpoint that receives
// a best-effort copy of matching messages. The engine owns only the running
// counters and LastRunAt; everything else is configuration it reads.
type WebhookTarget struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	Method  string  `json:"method"`
	Headers Headers `json:"headers"`
	Active  bool    `json:"active"`

	TimeoutSeconds int  `json:"timeout_seconds"`
	RetryEnabled   bool `json:"retry_enabled"`
	MaxAttempts    int  `json:"max_attempts"`

	// Filter predicates. Empty means "match everything".
	ChannelFilter   ChannelKind `json:"channel_filter,omitempty"`
	DirectionFilter Direction   `json:"direction_filter,omitempty"`

	// Running counters, mutated by the delivery engine after every attempt
	// cycle. Updates must use atomic SQL increments, never read-modify-write
	// on a fetched snapshot.
	SentTotal  int64      `json:"sent_total"`
	ErrorTotal int64      `json:"error_total"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether this target should receive a message of the given
// channel kind and processing direction.
func (t *WebhookTarget) Matches(kind ChannelKind, dir Direction) bool {
	if !t.Active {
		return false
	}
	if t.ChannelFilter != "" && t.ChannelFilter != kind {
		return false
	}
	if t.DirectionFilter != "" && t.DirectionFilter != dir {
		return false
	}
	return true
}

// ChannelConfig holds one configured channel instance: credentials plus
// routing policy. It is owned by the channel configuration store (an external
// collaborator); the engine receives it by explicit lookup and never assumes
// global state.
type ChannelConfig struct {
	ID          string      `json:"id"`
	Kind        ChannelKind `json:"kind"`
	Name        string      `json:"name"`
	InstanceRef string      `json:"instance_ref,omitempty"`

	APIBaseURL string `json:"api_base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	BotToken   string `json:"bot_token,omitempty"`

	Active      bool `json:"active"`
	SendEnabled bool `json:"send_enabled"`

	// Priority orders outbound channel selection; lower wins. Ties break on
	// lowest ID for a stable deterministic order.
	Priority int `json:"priority"`

	// Destinations overrides the engine's default inbound destination set.
	// Empty means "use defaults".
	Destinations DestinationList `json:"destinations"`

	// ForwardChannelRef names the channel config that DestinationChannel
	// forwards to, when that destination is configured.
	ForwardChannelRef string `json:"forward_channel_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

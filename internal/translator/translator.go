// Package translator implements the bidirectional mapping between each
// channel's native payload shape and the canonical message schema. One
// implementation exists per channel kind; a registry selects them at runtime.
package translator

import (
	"context"
	"encoding/json"

	"omnirelay/internal/types"
)

// Translator converts between one channel's native payload and the canonical
// message. ToCanonical resolves any attached media synchronously, so by the
// time a message is returned every attachment URL is either durable or
// documented as failed.
type Translator interface {
	// Kind returns the canonical channel kind this translator serves.
	Kind() types.ChannelKind

	// ToCanonical parses a native channel payload into a canonical message.
	ToCanonical(ctx context.Context, raw json.RawMessage) (*types.CanonicalMessage, error)

	// FromCanonical builds the channel-native payload for an outbound
	// canonical message. The returned value is JSON-marshalable.
	FromCanonical(ctx context.Context, msg *types.CanonicalMessage) (any, error)
}

// Registry maps channel kinds to translators. Lookups normalize kind aliases,
// so "evo" resolves to the WhatsApp gateway translator.
type Registry struct {
	translators map[types.ChannelKind]Translator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{translators: make(map[types.ChannelKind]Translator)}
}

// Register adds a translator under its canonical kind.
func (r *Registry) Register(t Translator) {
	r.translators[t.Kind().Canonical()] = t
}

// Get returns the translator for a kind, or a channel_unsupported error when
// none is registered.
func (r *Registry) Get(kind types.ChannelKind) (Translator, error) {
	t, ok := r.translators[kind.Canonical()]
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeChannelUnsupported,
			"no translator registered for channel kind",
			nil,
			map[string]any{"channel_kind": string(kind)},
		)
	}
	return t, nil
}

// Kinds lists the registered canonical kinds.
func (r *Registry) Kinds() []types.ChannelKind {
	kinds := make([]types.ChannelKind, 0, len(r.translators))
	for k := range r.translators {
		kinds = append(kinds, k)
	}
	return kinds
}

package types

import (
	"context"
	"time"
)

// Logger defines the structured logging interface used throughout the pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// BlobStore is the durable media storage collaborator. Save persists bytes
// under a storage-relative path and returns a stable locator; URLFor maps a
// locator to the reference handed to channels and webhook consumers.
type BlobStore interface {
	Save(ctx context.Context, path string, data []byte) (locator string, err error)
	URLFor(locator string) string
}

// CRMSink is the CRM persistence collaborator. Both operations are idempotent
// upserts keyed on contact/conversation identity, so duplicate delivery of the
// same message is safe and interleaving between messages is tolerated.
type CRMSink interface {
	UpsertConversation(ctx context.Context, contactKey string, displayName string) (conversationRef string, err error)
	AppendInteraction(ctx context.Context, conversationRef string, msg *CanonicalMessage) error
}

// ChannelConfigStore looks up per-channel credentials and routing policy.
type ChannelConfigStore interface {
	// GetByRef fetches a single channel configuration by its ID.
	GetByRef(ctx context.Context, ref string) (*ChannelConfig, error)

	// GetByInstance resolves a gateway instance reference (e.g. the Evolution
	// instance name embedded in its webhook envelope) to a configuration.
	GetByInstance(ctx context.Context, instanceRef string) (*ChannelConfig, error)

	// ListActiveByKind returns active channel configurations of the given
	// kind ordered by priority ascending, then ID ascending (stable tie-break).
	ListActiveByKind(ctx context.Context, kind ChannelKind) ([]*ChannelConfig, error)
}

// WebhookTargetStore provides webhook target lookup and the one piece of
// engine-owned write-back: counter updates.
type WebhookTargetStore interface {
	GetByID(ctx context.Context, id string) (*WebhookTarget, error)
	ListActive(ctx context.Context) ([]*WebhookTarget, error)

	// RecordRun atomically increments sent_total or error_total and stamps
	// last_run_at. Concurrent attempts against the same target must not lose
	// updates.
	RecordRun(ctx context.Context, targetID string, success bool, at time.Time) error
}

// DeliveryLogStore persists the audit trail owned by the routing engine.
type DeliveryLogStore interface {
	Create(ctx context.Context, entry *DeliveryLogEntry) error

	// Finalize sets the terminal status, error text, processing duration, and
	// canonical payload snapshot. It must be called exactly once per entry;
	// implementations reject finalizing an already-terminal row.
	Finalize(ctx context.Context, id string, status MessageStatus, errText string, processing time.Duration, canonical []byte) error
}

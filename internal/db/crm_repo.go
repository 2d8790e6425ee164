package db

import (
	"context"

	"github.com/google/uuid"

	"omnirelay/internal/types"
)

// CRMRepository persists conversations and interactions into the CRM tables.
// Both writes are idempotent upserts, so redelivering a message is safe.
type CRMRepository struct {
	db DBTX
}

var _ types.CRMSink = (*CRMRepository)(nil)

// NewCRMRepository creates a CRMRepository backed by the given database handle.
func NewCRMRepository(db DBTX) *CRMRepository {
	return &CRMRepository{db: db}
}

// UpsertConversation finds or creates the conversation for a contact key and
// returns its ref. A non-empty display name refreshes the stored one; an empty
// name never clobbers it.
func (r *CRMRepository) UpsertConversation(ctx context.Context, contactKey string, displayName string) (string, error) {
	var ref string
	err := r.db.QueryRow(ctx,
		`INSERT INTO crm_conversations (id, contact_key, display_name, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (contact_key) DO UPDATE
		   SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), crm_conversations.display_name),
		       updated_at = NOW()
		 RETURNING id`,
		uuid.NewString(),
		contactKey,
		displayName,
	).Scan(&ref)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to upsert conversation", err)
	}
	return ref, nil
}

// AppendInteraction records one canonical message under a conversation. The
// (conversation, message) pair is unique, so a duplicate delivery is a no-op.
func (r *CRMRepository) AppendInteraction(ctx context.Context, conversationRef string, msg *types.CanonicalMessage) error {
	payload, err := msg.Serialize()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize message for CRM", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO crm_interactions
		   (id, conversation_ref, message_id, channel_kind, direction, content_kind, text, payload, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (conversation_ref, message_id) DO NOTHING`,
		uuid.NewString(),
		conversationRef,
		msg.MessageID,
		string(msg.Channel),
		directionFor(msg),
		string(msg.ContentKind),
		msg.Text,
		payload,
		msg.Timestamp,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append interaction", err)
	}
	return nil
}

// directionFor derives the interaction direction from the message addressing:
// a message the system sent carries the system sender address.
func directionFor(msg *types.CanonicalMessage) string {
	_, addr := types.ParseAddress(msg.Sender)
	if addr == "crm" {
		return string(types.DirectionOutbound)
	}
	return string(types.DirectionInbound)
}

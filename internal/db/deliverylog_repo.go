package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"omnirelay/internal/types"
)

// DeliveryLogRepository persists the audit trail owned by the routing engine.
// Rows are insert-then-finalize: after a terminal status lands the row is
// immutable and Finalize refuses to touch it again.
type DeliveryLogRepository struct {
	db DBTX
}

// NewDeliveryLogRepository creates a repository backed by the given connection
// (pool or transaction).
func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

var _ types.DeliveryLogStore = (*DeliveryLogRepository)(nil)

// Create inserts the dispatch-start audit row. A missing ID is minted here so
// the engine can reference the entry before the insert round-trips.
func (r *DeliveryLogRepository) Create(ctx context.Context, entry *types.DeliveryLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = types.StatusProcessing
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO delivery_logs
		 (id, message_id, direction, status, origin_channel_ref,
		  destination_channel_ref, original_payload, canonical_payload,
		  processing_ms, error_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))
		 RETURNING created_at`,
		entry.ID,
		entry.MessageID,
		string(entry.Direction),
		string(entry.Status),
		nilIfEmpty(entry.OriginChannelRef),
		nilIfEmpty(entry.DestinationChannelRef),
		entry.OriginalPayload,
		entry.CanonicalPayload,
		entry.ProcessingMS,
		nilIfEmpty(entry.ErrorText),
		nilIfZeroTime(entry.CreatedAt),
	)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create delivery log entry", err)
	}
	return nil
}

// Finalize records the terminal outcome exactly once. The WHERE clause guards
// immutability: a row already in a terminal status matches nothing and the
// call fails instead of silently rewriting history.
func (r *DeliveryLogRepository) Finalize(ctx context.Context, id string, status types.MessageStatus, errText string, processing time.Duration, canonical []byte) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs
		 SET status = $2,
		     error_text = $3,
		     processing_ms = $4,
		     canonical_payload = COALESCE($5, canonical_payload),
		     finalized_at = NOW()
		 WHERE id = $1
		   AND status NOT IN ('sent', 'failed')`,
		id,
		string(status),
		nilIfEmpty(errText),
		processing.Milliseconds(),
		canonical,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finalize delivery log entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDeliveryLog,
			"delivery log entry missing or already finalized", nil)
	}
	return nil
}

// DeliveryLogFilter selects audit rows for the listing endpoint. Zero values
// mean "no constraint".
type DeliveryLogFilter struct {
	Direction types.Direction
	Status    types.MessageStatus
	Channel   types.ChannelKind
	Since     time.Time
	Limit     int
	Offset    int
}

// List returns audit rows newest-first.
func (r *DeliveryLogRepository) List(ctx context.Context, filter DeliveryLogFilter) ([]*types.DeliveryLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, message_id, direction, status,
		        COALESCE(origin_channel_ref, ''), COALESCE(destination_channel_ref, ''),
		        canonical_payload, processing_ms, COALESCE(error_text, ''),
		        created_at, COALESCE(finalized_at, 'epoch'::timestamptz)
		 FROM delivery_logs
		 WHERE ($1 = '' OR direction = $1)
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR origin_channel_ref = $3 OR destination_channel_ref = $3)
		   AND ($4::timestamptz IS NULL OR created_at >= $4)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $5 OFFSET $6`,
		string(filter.Direction),
		string(filter.Status),
		string(filter.Channel),
		nilIfZeroTime(filter.Since),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery log entries", err)
	}
	defer rows.Close()

	var entries []*types.DeliveryLogEntry
	for rows.Next() {
		var e types.DeliveryLogEntry
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.Direction, &e.Status,
			&e.OriginChannelRef, &e.DestinationChannelRef,
			&e.CanonicalPayload, &e.ProcessingMS, &e.ErrorText,
			&e.CreatedAt, &e.FinalizedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery log entry", err)
		}
		if e.FinalizedAt.Unix() == 0 {
			e.FinalizedAt = time.Time{}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read delivery log entries", err)
	}
	return entries, nil
}

// GetByID fetches one audit row with payload snapshots included.
func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*types.DeliveryLogEntry, error) {
	var e types.DeliveryLogEntry
	err := r.db.QueryRow(ctx,
		`SELECT id, message_id, direction, status,
		        COALESCE(origin_channel_ref, ''), COALESCE(destination_channel_ref, ''),
		        original_payload, canonical_payload, processing_ms,
		        COALESCE(error_text, ''), created_at, COALESCE(finalized_at, 'epoch'::timestamptz)
		 FROM delivery_logs
		 WHERE id = $1`,
		id,
	).Scan(
		&e.ID, &e.MessageID, &e.Direction, &e.Status,
		&e.OriginChannelRef, &e.DestinationChannelRef,
		&e.OriginalPayload, &e.CanonicalPayload, &e.ProcessingMS,
		&e.ErrorText, &e.CreatedAt, &e.FinalizedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundDeliveryLog, "delivery log entry not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch delivery log entry", err)
	}
	if e.FinalizedAt.Unix() == 0 {
		e.FinalizedAt = time.Time{}
	}
	return &e, nil
}

// DeleteOlderThan removes finalized rows past the retention window. Used by
// the archiver after a successful export.
func (r *DeliveryLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_logs
		 WHERE created_at < $1
		   AND status IN ('sent', 'failed')`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune delivery log entries", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByIDs removes exactly the given rows. The archiver uses this after
// exporting a batch so a crash between batches never drops unexported rows.
func (r *DeliveryLogRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_logs WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived entries", err)
	}
	return tag.RowsAffected(), nil
}

// ListOlderThan streams finalized rows past the cutoff for archival, oldest
// first, bounded by batchSize.
func (r *DeliveryLogRepository) ListOlderThan(ctx context.Context, cutoff time.Time, batchSize int) ([]*types.DeliveryLogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, message_id, direction, status,
		        COALESCE(origin_channel_ref, ''), COALESCE(destination_channel_ref, ''),
		        original_payload, canonical_payload, processing_ms,
		        COALESCE(error_text, ''), created_at, COALESCE(finalized_at, 'epoch'::timestamptz)
		 FROM delivery_logs
		 WHERE created_at < $1
		   AND status IN ('sent', 'failed')
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		cutoff,
		batchSize,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable entries", err)
	}
	defer rows.Close()

	var entries []*types.DeliveryLogEntry
	for rows.Next() {
		var e types.DeliveryLogEntry
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.Direction, &e.Status,
			&e.OriginChannelRef, &e.DestinationChannelRef,
			&e.OriginalPayload, &e.CanonicalPayload, &e.ProcessingMS,
			&e.ErrorText, &e.CreatedAt, &e.FinalizedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan archivable entry", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read archivable entries", err)
	}
	return entries, nil
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"omnirelay/internal/types"
)

// WebhookTargetRepository provides lookup of operator-configured webhook
// targets plus the single engine-owned write: counter updates after an
// attempt cycle.
type WebhookTargetRepository struct {
	db DBTX
}

// NewWebhookTargetRepository creates a repository backed by the given
// connection (pool or transaction).
func NewWebhookTargetRepository(db DBTX) *WebhookTargetRepository {
	return &WebhookTargetRepository{db: db}
}

var _ types.WebhookTargetStore = (*WebhookTargetRepository)(nil)

const webhookTargetColumns = `id, name, url, method, headers, active,
	timeout_seconds, retry_enabled, max_attempts,
	COALESCE(channel_filter, ''), COALESCE(direction_filter, ''),
	sent_total, error_total, last_run_at, created_at`

func scanWebhookTarget(row pgx.Row) (*types.WebhookTarget, error) {
	var t types.WebhookTarget
	err := row.Scan(
		&t.ID, &t.Name, &t.URL, &t.Method, &t.Headers, &t.Active,
		&t.TimeoutSeconds, &t.RetryEnabled, &t.MaxAttempts,
		&t.ChannelFilter, &t.DirectionFilter,
		&t.SentTotal, &t.ErrorTotal, &t.LastRunAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID fetches one webhook target.
func (r *WebhookTargetRepository) GetByID(ctx context.Context, id string) (*types.WebhookTarget, error) {
	t, err := scanWebhookTarget(r.db.QueryRow(ctx,
		`SELECT `+webhookTargetColumns+` FROM webhook_targets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundWebhookTarget, "webhook target not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch webhook target", err)
	}
	return t, nil
}

// ListActive returns all active targets in creation order. Filter matching
// happens in the engine so one query serves every fan-out.
func (r *WebhookTargetRepository) ListActive(ctx context.Context) ([]*types.WebhookTarget, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+webhookTargetColumns+`
		 FROM webhook_targets
		 WHERE active
		 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list webhook targets", err)
	}
	defer rows.Close()

	var targets []*types.WebhookTarget
	for rows.Next() {
		t, err := scanWebhookTarget(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan webhook target", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read webhook targets", err)
	}
	return targets, nil
}

// RecordRun bumps the outcome counter and stamps last_run_at. The increment
// is done in SQL so concurrent deliveries against the same target never lose
// updates to a read-modify-write race.
func (r *WebhookTargetRepository) RecordRun(ctx context.Context, targetID string, success bool, at time.Time) error {
	column := "error_total"
	if success {
		column = "sent_total"
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_targets
		 SET `+column+` = `+column+` + 1,
		     last_run_at = $2
		 WHERE id = $1`,
		targetID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWebhookTarget, "webhook target not found", nil)
	}
	return nil
}

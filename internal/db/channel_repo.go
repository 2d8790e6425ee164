package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"omnirelay/internal/types"
)

// ChannelConfigRepository provides lookup of configured channel instances.
type ChannelConfigRepository struct {
	db DBTX
}

// NewChannelConfigRepository creates a repository backed by the given
// connection (pool or transaction).
func NewChannelConfigRepository(db DBTX) *ChannelConfigRepository {
	return &ChannelConfigRepository{db: db}
}

var _ types.ChannelConfigStore = (*ChannelConfigRepository)(nil)

const channelColumns = `id, kind, name, COALESCE(instance_ref, ''),
	COALESCE(api_base_url, ''), COALESCE(api_key, ''), COALESCE(bot_token, ''),
	active, send_enabled, priority, destinations,
	COALESCE(forward_channel_ref, ''), created_at`

func scanChannel(row pgx.Row) (*types.ChannelConfig, error) {
	var c types.ChannelConfig
	err := row.Scan(
		&c.ID, &c.Kind, &c.Name, &c.InstanceRef,
		&c.APIBaseURL, &c.APIKey, &c.BotToken,
		&c.Active, &c.SendEnabled, &c.Priority, &c.Destinations,
		&c.ForwardChannelRef, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = c.Kind.Canonical()
	return &c, nil
}

// GetByRef fetches a channel configuration by ID.
func (r *ChannelConfigRepository) GetByRef(ctx context.Context, ref string) (*types.ChannelConfig, error) {
	c, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel_configs WHERE id = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeChannelNotFound, "channel configuration not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch channel configuration", err)
	}
	return c, nil
}

// GetByInstance resolves a gateway instance reference to a configuration.
func (r *ChannelConfigRepository) GetByInstance(ctx context.Context, instanceRef string) (*types.ChannelConfig, error) {
	c, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel_configs WHERE instance_ref = $1`, instanceRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeChannelNotFound, "no channel configured for instance", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve channel instance", err)
	}
	return c, nil
}

// ListActiveByKind returns active channels of a kind ordered by priority
// ascending with ID as the stable tie-break, matching the outbound selection
// rule.
func (r *ChannelConfigRepository) ListActiveByKind(ctx context.Context, kind types.ChannelKind) ([]*types.ChannelConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+channelColumns+`
		 FROM channel_configs
		 WHERE active AND kind = ANY($1)
		 ORDER BY priority ASC, id ASC`,
		kind.Aliases(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list channel configurations", err)
	}
	defer rows.Close()

	var channels []*types.ChannelConfig
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan channel configuration", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read channel configurations", err)
	}
	return channels, nil
}

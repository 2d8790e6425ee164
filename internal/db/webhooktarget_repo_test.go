package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/types"
)

func TestRecordRun_IncrementsInSQL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookTargetRepository(db)

	var gotSQL string
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { gotSQL = args.String(1) }).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	now := time.Now().UTC()

	err := repo.RecordRun(context.Background(), "wt-1", true, now)
	require.NoError(t, err)
	assert.Contains(t, gotSQL, "sent_total = sent_total + 1")

	err = repo.RecordRun(context.Background(), "wt-1", false, now)
	require.NoError(t, err)
	assert.Contains(t, gotSQL, "error_total = error_total + 1")
}

func TestRecordRun_UnknownTarget(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookTargetRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.RecordRun(context.Background(), "wt-missing", true, time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundWebhookTarget, appErr.Code)
}

func TestWebhookTargetGetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookTargetRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetByID(context.Background(), "wt-missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundWebhookTarget, appErr.Code)
}

func TestChannelListActiveByKind_OrderAndAlias(t *testing.T) {
	db := new(mockDBTX)
	repo := NewChannelConfigRepository(db)

	var gotSQL string
	var gotArgs []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotSQL = args.String(1)
			gotArgs = args.Get(2).([]any)
		}).
		Return(nil, pgx.ErrNoRows)

	_, err := repo.ListActiveByKind(context.Background(), types.ChannelEvolution)
	require.Error(t, err)

	assert.Contains(t, gotSQL, "ORDER BY priority ASC, id ASC")
	// Rows written before the alias cleanup still carry "evo"; the query
	// matches every stored spelling of the kind.
	assert.Contains(t, gotSQL, "kind = ANY($1)")
	require.Len(t, gotArgs, 1)
	assert.Equal(t, []string{"whatsapp", "evo"}, gotArgs[0])
}

// Package audit exports aged delivery-log entries out of the hot table into
// compressed newline-delimited JSON segments, then prunes the exported rows.
// Only terminal entries (sent, failed) are ever archived; in-flight rows stay
// in the table regardless of age.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"omnirelay/internal/types"
)

// LogSource is the delivery-log archival contract. Mirrors the concrete
// db.DeliveryLogRepository methods the archiver calls.
type LogSource interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, batchSize int) ([]*types.DeliveryLogEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Config tunes one archival run.
type Config struct {
	// RetentionDays is the age past which terminal entries are exported.
	RetentionDays int
	// BatchSize bounds how many entries go into a single segment.
	BatchSize int
}

// Report summarizes one archival run.
type Report struct {
	Cutoff          time.Time `json:"cutoff"`
	EntriesArchived int       `json:"entries_archived"`
	EntriesDeleted  int64     `json:"entries_deleted"`
	Segments        []string  `json:"segments,omitempty"`
}

// Archiver drains aged delivery-log entries into the blob store.
type Archiver struct {
	source  LogSource
	store   types.BlobStore
	clock   types.Clock
	logger  types.Logger
	config  Config
	encoder *zstd.Encoder
}

// NewArchiver builds an Archiver. Zero config fields fall back to a 90-day
// retention and 1000-entry batches.
func NewArchiver(source LogSource, store types.BlobStore, logger types.Logger, cfg Config) (*Archiver, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	return &Archiver{
		source:  source,
		store:   store,
		clock:   types.RealClock{},
		logger:  logger,
		config:  cfg,
		encoder: enc,
	}, nil
}

// SetClock replaces the time source. Test hook.
func (a *Archiver) SetClock(c types.Clock) { a.clock = c }

// Run performs one full archival pass: export a batch, delete exactly the
// exported rows, repeat until nothing older than the cutoff remains. Export
// strictly precedes deletion, so an interrupted run can at worst duplicate a
// segment, never lose entries.
func (a *Archiver) Run(ctx context.Context) (*Report, error) {
	cutoff := a.clock.Now().AddDate(0, 0, -a.config.RetentionDays)
	report := &Report{Cutoff: cutoff}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entries, err := a.source.ListOlderThan(ctx, cutoff, a.config.BatchSize)
		if err != nil {
			return report, err
		}
		if len(entries) == 0 {
			break
		}

		locator, err := a.writeSegment(ctx, entries)
		if err != nil {
			return report, err
		}
		report.Segments = append(report.Segments, locator)
		report.EntriesArchived += len(entries)

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := a.source.DeleteByIDs(ctx, ids)
		if err != nil {
			return report, err
		}
		report.EntriesDeleted += deleted

		a.logger.Info("archived delivery log batch",
			"segment", locator,
			"entries", len(entries),
			"deleted", deleted,
		)
	}

	return report, nil
}

// writeSegment encodes one batch as zstd-compressed NDJSON and persists it.
func (a *Archiver) writeSegment(ctx context.Context, entries []*types.DeliveryLogEntry) (string, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("encoding delivery log entry %s: %w", e.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	compressed := a.encoder.EncodeAll(buf.Bytes(), nil)

	path := fmt.Sprintf("archive/delivery-logs/%s-%s.ndjson.zst",
		a.clock.Now().Format("20060102T150405Z"),
		uuid.NewString()[:8],
	)

	locator, err := a.store.Save(ctx, path, compressed)
	if err != nil {
		return "", err
	}
	return locator, nil
}

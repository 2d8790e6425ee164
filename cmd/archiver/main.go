// Package main is the delivery-log archiver. It runs one archival pass:
// terminal delivery-log entries older than the retention window are exported
// as compressed NDJSON segments into the blob store and pruned from the hot
// table. Intended to run on a schedule (cron, systemd timer).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"omnirelay/internal/audit"
	"omnirelay/internal/config"
	"omnirelay/internal/db"
	"omnirelay/internal/storage"
	"omnirelay/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	appLogger := types.NewSlogLogger(logger)
	logger.Info("archiver starting",
		"retention_days", cfg.Archive.RetentionDays,
		"batch_size", cfg.Archive.BatchSize,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	store, err := storage.NewDiskStore(cfg.Media.StorageRoot, cfg.Media.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	archiver, err := audit.NewArchiver(
		db.NewDeliveryLogRepository(pool),
		store,
		appLogger,
		audit.Config{
			RetentionDays: cfg.Archive.RetentionDays,
			BatchSize:     cfg.Archive.BatchSize,
		},
	)
	if err != nil {
		return err
	}

	report, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archival pass failed: %w", err)
	}

	out, _ := json.Marshal(report)
	logger.Info("archival pass complete", "report", string(out))
	return nil
}

// Package main is the entry point for the omnirelay API server.
//
// It loads configuration, opens the database pool, wires the message
// pipeline (translators, media acquisition, channel clients, webhook
// dispatcher, routing engine), builds the HTTP chassis, and serves until a
// shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"omnirelay/internal/api/handlers"
	"omnirelay/internal/audit"
	"omnirelay/internal/config"
	"omnirelay/internal/core"
	"omnirelay/internal/db"
	"omnirelay/internal/external"
	"omnirelay/internal/media"
	"omnirelay/internal/routing"
	"omnirelay/internal/security"
	"omnirelay/internal/storage"
	"omnirelay/internal/translator"
	"omnirelay/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	appLogger := types.NewSlogLogger(logger)
	logger.Info("omnirelay API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}

	// Durable media storage.
	store, err := storage.NewDiskStore(cfg.Media.StorageRoot, cfg.Media.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	// Repositories.
	channelRepo := db.NewChannelConfigRepository(pool)
	targetRepo := db.NewWebhookTargetRepository(pool)
	logRepo := db.NewDeliveryLogRepository(pool)
	crmRepo := db.NewCRMRepository(pool)

	// Media acquisition: SSRF-guarded fetches, decryption, transcoding.
	transcoder := media.NewTranscoder(cfg.Media.FFmpegPath, cfg.Media.TranscodeTimeout, appLogger)
	mediaClient := security.NewSafeHTTPClient(cfg.Media.FetchTimeout, cfg.Webhook.MaxRedirects)
	acquirer := media.NewAcquirer(mediaClient, store, transcoder, cfg.Media.MaxFetchSize, appLogger)

	// Channel gateway clients. Each gets its own circuit breaker.
	gatewayHTTP := &http.Client{Timeout: cfg.Routing.ChannelCallTimeout}
	retry := external.DefaultRetryPolicy()
	userAgent := cfg.Webhook.UserAgent

	evoClient := external.NewEvolutionClient(
		external.NewBaseClient(gatewayHTTP, "evolution-gateway", retry, userAgent, types.ErrCodeChannelDelivery),
		appLogger,
	)
	tgClient := external.NewTelegramClient(
		external.NewBaseClient(gatewayHTTP, "telegram-bot", retry, userAgent, types.ErrCodeChannelDelivery),
		"", // default Bot API base
		appLogger,
	)
	whClient := external.NewWebhookChannelClient(
		external.NewBaseClient(gatewayHTTP, "webhook-channel", retry, userAgent, types.ErrCodeChannelDelivery),
		appLogger,
	)

	// Translators.
	registry := translator.NewRegistry()
	registry.Register(translator.NewEvolutionTranslator(acquirer, store, appLogger))
	registry.Register(translator.NewTelegramTranslator(
		acquirer,
		&telegramFileResolver{channels: channelRepo, client: tgClient},
		store,
		appLogger,
	))
	registry.Register(translator.NewWebhookTranslator())

	// Webhook fan-out dispatcher.
	dispatcher := routing.NewWebhookDispatcher(
		targetRepo,
		security.NewSafeHTTPClient(cfg.Webhook.DefaultTimeout, cfg.Webhook.MaxRedirects),
		routing.WebhookConfig{
			UserAgent:      cfg.Webhook.UserAgent,
			DefaultTimeout: cfg.Webhook.DefaultTimeout,
			BackoffBase:    cfg.Webhook.BackoffBase,
		},
		appLogger,
	)

	// Routing engine.
	engine := routing.NewEngine(
		registry,
		channelRepo,
		map[types.ChannelKind]routing.ChannelCaller{
			types.ChannelWhatsApp: evoClient,
			types.ChannelTelegram: tgClient,
			types.ChannelWebhook:  whClient,
		},
		crmRepo,
		logRepo,
		dispatcher,
		appLogger,
		routing.EngineConfig{
			DefaultDestinations: parseDestinations(cfg.Routing.DefaultDestinations),
			ChannelCallTimeout:  cfg.Routing.ChannelCallTimeout,
		},
	)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.RegisterCloser(func() error {
		pool.Close()
		return nil
	})
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{pool: pool})

	msgHandler := handlers.NewMessageHandler(engine, channelRepo, srv.Validator, logger)
	gatewayHandler := handlers.NewGatewayWebhookHandler(engine, channelRepo, logger)
	targetHandler := handlers.NewWebhookTargetHandler(engine, targetRepo, logger)
	logHandler := handlers.NewDeliveryLogHandler(logRepo, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		msgHandler.RegisterRoutes,
		gatewayHandler.RegisterRoutes,
		targetHandler.RegisterRoutes,
		logHandler.RegisterRoutes,
		func(r chi.Router) {
			r.Post("/maintenance/archive", archiveHandler(logRepo, store, appLogger, cfg.Archive, logger))
		},
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool opens and verifies the pgx connection pool.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// parseDestinations converts configured destination names into typed kinds.
func parseDestinations(names []string) []types.DestinationKind {
	out := make([]types.DestinationKind, 0, len(names))
	for _, n := range names {
		out = append(out, types.DestinationKind(n))
	}
	return out
}

// archiveHandler runs one archival pass on demand. The same logic runs
// unattended from cmd/archiver; this endpoint exists for operators.
func archiveHandler(logRepo *db.DeliveryLogRepository, store types.BlobStore, appLogger types.Logger, cfg config.ArchiveConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		archiver, err := audit.NewArchiver(logRepo, store, appLogger, audit.Config{
			RetentionDays: cfg.RetentionDays,
			BatchSize:     cfg.BatchSize,
		})
		if err != nil {
			core.Error(w, logger, err)
			return
		}
		report, err := archiver.Run(r.Context())
		if err != nil {
			core.Error(w, logger, err)
			return
		}
		core.JSON(w, http.StatusOK, report)
	}
}

// telegramFileResolver resolves Bot API file ids using the bot token of the
// first active Telegram channel. Looked up per call so token rotation in the
// database takes effect without a restart.
type telegramFileResolver struct {
	channels *db.ChannelConfigRepository
	client   *external.TelegramClient
}

func (r *telegramFileResolver) ResolveFileURL(ctx context.Context, fileID string) (string, error) {
	configs, err := r.channels.ListActiveByKind(ctx, types.ChannelTelegram)
	if err != nil {
		return "", err
	}
	if len(configs) == 0 || configs[0].BotToken == "" {
		return "", types.NewAppError(types.ErrCodeChannelNotFound, "no telegram channel with a bot token", nil)
	}
	return r.client.ForBot(configs[0].BotToken).ResolveFileURL(ctx, fileID)
}

// dbProbe reports database connectivity for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string                    { return "database" }
func (p dbProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

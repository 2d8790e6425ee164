// Package config defines the global configuration structure for the omnirelay
// pipeline. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import "time"

// Config is the top-level configuration struct for the pipeline. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"omnirelay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Media    MediaConfig
	Webhook  WebhookConfig
	Routing  RoutingConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// MediaConfig holds the media acquisition pipeline parameters.
type MediaConfig struct {
	// StorageRoot is the filesystem root of the durable blob store.
	StorageRoot string `envconfig:"MEDIA_STORAGE_ROOT" default:"./storage" validate:"required"`
	// PublicBaseURL prefixes storage locators when building externally visible
	// media references (no trailing slash).
	PublicBaseURL string `envconfig:"MEDIA_PUBLIC_BASE_URL" default:"/media"`

	FetchTimeout time.Duration `envconfig:"MEDIA_FETCH_TIMEOUT" default:"30s"`
	MaxFetchSize int64         `envconfig:"MEDIA_MAX_FETCH_BYTES" default:"52428800"`

	// FFmpegPath is the external transcoder binary.
	FFmpegPath       string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	TranscodeTimeout time.Duration `envconfig:"TRANSCODE_TIMEOUT" default:"60s"`
}

// WebhookConfig holds settings for outbound webhook fan-out delivery.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"Omnirelay-Webhook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
	// BackoffBase is the unit for the 2^attempt retry backoff. One second in
	// production; tests shrink it.
	BackoffBase time.Duration `envconfig:"WEBHOOK_BACKOFF_BASE" default:"1s"`
}

// RoutingConfig holds the delivery engine defaults.
type RoutingConfig struct {
	// DefaultDestinations is the inbound destination set used when a channel
	// config does not carry an explicit list.
	DefaultDestinations []string      `envconfig:"ROUTING_DEFAULT_DESTINATIONS" default:"crm,webhooks"`
	ChannelCallTimeout  time.Duration `envconfig:"ROUTING_CHANNEL_TIMEOUT" default:"30s"`
}

// ArchiveConfig holds delivery-log archive exporter parameters.
type ArchiveConfig struct {
	RetentionDays int `envconfig:"ARCHIVE_RETENTION_DAYS" default:"90" validate:"min=1"`
	BatchSize     int `envconfig:"ARCHIVE_BATCH_SIZE" default:"1000" validate:"min=1"`
}

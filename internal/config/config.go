// Package config handles loading and validating Mioo configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Mioo.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.mioo/data. Override: MIOO_DATA_DIR env var.
	Telegram      TelegramConfig       `json:"telegram" yaml:"telegram"`
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir)
	Persona       PersonaConfig        `json:"persona" yaml:"persona"`
	Reply         ReplyConfig          `json:"reply" yaml:"reply"`
	Render        RenderConfig         `json:"render" yaml:"render"`
	Video         VideoConfig          `json:"video" yaml:"video"`
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = pruning disabled
	Admin         *AdminConfig         `json:"admin,omitempty" yaml:"admin,omitempty"`                 // nil = admin server disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// TelegramConfig configures the Telegram gateway.
// Bot token can be set here or via TELEGRAM_BOT_TOKEN env var.
// Environment variable takes precedence over config value.
type TelegramConfig struct {
	BotToken           string          `json:"bot_token,omitempty" yaml:"bot_token,omitempty"` // Override: TELEGRAM_BOT_TOKEN env var.
	WebhookURL         string          `json:"webhook_url" yaml:"webhook_url"`                 // Empty = long polling.
	ListenAddr         string          `json:"listen_addr" yaml:"listen_addr"`                 // Webhook listen address. Default: ":8443".
	PollTimeoutSeconds int             `json:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
	RateLimit          RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// PollTimeout returns the long-poll timeout with a default of 30s.
func (t *TelegramConfig) PollTimeout() time.Duration {
	if t != nil && t.PollTimeoutSeconds > 0 {
		return time.Duration(t.PollTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// RateLimitConfig configures per-user rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ProviderConfig configures the Azure OpenAI backend.
// API key and endpoint can be set here or via AZURE_OPENAI_API_KEY /
// AZURE_OPENAI_ENDPOINT env vars. Environment variables take precedence.
type ProviderConfig struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`       // Override: AZURE_OPENAI_ENDPOINT env var.
	APIKey     string `json:"api_key" yaml:"api_key"`         // Override: AZURE_OPENAI_API_KEY env var.
	Deployment string `json:"deployment" yaml:"deployment"`   // Override: AZURE_OPENAI_DEPLOYMENT env var.
	APIVersion string `json:"api_version" yaml:"api_version"` // Override: AZURE_OPENAI_API_VERSION env var.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default), "postgres", or "memory".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: MIOO_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// PersonaConfig configures the bot's character.
type PersonaConfig struct {
	Name      string `json:"name" yaml:"name"`             // Default: "Mioo".
	FactsFile string `json:"facts_file" yaml:"facts_file"` // Plain-text background facts, one per line.
}

// PersonaName returns the persona name with a default of "Mioo".
func (p *PersonaConfig) PersonaName() string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	return "Mioo"
}

// ReplyConfig tunes the decision engine.
type ReplyConfig struct {
	Odds                     int    `json:"odds" yaml:"odds"` // Unprompted messages reach the model with probability 1/odds. Default: 5.
	GenerationTimeoutSeconds int    `json:"generation_timeout_seconds" yaml:"generation_timeout_seconds"` // Default: 60.
	Seed                     uint64 `json:"seed" yaml:"seed"`                                             // PRNG seed. 0 = time-based.
}

// ReplyOdds returns the sampling odds with a default of 5.
func (r *ReplyConfig) ReplyOdds() int {
	if r != nil && r.Odds > 0 {
		return r.Odds
	}
	return 5
}

// GenerationTimeout returns the model call timeout with a default of 60s.
func (r *ReplyConfig) GenerationTimeout() time.Duration {
	if r != nil && r.GenerationTimeoutSeconds > 0 {
		return time.Duration(r.GenerationTimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// RenderConfig configures Markdown-to-image rendering.
type RenderConfig struct {
	ChromiumPath   string `json:"chromium_path" yaml:"chromium_path"` // Default: "chromium" on PATH.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30.
	DefaultTheme   string `json:"default_theme" yaml:"default_theme"`     // "cute_anime" (default) or "formal_code".
}

// Chromium returns the browser binary path with a default of "chromium".
func (r *RenderConfig) Chromium() string {
	if r != nil && r.ChromiumPath != "" {
		return r.ChromiumPath
	}
	return "chromium"
}

// RenderTimeout returns the screenshot timeout with a default of 30s.
func (r *RenderConfig) RenderTimeout() time.Duration {
	if r != nil && r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// VideoConfig configures video link downloads.
type VideoConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	YtDlpPath      string `json:"yt_dlp_path" yaml:"yt_dlp_path"`         // Default: "yt-dlp" on PATH.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 600.
	MaxSizeMB      int    `json:"max_size_mb" yaml:"max_size_mb"`         // Skip uploads larger than this. Default: 50 (Telegram bot API limit).
}

// YtDlp returns the downloader binary path with a default of "yt-dlp".
func (v *VideoConfig) YtDlp() string {
	if v != nil && v.YtDlpPath != "" {
		return v.YtDlpPath
	}
	return "yt-dlp"
}

// FetchTimeout returns the download timeout with a default of 10m.
func (v *VideoConfig) FetchTimeout() time.Duration {
	if v != nil && v.TimeoutSeconds > 0 {
		return time.Duration(v.TimeoutSeconds) * time.Second
	}
	return 10 * time.Minute
}

// MaxUploadMB returns the upload cap with a default of 50 MB.
func (v *VideoConfig) MaxUploadMB() int {
	if v != nil && v.MaxSizeMB > 0 {
		return v.MaxSizeMB
	}
	return 50
}

// RetentionConfig configures the idle conversation janitor.
// When nil, no pruning runs.
type RetentionConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	MaxIdleDays  int    `json:"max_idle_days" yaml:"max_idle_days"`   // Default: 30. 0 disables pruning.
	CronSchedule string `json:"cron_schedule" yaml:"cron_schedule"` // Default: "0 4 * * *" (daily at 04:00).
}

// Schedule returns the cron expression with a default of daily at 04:00.
func (r *RetentionConfig) Schedule() string {
	if r != nil && r.CronSchedule != "" {
		return r.CronSchedule
	}
	return "0 4 * * *"
}

// MaxIdle returns the idle cutoff with a default of 30 days.
func (r *RetentionConfig) MaxIdle() time.Duration {
	if r != nil && r.MaxIdleDays > 0 {
		return time.Duration(r.MaxIdleDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs bool   `json:"enable_docs" yaml:"enable_docs"`
}

// Addr returns the listen address with a default of ":8080".
func (a *AdminConfig) Addr() string {
	if a != nil && a.ListenAddr != "" {
		return a.ListenAddr
	}
	return ":8080"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "mioo"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0 to 1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.mioo/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/mioo.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".mioo", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets can be set in the config file or overridden by
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".mioo", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables over config file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.Provider.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); v != "" {
		c.Provider.Deployment = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_VERSION"); v != "" {
		c.Provider.APIVersion = v
	}
	if v := os.Getenv("MIOO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MIOO_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".mioo", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "mioo.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required (set TELEGRAM_BOT_TOKEN env var)")
	}
	if c.Provider.Endpoint == "" {
		return fmt.Errorf("provider.endpoint is required (set AZURE_OPENAI_ENDPOINT env var)")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (set AZURE_OPENAI_API_KEY env var)")
	}
	if c.Provider.Deployment == "" {
		return fmt.Errorf("provider.deployment is required (set AZURE_OPENAI_DEPLOYMENT env var)")
	}
	if c.Reply.Odds < 0 {
		return fmt.Errorf("reply.odds must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres", "memory":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres, or memory)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set MIOO_DB_DSN env var)")
		}
	}
	if c.Render.DefaultTheme != "" {
		switch c.Render.DefaultTheme {
		case "cute_anime", "formal_code":
			// valid
		default:
			return fmt.Errorf("render.default_theme %q is not supported (use cute_anime or formal_code)", c.Render.DefaultTheme)
		}
	}
	return nil
}

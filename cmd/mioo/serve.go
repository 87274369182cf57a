package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/jkaninda/mioo/internal/bot"
	"github.com/jkaninda/mioo/internal/config"
	"github.com/jkaninda/mioo/internal/engine"
	"github.com/jkaninda/mioo/internal/gateway"
	"github.com/jkaninda/mioo/internal/gateway/admin"
	"github.com/jkaninda/mioo/internal/gateway/telegram"
	"github.com/jkaninda/mioo/internal/history"
	"github.com/jkaninda/mioo/internal/janitor"
	"github.com/jkaninda/mioo/internal/llm/azure"
	"github.com/jkaninda/mioo/internal/observability"
	"github.com/jkaninda/mioo/internal/ratelimit"
	"github.com/jkaninda/mioo/internal/render"
	"github.com/jkaninda/mioo/internal/storage"
	pgstore "github.com/jkaninda/mioo/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/mioo/internal/storage/sqlite"
	"github.com/jkaninda/mioo/internal/video"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	serveAdminAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot (Telegram gateway, janitor, admin server)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `mioo --config path` and `mioo serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAdminAddr, "admin-addr", "", "override admin listen address (e.g. :8080)")
	}
}

// runServe wires every subsystem from config and runs until a signal.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("MIOO_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAdminAddr != "" {
		if cfg.Admin == nil {
			cfg.Admin = &config.AdminConfig{Enabled: true}
		}
		cfg.Admin.ListenAddr = serveAdminAddr
	}

	logger.Info("starting mioo", slog.String("config", serveConfigPath))

	// Data and scratch directories.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	workDir := filepath.Join(dataDir, "out")
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return fmt.Errorf("creating scratch directory %s: %w", workDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()
	metrics := obs.MetricsOrNil()

	// History store.
	msgStore, closeStore, err := initHistory(cfg, obs, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Model provider.
	var providerOpts []azure.Option
	if cfg.Provider.APIVersion != "" {
		providerOpts = append(providerOpts, azure.WithAPIVersion(cfg.Provider.APIVersion))
	}
	provider := azure.NewClient(
		cfg.Provider.Endpoint,
		cfg.Provider.APIKey,
		cfg.Provider.Deployment,
		logger,
		providerOpts...,
	)
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Persona and decision engine.
	facts, err := engine.LoadFacts(cfg.Persona.FactsFile)
	if err != nil {
		return fmt.Errorf("loading persona facts: %w", err)
	}
	persona := engine.Persona{Name: cfg.Persona.PersonaName(), Facts: facts}

	seed := cfg.Reply.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sampler := engine.NewRandomSampler(cfg.Reply.ReplyOdds(), seed)

	eng := engine.New(provider, sampler, persona, cfg.Reply.GenerationTimeout(), logger, metrics)
	logger.Debug("decision engine initialized",
		slog.Int("odds", cfg.Reply.ReplyOdds()),
		slog.Duration("generation_timeout", cfg.Reply.GenerationTimeout()),
	)

	// Rendering and video pipelines.
	renderer := render.NewRenderer(cfg.Render.Chromium(), cfg.Render.RenderTimeout(), cfg.Render.DefaultTheme, logger, metrics)
	formatter := render.NewFormatter(provider)

	var fetcher *video.Fetcher
	if cfg.Video.Enabled {
		fetcher = video.NewFetcher(cfg.Video.YtDlp(), cfg.Video.FetchTimeout(), logger, metrics)
		logger.Debug("video downloads enabled", slog.String("binary", cfg.Video.YtDlp()))
	}

	// Telegram gateway and reply cycle.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Telegram.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Telegram.RateLimit.BurstSize,
	})

	tg := telegram.NewGateway(telegram.Config{
		BotToken:    cfg.Telegram.BotToken,
		WebhookURL:  cfg.Telegram.WebhookURL,
		ListenAddr:  cfg.Telegram.ListenAddr,
		PollTimeout: cfg.Telegram.PollTimeoutSeconds,
		WorkDir:     workDir,
	}, renderer, formatter, fetcher, limiter, logger, metrics)

	tg.WithBot(bot.New(msgStore, eng, tg, logger, metrics))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention janitor (optional).
	var jan *janitor.Janitor
	if cfg.Retention != nil && cfg.Retention.Enabled {
		jan, err = janitor.New(msgStore, cfg.Retention.Schedule(), cfg.Retention.MaxIdle(), logger, metrics)
		if err != nil {
			return err
		}
		cancelJanitor := jan.Start(ctx)
		defer cancelJanitor()
		logger.Debug("retention janitor initialized",
			slog.String("schedule", cfg.Retention.Schedule()),
			slog.Duration("max_idle", cfg.Retention.MaxIdle()),
		)
	}

	gateways := []gateway.Gateway{tg}

	// Admin server (optional).
	if cfg.Admin != nil && cfg.Admin.Enabled {
		adminCfg := admin.Config{
			ListenAddr: cfg.Admin.Addr(),
			EnableDocs: cfg.Admin.EnableDocs,
		}
		if obs != nil {
			adminCfg.HealthChecker = obs.Health
			if obs.Metrics != nil {
				adminCfg.MetricsRegistry = obs.Metrics.Registry
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				adminCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		gateways = append(gateways, admin.NewServer(adminCfg, msgStore, jan, logger))
		logger.Debug("admin server enabled", slog.String("addr", cfg.Admin.Addr()))
	}

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// initHistory opens the configured history backend, runs migrations, and
// registers its health check. The returned cleanup is safe to call once.
func initHistory(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (history.Store, func(), error) {
	driver := cfg.StorageDriverName()

	if driver == "memory" {
		logger.Warn("using in-memory history, conversations are lost on restart")
		return history.NewMemoryStore(), func() {}, nil
	}

	st, err := initStore(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	if obs != nil && obs.Health != nil {
		gdb := gormDBOf(st)
		if gdb != nil {
			obs.Health.AddCheck("database", func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			})
		}
	}

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}
	return st.Messages(), cleanup, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		return initPostgresStore(cfg, logger)
	case "sqlite":
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pgCfg := pgstore.Config{}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.DSN = cfg.Storage.Postgres.DSN
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetimeS = cfg.Storage.Postgres.ConnMaxLifetimeS
	}

	return pgstore.Open(pgCfg, logger)
}

// gormDBOf extracts the underlying *gorm.DB for the database health check.
func gormDBOf(st storage.Store) *gorm.DB {
	switch s := st.(type) {
	case *pgstore.Store:
		return s.GormDB()
	case *sqlitestore.Store:
		return s.GormDB()
	default:
		return nil
	}
}

package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"jurisline/internal/config"
	"jurisline/internal/db"
	"jurisline/internal/downloader"
	"jurisline/internal/engine"
	"jurisline/internal/logging"
	"jurisline/internal/migrate"
	"jurisline/internal/repo"
	"jurisline/internal/resilience"
)

// Overrides are command-line values applied on top of jurisline.yml.
type Overrides struct {
	LogLevel  string
	LogFormat string
	DataDir   string
	Tribunal  string
}

// Workspace is an opened workspace: config, logger, migrated store and the
// engine wired over them.
type Workspace struct {
	Root   string
	Config *config.Config
	Log    *zap.Logger
	Store  *repo.Store
	Engine engine.Engine
}

// LoadConfig reads the workspace config, falling back to defaults when the
// file is absent, and applies overrides.
func LoadConfig(root string, ov Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(root)
	if err != nil {
		return nil, err
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		cfg.Log.Format = ov.LogFormat
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}
	if ov.Tribunal != "" {
		cfg.Tribunal = ov.Tribunal
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open loads config, builds the logger, opens and migrates the database and
// wires the engine.
func Open(ctx context.Context, root string, ov Overrides) (*Workspace, error) {
	cfg, err := LoadConfig(root, ov)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	conn, err := db.Open(db.Config{Dir: cfg.DatabaseDir(), BusyTimeout: cfg.Storage.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store := repo.New(conn, repo.Options{
		Dir:       cfg.DatabaseDir(),
		BatchSize: cfg.Storage.BatchSize,
		Logger:    log,
	})
	dl := NewDownloader(cfg, log)
	return &Workspace{
		Root:   root,
		Config: cfg,
		Log:    log,
		Store:  store,
		Engine: engine.New(cfg, store, dl, log),
	}, nil
}

// NewDownloader builds a downloader staging into the workspace.
func NewDownloader(cfg *config.Config, log *zap.Logger) *downloader.Downloader {
	return downloader.New(downloader.Options{
		Dir:           cfg.StagingDir(),
		Timeout:       cfg.Download.Timeout,
		Concurrency:   cfg.Download.Concurrency,
		RatePerSecond: cfg.Download.RatePerSecond,
		Policy:        DownloadPolicy(cfg.Download),
		Logger:        log,
	})
}

// DownloadPolicy maps the download section onto the retry and breaker
// policy. Unset values fall back to the resilience defaults.
func DownloadPolicy(d config.Download) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Retry = resilience.Retry{
		MaxAttempts: d.Retry.MaxAttempts,
		Initial:     d.Retry.InitialBackoff,
		Max:         d.Retry.MaxBackoff,
		Multiplier:  d.Retry.Multiplier,
	}
	p.Breaker.Enabled = d.Breaker.Enabled
	p.Breaker.MinRequests = d.Breaker.MinRequests
	p.Breaker.FailureRatio = d.Breaker.FailureRatio
	p.Breaker.OpenTimeout = d.Breaker.OpenTimeout
	return p
}

// Close flushes the logger and closes the database.
func (w *Workspace) Close() error {
	_ = w.Log.Sync()
	return w.Store.Close()
}

package cmd

import (
	"context"
	"fmt"

	"github.com/lance13c/deltawatch/internal/artifacts"
	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/database"
	"github.com/lance13c/deltawatch/internal/detector"
	"github.com/lance13c/deltawatch/internal/extractor"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/notify"
	"github.com/lance13c/deltawatch/internal/scheduler"
	"github.com/lance13c/deltawatch/internal/settings"
)

// app is the wired runtime shared by run, check and analyze
type app struct {
	holder    *config.Holder
	db        *database.DB
	files     *artifacts.Store
	resolver  *settings.Resolver
	ai        *llm.Switch
	pool      *browser.Pool
	scheduler *scheduler.Scheduler
}

// openStore opens the database and artifact directory for commands that do
// not need a browser
func openStore(cfg *config.Config) (*database.DB, *artifacts.Store, error) {
	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	files, err := artifacts.NewStore(cfg.ScreenshotsPath())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, files, nil
}

// newApp wires the store, browser pool, extractor, detector, notifier and scheduler
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, files, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	holder := config.NewHolder(cfg)
	resolver := settings.NewResolver(holder, db)

	ai := llm.NewSwitch(nil)
	resolver.SyncAI(ctx, ai)

	pool := browser.NewPool(browser.PoolConfig{
		MaxBrowsers: cfg.Pool.MaxBrowsers,
		IdleTimeout: cfg.Pool.IdleTimeout,
		MaxAge:      cfg.Pool.MaxAge,
		AcquirePoll: cfg.Pool.AcquirePoll,
	}, browser.NewChromeLauncher(), resolver.LaunchOptions)

	sched := scheduler.New(scheduler.Deps{
		Store:     db,
		Browsers:  scheduler.PoolBrowsers{Pool: pool},
		Extractor: extractor.New(cfg.Extraction, ai, db, files),
		Detector:  detector.New(ai),
		Notifier:  notify.NewDispatcher(resolver.Transports),
		Files:     files,
	}, scheduler.Options{
		Tick: cfg.Scheduler.Tick,
		BeforeTick: func(ctx context.Context) {
			resolver.SyncAI(ctx, ai)
		},
	})

	return &app{
		holder:    holder,
		db:        db,
		files:     files,
		resolver:  resolver,
		ai:        ai,
		pool:      pool,
		scheduler: sched,
	}, nil
}

// Close shuts the pool down within the configured timeout, then closes the store
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.holder.Get().Pool.ShutdownTimeout)
	defer cancel()

	if err := a.pool.Shutdown(ctx); err != nil {
		logging.Error("Browser pool shutdown: %v", err)
	}
	if err := a.db.Close(); err != nil {
		logging.Error("Failed to close database: %v", err)
	}
}

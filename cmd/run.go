package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runCmd starts the scheduler
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until interrupted",
	Long: `Run checks every due monitor on a fixed tick until interrupted.

The config file is watched while running: browser, AI and notification
settings apply to the next check without a restart.`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("foreground", "f", false, "Mirror log output to stderr")
	runCmd.Flags().Duration("janitor", 30*time.Second, "Interval between browser pool sweeps")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	foreground, _ := cmd.Flags().GetBool("foreground")
	janitor, _ := cmd.Flags().GetDuration("janitor")
	if foreground {
		logging.GetLogger().SetMirror(os.Stderr)
	}

	ctx, stop := withInterrupt(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.pool.RunJanitor(gctx, janitor)
	})

	if loader.ConfigPath() != "" {
		watcher, err := config.NewWatcher(loader, a.holder)
		if err != nil {
			return err
		}
		watcher.SetReloadCallback(func(old, updated *config.Config) {
			if old.Log.Level != updated.Log.Level {
				logging.GetLogger().SetLevel(logging.ParseLevel(updated.Log.Level))
			}
			a.resolver.SyncAI(gctx, a.ai)
		})
		g.Go(func() error {
			// A watcher failure only disables hot reload
			if err := watcher.Start(gctx); err != nil {
				logging.Error("Config watcher stopped: %v", err)
			}
			return nil
		})
	}

	logging.Info("DeltaWatch %s started (data dir %s)", appVersion, appConfig.DataDir)
	fmt.Printf("DeltaWatch is running. Logs: %s\n", logging.GetLogger().GetLogPath())

	err = g.Wait()
	logging.Info("Shutting down")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// withInterrupt returns a context cancelled on Ctrl+C
func withInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

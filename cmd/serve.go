package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/scheduler"
	"github.com/matt2718/qbnotify/pkg/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the scrape trigger and run scheduled batches",
		Long:  "Serve the scrape trigger and run scheduled batches. SIGHUP re-reads the configuration file and applies its [scheduler] section.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := ctx.openApplication(runCtx)
			if err != nil {
				return err
			}
			defer app.Close()

			sched, err := scheduler.New(scheduler.FromConfig(app.cfg), app.service)
			if err != nil {
				return err
			}
			sched.Start(runCtx)
			defer sched.Stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go watchReload(runCtx, hup, ctx.reloadConfig, sched)

			logger.Info("Starting qbnotify server...")
			return server.New(app.cfg, app.service).ListenAndServe(runCtx)
		},
	}
}

// watchReload applies the scheduler section of a freshly loaded config on
// every signal until ctx is done. A config that fails to load or parse
// leaves the running schedule alone.
func watchReload(ctx context.Context, signals <-chan os.Signal, load func() (*config.Config, error), sched *scheduler.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
		}
		cfg, err := load()
		if err != nil {
			logger.Error("Reloading configuration failed: %v", err)
			continue
		}
		if err := sched.Reload(scheduler.FromConfig(cfg)); err != nil {
			logger.Error("Applying scheduler configuration failed: %v", err)
			continue
		}
		cur := sched.GetConfig()
		logger.Info("Configuration reloaded (scheduler enabled=%v, cron=%s)", cur.Enabled, cur.CronSpec)
	}
}

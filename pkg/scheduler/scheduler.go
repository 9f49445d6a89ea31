// Package scheduler runs ingestion batches on a cron schedule, each one
// resuming from the stored cursor.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/ingest"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/notify"
)

// Runner is the work done on every tick.
type Runner interface {
	RunFromCursor(ctx context.Context) (notify.Summary, error)
}

type Config struct {
	Enabled  bool
	CronSpec string // e.g. "0 * * * *" (server local time)
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Enabled:  cfg.Scheduler.Enabled,
		CronSpec: firstNonEmpty(cfg.Scheduler.Cron, "0 * * * *"),
	}
}

type Scheduler struct {
	mu     sync.Mutex
	c      *cron.Cron
	config Config
	runner Runner

	// ctxMu is separate from mu so a tick never waits on a Reload that is
	// itself waiting for the tick to finish.
	ctxMu sync.Mutex
	ctx   context.Context
}

func New(cfg Config, runner Runner) (*Scheduler, error) {
	s := &Scheduler{config: cfg, runner: runner, ctx: context.Background()}
	c, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *Scheduler) build(cfg Config) (*cron.Cron, error) {
	// standard 5-field spec, runs in server local time; a tick that fires
	// while the previous batch is still running is skipped
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(cfg.CronSpec, s.Tick); err != nil {
		return nil, err
	}
	return c, nil
}

// Tick runs one batch from the cursor.
func (s *Scheduler) Tick() {
	s.ctxMu.Lock()
	ctx := s.ctx
	s.ctxMu.Unlock()

	logger.Info("Scheduler tick: resuming ingestion from cursor")
	sum, err := s.runner.RunFromCursor(ctx)
	switch {
	case errors.Is(err, ingest.ErrBusy):
		logger.Info("Scheduler tick skipped: another batch holds the lock")
	case err != nil:
		logger.Error("Scheduled batch failed: %v", err)
	default:
		logger.Info("Scheduled batch %s done: %d new tournaments, marker %d", sum.RunID, sum.Resolved, sum.Marker)
	}
}

// Start begins running ticks. Batches started by the scheduler are
// cancelled when ctx is.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctxMu.Lock()
	s.ctx = ctx
	s.ctxMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.Enabled {
		logger.Info("Scheduler disabled")
		return
	}
	logger.Info("Starting scheduler (cron=%s)", s.config.CronSpec)
	s.c.Start()
}

// Stop halts the schedule and waits for a running batch to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Reload swaps in a new schedule, restarting only when it changed.
func (s *Scheduler) Reload(newConfig Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == newConfig {
		logger.Info("Scheduler configuration unchanged, no restart needed")
		return nil
	}

	c, err := s.build(newConfig)
	if err != nil {
		return err
	}

	<-s.c.Stop().Done()
	logger.Info("Stopped scheduler for configuration reload")

	s.config = newConfig
	s.c = c
	if newConfig.Enabled {
		s.c.Start()
		logger.Info("Scheduler restarted with new configuration (cron=%s)", newConfig.CronSpec)
	} else {
		logger.Info("Scheduler disabled via configuration reload")
	}
	return nil
}

// GetConfig returns the current scheduler configuration
func (s *Scheduler) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

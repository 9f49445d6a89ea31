package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/matt2718/qbnotify/pkg/cache"
	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/digest"
	"github.com/matt2718/qbnotify/pkg/directory"
	"github.com/matt2718/qbnotify/pkg/geocode"
	"github.com/matt2718/qbnotify/pkg/ingest"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/metrics"
	"github.com/matt2718/qbnotify/pkg/notify"
	"github.com/matt2718/qbnotify/pkg/resolver"
	"github.com/matt2718/qbnotify/pkg/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// reloadConfig reads the configuration file again, bypassing the cached copy.
func (c *commandContext) reloadConfig() (*config.Config, error) {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	return config.Load(path)
}

// openRegionCache opens the persistent region memo, or an in-process one
// when no path is configured.
func openRegionCache(path string) (cache.Store, error) {
	if strings.TrimSpace(path) == "" {
		logger.Warn("No geocode cache path configured; region lookups are memoized in memory only")
		return cache.NewMemoryStore(), nil
	}
	return cache.NewBoltStore(path)
}

// withStore opens the configured store for the duration of fn.
func (c *commandContext) withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// application is the fully wired scrape-and-notify stack.
type application struct {
	cfg     *config.Config
	store   store.Store
	regions cache.Store
	service *notify.Service
}

func (c *commandContext) openApplication(ctx context.Context) (*application, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	geocoder, err := geocode.New(cfg)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	regions, err := openRegionCache(cfg.Geocode.CachePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	if stats, err := regions.GetCacheStatistics(); err == nil {
		logger.Info("Region cache holds %d entries", stats["total_entries"])
	}
	metrics.SetCacheStats(regions.GetCacheStatistics)

	dir := directory.NewFromConfig(cfg)
	res := resolver.New(dir, geocoder, regions)
	pipeline := ingest.NewFromConfig(cfg, dir, res, s)
	if !cfg.MailEnabled() {
		logger.Warn("Mail is not configured; digests will only be logged")
	}
	dispatcher := digest.NewDispatcher(digest.NewMailer(cfg), digest.NewBuilder(cfg.Directory.BaseURL, cfg.Mail.SiteURL))

	return &application{
		cfg:     cfg,
		store:   s,
		regions: regions,
		service: notify.New(pipeline, s, dispatcher, cfg.Ingest.ExportPath),
	}, nil
}

func (a *application) Close() {
	metrics.SetCacheStats(nil)
	if err := a.regions.Close(); err != nil {
		logger.Warn("Closing region cache: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Closing store: %v", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt2718/qbnotify/pkg/config"
)

// Open returns the backend selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "bolt":
		return NewBoltStore(cfg.Store.Path)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Store.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Store.DSN, cfg.Ingest.Workers+1)
	}
	return nil, &config.ConfigurationError{Field: "store.driver", Err: fmt.Errorf("unknown driver %q", cfg.Store.Driver)}
}

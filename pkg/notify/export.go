package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/store"
)

// Upcoming lists stored tournaments dated today or later, in id order.
func (s *Service) Upcoming(ctx context.Context) ([]models.UpcomingEntry, error) {
	recs, err := s.store.Records(ctx, store.RecordFilter{From: s.now()})
	if err != nil {
		return nil, err
	}
	out := make([]models.UpcomingEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Upcoming())
	}
	return out, nil
}

// ExportUpcoming writes Upcoming as JSON to path. The file is replaced
// atomically so readers never see a partial document.
func (s *Service) ExportUpcoming(ctx context.Context, path string) error {
	entries, err := s.Upcoming(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding upcoming tournaments: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upcoming-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	logger.Debug("Wrote %d upcoming tournaments to %s", len(entries), path)
	return nil
}

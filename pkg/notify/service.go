// Package notify ties one ingestion batch to the digests it produces.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/matt2718/qbnotify/pkg/digest"
	"github.com/matt2718/qbnotify/pkg/ingest"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/matcher"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/store"
)

// Service runs scrape-and-notify cycles.
type Service struct {
	pipeline   *ingest.Pipeline
	store      store.Store
	dispatcher *digest.Dispatcher
	exportPath string
	now        func() time.Time
}

func New(p *ingest.Pipeline, s store.Store, d *digest.Dispatcher, exportPath string) *Service {
	return &Service{pipeline: p, store: s, dispatcher: d, exportPath: exportPath, now: time.Now}
}

// Summary describes one completed cycle.
type Summary struct {
	RunID     string
	Start     int
	Attempted int
	Marker    int
	Resolved  int
	Notified  int
	Failed    int
}

// ScrapeAndNotify ingests [start, end], calling emit with each resolved id
// as it is stored. The sequence ends with the marker: when nothing was
// resolved an extra start-1 line is emitted, otherwise the last id already
// is the marker. Digests are then sent for the new records. Delivery
// failures are logged but do not fail the call.
func (s *Service) ScrapeAndNotify(ctx context.Context, start, end int, emit func(line string) error) error {
	_, err := s.run(ctx, start, end, emit)
	return err
}

// RunFromCursor ingests everything after the stored cursor.
func (s *Service) RunFromCursor(ctx context.Context) (Summary, error) {
	start := 1
	cursor, err := s.store.LoadCursor(ctx)
	switch {
	case err == nil:
		start = cursor + 1
	case errors.Is(err, store.ErrNotFound):
		logger.Info("No cursor stored yet; starting from id 1")
	default:
		return Summary{}, err
	}
	return s.run(ctx, start, 0, func(line string) error {
		logger.Debug("Discovered %s", line)
		return nil
	})
}

func (s *Service) run(ctx context.Context, start, end int, emit func(string) error) (Summary, error) {
	b, err := s.pipeline.Run(ctx, start, end)
	if err != nil {
		return Summary{}, err
	}
	defer b.Close()

	var fresh []models.TournamentRecord
	for b.Next(ctx) {
		rec := b.Record()
		fresh = append(fresh, rec)
		if err := emit(strconv.Itoa(rec.ID)); err != nil {
			return Summary{}, fmt.Errorf("emitting id %d: %w", rec.ID, err)
		}
	}
	if err := b.Err(); err != nil {
		return Summary{}, err
	}

	sum := Summary{
		RunID:     b.RunID,
		Start:     b.Start,
		Attempted: b.Attempted(),
		Marker:    b.Marker(),
		Resolved:  b.Resolved(),
	}
	if len(fresh) == 0 {
		if err := emit(strconv.Itoa(sum.Marker)); err != nil {
			return sum, fmt.Errorf("emitting marker: %w", err)
		}
	}

	// Delivery must not depend on the caller staying connected.
	bg := context.WithoutCancel(ctx)

	if s.exportPath != "" {
		if err := s.ExportUpcoming(bg, s.exportPath); err != nil {
			logger.Error("Writing upcoming export: %v", err)
		}
	}
	if len(fresh) == 0 {
		return sum, nil
	}

	subs, err := s.store.Subscriptions(bg)
	if err != nil {
		return sum, fmt.Errorf("loading subscriptions: %w", err)
	}
	set := matcher.Match(fresh, subs, s.now())
	report := s.dispatcher.Dispatch(bg, set)
	sum.Notified, sum.Failed = len(report.Sent), len(report.Failed)
	logger.Info("Batch %s: %d new tournaments, %d digests sent, %d failed", sum.RunID, sum.Resolved, sum.Notified, sum.Failed)
	return sum, nil
}

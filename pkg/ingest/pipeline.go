// Package ingest walks a range of directory ids, turns each page into a
// tournament record and persists it. Work for different ids runs in a
// bounded pool, but results are consumed, stored and reported strictly in id
// order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/directory"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/parser"
	"github.com/matt2718/qbnotify/pkg/resolver"
	"github.com/matt2718/qbnotify/pkg/store"
)

// Fetcher retrieves raw pages and the directory's current maximum id.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (directory.Raw, error)
	MaxID(ctx context.Context) (int, error)
}

// Resolver locates a parsed candidate.
type Resolver interface {
	Resolve(ctx context.Context, c parser.Candidate) (resolver.Location, error)
}

// PageFunc turns a fetched page into a ParsedPage.
type PageFunc func(raw directory.Raw) (parser.ParsedPage, error)

// HTMLPages parses pages as the directory's HTML.
func HTMLPages(raw directory.Raw) (parser.ParsedPage, error) {
	return parser.NewHTMLPage(raw.Body)
}

// ErrBusy is returned by Run when another batch holds the ingestion lock.
var ErrBusy = errors.New("another ingestion batch is running")

// Pipeline runs ingestion batches.
type Pipeline struct {
	fetcher  Fetcher
	resolver Resolver
	store    store.Store
	pages    PageFunc
	workers  int
	lockPath string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of ids processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLockFile serializes batches across processes through a file lock.
func WithLockFile(path string) Option {
	return func(p *Pipeline) { p.lockPath = path }
}

// WithPages replaces the HTML page parser.
func WithPages(fn PageFunc) Option {
	return func(p *Pipeline) { p.pages = fn }
}

func New(f Fetcher, r Resolver, s store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{fetcher: f, resolver: r, store: s, pages: HTMLPages, workers: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig applies the [ingest] section of cfg.
func NewFromConfig(cfg *config.Config, f Fetcher, r Resolver, s store.Store) *Pipeline {
	return New(f, r, s, WithWorkers(cfg.Ingest.Workers), WithLockFile(cfg.Ingest.LockPath))
}

// Run starts a batch over [max(start,1), min(end, directory max)]. An end of
// zero or less means no upper bound. Run fails before doing any work when
// the store cannot be read or another batch holds the lock.
func (p *Pipeline) Run(ctx context.Context, start, end int) (*Batch, error) {
	start = max(start, 1)

	if _, err := p.store.LoadCursor(ctx); err != nil &&
		!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCorrupt) {
		return nil, err
	}

	lock, err := p.acquire()
	if err != nil {
		return nil, err
	}

	maxID, err := p.fetcher.MaxID(ctx)
	if err != nil {
		release(lock)
		return nil, fmt.Errorf("reading directory max id: %w", err)
	}
	if end <= 0 || end > maxID {
		end = maxID
	}

	b := newBatch(ctx, p, uuid.NewString(), start, end, lock)
	b.log.Info("Starting batch %s over ids %d..%d with %d workers", b.RunID, start, end, p.workers)
	return b, nil
}

func (p *Pipeline) acquire() (*flock.Flock, error) {
	if p.lockPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(p.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return lock, nil
}

func release(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logger.Warn("Releasing ingestion lock failed: %v", err)
	}
}

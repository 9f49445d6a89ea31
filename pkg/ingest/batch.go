package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/metrics"
	"github.com/matt2718/qbnotify/pkg/models"
)

type job struct {
	id     int
	result chan outcome
}

// Batch is the lazily produced sequence of records resolved over one id
// range. It is consumed with Next/Record like bufio.Scanner and cannot be
// restarted.
type Batch struct {
	RunID string
	Start int
	End   int

	p      *Pipeline
	log    *logger.Logger
	jobs   <-chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	lock   *flock.Flock

	current   models.TournamentRecord
	attempted int
	resolved  int
	marker    int
	cursor    int
	err       error
	finished  bool
	closeOnce sync.Once
}

func newBatch(ctx context.Context, p *Pipeline, runID string, start, end int, lock *flock.Flock) *Batch {
	bctx, cancel := context.WithCancel(ctx)
	jobs := make(chan job, p.workers)
	b := &Batch{
		RunID:     runID,
		Start:     start,
		End:       end,
		p:         p,
		log:       logger.With("run_id", runID),
		jobs:      jobs,
		ctx:       bctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		lock:      lock,
		attempted: start - 1,
		marker:    start - 1,
	}
	go b.dispatch(bctx, jobs)
	return b
}

// dispatch hands ids to the worker pool in order. The jobs channel bounds
// how far ahead of the consumer work may run.
func (b *Batch) dispatch(ctx context.Context, jobs chan<- job) {
	defer close(b.done)
	defer close(jobs)

	var g errgroup.Group
	g.SetLimit(b.p.workers)
	for id := b.Start; id <= b.End && ctx.Err() == nil; id++ {
		j := job{id: id, result: make(chan outcome, 1)}
		select {
		case jobs <- j:
		case <-ctx.Done():
			_ = g.Wait()
			return
		}
		g.Go(func() error {
			j.result <- b.p.process(ctx, j.id)
			return nil
		})
	}
	_ = g.Wait()
}

// Next advances to the next resolved record. It returns false when the range
// is exhausted, the directory reports an id that does not exist yet, or a
// storage error occurs; Err distinguishes the last case. The cursor is
// advanced the first time Next returns false without an error.
func (b *Batch) Next(ctx context.Context) bool {
	if b.finished {
		return false
	}
	for {
		var j job
		var ok bool
		select {
		case j, ok = <-b.jobs:
		case <-ctx.Done():
			b.fail(ctx.Err())
			return false
		}
		if !ok {
			if err := b.ctx.Err(); err != nil {
				b.fail(err)
				return false
			}
			b.complete(ctx)
			return false
		}

		var out outcome
		select {
		case out = <-j.result:
		case <-ctx.Done():
			b.fail(ctx.Err())
			return false
		}
		// Outcomes produced after cancellation say nothing about the id.
		if err := b.ctx.Err(); err != nil {
			b.fail(err)
			return false
		}

		if out.kind == metrics.OutcomeNotFound {
			metrics.RecordOutcome(out.kind, "")
			b.log.Info("Tournament %d does not exist yet; ending batch", out.id)
			b.complete(ctx)
			return false
		}
		b.attempted = out.id
		metrics.RecordOutcome(out.kind, out.reason)

		if out.kind != metrics.OutcomeResolved {
			b.logOutcome(out)
			continue
		}

		if err := b.p.store.UpsertRecord(ctx, out.record); err != nil {
			b.fail(fmt.Errorf("storing tournament %d: %w", out.id, err))
			return false
		}
		b.current = out.record
		b.resolved++
		b.marker = out.id
		b.log.Debug("Stored tournament %d (%s, %s)", out.id, out.record.Region, out.record.Level.Short())
		return true
	}
}

func (b *Batch) logOutcome(out outcome) {
	switch out.kind {
	case metrics.OutcomeSkipped:
		b.log.Info("Skipping tournament %d: %v", out.id, out.err)
	case metrics.OutcomeUnresolved:
		b.log.Warn("Could not locate tournament %d: %v", out.id, out.err)
	case metrics.OutcomeTransient:
		b.log.Warn("Fetching tournament %d failed: %v", out.id, out.err)
	default:
		b.log.Error("Unexpected failure processing tournament %d: %v", out.id, out.err)
	}
}

// complete advances the cursor to the highest attempted id.
func (b *Batch) complete(ctx context.Context) {
	if b.attempted >= b.Start {
		cursor, err := b.p.store.AdvanceCursor(ctx, b.attempted)
		if err != nil {
			b.fail(fmt.Errorf("advancing cursor to %d: %w", b.attempted, err))
			return
		}
		b.cursor = cursor
	}
	b.finish()
	b.log.Info("Batch %s finished: attempted through %d, %d resolved, marker %d", b.RunID, b.attempted, b.resolved, b.marker)
}

func (b *Batch) fail(err error) {
	b.err = err
	b.finish()
	b.log.Error("Batch %s aborted after id %d: %v", b.RunID, b.attempted, err)
}

func (b *Batch) finish() {
	b.finished = true
	b.Close()
	metrics.RecordBatch(metrics.BatchSummary{
		RunID:     b.RunID,
		Start:     b.Start,
		End:       b.End,
		Attempted: b.attempted,
		Resolved:  b.resolved,
		Marker:    b.marker,
		Failed:    b.err != nil,
		Finished:  time.Now(),
	})
}

// Close stops outstanding work and releases the ingestion lock. Closing a
// batch before Next returns false leaves the cursor untouched.
func (b *Batch) Close() {
	b.closeOnce.Do(func() {
		b.finished = true
		b.cancel()
		<-b.done
		release(b.lock)
	})
}

// Record is the record produced by the last successful call to Next.
func (b *Batch) Record() models.TournamentRecord { return b.current }

// Err is the error that stopped the batch, if any.
func (b *Batch) Err() error { return b.err }

// Marker is the highest resolved id, or Start-1 when nothing resolved.
func (b *Batch) Marker() int { return b.marker }

// Attempted is the highest id that was processed to an outcome.
func (b *Batch) Attempted() int { return b.attempted }

// Resolved counts the records produced so far.
func (b *Batch) Resolved() int { return b.resolved }

// Cursor is the stored cursor after a completed batch, or zero when the batch
// failed or attempted nothing.
func (b *Batch) Cursor() int { return b.cursor }

package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/matt2718/qbnotify/pkg/directory"
	"github.com/matt2718/qbnotify/pkg/metrics"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/parser"
	"github.com/matt2718/qbnotify/pkg/resolver"
)

// outcome is the result of processing one id, before persistence.
type outcome struct {
	id     int
	kind   string
	reason string
	record models.TournamentRecord
	err    error
}

// process fetches, parses and resolves id. It never panics and never returns
// an error that should stop the batch; everything is encoded in the outcome.
func (p *Pipeline) process(ctx context.Context, id int) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{
				id:   id,
				kind: metrics.OutcomeUnrecognized,
				err:  fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	raw, err := p.fetcher.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return outcome{id: id, kind: metrics.OutcomeNotFound, err: err}
		}
		var te *directory.TransientError
		if errors.As(err, &te) {
			return outcome{id: id, kind: metrics.OutcomeTransient, err: err}
		}
		return outcome{id: id, kind: metrics.OutcomeUnrecognized, err: err}
	}

	page, err := p.pages(raw)
	if err != nil {
		return outcome{id: id, kind: metrics.OutcomeUnrecognized, err: err}
	}

	cand, err := parser.Parse(id, page)
	if err != nil {
		if reason, ok := parser.ReasonOf(err); ok {
			return outcome{id: id, kind: metrics.OutcomeSkipped, reason: reason.String(), err: err}
		}
		return outcome{id: id, kind: metrics.OutcomeUnrecognized, err: err}
	}

	loc, err := p.resolver.Resolve(ctx, cand)
	if err != nil {
		var f *resolver.Failure
		if errors.As(err, &f) {
			return outcome{id: id, kind: metrics.OutcomeUnresolved, reason: string(f.Reason), err: err}
		}
		return outcome{id: id, kind: metrics.OutcomeUnrecognized, err: err}
	}

	return outcome{
		id:   id,
		kind: metrics.OutcomeResolved,
		record: models.TournamentRecord{
			ID:       id,
			Name:     cand.Name,
			Date:     cand.Date,
			Level:    cand.Level,
			Region:   loc.Region,
			Position: loc.Position,
		},
	}
}

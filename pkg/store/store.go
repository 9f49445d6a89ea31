// Package store persists tournament records, the ingestion cursor and the
// subscription snapshot. Records are only ever upserted by id, so replaying
// a range after a crash is harmless.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matt2718/qbnotify/pkg/models"
)

// Store is implemented by every backend.
type Store interface {
	// UpsertRecord inserts rec or replaces the record with the same id.
	UpsertRecord(ctx context.Context, rec models.TournamentRecord) error
	// Records returns the records matching f in ascending id order.
	Records(ctx context.Context, f RecordFilter) ([]models.TournamentRecord, error)

	// LoadCursor returns the highest attempted id. It fails with ErrNotFound
	// before the first advance and ErrCorrupt if the stored value is not an
	// integer.
	LoadCursor(ctx context.Context) (int, error)
	// AdvanceCursor stores max(current, n) atomically and returns the value
	// now stored.
	AdvanceCursor(ctx context.Context, n int) (int, error)

	// Subscriptions returns a snapshot of every subscription ordered by
	// owner and id.
	Subscriptions(ctx context.Context) ([]models.Subscription, error)
	// PutSubscription stores sub. A zero ID is replaced by the owner's next
	// sequence number.
	PutSubscription(ctx context.Context, sub models.Subscription) (models.Subscription, error)

	Close() error
}

// RecordFilter narrows Records. Zero fields match everything.
type RecordFilter struct {
	Region string
	Levels models.LevelSet
	// From keeps records dated on or after this day.
	From time.Time
	// Limit caps the number of records returned.
	Limit int
}

// Match reports whether rec passes the filter.
func (f RecordFilter) Match(rec models.TournamentRecord) bool {
	if f.Region != "" && rec.Region != f.Region {
		return false
	}
	if !f.Levels.Empty() && !f.Levels.Has(rec.Level) {
		return false
	}
	if !f.From.IsZero() && rec.Date.Before(models.DateOnly(f.From)) {
		return false
	}
	return true
}

var (
	ErrNotFound = errors.New("not found")
	ErrCorrupt  = errors.New("corrupt value")
)

// Kind classifies a StorageError.
type Kind uint8

const (
	KindBackend Kind = iota
	KindNotFound
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindCorrupt:
		return "corrupt"
	}
	return "backend"
}

// StorageError is returned by every Store method. Callers distinguish the
// cursor conditions with errors.Is(err, ErrNotFound) and ErrCorrupt.
type StorageError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: KindBackend, Op: op, Err: err}
}

func notFound(op string) error {
	return &StorageError{Kind: KindNotFound, Op: op, Err: ErrNotFound}
}

func corrupt(op, value string) error {
	return &StorageError{Kind: KindCorrupt, Op: op, Err: fmt.Errorf("%w: %q", ErrCorrupt, value)}
}

const dateLayout = "2006-01-02"

func isKind(err error, k Kind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == k
}

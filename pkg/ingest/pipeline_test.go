package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matt2718/qbnotify/pkg/directory"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/parser"
	"github.com/matt2718/qbnotify/pkg/resolver"
	"github.com/matt2718/qbnotify/pkg/store"
)

type page struct {
	subtitle string
	address  string
}

func (p page) Missing() bool    { return false }
func (p page) Title() string    { return "Tournament" }
func (p page) Subtitle() string { return p.subtitle }

func (p page) Field(label string) (string, bool) {
	if label == "Address" && p.address != "" {
		return p.address, true
	}
	return "", false
}

type fakeDirectory struct {
	mu      sync.Mutex
	maxID   int
	pages   map[int]page
	missing map[int]bool
	fetched []int
}

func (d *fakeDirectory) Fetch(_ context.Context, id int) (directory.Raw, error) {
	d.mu.Lock()
	d.fetched = append(d.fetched, id)
	d.mu.Unlock()
	if d.missing[id] {
		return directory.Raw{}, directory.ErrNotFound
	}
	if _, ok := d.pages[id]; !ok {
		return directory.Raw{}, &directory.TransientError{ID: id, Status: 503}
	}
	return directory.Raw{ID: id}, nil
}

func (d *fakeDirectory) MaxID(context.Context) (int, error) { return d.maxID, nil }

func (d *fakeDirectory) page(raw directory.Raw) (parser.ParsedPage, error) {
	return d.pages[raw.ID], nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, c parser.Candidate) (resolver.Location, error) {
	switch c.Address {
	case "Denver, CO":
		return resolver.Location{Position: models.Position{Lat: 39.7, Lon: -105}, Region: "CO"}, nil
	case "boom":
		panic("resolver exploded")
	}
	return resolver.Location{}, &resolver.Failure{ID: c.ID, Reason: resolver.GeocodeFailed}
}

const future = "H tournament on March 5 - March 6, 2031"

func good() page { return page{subtitle: future, address: "Denver, CO"} }

func newStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPipeline(d *fakeDirectory, s store.Store, opts ...Option) *Pipeline {
	opts = append([]Option{WithPages(d.page), WithWorkers(3)}, opts...)
	return New(d, fakeResolver{}, s, opts...)
}

func drain(t *testing.T, b *Batch) []int {
	t.Helper()
	var ids []int
	for b.Next(context.Background()) {
		ids = append(ids, b.Record().ID)
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBatchEmitsInOrder(t *testing.T) {
	d := &fakeDirectory{
		maxID: 8,
		pages: map[int]page{
			1: good(),
			2: {subtitle: "no heading"},
			3: good(),
			4: {subtitle: future, address: "Online"},
			5: good(),
			6: {subtitle: future, address: "Nowhere"},
			7: good(),
			8: {subtitle: future, address: "TBA"},
		},
	}
	s := newStore(t)

	b, err := newPipeline(d, s).Run(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(t, b); !equalInts(got, []int{1, 3, 5, 7}) {
		t.Errorf("emitted %v, want [1 3 5 7]", got)
	}
	if b.Err() != nil {
		t.Fatalf("Err() = %v", b.Err())
	}
	if b.Marker() != 7 || b.Attempted() != 8 {
		t.Errorf("marker %d attempted %d, want 7 and 8", b.Marker(), b.Attempted())
	}
	if c, _ := s.LoadCursor(context.Background()); c != 8 {
		t.Errorf("cursor = %d, want 8", c)
	}
}

func TestZeroResolvedReportsStartMinusOne(t *testing.T) {
	d := &fakeDirectory{
		maxID: 20,
		pages: map[int]page{
			10: {subtitle: future, address: "Nowhere"},
			11: {subtitle: "X tournament on May 1, 2031", address: "Denver, CO"},
			12: {subtitle: future, address: "Nowhere"},
		},
	}
	s := newStore(t)
	if _, err := s.AdvanceCursor(context.Background(), 9); err != nil {
		t.Fatal(err)
	}

	b, err := newPipeline(d, s).Run(context.Background(), 10, 12)
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(t, b); len(got) != 0 {
		t.Errorf("emitted %v, want nothing", got)
	}
	if b.Marker() != 9 {
		t.Errorf("Marker() = %d, want 9", b.Marker())
	}
	if c, _ := s.LoadCursor(context.Background()); c != 12 {
		t.Errorf("cursor = %d, want 12", c)
	}
}

func TestStopsAtMissingID(t *testing.T) {
	d := &fakeDirectory{
		maxID:   10,
		pages:   map[int]page{1: good(), 2: good(), 3: good(), 5: good(), 6: good()},
		missing: map[int]bool{4: true},
	}
	s := newStore(t)

	b, err := newPipeline(d, s).Run(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(t, b); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("emitted %v, want [1 2 3]", got)
	}
	if b.Err() != nil {
		t.Fatal(b.Err())
	}
	if c, _ := s.LoadCursor(context.Background()); c != 3 {
		t.Errorf("cursor = %d, want 3", c)
	}
	recs, _ := s.Records(context.Background(), store.RecordFilter{})
	if len(recs) != 3 {
		t.Errorf("stored %d records, want 3", len(recs))
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	d := &fakeDirectory{maxID: 3, pages: map[int]page{1: good(), 2: good(), 3: good()}}
	s := newStore(t)
	p := newPipeline(d, s)

	for run := 0; run < 2; run++ {
		b, err := p.Run(context.Background(), 1, 3)
		if err != nil {
			t.Fatal(err)
		}
		drain(t, b)
	}
	recs, err := s.Records(context.Background(), store.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("stored %d records after replay, want 3", len(recs))
	}
}

func TestPanicIsTreatedAsSkip(t *testing.T) {
	d := &fakeDirectory{
		maxID: 3,
		pages: map[int]page{1: good(), 2: {subtitle: future, address: "boom"}, 3: good()},
	}
	b, err := newPipeline(d, newStore(t)).Run(context.Background(), 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(t, b); !equalInts(got, []int{1, 3}) {
		t.Errorf("emitted %v, want [1 3]", got)
	}
	if b.Err() != nil {
		t.Errorf("Err() = %v", b.Err())
	}
}

type brokenStore struct {
	store.Store
	upsertErr error
	cursorErr error
}

func (s brokenStore) UpsertRecord(ctx context.Context, rec models.TournamentRecord) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.UpsertRecord(ctx, rec)
}

func (s brokenStore) LoadCursor(ctx context.Context) (int, error) {
	if s.cursorErr != nil {
		return 0, s.cursorErr
	}
	return s.Store.LoadCursor(ctx)
}

func TestStorageErrorAbortsBatch(t *testing.T) {
	d := &fakeDirectory{maxID: 3, pages: map[int]page{1: good(), 2: good(), 3: good()}}
	inner := newStore(t)
	s := brokenStore{Store: inner, upsertErr: &store.StorageError{Kind: store.KindBackend, Op: "upsert record", Err: errors.New("disk full")}}

	b, err := newPipeline(d, s).Run(context.Background(), 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(t, b); len(got) != 0 {
		t.Errorf("emitted %v", got)
	}
	var se *store.StorageError
	if !errors.As(b.Err(), &se) {
		t.Fatalf("Err() = %v, want StorageError", b.Err())
	}
	if _, err := inner.LoadCursor(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cursor was written after a storage failure: %v", err)
	}
}

func TestRunRejectsUnreachableStore(t *testing.T) {
	d := &fakeDirectory{maxID: 3}
	s := brokenStore{Store: newStore(t), cursorErr: &store.StorageError{Kind: store.KindBackend, Op: "load cursor", Err: errors.New("connection refused")}}
	if _, err := newPipeline(d, s).Run(context.Background(), 1, 3); err == nil {
		t.Fatal("Run succeeded against an unreachable store")
	}
	if len(d.fetched) != 0 {
		t.Errorf("fetched %v before failing", d.fetched)
	}
}

func TestLockFileSerializesBatches(t *testing.T) {
	d := &fakeDirectory{maxID: 1, pages: map[int]page{1: good()}}
	s := newStore(t)
	lock := filepath.Join(t.TempDir(), "run.lock")
	p := newPipeline(d, s, WithLockFile(lock))

	first, err := p.Run(context.Background(), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), 1, 1); !errors.Is(err, ErrBusy) {
		t.Errorf("second Run error = %v, want ErrBusy", err)
	}
	drain(t, first)

	second, err := p.Run(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Run after release: %v", err)
	}
	second.Close()
}

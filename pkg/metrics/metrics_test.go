package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBucketLabel(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Millisecond, "le_10ms"},
		{10 * time.Millisecond, "le_10ms"},
		{300 * time.Millisecond, "le_1000ms"},
		{time.Minute, "gt_30000ms"},
	}
	for _, tt := range tests {
		if got := bucketLabel(tt.d); got != tt.want {
			t.Errorf("bucketLabel(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestPipelineCounters(t *testing.T) {
	Reset()
	RecordOutcome(OutcomeResolved, "")
	RecordOutcome(OutcomeSkipped, "tba_location")
	RecordOutcome(OutcomeSkipped, "tba_location")
	RecordBatch(BatchSummary{RunID: "r1", Start: 5, End: 9, Attempted: 5, Resolved: 1, Marker: 7})
	RecordBatch(BatchSummary{RunID: "r2", Failed: true})
	RecordDigest(true)
	RecordDigest(false)

	s := Snapshot().Pipeline
	if s.Batches != 2 || s.BatchFailures != 1 {
		t.Errorf("batches = %d/%d", s.Batches, s.BatchFailures)
	}
	if s.Outcomes["resolved"] != 1 || s.Outcomes["skipped:tba_location"] != 2 {
		t.Errorf("outcomes = %v", s.Outcomes)
	}
	if s.DigestsSent != 1 || s.DigestsFailed != 1 {
		t.Errorf("digests = %d/%d", s.DigestsSent, s.DigestsFailed)
	}
	if s.LastBatch == nil || s.LastBatch.RunID != "r2" {
		t.Errorf("last batch = %+v", s.LastBatch)
	}
}

func TestInstrumentAndStatsHandler(t *testing.T) {
	Reset()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	for _, path := range []string{"/", "/", "/bad"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	StatsHandler(rec, httptest.NewRequest(http.MethodGet, StatsPath, nil))
	var got Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.HTTP.TotalRequests != 3 || got.HTTP.TotalErrors != 1 {
		t.Errorf("http totals = %+v", got.HTTP)
	}
	if got.HTTP.RequestsByMethodAndStatus["GET"]["200"] != 2 || got.HTTP.RequestsByMethodAndStatus["GET"]["401"] != 1 {
		t.Errorf("by method/status = %v", got.HTTP.RequestsByMethodAndStatus)
	}
}

func TestRegionCacheStats(t *testing.T) {
	Reset()
	if got := Snapshot().RegionCache; got != nil {
		t.Errorf("RegionCache without a source = %v", got)
	}

	SetCacheStats(func() (map[string]int, error) {
		return map[string]int{"total_entries": 3, "region:CO": 2}, nil
	})
	defer SetCacheStats(nil)

	if got := Snapshot().RegionCache; got["total_entries"] != 3 || got["region:CO"] != 2 {
		t.Errorf("RegionCache = %v", got)
	}
}

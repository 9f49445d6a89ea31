// Package metrics keeps process-wide counters for ingestion batches, record
// outcomes, digest delivery and the HTTP surface. Counters are published via
// expvar and summarized by StatsHandler.
package metrics

import (
	"encoding/json"
	"expvar"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	StatsPath     = "/stats"
	DebugVarsPath = "/debug/vars"
)

var (
	st       = newState()
	initOnce sync.Once
)

// Init publishes expvar variables. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		expvar.Publish("qbn_started_at", expvar.Func(func() any {
			return st.startedAt.Format(time.RFC3339)
		}))
		expvar.Publish("qbn_uptime_seconds", expvar.Func(func() any {
			return int64(time.Since(st.startedAt).Seconds())
		}))
		expvar.Publish("qbn_pipeline", expvar.Func(func() any {
			return Snapshot().Pipeline
		}))
		expvar.Publish("qbn_http", expvar.Func(func() any {
			return Snapshot().HTTP
		}))
		expvar.Publish("qbn_region_cache", expvar.Func(func() any {
			return Snapshot().RegionCache
		}))
	})
}

// Outcome kinds recorded per tournament id.
const (
	OutcomeResolved     = "resolved"
	OutcomeSkipped      = "skipped"
	OutcomeUnresolved   = "unresolved"
	OutcomeTransient    = "transient"
	OutcomeUnrecognized = "unrecognized"
	OutcomeNotFound     = "not_found"
)

// RecordOutcome counts one processed id. reason refines kind (a skip reason
// or resolution failure reason) and may be empty.
func RecordOutcome(kind, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := kind
	if reason != "" {
		key += ":" + reason
	}
	st.outcomes[key]++
}

// BatchSummary describes a finished batch.
type BatchSummary struct {
	RunID     string    `json:"run_id"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Attempted int       `json:"attempted"`
	Resolved  int       `json:"resolved"`
	Marker    int       `json:"marker"`
	Failed    bool      `json:"failed"`
	Finished  time.Time `json:"finished"`
}

// RecordBatch counts a finished batch and remembers it as the latest.
func RecordBatch(b BatchSummary) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.batches++
	if b.Failed {
		st.batchFailures++
	}
	st.lastBatch = &b
}

// RecordDigest counts one digest delivery attempt.
func RecordDigest(ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ok {
		st.digestsSent++
	} else {
		st.digestsFailed++
	}
}

// SetCacheStats registers the source of the region cache counters shown in
// Snapshot. A nil fn removes it.
func SetCacheStats(fn func() (map[string]int, error)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cacheStats = fn
}

// Instrument wraps an http.Handler to record request count, status codes and
// latency buckets.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		st.record(r.Method, sw.status, time.Since(start))
	})
}

// StatsHandler returns a compact JSON snapshot, suitable for quick human inspection.
func StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Snapshot())
}

// Stats is a point-in-time copy of every counter.
type Stats struct {
	StartedAt     string         `json:"started_at"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Pipeline      PipelineStats  `json:"pipeline"`
	HTTP          HTTPStats      `json:"http"`
	RegionCache   map[string]int `json:"region_cache,omitempty"`
}

type PipelineStats struct {
	Batches       int64            `json:"batches"`
	BatchFailures int64            `json:"batch_failures"`
	Outcomes      map[string]int64 `json:"outcomes"`
	DigestsSent   int64            `json:"digests_sent"`
	DigestsFailed int64            `json:"digests_failed"`
	LastBatch     *BatchSummary    `json:"last_batch,omitempty"`
}

type HTTPStats struct {
	TotalRequests             int64                       `json:"total_requests"`
	TotalErrors               int64                       `json:"total_errors"`
	AverageLatencyMs          float64                     `json:"avg_latency_ms"`
	RequestsByMethodAndStatus map[string]map[string]int64 `json:"requests_by_method_status"`
	DurationBuckets           map[string]map[string]int64 `json:"request_duration_ms_buckets"`
}

// Snapshot copies the current counters.
func Snapshot() Stats {
	now := time.Now()
	st.mu.Lock()
	cacheStats := st.cacheStats
	st.mu.Unlock()

	// The cache is read without holding st.mu.
	var regionCache map[string]int
	if cacheStats != nil {
		if stats, err := cacheStats(); err == nil {
			regionCache = stats
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	avgLatencyMs := float64(0)
	if st.totalReq > 0 {
		avgLatencyMs = float64(st.totalLatency.Milliseconds()) / float64(st.totalReq)
	}

	methodStatus := make(map[string]map[string]int64, len(st.byMethodStatus))
	for m, inner := range st.byMethodStatus {
		o2 := make(map[string]int64, len(inner))
		for code, c := range inner {
			o2[strconv.Itoa(code)] = c
		}
		methodStatus[m] = o2
	}
	buckets := make(map[string]map[string]int64, len(st.durationBuckets))
	for m, inner := range st.durationBuckets {
		o2 := make(map[string]int64, len(inner))
		for b, c := range inner {
			o2[b] = c
		}
		buckets[m] = o2
	}
	outcomes := make(map[string]int64, len(st.outcomes))
	for k, v := range st.outcomes {
		outcomes[k] = v
	}
	var last *BatchSummary
	if st.lastBatch != nil {
		b := *st.lastBatch
		last = &b
	}

	return Stats{
		StartedAt:     st.startedAt.Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(st.startedAt).Seconds()),
		Pipeline: PipelineStats{
			Batches:       st.batches,
			BatchFailures: st.batchFailures,
			Outcomes:      outcomes,
			DigestsSent:   st.digestsSent,
			DigestsFailed: st.digestsFailed,
			LastBatch:     last,
		},
		HTTP: HTTPStats{
			TotalRequests:             st.totalReq,
			TotalErrors:               st.totalErr,
			AverageLatencyMs:          avgLatencyMs,
			RequestsByMethodAndStatus: methodStatus,
			DurationBuckets:           buckets,
		},
		RegionCache: regionCache,
	}
}

// Reset clears every counter. Used by tests.
func Reset() {
	fresh := newState()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.startedAt = fresh.startedAt
	st.totalReq, st.totalErr, st.totalLatency = 0, 0, 0
	st.byMethodStatus = fresh.byMethodStatus
	st.durationBuckets = fresh.durationBuckets
	st.batches, st.batchFailures = 0, 0
	st.outcomes = fresh.outcomes
	st.digestsSent, st.digestsFailed = 0, 0
	st.lastBatch = nil
	st.cacheStats = nil
}

// ===== Internals =====

type metricsState struct {
	mu sync.Mutex

	startedAt time.Time

	totalReq     int64
	totalErr     int64
	totalLatency time.Duration

	// method -> statusCode -> count
	byMethodStatus map[string]map[int]int64
	// method -> bucketLabel -> count
	durationBuckets map[string]map[string]int64

	batches       int64
	batchFailures int64
	// kind[:reason] -> count
	outcomes      map[string]int64
	digestsSent   int64
	digestsFailed int64
	lastBatch     *BatchSummary

	cacheStats func() (map[string]int, error)
}

func newState() *metricsState {
	return &metricsState{
		startedAt:       time.Now(),
		byMethodStatus:  make(map[string]map[int]int64),
		durationBuckets: make(map[string]map[string]int64),
		outcomes:        make(map[string]int64),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *metricsState) record(method string, statusCode int, d time.Duration) {
	if method == "" {
		method = "UNKNOWN"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalReq++
	if statusCode >= 400 {
		s.totalErr++
	}
	s.totalLatency += d

	if _, ok := s.byMethodStatus[method]; !ok {
		s.byMethodStatus[method] = make(map[int]int64)
	}
	s.byMethodStatus[method][statusCode]++

	bucket := bucketLabel(d)
	if _, ok := s.durationBuckets[method]; !ok {
		s.durationBuckets[method] = make(map[string]int64)
	}
	s.durationBuckets[method][bucket]++
}

var bucketBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	250 * time.Millisecond,
	1000 * time.Millisecond,
	5000 * time.Millisecond,
	30000 * time.Millisecond,
}

func bucketLabel(d time.Duration) string {
	for _, b := range bucketBounds {
		if d <= b {
			return "le_" + strconv.FormatInt(b.Milliseconds(), 10) + "ms"
		}
	}
	return "gt_30000ms"
}

// Package server exposes the scrape trigger and read-only views over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/ingest"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/metrics"
	"github.com/matt2718/qbnotify/pkg/models"
)

// Runner is the scrape-and-notify service behind the endpoints.
type Runner interface {
	ScrapeAndNotify(ctx context.Context, start, end int, emit func(line string) error) error
	Upcoming(ctx context.Context) ([]models.UpcomingEntry, error)
}

// FailedTrailer ends a scrape response whose batch failed after lines were
// already sent.
const FailedTrailer = "error"

type Server struct {
	runner   Runner
	adminKey string
	bind     string
}

func New(cfg *config.Config, runner Runner) *Server {
	return &Server{runner: runner, adminKey: cfg.Server.AdminKey, bind: cfg.Server.Bind}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)

	r.Get("/sn", s.handleScrape)
	r.Get("/upcoming.json", s.handleUpcoming)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Get(metrics.StatsPath, metrics.StatsHandler)
	r.Handle(metrics.DebugVarsPath, expvar.Handler())
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: /sn streams for as long as the batch runs.
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server on %s...", s.bind)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type scrapeRequest struct {
	start int
	end   int
}

// parseScrape validates /sn parameters in the order the pull client relies
// on: presence, then the key, then the integer bounds.
func (s *Server) parseScrape(r *http.Request) (scrapeRequest, error) {
	q := r.URL.Query()
	key, start, end := q.Get("key"), strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	if key == "" {
		return scrapeRequest{}, missing("key")
	}
	if start == "" {
		return scrapeRequest{}, missing("start")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
		return scrapeRequest{}, &AuthorizationError{}
	}

	req := scrapeRequest{}
	n, err := strconv.Atoi(start)
	if err != nil {
		return scrapeRequest{}, notInteger("start", start)
	}
	req.start = n
	if end != "" {
		n, err := strconv.Atoi(end)
		if err != nil {
			return scrapeRequest{}, notInteger("end", end)
		}
		req.end = n
	}
	return req, nil
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseScrape(r)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	rc := http.NewResponseController(w)
	wrote := false
	emit := func(line string) error {
		wrote = true
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return err
		}
		return rc.Flush()
	}

	err = s.runner.ScrapeAndNotify(r.Context(), req.start, req.end, emit)
	if err == nil {
		return
	}
	if wrote {
		// The status line is gone, so end the body with a non-integer line
		// that clients must not take for a marker.
		logger.Error("Scrape from %d failed mid-stream: %v", req.start, err)
		_ = emit(FailedTrailer)
		return
	}
	logger.Error("Scrape from %d failed: %v", req.start, err)
	if errors.Is(err, ingest.ErrBusy) {
		http.Error(w, "another batch is running", http.StatusConflict)
		return
	}
	http.Error(w, "scrape failed", http.StatusInternalServerError)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runner.Upcoming(r.Context())
	if err != nil {
		logger.Error("Listing upcoming tournaments: %v", err)
		http.Error(w, "could not list tournaments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

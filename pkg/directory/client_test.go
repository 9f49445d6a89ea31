package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/db/tournaments/7", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "qbtest" {
			t.Errorf("User-Agent = %q", got)
		}
		fmt.Fprint(w, `<div class="MultilineHeading"><h2>Spring Open</h2></div>`)
	})
	mux.HandleFunc("/db/tournaments/7/gpx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><gpx><wpt lat="39.74" lon="-104.99"><name>x</name></wpt></gpx>`)
	})
	mux.HandleFunc("/db/tournaments/8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/db/tournaments/8/gpx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<gpx></gpx>`)
	})
	mux.HandleFunc("/db/tournaments/dbstats.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="list.php?min=1&max=6512">All tournaments</a>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/", 0, "qbtest")
	ctx := context.Background()

	raw, err := c.Fetch(ctx, 7)
	if err != nil {
		t.Fatalf("Fetch(7): %v", err)
	}
	if raw.ID != 7 || raw.URL != srv.URL+"/db/tournaments/7" || len(raw.Body) == 0 {
		t.Errorf("Fetch(7) = %+v", raw)
	}

	if _, err := c.Fetch(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(99) error = %v, want ErrNotFound", err)
	}

	_, err = c.Fetch(ctx, 8)
	var te *TransientError
	if !errors.As(err, &te) || te.Status != http.StatusBadGateway || te.ID != 8 {
		t.Errorf("Fetch(8) error = %v, want TransientError 502", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 0, "").Fetch(context.Background(), 1)
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransientError", err)
	}
}

func TestWaypoint(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, 0, "qbtest")
	ctx := context.Background()

	pos, ok, err := c.Waypoint(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Waypoint(7) = %v, %v, %v", pos, ok, err)
	}
	if pos.Lat != 39.74 || pos.Lon != -104.99 {
		t.Errorf("Waypoint(7) = %v", pos)
	}

	if _, ok, err := c.Waypoint(ctx, 8); ok || err != nil {
		t.Errorf("Waypoint(8) = %v, %v; want no waypoint", ok, err)
	}
	if _, ok, err := c.Waypoint(ctx, 99); ok || err != nil {
		t.Errorf("Waypoint(99) = %v, %v; want no waypoint", ok, err)
	}
}

func TestParseWaypointRejectsBadCoordinates(t *testing.T) {
	tests := []string{
		`<wpt lat="abc" lon="1"></wpt>`,
		`<wpt lat="1"></wpt>`,
		`<wpt lat="91" lon="0"></wpt>`,
	}
	for _, body := range tests {
		if _, _, err := parseWaypoint([]byte(body)); err == nil {
			t.Errorf("parseWaypoint(%q) succeeded", body)
		}
	}
}

func TestMaxID(t *testing.T) {
	srv := newTestServer(t)
	n, err := New(srv.URL, 0, "qbtest").MaxID(context.Background())
	if err != nil {
		t.Fatalf("MaxID: %v", err)
	}
	if n != 6512 {
		t.Errorf("MaxID = %d, want 6512", n)
	}
}

func TestMaxIDMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "nothing here")
	}))
	defer srv.Close()

	if _, err := New(srv.URL, 0, "").MaxID(context.Background()); err == nil {
		t.Error("MaxID succeeded on a page without max=")
	}
}

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/matt2718/qbnotify/pkg/cache"
	"github.com/matt2718/qbnotify/pkg/geocode"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/parser"
)

type fakeWaypoints map[int]models.Position

func (f fakeWaypoints) Waypoint(_ context.Context, id int) (models.Position, bool, error) {
	if id < 0 {
		return models.Position{}, false, errors.New("connection reset")
	}
	p, ok := f[id]
	return p, ok, nil
}

type fakeGeocoder struct {
	answers  map[string]geocode.Result
	regions  map[models.Position]string
	queries  []string
	reverses int
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (geocode.Result, error) {
	f.queries = append(f.queries, address)
	if res, ok := f.answers[address]; ok {
		return res, nil
	}
	return geocode.Result{}, &geocode.Failure{Reason: geocode.ReasonNoResults, Query: address}
}

func (f *fakeGeocoder) Reverse(_ context.Context, pos models.Position) (string, error) {
	f.reverses++
	if r, ok := f.regions[pos]; ok {
		return r, nil
	}
	return "", &geocode.Failure{Reason: geocode.ReasonStatus, Query: pos.String()}
}

var (
	denver  = models.Position{Lat: 39.7392, Lon: -104.9903}
	toronto = models.Position{Lat: 43.65, Lon: -79.38}
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		candidate   parser.Candidate
		want        Location
		wantReason  Reason
		wantQueries []string
		wantReverse int
	}{
		{
			name:      "waypoint with state in address",
			candidate: parser.Candidate{ID: 1, Address: "Stratford ON Avon, CT"},
			want:      Location{Position: denver, Region: "CT"},
		},
		{
			name:        "waypoint without state asks geocoder",
			candidate:   parser.Candidate{ID: 2, Address: "Main Library"},
			want:        Location{Position: toronto, Region: "ON"},
			wantReverse: 1,
		},
		{
			name:        "waypoint nobody can place",
			candidate:   parser.Candidate{ID: 3, Address: "Somewhere"},
			wantReason:  RegionUnknown,
			wantReverse: 1,
		},
		{
			name:        "address geocoded",
			candidate:   parser.Candidate{ID: 10, Address: "Denver, CO", HostLocation: "East High"},
			want:        Location{Position: denver, Region: "CO"},
			wantQueries: []string{"Denver, CO"},
		},
		{
			name:        "host location fallback",
			candidate:   parser.Candidate{ID: 11, Address: "Room 101", HostLocation: "Denver, CO"},
			want:        Location{Position: denver, Region: "CO"},
			wantQueries: []string{"Room 101", "Denver, CO"},
		},
		{
			name:        "same text is not retried",
			candidate:   parser.Candidate{ID: 12, Address: "Room 101", HostLocation: "Room 101"},
			wantReason:  GeocodeFailed,
			wantQueries: []string{"Room 101"},
		},
		{
			name:       "no location text",
			candidate:  parser.Candidate{ID: 13},
			wantReason: NoLocation,
		},
		{
			name:        "waypoint lookup error falls through to geocoding",
			candidate:   parser.Candidate{ID: -1, Address: "Denver, CO"},
			want:        Location{Position: denver, Region: "CO"},
			wantQueries: []string{"Denver, CO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo := &fakeGeocoder{
				answers: map[string]geocode.Result{"Denver, CO": {Position: denver, Region: "CO"}},
				regions: map[models.Position]string{toronto: "ON"},
			}
			waypoints := fakeWaypoints{1: denver, 2: toronto, 3: {Lat: 10, Lon: 10}}
			r := New(waypoints, geo, nil)

			got, err := r.Resolve(context.Background(), tt.candidate)
			if tt.wantReason != "" {
				var f *Failure
				if !errors.As(err, &f) {
					t.Fatalf("Resolve() error = %v, want *Failure", err)
				}
				if f.Reason != tt.wantReason || f.ID != tt.candidate.ID {
					t.Errorf("failure = %+v, want reason %s", f, tt.wantReason)
				}
			} else {
				if err != nil {
					t.Fatalf("Resolve() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
				}
			}

			if len(geo.queries) != len(tt.wantQueries) {
				t.Fatalf("geocode queries = %q, want %q", geo.queries, tt.wantQueries)
			}
			for i := range geo.queries {
				if geo.queries[i] != tt.wantQueries[i] {
					t.Errorf("query %d = %q, want %q", i, geo.queries[i], tt.wantQueries[i])
				}
			}
			if geo.reverses != tt.wantReverse {
				t.Errorf("reverse lookups = %d, want %d", geo.reverses, tt.wantReverse)
			}
		})
	}
}

func TestReverseLookupsAreMemoized(t *testing.T) {
	geo := &fakeGeocoder{regions: map[models.Position]string{toronto: "ON"}}
	nearby := models.Position{Lat: 43.6501, Lon: -79.3801}
	r := New(fakeWaypoints{1: toronto, 2: nearby}, geo, cache.NewMemoryStore())

	for _, id := range []int{1, 2} {
		loc, err := r.Resolve(context.Background(), parser.Candidate{ID: id, Address: "Convention Centre"})
		if err != nil {
			t.Fatalf("Resolve(%d): %v", id, err)
		}
		if loc.Region != "ON" {
			t.Errorf("Resolve(%d) region = %q", id, loc.Region)
		}
	}
	if geo.reverses != 1 {
		t.Errorf("reverse lookups = %d, want 1", geo.reverses)
	}
}

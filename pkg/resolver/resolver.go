// Package resolver finds the position and region of a parsed tournament,
// spending as few geocoding calls as possible.
package resolver

import (
	"context"
	"fmt"

	"github.com/matt2718/qbnotify/pkg/cache"
	"github.com/matt2718/qbnotify/pkg/geocode"
	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/parser"
	"github.com/matt2718/qbnotify/pkg/region"
)

// Waypoints looks up a coordinate published alongside a tournament.
type Waypoints interface {
	Waypoint(ctx context.Context, id int) (models.Position, bool, error)
}

// Location is a resolved position and region.
type Location struct {
	Position models.Position
	Region   string
}

// Reason says why resolution failed.
type Reason string

const (
	NoLocation    Reason = "no_location"
	GeocodeFailed Reason = "geocode_failed"
	RegionUnknown Reason = "region_unknown"
)

// Failure is an expected, per-record resolution failure.
type Failure struct {
	ID     int
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("tournament %d: resolution failed (%s): %v", f.ID, f.Reason, f.Err)
	}
	return fmt.Sprintf("tournament %d: resolution failed (%s)", f.ID, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Resolver runs the resolution chain: waypoint, then address geocoding, then
// host-location geocoding.
type Resolver struct {
	waypoints Waypoints
	geocoder  geocode.Geocoder
	regions   cache.Store
}

// New creates a resolver. regions memoizes reverse lookups; a nil store
// falls back to an in-memory one.
func New(waypoints Waypoints, geocoder geocode.Geocoder, regions cache.Store) *Resolver {
	if regions == nil {
		regions = cache.NewMemoryStore()
	}
	return &Resolver{waypoints: waypoints, geocoder: geocoder, regions: regions}
}

// Resolve locates c. Every failure is returned as *Failure.
func (r *Resolver) Resolve(ctx context.Context, c parser.Candidate) (Location, error) {
	log := logger.With("tournament_id", c.ID)

	pos, ok, err := r.waypoints.Waypoint(ctx, c.ID)
	if err != nil {
		log.Warn("Waypoint lookup for tournament %d failed, geocoding instead: %v", c.ID, err)
	}
	if ok {
		reg, err := r.regionFor(ctx, c, pos)
		if err != nil {
			return Location{}, &Failure{ID: c.ID, Reason: RegionUnknown, Err: err}
		}
		return Location{Position: pos, Region: reg}, nil
	}

	if c.Address == "" {
		return Location{}, &Failure{ID: c.ID, Reason: NoLocation}
	}

	res, err := r.geocoder.Geocode(ctx, c.Address)
	if err != nil && c.HostLocation != "" && c.HostLocation != c.Address {
		log.Debug("Geocoding address of tournament %d failed, trying host location: %v", c.ID, err)
		res, err = r.geocoder.Geocode(ctx, c.HostLocation)
	}
	if err != nil {
		return Location{}, &Failure{ID: c.ID, Reason: GeocodeFailed, Err: err}
	}
	return Location{Position: res.Position, Region: res.Region}, nil
}

// regionFor labels a waypoint. Text in the address is tried first; the
// geocoder is only asked when the text names no state or province.
func (r *Resolver) regionFor(ctx context.Context, c parser.Candidate, pos models.Position) (string, error) {
	for _, text := range []string{c.Address, c.HostLocation} {
		if code, ok := region.FromAddress(text); ok {
			return code, nil
		}
	}

	if e, ok, err := r.regions.Get(pos); err != nil {
		logger.Warn("Region cache read failed for %s: %v", cache.Key(pos), err)
	} else if ok {
		return e.Region, nil
	}

	reg, err := r.geocoder.Reverse(ctx, pos)
	if err != nil {
		return "", err
	}
	if err := r.regions.Set(pos, reg); err != nil {
		logger.Warn("Region cache write failed for %s: %v", cache.Key(pos), err)
	}
	return reg, nil
}

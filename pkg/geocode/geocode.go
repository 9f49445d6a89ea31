// Package geocode resolves free-text addresses to coordinates and coarse
// regions, and coordinates back to regions.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/models"
)

// Result is one geocoding answer.
type Result struct {
	Position models.Position
	Region   string
}

// Geocoder is implemented by every geocoding provider.
type Geocoder interface {
	// Geocode looks up a free-text address.
	Geocode(ctx context.Context, address string) (Result, error)
	// Reverse finds the region containing pos.
	Reverse(ctx context.Context, pos models.Position) (string, error)
}

// FailureReason says why a lookup produced no usable result.
type FailureReason string

const (
	ReasonTransport  FailureReason = "transport"
	ReasonHTTPStatus FailureReason = "http_status"
	ReasonMalformed  FailureReason = "malformed_response"
	ReasonNoResults  FailureReason = "no_results"
	ReasonStatus     FailureReason = "status"
	ReasonNoRegion   FailureReason = "no_region"
)

// Failure is returned for every unsuccessful lookup. It is never fatal to the
// caller's batch.
type Failure struct {
	Reason FailureReason
	Query  string
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("geocoding %q failed (%s)", f.Query, f.Reason)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// RegionFor maps a country code and first-level administrative area code to
// a region label. It reports false when a US or Canadian result lacks the
// administrative area.
func RegionFor(country, adminArea string) (string, bool) {
	switch strings.ToUpper(country) {
	case "GB":
		return models.RegionUK, true
	case "US", "CA":
		if adminArea == "" {
			return "", false
		}
		return strings.ToUpper(adminArea), true
	default:
		return models.RegionOther, true
	}
}

// New returns the provider selected in cfg.
func New(cfg *config.Config) (Geocoder, error) {
	client := &http.Client{Timeout: cfg.GeocodeTimeout()}
	switch strings.ToLower(cfg.Geocode.Provider) {
	case "google":
		return NewGoogle(cfg.Geocode.BaseURL, cfg.Geocode.APIKey, client), nil
	case "nominatim":
		return NewNominatim(cfg.Geocode.BaseURL, cfg.Directory.UserAgent, client), nil
	}
	return nil, &config.ConfigurationError{Field: "geocode.provider", Err: fmt.Errorf("unknown provider %q", cfg.Geocode.Provider)}
}

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

const googleBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Google queries the Google Maps Geocoding API.
type Google struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewGoogle(baseURL, apiKey string, client *http.Client) *Google {
	if baseURL == "" {
		baseURL = googleBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Google{baseURL: baseURL, apiKey: apiKey, client: client}
}

type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	AddressComponents []googleComponent `json:"address_components"`
}

type googleComponent struct {
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (r googleResult) component(kind string) string {
	for _, c := range r.AddressComponents {
		if slices.Contains(c.Types, kind) {
			return c.ShortName
		}
	}
	return ""
}

func (r googleResult) region() (string, bool) {
	return RegionFor(r.component("country"), r.component("administrative_area_level_1"))
}

func (g *Google) Geocode(ctx context.Context, address string) (Result, error) {
	res, err := g.lookup(ctx, address, url.Values{"address": {address}})
	if err != nil {
		return Result{}, err
	}
	pos := models.Position{Lat: res.Geometry.Location.Lat, Lon: res.Geometry.Location.Lng}
	if err := pos.Validate(); err != nil {
		return Result{}, &Failure{Reason: ReasonMalformed, Query: address, Err: err}
	}
	region, ok := res.region()
	if !ok {
		return Result{}, &Failure{Reason: ReasonNoRegion, Query: address}
	}
	return Result{Position: pos, Region: region}, nil
}

func (g *Google) Reverse(ctx context.Context, pos models.Position) (string, error) {
	latlng := strconv.FormatFloat(pos.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(pos.Lon, 'f', -1, 64)
	res, err := g.lookup(ctx, latlng, url.Values{"latlng": {latlng}})
	if err != nil {
		return "", err
	}
	region, ok := res.region()
	if !ok {
		return "", &Failure{Reason: ReasonNoRegion, Query: latlng}
	}
	return region, nil
}

func (g *Google) lookup(ctx context.Context, query string, params url.Values) (googleResult, error) {
	params.Set("key", g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return googleResult{}, &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}

	logger.Debug("Google geocoding query: %s", query)
	resp, err := g.client.Do(req)
	if err != nil {
		return googleResult{}, &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return googleResult{}, &Failure{Reason: ReasonHTTPStatus, Query: query, Detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return googleResult{}, &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}
	var parsed googleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return googleResult{}, &Failure{Reason: ReasonMalformed, Query: query, Err: err}
	}

	switch {
	case parsed.Status == "ZERO_RESULTS":
		return googleResult{}, &Failure{Reason: ReasonNoResults, Query: query}
	case parsed.Status != "OK":
		detail := strings.TrimSpace(parsed.Status + " " + parsed.ErrorMessage)
		return googleResult{}, &Failure{Reason: ReasonStatus, Query: query, Detail: detail}
	case len(parsed.Results) == 0:
		return googleResult{}, &Failure{Reason: ReasonNoResults, Query: query}
	}
	return parsed.Results[0], nil
}

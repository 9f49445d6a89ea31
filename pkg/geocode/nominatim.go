package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

const nominatimBaseURL = "https://nominatim.openstreetmap.org"

// Nominatim queries an OpenStreetMap Nominatim instance.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = nominatimBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Nominatim{baseURL: strings.TrimRight(baseURL, "/"), userAgent: userAgent, client: client}
}

type nominatimPlace struct {
	Lat     string           `json:"lat"`
	Lon     string           `json:"lon"`
	Name    string           `json:"display_name"`
	Error   string           `json:"error"`
	Address nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	CountryCode string `json:"country_code"`
	// ISO3166Lvl4 looks like "US-CO".
	ISO3166Lvl4 string `json:"ISO3166-2-lvl4"`
}

func (p nominatimPlace) region() (string, bool) {
	_, admin, _ := strings.Cut(p.Address.ISO3166Lvl4, "-")
	return RegionFor(p.Address.CountryCode, admin)
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (Result, error) {
	params := url.Values{
		"q":              {address},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}
	var places []nominatimPlace
	if err := n.get(ctx, "/search", address, params, &places); err != nil {
		return Result{}, err
	}
	if len(places) == 0 {
		return Result{}, &Failure{Reason: ReasonNoResults, Query: address}
	}

	place := places[0]
	lat, errLat := strconv.ParseFloat(place.Lat, 64)
	lon, errLon := strconv.ParseFloat(place.Lon, 64)
	if errLat != nil || errLon != nil {
		return Result{}, &Failure{Reason: ReasonMalformed, Query: address, Detail: fmt.Sprintf("coordinates %q, %q", place.Lat, place.Lon)}
	}
	pos := models.Position{Lat: lat, Lon: lon}
	if err := pos.Validate(); err != nil {
		return Result{}, &Failure{Reason: ReasonMalformed, Query: address, Err: err}
	}
	region, ok := place.region()
	if !ok {
		return Result{}, &Failure{Reason: ReasonNoRegion, Query: address, Detail: place.Name}
	}
	return Result{Position: pos, Region: region}, nil
}

func (n *Nominatim) Reverse(ctx context.Context, pos models.Position) (string, error) {
	query := pos.String()
	params := url.Values{
		"lat":            {strconv.FormatFloat(pos.Lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(pos.Lon, 'f', -1, 64)},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"zoom":           {"5"},
	}
	var place nominatimPlace
	if err := n.get(ctx, "/reverse", query, params, &place); err != nil {
		return "", err
	}
	if place.Error != "" {
		return "", &Failure{Reason: ReasonStatus, Query: query, Detail: place.Error}
	}
	region, ok := place.region()
	if !ok {
		return "", &Failure{Reason: ReasonNoRegion, Query: query, Detail: place.Name}
	}
	return region, nil
}

func (n *Nominatim) get(ctx context.Context, path, query string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	logger.Debug("Nominatim %s query: %s", path, query)
	resp, err := n.client.Do(req)
	if err != nil {
		return &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Failure{Reason: ReasonHTTPStatus, Query: query, Detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Failure{Reason: ReasonTransport, Query: query, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Failure{Reason: ReasonMalformed, Query: query, Err: err}
	}
	return nil
}

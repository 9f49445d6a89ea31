package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/models"
)

const (
	DefaultUserAgent = "qbnotify/1.0"
	DefaultTimeout   = 30 * time.Second

	maxBodyBytes = 4 << 20
)

// ErrNotFound means the id does not exist in the directory (yet).
var ErrNotFound = errors.New("tournament not found")

// TransientError wraps a network or HTTP failure that may succeed later.
type TransientError struct {
	ID     int
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tournament %d: HTTP status %d", e.ID, e.Status)
	}
	return fmt.Sprintf("tournament %d: %v", e.ID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Raw is the unparsed page for one tournament id.
type Raw struct {
	ID   int
	URL  string
	Body []byte
}

// Client fetches tournament pages from the directory.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// New creates a client for the directory rooted at baseURL.
func New(baseURL string, timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewFromConfig builds a client from application config.
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.Directory.BaseURL, cfg.DirectoryTimeout(), cfg.Directory.UserAgent)
}

// TournamentURL is the public page for id.
func (c *Client) TournamentURL(id int) string {
	return c.baseURL + "/db/tournaments/" + strconv.Itoa(id)
}

// Fetch retrieves the rendered page for id. It returns ErrNotFound when the
// directory answers 404 and a *TransientError for any other failure.
func (c *Client) Fetch(ctx context.Context, id int) (Raw, error) {
	url := c.TournamentURL(id)
	body, status, err := c.get(ctx, url)
	if err != nil {
		return Raw{}, &TransientError{ID: id, Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return Raw{}, ErrNotFound
	case status != http.StatusOK:
		return Raw{}, &TransientError{ID: id, Status: status}
	}
	return Raw{ID: id, URL: url, Body: body}, nil
}

// Waypoint returns the GPX waypoint published for id, if any. A missing or
// empty GPX document is not an error.
func (c *Client) Waypoint(ctx context.Context, id int) (models.Position, bool, error) {
	body, status, err := c.get(ctx, c.TournamentURL(id)+"/gpx")
	if err != nil {
		return models.Position{}, false, &TransientError{ID: id, Err: err}
	}
	if status != http.StatusOK {
		return models.Position{}, false, nil
	}
	return parseWaypoint(body)
}

func parseWaypoint(body []byte) (models.Position, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.Position{}, false, fmt.Errorf("parsing GPX: %w", err)
	}
	wpt := doc.Find("wpt").First()
	if wpt.Length() == 0 {
		return models.Position{}, false, nil
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(wpt.AttrOr("lat", "")), 64)
	if err != nil {
		return models.Position{}, false, fmt.Errorf("waypoint latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(wpt.AttrOr("lon", "")), 64)
	if err != nil {
		return models.Position{}, false, fmt.Errorf("waypoint longitude: %w", err)
	}
	pos := models.Position{Lat: lat, Lon: lon}
	if err := pos.Validate(); err != nil {
		return models.Position{}, false, err
	}
	return pos, true, nil
}

var maxIDPattern = regexp.MustCompile(`max=([0-9]+)`)

// MaxID reads the highest assigned tournament id from the statistics page.
func (c *Client) MaxID(ctx context.Context) (int, error) {
	body, status, err := c.get(ctx, c.baseURL+"/db/tournaments/dbstats.php")
	if err != nil {
		return 0, fmt.Errorf("fetching directory stats: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("fetching directory stats: HTTP status %d", status)
	}
	m := maxIDPattern.FindSubmatch(body)
	if m == nil {
		return 0, errors.New("directory stats do not contain a max id")
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("parsing max id: %w", err)
	}
	return n, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading body: %w", err)
	}
	return body, resp.StatusCode, nil
}

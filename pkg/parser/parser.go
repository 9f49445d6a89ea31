// Package parser turns a fetched directory page into a tournament candidate,
// or explains why the page cannot become one.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/matt2718/qbnotify/pkg/models"
)

// SkipReason classifies pages that are expected not to yield a record.
type SkipReason uint8

const (
	NotFound SkipReason = iota
	MissingDateOrLevel
	TBALocation
	MultiLocation
	OnlineLocation
	MalformedDate
)

var skipReasonNames = [...]string{
	NotFound:           "not_found",
	MissingDateOrLevel: "missing_date_or_level",
	TBALocation:        "tba_location",
	MultiLocation:      "multi_location",
	OnlineLocation:     "online_location",
	MalformedDate:      "malformed_date",
}

func (r SkipReason) String() string {
	if int(r) < len(skipReasonNames) {
		return skipReasonNames[r]
	}
	return fmt.Sprintf("skip_reason(%d)", uint8(r))
}

// SkipError is returned by Parse for an expected, non-fatal skip.
type SkipError struct {
	ID     int
	Reason SkipReason
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("tournament %d skipped (%s): %s", e.ID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("tournament %d skipped (%s)", e.ID, e.Reason)
}

// ReasonOf extracts the skip reason from err, if it is a skip.
func ReasonOf(err error) (SkipReason, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return 0, false
}

// Candidate is a parsed page that still needs a location.
type Candidate struct {
	ID    int
	Name  string
	Level models.Level
	Date  time.Time
	// Address is the preferred location text: the "Address" field, or the
	// "Host location" field when there is no address.
	Address      string
	HostLocation string
}

const (
	fieldAddress      = "Address"
	fieldHostLocation = "Host location"
	headingSeparator  = " tournament on "
	dateLayout        = "January 2, 2006"
)

var (
	tbaLocations    = wordSet("tba", "to be announced", "undetermined", "unknown")
	multiLocations  = wordSet("various", "multiple")
	onlineLocations = wordSet("internet", "the internet", "online", "cloud", "the cloud", "skype", "discord", "zoom")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Parse extracts a candidate from page. Expected rejections are returned as
// *SkipError.
func Parse(id int, page ParsedPage) (Candidate, error) {
	if page.Missing() {
		return Candidate{}, &SkipError{ID: id, Reason: NotFound}
	}

	c := Candidate{ID: id, Name: page.Title()}

	levelText, dateText, ok := strings.Cut(page.Subtitle(), headingSeparator)
	if !ok || levelText == "" {
		return Candidate{}, &SkipError{ID: id, Reason: MissingDateOrLevel}
	}
	level, ok := models.LevelFromLetter(levelText[0])
	if !ok {
		return Candidate{}, &SkipError{ID: id, Reason: MissingDateOrLevel, Detail: "unknown level " + levelText}
	}
	c.Level = level

	date, err := ParseStartDate(dateText)
	if err != nil {
		return Candidate{}, &SkipError{ID: id, Reason: MalformedDate, Detail: err.Error()}
	}
	c.Date = date

	host, _ := page.Field(fieldHostLocation)
	c.HostLocation = strings.TrimSpace(host)
	c.Address = c.HostLocation
	if addr, _ := page.Field(fieldAddress); strings.TrimSpace(addr) != "" {
		c.Address = strings.TrimSpace(addr)
	}

	if reason, ok := classifyLocation(c.Address); ok {
		return Candidate{}, &SkipError{ID: id, Reason: reason, Detail: c.Address}
	}
	return c, nil
}

func classifyLocation(text string) (SkipReason, bool) {
	key := strings.ToLower(strings.TrimSpace(text))
	if _, ok := tbaLocations[key]; ok {
		return TBALocation, true
	}
	if _, ok := multiLocations[key]; ok {
		return MultiLocation, true
	}
	if _, ok := onlineLocations[key]; ok {
		return OnlineLocation, true
	}
	return 0, false
}

var (
	dayRangeSuffix = regexp.MustCompile(`-[0-9]{1,2}`)
	monthDayOnly   = regexp.MustCompile(`^[A-Z][a-z]* [0-9]{1,2}$`)
	trailingYear   = regexp.MustCompile(`, *([0-9]{4})$`)
)

// ParseStartDate returns the first day of a date or date range such as
// "March 5 - March 6, 2021" or "March 5-6, 2021".
func ParseStartDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	start, _, _ := strings.Cut(text, " - ")
	start = dayRangeSuffix.ReplaceAllString(strings.TrimSpace(start), "")

	if monthDayOnly.MatchString(start) {
		m := trailingYear.FindStringSubmatch(text)
		if m == nil {
			return time.Time{}, fmt.Errorf("no year in %q", text)
		}
		start += ", " + m[1]
	}

	t, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", text, err)
	}
	return t, nil
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Level is the competition tier of a tournament. The set is closed: every
// table below is sized by numLevels so adding a level without describing it
// fails to compile.
type Level uint8

const (
	MiddleSchool Level = iota
	HighSchool
	College
	Open
	Trash

	numLevels
)

type levelInfo struct {
	letter byte
	short  string
	name   string
}

var levelTable = [...]levelInfo{
	MiddleSchool: {'M', "MS", "Middle School"},
	HighSchool:   {'H', "HS", "High School"},
	College:      {'C', "College", "College"},
	Open:         {'O', "Open", "Open"},
	Trash:        {'T', "Trash", "Trash"},
}

var _ [numLevels]struct{} = [len(levelTable)]struct{}{}

// AllLevels lists every level in display order.
func AllLevels() []Level {
	out := make([]Level, 0, numLevels)
	for l := Level(0); l < numLevels; l++ {
		out = append(out, l)
	}
	return out
}

// LevelFromLetter maps the leading character of a directory heading
// ("High School tournament on ...") to a Level.
func LevelFromLetter(c byte) (Level, bool) {
	for l, info := range levelTable {
		if info.letter == c {
			return Level(l), true
		}
	}
	return 0, false
}

// ParseLevel accepts a letter ("H"), a short name ("HS") or a full name
// ("High School"), case-insensitively.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	for l, info := range levelTable {
		if strings.EqualFold(s, string(info.letter)) || strings.EqualFold(s, info.short) || strings.EqualFold(s, info.name) {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func (l Level) Valid() bool { return l < numLevels }

// Letter is the single-character tag stored alongside records.
func (l Level) Letter() string {
	if !l.Valid() {
		return "?"
	}
	return string(levelTable[l].letter)
}

// Short is the abbreviation used in subscription descriptions.
func (l Level) Short() string {
	if !l.Valid() {
		return "?"
	}
	return levelTable[l].short
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
	return levelTable[l].name
}

// LevelSet is a subset of the level enum.
type LevelSet uint8

func NewLevelSet(levels ...Level) LevelSet {
	var s LevelSet
	for _, l := range levels {
		s = s.With(l)
	}
	return s
}

func (s LevelSet) With(l Level) LevelSet {
	if !l.Valid() {
		return s
	}
	return s | 1<<l
}

func (s LevelSet) Has(l Level) bool {
	return l.Valid() && s&(1<<l) != 0
}

func (s LevelSet) Empty() bool { return s == 0 }

func (s LevelSet) Levels() []Level {
	var out []Level
	for _, l := range AllLevels() {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// String joins the short names English-style: "MS", "MS and HS",
// "MS, HS, and College".
func (s LevelSet) String() string {
	var names []string
	for _, l := range s.Levels() {
		names = append(names, l.Short())
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	names[len(names)-1] = "and " + names[len(names)-1]
	return strings.Join(names, ", ")
}

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Position) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lon)
	}
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g)", p.Lat, p.Lon)
}

// Region labels used when a geocoding result is outside the US and Canada.
// RegionOnline names online events, which the parser always skips; it is
// rejected as a subscription region.
const (
	RegionUK     = "UK"
	RegionOther  = "other"
	RegionOnline = "Online"
)

// TournamentRecord is a resolved directory entry. Records are keyed by the
// directory id and are only ever upserted.
type TournamentRecord struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Level    Level     `json:"level"`
	Region   string    `json:"region"`
	Position Position  `json:"position"`
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UpcomingEntry is the flat shape written to the upcoming-tournaments export.
type UpcomingEntry struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Date  string  `json:"date"`
	Level string  `json:"level"`
	State string  `json:"state"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

func (r TournamentRecord) Upcoming() UpcomingEntry {
	return UpcomingEntry{
		ID:    r.ID,
		Name:  r.Name,
		Date:  r.Date.Format("2006-01-02"),
		Level: r.Level.Letter(),
		State: r.Region,
		Lat:   r.Position.Lat,
		Lon:   r.Position.Lon,
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", uint8(l))
	}
	return []byte(l.Letter()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Unit is the unit a radius subscription was entered in.
type Unit string

const (
	Mile      Unit = "mile"
	Foot      Unit = "foot"
	Kilometer Unit = "kilometer"
	Meter     Unit = "meter"
)

// ParseUnit accepts the long names and the short forms the subscription UI
// stores ("mi", "ft", "km", "m"). Anything else is kept verbatim and is
// treated as meters when converting.
func ParseUnit(s string) Unit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mi", "mile", "miles":
		return Mile
	case "ft", "foot", "feet":
		return Foot
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return Kilometer
	case "m", "meter", "meters", "metre", "metres":
		return Meter
	}
	return Unit(s)
}

// MetersPer returns the conversion factor from u to meters.
func (u Unit) MetersPer() float64 {
	switch u {
	case Mile:
		return 1609.3
	case Foot:
		return 0.3048
	case Kilometer:
		return 1000.0
	}
	return 1.0
}

func (u Unit) Abbrev() string {
	switch u {
	case Mile:
		return "mi"
	case Foot:
		return "ft"
	case Kilometer:
		return "km"
	case Meter:
		return "m"
	}
	return string(u)
}

// Target is the geographic half of a subscription: exactly one of
// StateTarget or RadiusTarget.
type Target interface {
	isTarget()
}

// StateTarget matches records whose region equals Region.
type StateTarget struct {
	Region string
}

// RadiusTarget matches records within Radius Units of Center.
type RadiusTarget struct {
	Center Position
	Radius float64
	Unit   Unit
	Label  string
}

func (StateTarget) isTarget()  {}
func (RadiusTarget) isTarget() {}

// RadiusMeters is the radius converted to meters.
func (t RadiusTarget) RadiusMeters() float64 {
	return t.Radius * t.Unit.MetersPer()
}

// Subscription is one alert rule owned by a recipient. IDs are sequence
// numbers scoped to the owner.
type Subscription struct {
	ID         int
	OwnerEmail string
	Levels     LevelSet
	Target     Target
}

var (
	ErrNoLevels  = errors.New("subscription must select at least one level")
	ErrNoTarget  = errors.New("subscription must have a state or radius target")
	ErrNoOwner   = errors.New("subscription must have an owner email")
	ErrBadRadius = errors.New("radius must be greater than zero")
	ErrOnline    = errors.New("online tournaments are never recorded, so they cannot be subscribed to")
)

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.OwnerEmail) == "" {
		return ErrNoOwner
	}
	if s.Levels.Empty() {
		return ErrNoLevels
	}
	switch t := s.Target.(type) {
	case StateTarget:
		if strings.TrimSpace(t.Region) == "" {
			return fmt.Errorf("state subscription: %w", ErrNoTarget)
		}
		if strings.EqualFold(strings.TrimSpace(t.Region), RegionOnline) {
			return fmt.Errorf("state subscription: %w", ErrOnline)
		}
	case RadiusTarget:
		if t.Radius <= 0 {
			return ErrBadRadius
		}
		if err := t.Center.Validate(); err != nil {
			return fmt.Errorf("radius subscription center: %w", err)
		}
	default:
		return ErrNoTarget
	}
	return nil
}

// Describe renders the subscription the way the settings page lists it.
func (s Subscription) Describe() string {
	levels := s.Levels.String()
	switch t := s.Target.(type) {
	case StateTarget:
		return levels + " tournaments in " + t.Region
	case RadiusTarget:
		where := t.Center.String()
		if t.Label != "" {
			where = t.Label + " " + where
		}
		return fmt.Sprintf("%s tournaments within %g %s of %s", levels, t.Radius, t.Unit.Abbrev(), where)
	}
	return ""
}

type subscriptionJSON struct {
	ID     int      `json:"id"`
	Email  string   `json:"email"`
	Levels []Level  `json:"levels"`
	Type   string   `json:"type"`
	State  string   `json:"state,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	Radius float64  `json:"radius,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	Label  string   `json:"label,omitempty"`
}

func (s Subscription) MarshalJSON() ([]byte, error) {
	out := subscriptionJSON{ID: s.ID, Email: s.OwnerEmail, Levels: s.Levels.Levels()}
	switch t := s.Target.(type) {
	case StateTarget:
		out.Type = "state"
		out.State = t.Region
	case RadiusTarget:
		out.Type = "radius"
		lat, lon := t.Center.Lat, t.Center.Lon
		out.Lat, out.Lon = &lat, &lon
		out.Radius = t.Radius
		out.Unit = string(t.Unit)
		out.Label = t.Label
	default:
		return nil, ErrNoTarget
	}
	return json.Marshal(out)
}

func (s *Subscription) UnmarshalJSON(b []byte) error {
	var in subscriptionJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	sub := Subscription{ID: in.ID, OwnerEmail: in.Email, Levels: NewLevelSet(in.Levels...)}
	switch strings.ToLower(in.Type) {
	case "state", "s":
		sub.Target = StateTarget{Region: in.State}
	case "radius", "circle", "c":
		if in.Lat == nil || in.Lon == nil {
			return errors.New("radius subscription requires lat and lon")
		}
		sub.Target = RadiusTarget{
			Center: Position{Lat: *in.Lat, Lon: *in.Lon},
			Radius: in.Radius,
			Unit:   ParseUnit(in.Unit),
			Label:  in.Label,
		}
	default:
		return fmt.Errorf("unknown subscription type %q", in.Type)
	}
	*s = sub
	return nil
}

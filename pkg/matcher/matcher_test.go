package matcher

import (
	"math"
	"testing"
	"time"

	"github.com/matt2718/qbnotify/pkg/models"
)

var now = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func TestHaversine(t *testing.T) {
	a := models.Position{Lat: 40, Lon: -105}
	b := models.Position{Lat: 51.5, Lon: -0.12}

	if d := Haversine(a, a); d != 0 {
		t.Errorf("Haversine(a, a) = %v, want 0", d)
	}
	if ab, ba := Haversine(a, b), Haversine(b, a); math.Abs(ab-ba) > 1e-6 {
		t.Errorf("Haversine not symmetric: %v vs %v", ab, ba)
	}

	got := Haversine(models.Position{Lat: 0, Lon: 0}, models.Position{Lat: 0, Lon: 90})
	want := math.Pi / 2 * EarthRadius
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("quarter circumference = %v, want %v", got, want)
	}
}

func record(id int, level models.Level, region string, pos models.Position, date time.Time) models.TournamentRecord {
	return models.TournamentRecord{ID: id, Name: "T", Level: level, Region: region, Position: pos, Date: date}
}

func TestMatches(t *testing.T) {
	future := now.AddDate(0, 1, 0)
	past := now.AddDate(0, -1, 0)
	radius := models.Subscription{
		OwnerEmail: "r@example.com",
		Levels:     models.NewLevelSet(models.HighSchool),
		Target:     models.RadiusTarget{Center: models.Position{Lat: 40, Lon: -105}, Radius: 10, Unit: models.Kilometer},
	}
	state := models.Subscription{
		OwnerEmail: "s@example.com",
		Levels:     models.NewLevelSet(models.HighSchool, models.College),
		Target:     models.StateTarget{Region: "CO"},
	}

	tests := []struct {
		name string
		sub  models.Subscription
		rec  models.TournamentRecord
		want bool
	}{
		{"radius near", radius, record(1, models.HighSchool, "CO", models.Position{Lat: 40.05, Lon: -105}, future), true},
		{"radius far", radius, record(2, models.HighSchool, "CO", models.Position{Lat: 40.2, Lon: -105}, future), false},
		{"radius wrong level", radius, record(3, models.College, "CO", models.Position{Lat: 40.05, Lon: -105}, future), false},
		{"radius past", radius, record(4, models.HighSchool, "CO", models.Position{Lat: 40.05, Lon: -105}, past), false},
		{"state match", state, record(5, models.College, "CO", models.Position{}, future), true},
		{"state other region", state, record(6, models.College, "WY", models.Position{}, future), false},
		{"state level not selected", state, record(7, models.MiddleSchool, "CO", models.Position{}, future), false},
		{"state past", state, record(8, models.HighSchool, "CO", models.Position{}, past), false},
		{"today is not after now", state, record(9, models.HighSchool, "CO", models.Position{}, models.DateOnly(now)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.sub, tt.rec, now); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRadiusIsStrict(t *testing.T) {
	center := models.Position{Lat: 0, Lon: 0}
	edge := models.Position{Lat: 0, Lon: 1}
	d := Haversine(center, edge)
	sub := models.Subscription{
		OwnerEmail: "x@example.com",
		Levels:     models.NewLevelSet(models.Open),
		Target:     models.RadiusTarget{Center: center, Radius: d, Unit: models.Meter},
	}
	if Matches(sub, record(1, models.Open, "other", edge, now.AddDate(0, 0, 1)), now) {
		t.Error("record exactly on the radius matched")
	}
}

func TestMatchDeduplicates(t *testing.T) {
	future := now.AddDate(0, 0, 10)
	subs := []models.Subscription{
		{ID: 1, OwnerEmail: "a@example.com", Levels: models.NewLevelSet(models.HighSchool), Target: models.StateTarget{Region: "CO"}},
		{ID: 2, OwnerEmail: "a@example.com", Levels: models.NewLevelSet(models.HighSchool), Target: models.RadiusTarget{
			Center: models.Position{Lat: 40, Lon: -105}, Radius: 50, Unit: models.Mile,
		}},
		{ID: 1, OwnerEmail: "b@example.com", Levels: models.NewLevelSet(models.College), Target: models.StateTarget{Region: "CO"}},
	}
	records := []models.TournamentRecord{
		record(30, models.HighSchool, "CO", models.Position{Lat: 40.01, Lon: -105}, future),
		record(10, models.HighSchool, "CO", models.Position{Lat: 39.9, Lon: -105}, future),
		record(20, models.College, "CO", models.Position{Lat: 39.9, Lon: -105}, future),
	}

	got := Match(records, subs, now)
	if len(got) != 2 {
		t.Fatalf("recipients = %v", got.Recipients())
	}
	a := got["a@example.com"]
	if len(a) != 2 || a[0].ID != 10 || a[1].ID != 30 {
		t.Errorf("a@example.com got %+v, want ids [10 30]", a)
	}
	if b := got["b@example.com"]; len(b) != 1 || b[0].ID != 20 {
		t.Errorf("b@example.com got %+v", b)
	}
	if r := got.Recipients(); r[0] != "a@example.com" || r[1] != "b@example.com" {
		t.Errorf("Recipients() = %v", r)
	}
}

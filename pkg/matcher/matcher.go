// Package matcher pairs freshly resolved tournaments with subscriptions.
//
// Matching is a plain scan over every (record, subscription) pair. Batches
// are small enough that an index would cost more than it saves.
package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/matt2718/qbnotify/pkg/models"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371008.8

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b models.Position) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Matches reports whether sub wants rec at time now.
func Matches(sub models.Subscription, rec models.TournamentRecord, now time.Time) bool {
	if !rec.Date.After(now) {
		return false
	}
	if !sub.Levels.Has(rec.Level) {
		return false
	}
	switch t := sub.Target.(type) {
	case models.StateTarget:
		return rec.Region == t.Region
	case models.RadiusTarget:
		return Haversine(t.Center, rec.Position) < t.RadiusMeters()
	}
	return false
}

// MatchSet maps a recipient email to the records they should hear about,
// deduplicated and in ascending id order.
type MatchSet map[string][]models.TournamentRecord

// Recipients returns the recipients in sorted order.
func (m MatchSet) Recipients() []string {
	out := make([]string, 0, len(m))
	for email := range m {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// Match builds the MatchSet for one batch.
func Match(records []models.TournamentRecord, subs []models.Subscription, now time.Time) MatchSet {
	seen := make(map[string]map[int]models.TournamentRecord)
	for _, rec := range records {
		for _, sub := range subs {
			if !Matches(sub, rec, now) {
				continue
			}
			if seen[sub.OwnerEmail] == nil {
				seen[sub.OwnerEmail] = make(map[int]models.TournamentRecord)
			}
			seen[sub.OwnerEmail][rec.ID] = rec
		}
	}

	out := make(MatchSet, len(seen))
	for email, byID := range seen {
		list := make([]models.TournamentRecord, 0, len(byID))
		for _, rec := range byID {
			list = append(list, rec)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		out[email] = list
	}
	return out
}

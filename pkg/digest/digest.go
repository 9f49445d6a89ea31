// Package digest renders one notification per recipient and delivers the
// batch over a single mail transport session.
package digest

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/matt2718/qbnotify/pkg/models"
)

const DefaultSubject = "You have new quizbowl tournament notifications"

//go:embed templates/digest.html
var templateFS embed.FS

var digestTemplate = template.Must(template.ParseFS(templateFS, "templates/digest.html"))

// Message is one rendered digest.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Builder renders digests.
type Builder struct {
	directoryURL string
	siteURL      string
	subject      string
}

// NewBuilder creates a builder. directoryURL is the directory root used for
// tournament links; siteURL, if set, is linked in the footer.
func NewBuilder(directoryURL, siteURL string) *Builder {
	return &Builder{
		directoryURL: strings.TrimRight(directoryURL, "/"),
		siteURL:      siteURL,
		subject:      DefaultSubject,
	}
}

type entry struct {
	URL  string
	Name string
	Date string
}

type page struct {
	DirectoryName string
	Tournaments   []entry
	SiteURL       string
	SiteHost      string
}

// Build renders the digest for one recipient. Records are listed in
// ascending id order whatever order they arrive in.
func (b *Builder) Build(to string, records []models.TournamentRecord) (Message, error) {
	sorted := append([]models.TournamentRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data := page{DirectoryName: hostOf(b.directoryURL), SiteURL: b.siteURL, SiteHost: hostOf(b.siteURL)}
	for _, rec := range sorted {
		data.Tournaments = append(data.Tournaments, entry{
			URL:  b.directoryURL + "/db/tournaments/" + strconv.Itoa(rec.ID),
			Name: rec.Name,
			Date: rec.Date.Format("2006-01-02"),
		})
	}

	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("rendering digest for %s: %w", to, err)
	}
	return Message{To: to, Subject: b.subject, HTML: body.String()}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

package parser

import (
	"testing"
	"time"

	"github.com/matt2718/qbnotify/pkg/models"
)

type fakePage struct {
	missing  bool
	title    string
	subtitle string
	fields   map[string]string
}

func (p fakePage) Missing() bool    { return p.missing }
func (p fakePage) Title() string    { return p.title }
func (p fakePage) Subtitle() string { return p.subtitle }

func (p fakePage) Field(label string) (string, bool) {
	v, ok := p.fields[label]
	return v, ok
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		page       fakePage
		wantReason SkipReason
		wantSkip   bool
		want       Candidate
	}{
		{
			name: "date range keeps the start",
			page: fakePage{
				title:    "Mile High Open",
				subtitle: "H tournament on March 5 - March 6, 2021",
				fields:   map[string]string{"Address": "1 Main St, Denver, CO"},
			},
			want: Candidate{
				ID: 1, Name: "Mile High Open", Level: models.HighSchool,
				Date:    time.Date(2021, time.March, 5, 0, 0, 0, 0, time.UTC),
				Address: "1 Main St, Denver, CO",
			},
		},
		{
			name: "address preferred over host location",
			page: fakePage{
				subtitle: "College tournament on October 2, 2021",
				fields: map[string]string{
					"Address":       "Boulder, CO",
					"Host location": "University of Colorado",
				},
			},
			want: Candidate{
				ID: 1, Level: models.College,
				Date:         time.Date(2021, time.October, 2, 0, 0, 0, 0, time.UTC),
				Address:      "Boulder, CO",
				HostLocation: "University of Colorado",
			},
		},
		{
			name: "host location used without address",
			page: fakePage{
				subtitle: "M tournament on May 1, 2022",
				fields:   map[string]string{"Host location": "Lincoln Middle School"},
			},
			want: Candidate{
				ID: 1, Level: models.MiddleSchool,
				Date:         time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC),
				Address:      "Lincoln Middle School",
				HostLocation: "Lincoln Middle School",
			},
		},
		{
			name: "blank address falls back to host location",
			page: fakePage{
				subtitle: "H tournament on May 1, 2022",
				fields: map[string]string{
					"Address":       "  ",
					"Host location": "Denver East High School",
				},
			},
			want: Candidate{
				ID: 1, Level: models.HighSchool,
				Date:         time.Date(2022, time.May, 1, 0, 0, 0, 0, time.UTC),
				Address:      "Denver East High School",
				HostLocation: "Denver East High School",
			},
		},
		{
			name: "blank address with online host location",
			page: fakePage{
				subtitle: "H tournament on May 1, 2022",
				fields:   map[string]string{"Address": "", "Host location": "Online"},
			},
			wantSkip:   true,
			wantReason: OnlineLocation,
		},
		{
			name:       "missing page",
			page:       fakePage{missing: true},
			wantSkip:   true,
			wantReason: NotFound,
		},
		{
			name:       "no heading separator",
			page:       fakePage{subtitle: "Date not announced"},
			wantSkip:   true,
			wantReason: MissingDateOrLevel,
		},
		{
			name:       "unknown level letter",
			page:       fakePage{subtitle: "X tournament on May 1, 2022"},
			wantSkip:   true,
			wantReason: MissingDateOrLevel,
		},
		{
			name:       "malformed date",
			page:       fakePage{subtitle: "H tournament on sometime in spring"},
			wantSkip:   true,
			wantReason: MalformedDate,
		},
		{
			name: "tba",
			page: fakePage{
				subtitle: "H tournament on May 1, 2022",
				fields:   map[string]string{"Host location": "To Be Announced"},
			},
			wantSkip:   true,
			wantReason: TBALocation,
		},
		{
			name: "various",
			page: fakePage{
				subtitle: "O tournament on May 1, 2022",
				fields:   map[string]string{"Host location": "Various"},
			},
			wantSkip:   true,
			wantReason: MultiLocation,
		},
		{
			name: "online",
			page: fakePage{
				subtitle: "T tournament on May 1, 2022",
				fields:   map[string]string{"Address": "Discord"},
			},
			wantSkip:   true,
			wantReason: OnlineLocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(1, tt.page)
			if tt.wantSkip {
				reason, ok := ReasonOf(err)
				if !ok {
					t.Fatalf("Parse() error = %v, want skip %s", err, tt.wantReason)
				}
				if reason != tt.wantReason {
					t.Errorf("skip reason = %s, want %s", reason, tt.wantReason)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !got.Date.Equal(tt.want.Date) {
				t.Errorf("Date = %v, want %v", got.Date, tt.want.Date)
			}
			got.Date, tt.want.Date = time.Time{}, time.Time{}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseStartDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"March 5, 2021", time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"March 5 - March 6, 2021", time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"March 5-6, 2021", time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"December 30, 2021 - January 2, 2022", time.Date(2021, 12, 30, 0, 0, 0, 0, time.UTC)},
		{"January 15 - January 16, 2022", time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseStartDate(tt.in)
		if err != nil {
			t.Errorf("ParseStartDate(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseStartDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "March 5", "Someday, 2021", "Marchember 5, 2021"} {
		if _, err := ParseStartDate(bad); err == nil {
			t.Errorf("ParseStartDate(%q) succeeded", bad)
		}
	}
}

const samplePage = `<html><body>
<div class="MultilineHeading">
  <h2>Rocky Mountain
      Invitational</h2>
  <h5>High School tournament on March 5 - March 6, 2021</h5>
</div>
<p><span class="FieldName">Host location:</span> Denver East High School</p>
<p><span class="FieldName">Address:</span> 1600 City Park Esplanade, Denver, CO 80206</p>
</body></html>`

func TestHTMLPage(t *testing.T) {
	page, err := NewHTMLPage([]byte(samplePage))
	if err != nil {
		t.Fatal(err)
	}
	if page.Missing() {
		t.Error("Missing() = true")
	}
	if got := page.Title(); got != "Rocky Mountain Invitational" {
		t.Errorf("Title() = %q", got)
	}
	if got, ok := page.Field("Address"); !ok || got != "1600 City Park Esplanade, Denver, CO 80206" {
		t.Errorf("Field(Address) = %q, %v", got, ok)
	}
	if _, ok := page.Field("Contact"); ok {
		t.Error("Field(Contact) found")
	}

	c, err := Parse(42, page)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Level != models.HighSchool || c.HostLocation != "Denver East High School" {
		t.Errorf("Parse() = %+v", c)
	}
}

func TestHTMLPageMissing(t *testing.T) {
	page, err := NewHTMLPage([]byte(`<div class="FBError">Tournament not found</div>`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(9, page); err == nil {
		t.Fatal("Parse succeeded on an error page")
	} else if r, _ := ReasonOf(err); r != NotFound {
		t.Errorf("reason = %s, want not_found", r)
	}
}

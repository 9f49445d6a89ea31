package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/matt2718/qbnotify/pkg/util"
)

// ParsedPage is the structured view of a tournament page the parser needs.
// Tests implement it directly instead of building HTML.
type ParsedPage interface {
	// Missing reports whether the directory rendered its "no such tournament" page.
	Missing() bool
	// Title is the tournament name.
	Title() string
	// Subtitle is the "<LEVEL> tournament on <DATE>" line, if present.
	Subtitle() string
	// Field returns the value of a labelled field such as "Address".
	Field(label string) (string, bool)
}

// HTMLPage is a ParsedPage over the directory's rendered HTML.
type HTMLPage struct {
	doc *goquery.Document
}

// NewHTMLPage parses body into a page.
func NewHTMLPage(body []byte) (*HTMLPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return &HTMLPage{doc: doc}, nil
}

func (p *HTMLPage) Missing() bool {
	return p.doc.Find(".FBError").Length() > 0
}

func (p *HTMLPage) Title() string {
	return util.RemoveFormatFromString(p.doc.Find(".MultilineHeading h2").First().Text())
}

func (p *HTMLPage) Subtitle() string {
	return util.RemoveFormatFromString(p.doc.Find(".MultilineHeading h5").First().Text())
}

// Field finds the first ".FieldName" element labelled "<label>:" and returns
// its parent's text with the label removed.
func (p *HTMLPage) Field(label string) (string, bool) {
	want := label + ":"
	var value string
	found := false
	p.doc.Find(".FieldName").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != want {
			return true
		}
		text := util.RemoveFormatFromString(s.Parent().Text())
		value = strings.TrimSpace(strings.TrimPrefix(text, want))
		found = true
		return false
	})
	return value, found
}

package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matt2718/qbnotify/pkg/matcher"
	"github.com/matt2718/qbnotify/pkg/models"
)

func rec(id int, name string) models.TournamentRecord {
	return models.TournamentRecord{ID: id, Name: name, Date: time.Date(2031, 3, id%28+1, 0, 0, 0, 0, time.UTC)}
}

func TestBuild(t *testing.T) {
	b := NewBuilder("https://hsquizbowl.org/", "https://qbnotify.msmitchell.org")
	msg, err := b.Build("a@example.com", []models.TournamentRecord{rec(30, "Later"), rec(7, "Q&A <Open>")})
	if err != nil {
		t.Fatal(err)
	}
	if msg.To != "a@example.com" || msg.Subject != DefaultSubject {
		t.Errorf("headers = %+v", msg)
	}
	first := strings.Index(msg.HTML, "/db/tournaments/7")
	second := strings.Index(msg.HTML, "/db/tournaments/30")
	if first < 0 || second < 0 || first > second {
		t.Errorf("entries missing or out of order:\n%s", msg.HTML)
	}
	for _, want := range []string{
		`<a href="https://hsquizbowl.org/db/tournaments/7">Q&amp;A &lt;Open&gt;</a> on 2031-03-08`,
		`hsquizbowl.org database`,
		`<a href="https://qbnotify.msmitchell.org">qbnotify.msmitchell.org</a>`,
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("body missing %q:\n%s", want, msg.HTML)
		}
	}
}

func TestBuildWithoutSiteURL(t *testing.T) {
	msg, err := NewBuilder("https://hsquizbowl.org", "").Build("a@example.com", []models.TournamentRecord{rec(1, "One")})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.HTML, "notification settings") {
		t.Errorf("footer rendered without a site URL:\n%s", msg.HTML)
	}
}

type fakeMailer struct {
	opens   int
	sent    []string
	failFor map[string]bool
}

func (m *fakeMailer) Open(context.Context) (Session, error) {
	m.opens++
	return &fakeSession{m: m}, nil
}

type fakeSession struct{ m *fakeMailer }

func (s *fakeSession) Send(_ context.Context, msg Message) error {
	if s.m.failFor[msg.To] {
		return errors.New("550 mailbox unavailable")
	}
	s.m.sent = append(s.m.sent, msg.To)
	return nil
}

func (s *fakeSession) Close() error { return nil }

func TestDispatchReusesOneSession(t *testing.T) {
	m := &fakeMailer{}
	set := matcher.MatchSet{
		"b@example.com": {rec(2, "Two")},
		"a@example.com": {rec(1, "One"), rec(2, "Two")},
	}
	report := NewDispatcher(m, NewBuilder("https://hsquizbowl.org", "")).Dispatch(context.Background(), set)

	if m.opens != 1 {
		t.Errorf("opened %d sessions, want 1", m.opens)
	}
	if len(report.Sent) != 2 || report.Sent[0] != "a@example.com" || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	m := &fakeMailer{failFor: map[string]bool{"b@example.com": true}}
	set := matcher.MatchSet{
		"a@example.com": {rec(1, "One")},
		"b@example.com": {rec(1, "One")},
		"c@example.com": {rec(1, "One")},
	}
	report := NewDispatcher(m, NewBuilder("https://hsquizbowl.org", "")).Dispatch(context.Background(), set)

	if len(m.sent) != 2 || m.sent[0] != "a@example.com" || m.sent[1] != "c@example.com" {
		t.Errorf("sent = %v", m.sent)
	}
	if len(report.Failed) != 1 || report.Failed[0].Recipient != "b@example.com" {
		t.Fatalf("failed = %+v", report.Failed)
	}
	var te *TransportError
	if !errors.As(report.Failed[0], &te) {
		t.Error("failure is not a TransportError")
	}
}

func TestDispatchNothingOpensNothing(t *testing.T) {
	m := &fakeMailer{}
	NewDispatcher(m, NewBuilder("", "")).Dispatch(context.Background(), matcher.MatchSet{})
	if m.opens != 0 {
		t.Errorf("opened %d sessions for an empty set", m.opens)
	}
}

func TestFormatMessage(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := string(formatMessage("qbnotify@example.com", Message{To: "a@example.com", Subject: "Hi", HTML: "<p>x</p>\n<p>y</p>"}, now))
	for _, want := range []string{
		"From: qbnotify@example.com\r\n",
		"To: a@example.com\r\n",
		"Subject: Hi\r\n",
		"Content-Type: text/html; charset=\"UTF-8\"\r\n",
		"\r\n\r\n<p>x</p>\r\n<p>y</p>\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

package digest

import (
	"context"
	"fmt"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/matcher"
	"github.com/matt2718/qbnotify/pkg/metrics"
)

// TransportError is a delivery failure for one recipient.
type TransportError struct {
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sending digest to %s: %v", e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Report summarizes one dispatch run.
type Report struct {
	Sent   []string
	Failed []*TransportError
}

// Dispatcher sends one digest per recipient in a MatchSet.
type Dispatcher struct {
	mailer  Mailer
	builder *Builder
}

func NewDispatcher(mailer Mailer, builder *Builder) *Dispatcher {
	return &Dispatcher{mailer: mailer, builder: builder}
}

// Dispatch delivers every digest in set. A failure for one recipient is
// logged and recorded; the remaining recipients are still attempted. After a
// failed send the session is reopened before the next recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, set matcher.MatchSet) Report {
	var report Report
	recipients := set.Recipients()
	if len(recipients) == 0 {
		return report
	}

	var session Session
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				logger.Warn("Closing mail session: %v", err)
			}
		}
	}()

	for _, to := range recipients {
		err := d.sendOne(ctx, &session, to, set)
		metrics.RecordDigest(err == nil)
		if err != nil {
			te := &TransportError{Recipient: to, Err: err}
			logger.Error("%v", te)
			report.Failed = append(report.Failed, te)
			continue
		}
		logger.Info("Notified %s of %d tournaments", to, len(set[to]))
		report.Sent = append(report.Sent, to)
	}
	return report
}

func (d *Dispatcher) sendOne(ctx context.Context, session *Session, to string, set matcher.MatchSet) error {
	msg, err := d.builder.Build(to, set[to])
	if err != nil {
		return err
	}
	if *session == nil {
		s, err := d.mailer.Open(ctx)
		if err != nil {
			return fmt.Errorf("opening mail session: %w", err)
		}
		*session = s
	}
	if err := (*session).Send(ctx, msg); err != nil {
		_ = (*session).Close()
		*session = nil
		return err
	}
	return nil
}

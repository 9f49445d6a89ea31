package digest

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/matt2718/qbnotify/pkg/config"
	"github.com/matt2718/qbnotify/pkg/logger"
)

// Mailer opens transport sessions. One session is used per batch.
type Mailer interface {
	Open(ctx context.Context) (Session, error)
}

// Session sends messages over one open connection.
type Session interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// SMTPMailer delivers over SMTP with implicit TLS on port 465 and STARTTLS
// otherwise.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	sender   string
	timeout  time.Duration
}

func NewSMTPMailer(cfg config.Mail) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sender:   cfg.Sender,
		timeout:  30 * time.Second,
	}
}

func (m *SMTPMailer) Open(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	tlsConfig := &tls.Config{ServerName: m.host}
	dialer := &net.Dialer{Timeout: m.timeout}

	var client *smtp.Client
	if m.port == 465 {
		conn, err := (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TLS dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, m.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("SMTP handshake: %w", err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, m.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("SMTP handshake: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if m.username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP auth: %w", err)
		}
	}
	return &smtpSession{client: client, sender: m.sender}, nil
}

type smtpSession struct {
	client *smtp.Client
	sender string
}

func (s *smtpSession) Send(_ context.Context, msg Message) error {
	if err := s.client.Mail(s.sender); err != nil {
		s.reset()
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := s.client.Rcpt(msg.To); err != nil {
		s.reset()
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := s.client.Data()
	if err != nil {
		s.reset()
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(formatMessage(s.sender, msg, time.Now())); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing DATA: %w", err)
	}
	return nil
}

func (s *smtpSession) reset() {
	if err := s.client.Reset(); err != nil {
		logger.Debug("SMTP RSET failed: %v", err)
	}
}

func (s *smtpSession) Close() error {
	return s.client.Quit()
}

func formatMessage(from string, msg Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.HTML, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogMailer writes digests to the log instead of sending them. It is used
// when no SMTP server is configured.
type LogMailer struct{}

func (LogMailer) Open(context.Context) (Session, error) { return logSession{}, nil }

type logSession struct{}

func (logSession) Send(_ context.Context, msg Message) error {
	logger.Info("Digest for %s (mail disabled): %s", msg.To, msg.Subject)
	logger.Debug("Digest body for %s:\n%s", msg.To, msg.HTML)
	return nil
}

func (logSession) Close() error { return nil }

// NewMailer returns an SMTP mailer, or a LogMailer when mail is not configured.
func NewMailer(cfg *config.Config) Mailer {
	if !cfg.MailEnabled() {
		return LogMailer{}
	}
	return NewSMTPMailer(cfg.Mail)
}

// Package notify delivers the end-of-day report. Delivery failures are
// reported but never fatal: the report is already journaled before any
// send is attempted.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/avollmer/openrange/internal/config"
)

// Notifier delivers an end-of-day report body.
type Notifier interface {
	SendEOD(ctx context.Context, subject, body string) error
}

// New picks a notifier from configuration: SMTP when credentials are
// present, otherwise a log-only fallback so dry runs need no mail
// setup.
func New(cfg config.NotifyConfig, logger *log.Logger) Notifier {
	if cfg.Sender == "" || cfg.Password == "" || cfg.Recipient == "" {
		logger.Printf("notify: email not configured, reports will be logged only")
		return &LogOnly{Logger: logger}
	}
	return &SMTP{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Sender:     cfg.Sender,
		Password:   cfg.Password,
		Recipients: SplitRecipients(cfg.Recipient),
		Logger:     logger,
	}
}

// SplitRecipients parses a comma- or space-separated recipient list.
func SplitRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" && strings.Contains(f, "@") {
			out = append(out, f)
		}
	}
	return out
}

// SMTP sends the report as plain text over STARTTLS.
type SMTP struct {
	Host       string
	Port       int
	Sender     string
	Password   string
	Recipients []string
	Logger     *log.Logger

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTP) SendEOD(ctx context.Context, subject, body string) error {
	if len(s.Recipients) == 0 {
		return fmt.Errorf("no valid recipient addresses")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := BuildMessage(s.Sender, s.Recipients, subject, body)
	sendMail := s.send
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	auth := smtp.PlainAuth("", s.Sender, s.Password, s.Host)
	if err := sendMail(addr, auth, s.Sender, s.Recipients, msg); err != nil {
		return fmt.Errorf("sending EOD email: %w", err)
	}
	s.Logger.Printf("notify: EOD email sent to %d recipient(s)", len(s.Recipients))
	return nil
}

// BuildMessage assembles an RFC 5322 plain-text message.
func BuildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// LogOnly writes the report to the process log instead of sending it.
type LogOnly struct {
	Logger *log.Logger
}

func (l *LogOnly) SendEOD(_ context.Context, subject, body string) error {
	l.Logger.Printf("notify: %s\n%s", subject, body)
	return nil
}

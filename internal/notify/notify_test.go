package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"net/smtp"
	"strings"
	"testing"

	"github.com/avollmer/openrange/internal/config"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSplitRecipients(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"a@example.com", []string{"a@example.com"}},
		{"a@example.com, b@example.com", []string{"a@example.com", "b@example.com"}},
		{"a@example.com b@example.com", []string{"a@example.com", "b@example.com"}},
		{"a@example.com,,  not-an-address ", []string{"a@example.com"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := SplitRecipients(tt.raw)
		if len(got) != len(tt.want) {
			t.Errorf("SplitRecipients(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitRecipients(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNewFallsBackToLogOnly(t *testing.T) {
	n := New(config.NotifyConfig{Recipient: "a@example.com"}, discard())
	if _, ok := n.(*LogOnly); !ok {
		t.Fatalf("New without credentials = %T, want *LogOnly", n)
	}
	if err := n.SendEOD(context.Background(), "subject", "body"); err != nil {
		t.Errorf("LogOnly.SendEOD() error: %v", err)
	}
}

func TestNewWithCredentials(t *testing.T) {
	n := New(config.NotifyConfig{
		Recipient: "a@example.com, b@example.com",
		Sender:    "bot@example.com",
		Password:  "app-password",
		SMTPHost:  "smtp.gmail.com",
		SMTPPort:  587,
	}, discard())
	s, ok := n.(*SMTP)
	if !ok {
		t.Fatalf("New with credentials = %T, want *SMTP", n)
	}
	if len(s.Recipients) != 2 {
		t.Errorf("recipients = %v, want both parsed", s.Recipients)
	}
}

func TestSMTPSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s := &SMTP{
		Host:       "smtp.example.com",
		Port:       587,
		Sender:     "bot@example.com",
		Password:   "pw",
		Recipients: []string{"a@example.com"},
		Logger:     discard(),
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		},
	}
	if err := s.SendEOD(context.Background(), "EOD Report 2026-08-24", "body\n"); err != nil {
		t.Fatalf("SendEOD() error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "bot@example.com" {
		t.Errorf("sent via %s from %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "a@example.com" {
		t.Errorf("recipients = %v", gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: EOD Report 2026-08-24\r\n") {
		t.Errorf("message missing subject header:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\nbody\n") {
		t.Errorf("message body malformed:\n%s", msg)
	}
}

func TestSMTPSendFailure(t *testing.T) {
	s := &SMTP{
		Host:       "smtp.example.com",
		Port:       587,
		Sender:     "bot@example.com",
		Recipients: []string{"a@example.com"},
		Logger:     discard(),
		send: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		},
	}
	if err := s.SendEOD(context.Background(), "s", "b"); err == nil {
		t.Error("SendEOD() should surface transport errors")
	}
}

func TestSMTPNoRecipients(t *testing.T) {
	s := &SMTP{Logger: discard()}
	if err := s.SendEOD(context.Background(), "s", "b"); err == nil {
		t.Error("SendEOD() with no recipients should fail")
	}
}

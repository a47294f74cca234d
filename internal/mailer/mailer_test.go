package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"family-alert-go/internal/domain/notify"
)

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "alerts@example.com", Password: "secret", FromName: "Family Alert"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err = m.Send(context.Background(), notify.Message{To: "bob@example.com", ToName: "Bob", Subject: "Help", Body: "line1\nline2"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("expected smtp.example.com:587, got %s", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "bob@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Help\r\n") || !strings.Contains(gotMsg, "line1\r\nline2") {
		t.Fatalf("unexpected message %q", gotMsg)
	}
	if !strings.Contains(gotMsg, `From: "Family Alert" <alerts@example.com>`) {
		t.Fatalf("expected sender header, got %q", gotMsg)
	}
}

func TestSMTPMailerWrapsSendError(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "h", Port: "25", From: "a@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	boom := errors.New("boom")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	if err := m.Send(context.Background(), notify.Message{To: "b@example.com"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestNewSMTPMailerValidates(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{Port: "25", From: "a@example.com"}); err == nil {
		t.Fatalf("expected error for missing host")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "h", Port: "25", From: "not-an-address"}); err == nil {
		t.Fatalf("expected error for bad sender")
	}
}

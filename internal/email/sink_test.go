package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/config"
	"github.com/nugget/routerwatch/internal/routeros"
)

func TestSink_Emit(t *testing.T) {
	cfg := config.EmailConfig{
		From: "routerwatch <watch@example.com>",
		To:   []string{"Ops <ops@example.com>", "ops@example.com", "pat@example.com"},
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, StartTLS: true},
	}
	s := NewSink(cfg, "gw.lan", nil)

	var gotFrom string
	var gotRcpt []string
	var gotMsg []byte
	s.send = func(_ context.Context, smtpCfg config.SMTPConfig, from string, rcpt []string, msg []byte) error {
		if smtpCfg.Host != "smtp.example.com" {
			t.Errorf("smtp host = %q", smtpCfg.Host)
		}
		gotFrom, gotRcpt, gotMsg = from, rcpt, msg
		return nil
	}

	a := alert.FromLogEntry(routeros.LogEntry{
		Time:    "mar/14 09:26:53",
		Topics:  []string{"system", "error", "critical"},
		Message: "login failure for user admin from 10.0.0.66 via ssh",
	}, time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))

	if err := s.Emit(context.Background(), a); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if gotFrom != "watch@example.com" {
		t.Errorf("MAIL FROM = %q", gotFrom)
	}
	if strings.Join(gotRcpt, ",") != "ops@example.com,pat@example.com" {
		t.Errorf("RCPT TO = %v", gotRcpt)
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: [routerwatch] gw.lan critical: Router system,error,critical",
		"X-Priority: 1",
		"login failure for user admin from 10.0.0.66 via ssh",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSink_DeviceBody(t *testing.T) {
	s := NewSink(config.EmailConfig{From: "a@example.com", To: []string{"b@example.com"}}, "gw", nil)
	a := alert.DeviceJoined(routeros.Device{IP: "10.0.0.5", MAC: "aa:bb:cc:dd:ee:ff", Interface: "ether2"}, time.Now())
	body := s.body(a)
	if !strings.Contains(body, "- `10.0.0.5` aa:bb:cc:dd:ee:ff on ether2") {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "Topics") {
		t.Error("device alert should not list topics")
	}
}

func TestSink_SendError(t *testing.T) {
	s := NewSink(config.EmailConfig{From: "a@example.com", To: []string{"b@example.com"}}, "gw", nil)
	refused := errors.New("connection refused")
	s.send = func(context.Context, config.SMTPConfig, string, []string, []byte) error { return refused }

	err := s.Emit(context.Background(), alert.DeviceLeft(routeros.Device{IP: "10.0.0.5"}, time.Now()))
	if !errors.Is(err, refused) {
		t.Errorf("err = %v, want wrapped send error", err)
	}
}

func TestSink_ComposeError(t *testing.T) {
	s := NewSink(config.EmailConfig{From: "bogus", To: []string{"b@example.com"}}, "gw", nil)
	s.send = func(context.Context, config.SMTPConfig, string, []string, []byte) error {
		t.Fatal("send called for unparseable message")
		return nil
	}
	if err := s.Emit(context.Background(), alert.Snapshot(nil, time.Now())); err == nil {
		t.Error("expected compose error")
	}
}

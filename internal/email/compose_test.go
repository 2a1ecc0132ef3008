package email

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want string
	}{
		{"bold", "**Severity:** critical", "Severity: critical"},
		{"italic", "an *odd* entry", "an odd entry"},
		{"heading", "## Router critical\n\nbody", "Router critical\n\nbody"},
		{"inline code", "- `10.0.0.5` on ether2", "- 10.0.0.5 on ether2"},
		{"code block", "Before\n```\nraw\n```\nAfter", "Before\nraw\n\nAfter"},
		{"quote", "> login failure for user admin", "login failure for user admin"},
		{"list preserved", "- one\n- two", "- one\n- two"},
		{"plain", "Just text.", "Just text."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := markdownToPlain(tt.md); got != tt.want {
				t.Errorf("markdownToPlain(%q) = %q, want %q", tt.md, got, tt.want)
			}
		})
	}
}

func TestMarkdownToHTML(t *testing.T) {
	html, err := markdownToHTML("Hello **world** <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("markdownToHTML: %v", err)
	}
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Error("missing <strong>")
	}
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("missing doctype")
	}
	if strings.Contains(html, "<script>") {
		t.Error("raw HTML passed through")
	}
}

func TestComposeMessage(t *testing.T) {
	date := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	raw, err := ComposeMessage(ComposeOptions{
		From:    "routerwatch <watch@example.com>",
		To:      []string{"ops@example.com", "Pat <pat@example.com>"},
		Subject: "[routerwatch] gw critical: Router critical",
		Body:    "## Router critical\n\n> **kernel** panic",
		Date:    date,
		Urgent:  true,
	})
	if err != nil {
		t.Fatalf("ComposeMessage: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	subject, _ := mr.Header.Subject()
	if subject != "[routerwatch] gw critical: Router critical" {
		t.Errorf("subject = %q", subject)
	}
	to, _ := mr.Header.AddressList("To")
	if len(to) != 2 || to[1].Address != "pat@example.com" {
		t.Errorf("to = %v", to)
	}
	if got, _ := mr.Header.Date(); !got.Equal(date) {
		t.Errorf("date = %v", got)
	}
	if mr.Header.Get("X-Priority") != "1" {
		t.Error("urgent message missing X-Priority")
	}
	if id, _ := mr.Header.MessageID(); id == "" {
		t.Error("missing Message-ID")
	}

	var types []string
	var plain string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		ct := p.Header.Get("Content-Type")
		types = append(types, ct)
		body, _ := io.ReadAll(p.Body)
		if strings.HasPrefix(ct, "text/plain") {
			plain = strings.ReplaceAll(string(body), "\r\n", "\n")
		}
	}
	if len(types) != 2 {
		t.Fatalf("parts = %v, want plain and html", types)
	}
	if plain != "Router critical\n\nkernel panic" {
		t.Errorf("plain part = %q", plain)
	}
}

func TestComposeMessage_BadAddress(t *testing.T) {
	_, err := ComposeMessage(ComposeOptions{From: "not an address", To: []string{"ops@example.com"}})
	if err == nil {
		t.Error("expected error for bad From")
	}
	_, err = ComposeMessage(ComposeOptions{From: "a@example.com", To: []string{"@@"}})
	if err == nil {
		t.Error("expected error for bad To")
	}
}

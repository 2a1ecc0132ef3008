// Package email sends routerwatch alerts as multipart mail over SMTP.
//
// Each alert becomes one message with a markdown body rendered to both
// plain text and HTML. Connections are opened per message; there is no
// queue, so a failed send is reported to the caller and dropped.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/config"
	"github.com/nugget/routerwatch/internal/logwatch"
)

// sendFunc matches SendMail.
type sendFunc func(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error

// Sink mails each alert to the configured recipients. It implements
// alert.Sink.
type Sink struct {
	cfg        config.EmailConfig
	router     string
	recipients []string
	send       sendFunc
	logger     *slog.Logger
}

// NewSink creates a mail sink. router names the watched router in
// subjects and bodies.
func NewSink(cfg config.EmailConfig, router string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:        cfg,
		router:     router,
		recipients: collectRecipients(cfg.To),
		send:       SendMail,
		logger:     logger,
	}
}

// Emit composes and sends one message for a.
func (s *Sink) Emit(ctx context.Context, a alert.Alert) error {
	msg, err := ComposeMessage(ComposeOptions{
		From:    s.cfg.From,
		To:      s.cfg.To,
		Subject: s.subject(a),
		Body:    s.body(a),
		Date:    a.Time,
		Urgent:  a.Severity >= logwatch.SeverityError,
	})
	if err != nil {
		return fmt.Errorf("compose alert mail: %w", err)
	}

	if err := s.send(ctx, s.cfg.SMTP, bareAddress(s.cfg.From), s.recipients, msg); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	s.logger.Debug("alert mail sent",
		"alert_id", a.ID,
		"recipients", len(s.recipients),
		"bytes", len(msg),
	)
	return nil
}

func (s *Sink) subject(a alert.Alert) string {
	return fmt.Sprintf("[routerwatch] %s %s: %s", s.router, a.Severity, a.Title)
}

func (s *Sink) body(a alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", a.Title)
	fmt.Fprintf(&b, "- **Router:** %s\n", s.router)
	fmt.Fprintf(&b, "- **Severity:** %s\n", a.Severity)
	if a.Entry != nil {
		fmt.Fprintf(&b, "- **Logged:** %s\n", a.Entry.Time)
		fmt.Fprintf(&b, "- **Topics:** %s\n", a.Entry.TopicString())
		fmt.Fprintf(&b, "\n> %s\n", a.Entry.Message)
	}
	if len(a.Devices) > 0 {
		b.WriteString("\n")
		for _, d := range a.Devices {
			fmt.Fprintf(&b, "- `%s` %s on %s\n", d.IP, d.MAC, d.Interface)
		}
	}
	fmt.Fprintf(&b, "\nRaised %s.\n", a.Time.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

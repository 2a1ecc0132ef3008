package alert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/routerwatch/internal/events"
	"github.com/nugget/routerwatch/internal/logwatch"
)

// Sink delivers alerts somewhere.
type Sink interface {
	Emit(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, a Alert) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, a Alert) error { return f(ctx, a) }

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers each alert to every registered sink in registration
// order. Sink failures are logged, published on the event bus, and
// otherwise ignored.
type Fanout struct {
	logger  *slog.Logger
	bus     *events.Bus
	timeout time.Duration
	sinks   []namedSink

	// OnError, when set, is called for every failed delivery.
	OnError func(sink string, err error)
}

// NewFanout creates an empty fan-out. bus may be nil.
func NewFanout(logger *slog.Logger, bus *events.Bus) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger, bus: bus, timeout: 15 * time.Second}
}

// Add registers a sink under name.
func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Emit delivers a to every sink. It always returns nil.
func (f *Fanout) Emit(ctx context.Context, a Alert) error {
	for _, ns := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := ns.sink.Emit(sctx, a)
		cancel()
		if err == nil {
			continue
		}
		f.logger.Warn("alert delivery failed",
			"sink", ns.name,
			"alert_kind", a.Kind,
			"alert_id", a.ID,
			"error", err,
		)
		f.bus.Emit(events.SourceAlert, events.KindSinkFailed, map[string]any{
			"sink":  ns.name,
			"error": err.Error(),
		})
		if f.OnError != nil {
			f.OnError(ns.name, err)
		}
	}
	return nil
}

// Console writes one line per alert.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Emit writes a.Line().
func (c *Console) Emit(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, a.Line()); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

// LogSink records alerts as structured log entries.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs a at warn level for error and above, info otherwise.
func (l LogSink) Emit(ctx context.Context, a Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if a.Severity >= logwatch.SeverityError {
		level = slog.LevelWarn
	}
	attrs := []any{
		"alert_id", a.ID,
		"kind", a.Kind,
		"severity", a.Severity.String(),
		"title", a.Title,
	}
	if a.Entry != nil {
		attrs = append(attrs,
			"log_time", a.Entry.Time,
			"topics", a.Entry.TopicString(),
			"message", a.Entry.Message,
		)
	}
	for _, d := range a.Devices {
		attrs = append(attrs, slog.Group("device", "ip", d.IP, "mac", d.MAC, "interface", d.Interface))
	}
	logger.Log(ctx, level, "router alert", attrs...)
	return nil
}

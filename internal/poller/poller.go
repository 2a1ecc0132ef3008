// Package poller runs the routerwatch poll loop: fetch the ARP table and
// system log, reduce them to active devices and novel log alerts, and
// hand the results to the alert sinks.
//
// The loop never stops on a per-cycle failure. A failed device fetch
// leaves the previous device list in place, marked stale; a failed log
// fetch leaves the dedup state untouched so nothing is lost or
// repeated once the router answers again.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/connwatch"
	"github.com/nugget/routerwatch/internal/events"
	"github.com/nugget/routerwatch/internal/logwatch"
	"github.com/nugget/routerwatch/internal/metrics"
	"github.com/nugget/routerwatch/internal/routeros"
)

// DefaultInterval is the delay between cycles when Config.Interval is
// zero.
const DefaultInterval = 30 * time.Second

// Endpoint selects which router listings a cycle fetches.
type Endpoint int

// FetchAll requests both listings. FetchDevices and FetchLogs request
// only the ARP table or only the system log.
const (
	FetchAll Endpoint = iota
	FetchDevices
	FetchLogs
)

// Fetcher reads the two router listings the loop consumes.
// *routeros.Client satisfies it.
type Fetcher interface {
	ARP(ctx context.Context) ([]routeros.Row, error)
	Logs(ctx context.Context) ([]routeros.Row, error)
}

// Config configures a Poller. Fetcher and Watcher are required.
type Config struct {
	Fetcher Fetcher
	Watcher *logwatch.Watcher

	// Fetch limits each cycle to one listing. The skipped listing is
	// never requested and its state is left untouched.
	Fetch Endpoint

	// Sink receives every alert. Nil discards alerts.
	Sink alert.Sink

	// Interval is the fixed delay between cycles.
	Interval time.Duration

	// DeviceChanges enables joined/left alerts. They are never raised
	// for the first successful device poll.
	DeviceChanges bool

	// Devices, when set, receives one line per active device each
	// cycle.
	Devices io.Writer

	// Optional collaborators.
	Health  *connwatch.Watcher
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now overrides the clock for alert timestamps.
	Now func() time.Time
}

// Snapshot is the latest device view, safe to hand to other goroutines.
type Snapshot struct {
	Devices []routeros.Device `json:"devices"`

	// Stale is set when the latest device fetch failed and Devices is
	// from an earlier cycle.
	Stale bool   `json:"stale"`
	Err   string `json:"error,omitempty"`

	// At is when Devices was fetched; zero before the first success.
	At time.Time `json:"at"`

	Cycle     uint64    `json:"cycle"`
	LastCycle time.Time `json:"last_cycle"`
	LogCursor string    `json:"log_cursor,omitempty"`
}

// Result describes what one cycle did.
type Result struct {
	Devices   []routeros.Device
	Joined    []routeros.Device
	Left      []routeros.Device
	LogAlerts []routeros.LogEntry

	DevicesErr error
	LogsErr    error
}

// OK reports whether every requested fetch succeeded.
func (r Result) OK() bool {
	return r.DevicesErr == nil && r.LogsErr == nil
}

// Poller owns the poll loop state. The log dedup state is only touched
// while cycleMu is held, so cycles never overlap.
type Poller struct {
	cfg    Config
	logger *slog.Logger

	cycleMu       sync.Mutex
	state         logwatch.State
	devicesPrimed bool

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Poller.
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{cfg: cfg, logger: logger}
}

// Run polls immediately and then every Interval until ctx is cancelled.
// It always returns nil; per-cycle failures are logged and skipped.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.cfg.Interval)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Snapshot returns a copy of the latest device view.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snap
	s.Devices = append([]routeros.Device(nil), p.snap.Devices...)
	return s
}

// LogState returns the dedup state that the next cycle will start from.
func (p *Poller) LogState() logwatch.State {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	return p.state
}

// Cycle runs one fetch-process pass. The requested fetches run
// concurrently and are joined before any state changes. Calls are
// serialized.
func (p *Poller) Cycle(ctx context.Context) Result {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := time.Now()
	cycle := p.Snapshot().Cycle + 1
	p.cfg.Bus.Emit(events.SourcePoller, events.KindPollStart, map[string]any{"cycle": cycle})

	var (
		wg               sync.WaitGroup
		arpRows, logRows []routeros.Row
		arpErr, logErr   error
	)
	wantDevices := p.cfg.Fetch != FetchLogs
	wantLogs := p.cfg.Fetch != FetchDevices
	if wantDevices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arpRows, arpErr = p.cfg.Fetcher.ARP(ctx)
		}()
	}
	if wantLogs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logRows, logErr = p.cfg.Fetcher.Logs(ctx)
		}()
	}
	wg.Wait()

	var res Result
	if err := ctx.Err(); err != nil {
		if wantDevices {
			res.DevicesErr = err
		}
		if wantLogs {
			res.LogsErr = err
		}
		return res
	}

	res.DevicesErr = arpErr
	res.LogsErr = logErr
	switch {
	case !wantLogs:
		p.observeReachability(arpErr, arpErr)
	case !wantDevices:
		p.observeReachability(logErr, logErr)
	default:
		p.observeReachability(arpErr, logErr)
	}

	if wantDevices {
		p.processDevices(ctx, &res, cycle, arpRows, arpErr)
	}
	if wantLogs {
		p.processLogs(ctx, &res, logRows, logErr)
	}

	elapsed := time.Since(start)
	p.cfg.Metrics.CycleDone(res.OK(), elapsed)

	snap := p.Snapshot()
	p.cfg.Bus.Emit(events.SourcePoller, events.KindPollComplete, map[string]any{
		"cycle":      cycle,
		"devices":    len(snap.Devices),
		"stale":      snap.Stale,
		"log_alerts": len(res.LogAlerts),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	p.logger.Debug("poll cycle complete",
		"cycle", cycle,
		"devices", len(snap.Devices),
		"stale", snap.Stale,
		"log_alerts", len(res.LogAlerts),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return res
}

// observeReachability treats the router as up when either request got
// an answer.
func (p *Poller) observeReachability(arpErr, logErr error) {
	up := arpErr == nil || logErr == nil
	p.cfg.Metrics.SetRouterUp(up)
	if p.cfg.Health == nil {
		return
	}
	if up {
		p.cfg.Health.Observe(nil)
	} else {
		p.cfg.Health.Observe(arpErr)
	}
}

func (p *Poller) fetchFailed(endpoint string, err error) {
	kind := routeros.KindOf(err)
	p.logger.Warn("router fetch failed",
		"endpoint", endpoint,
		"kind", kind.String(),
		"error", err,
	)
	p.cfg.Metrics.FetchFailed(endpoint, kind.String())
	p.cfg.Bus.Emit(events.SourcePoller, events.KindFetchFailed, map[string]any{
		"endpoint": endpoint,
		"kind":     kind.String(),
		"error":    err.Error(),
	})
}

func (p *Poller) processDevices(ctx context.Context, res *Result, cycle uint64, rows []routeros.Row, fetchErr error) {
	now := p.cfg.Now()

	if fetchErr != nil {
		p.fetchFailed(routeros.PathARP, fetchErr)
		p.mu.Lock()
		p.snap.Stale = true
		p.snap.Err = fetchErr.Error()
		p.snap.Cycle = cycle
		p.snap.LastCycle = now
		n := len(p.snap.Devices)
		p.mu.Unlock()
		p.cfg.Metrics.SetDevices(n, true)
		return
	}

	devices, stats := routeros.FilterDevices(rows)
	if stats.Malformed > 0 {
		p.logger.Debug("skipped malformed ARP rows", "count", stats.Malformed, "total", stats.Total)
	}
	p.cfg.Metrics.SkippedRows("malformed", stats.Malformed)
	p.cfg.Metrics.SkippedRows("inactive", stats.Inactive)
	res.Devices = devices

	p.mu.Lock()
	prev := p.snap.Devices
	p.snap.Devices = devices
	p.snap.Stale = false
	p.snap.Err = ""
	p.snap.At = now
	p.snap.Cycle = cycle
	p.snap.LastCycle = now
	p.mu.Unlock()
	p.cfg.Metrics.SetDevices(len(devices), false)

	if p.cfg.Devices != nil {
		for _, d := range devices {
			fmt.Fprintln(p.cfg.Devices, alert.DeviceLine(d))
		}
	}

	primed := p.devicesPrimed
	p.devicesPrimed = true
	if !primed {
		return
	}

	res.Joined, res.Left = routeros.DiffDevices(prev, devices)
	p.cfg.Metrics.DeviceChanges(len(res.Joined), len(res.Left))
	for _, d := range res.Joined {
		p.publishDevice(events.KindDeviceJoined, d)
		if p.cfg.DeviceChanges {
			p.emit(ctx, alert.DeviceJoined(d, now))
		}
	}
	for _, d := range res.Left {
		p.publishDevice(events.KindDeviceLeft, d)
		if p.cfg.DeviceChanges {
			p.emit(ctx, alert.DeviceLeft(d, now))
		}
	}
}

func (p *Poller) publishDevice(kind string, d routeros.Device) {
	p.logger.Info("device change", "change", kind, "ip", d.IP, "mac", d.MAC, "interface", d.Interface)
	p.cfg.Bus.Emit(events.SourcePoller, kind, map[string]any{
		"ip":        d.IP,
		"mac":       d.MAC,
		"interface": d.Interface,
	})
}

func (p *Poller) processLogs(ctx context.Context, res *Result, rows []routeros.Row, fetchErr error) {
	if fetchErr != nil {
		p.fetchFailed(routeros.PathLog, fetchErr)
		return
	}

	entries, skipped := routeros.ParseLogEntries(rows)
	if skipped > 0 {
		p.logger.Debug("skipped log rows without a message", "count", skipped)
	}
	p.cfg.Metrics.SkippedRows("no_message", skipped)

	coldStart := !p.state.Primed()
	alerts, next := p.cfg.Watcher.Classify(entries, p.state)
	p.state = next
	if coldStart {
		p.logger.Info("log watch primed",
			"entries", len(entries),
			"alerts", len(alerts),
			"cursor", next.Cursor,
		)
	}

	p.mu.Lock()
	p.snap.LogCursor = next.Cursor
	p.mu.Unlock()

	res.LogAlerts = alerts
	p.cfg.Metrics.LogAlerts(len(alerts))

	now := p.cfg.Now()
	for _, e := range alerts {
		a := alert.FromLogEntry(e, now)
		p.cfg.Bus.Emit(events.SourcePoller, events.KindLogAlert, map[string]any{
			"time":     e.Time,
			"topics":   e.TopicString(),
			"message":  e.Message,
			"severity": a.Severity.String(),
		})
		p.emit(ctx, a)
	}
}

func (p *Poller) emit(ctx context.Context, a alert.Alert) {
	if p.cfg.Sink == nil {
		return
	}
	if err := p.cfg.Sink.Emit(ctx, a); err != nil {
		p.logger.Warn("alert delivery failed", "alert_kind", a.Kind, "error", err)
	}
}

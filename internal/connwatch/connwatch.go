// Package connwatch tracks whether the router's management API is
// reachable.
//
// A Watcher learns about reachability two ways: its own probe, run with
// exponential backoff while the router has never answered and then on
// a slow background interval, and results reported by the poll loop via
// Observe. Either source can flip the state; transitions are logged
// once and reported through OnReady and OnDown.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether the router is reachable. Return nil if
// healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries bounds the startup probe attempts (default: 10).
	MaxRetries int

	// PollInterval is the background probe interval (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout limits each probe call (default: 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s, ... capped at 60s, with ten
// startup attempts and a one-minute background probe.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the target in logs, e.g. the router host.
	Name string

	// Probe checks reachability. Optional when results are only fed
	// through Observe.
	Probe ProbeFunc

	Backoff BackoffConfig

	// OnReady is called on a not-ready to ready transition. Must not
	// block.
	OnReady func()

	// OnDown is called on a ready to not-ready transition. Must not
	// block.
	OnDown func(err error)

	Logger *slog.Logger
}

// Status is the reachability snapshot reported by the status API.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures"`
}

// Watcher holds the reachability state of one router.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
	failures  int
}

// New creates a Watcher. It starts not-ready.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	return &Watcher{cfg: cfg, logger: logger}
}

// IsReady reports whether the router answered the most recent check.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// LastError returns the most recent failure, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current reachability snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		Name:      w.cfg.Name,
		Ready:     w.ready,
		LastCheck: w.lastCheck,
		Failures:  w.failures,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Observe records an externally obtained result, such as the outcome of
// a poll cycle's requests, and handles any state transition.
func (w *Watcher) Observe(err error) {
	w.mu.Lock()
	wasReady := w.ready
	w.lastErr = err
	w.lastCheck = time.Now()
	w.ready = err == nil
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	failures := w.failures
	w.mu.Unlock()

	switch {
	case wasReady && err != nil:
		w.logger.Warn("router became unreachable", "router", w.cfg.Name, "error", err)
		if w.cfg.OnDown != nil {
			w.cfg.OnDown(err)
		}
	case !wasReady && err == nil:
		w.logger.Info("router reachable", "router", w.cfg.Name)
		if w.cfg.OnReady != nil {
			w.cfg.OnReady()
		}
	case err != nil:
		w.logger.Debug("router still unreachable",
			"router", w.cfg.Name,
			"consecutive_failures", failures,
			"error", err,
		)
	}
}

// Run probes until ctx is cancelled. Until the first success it retries
// with exponential backoff; after that, or once the retries are spent,
// it probes every PollInterval. Run returns immediately when no Probe is
// configured.
func (w *Watcher) Run(ctx context.Context) {
	if w.cfg.Probe == nil {
		return
	}
	b := w.cfg.Backoff

	delay := b.InitialDelay
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.Observe(err)
		if err == nil {
			break
		}
		if attempt == b.MaxRetries {
			w.logger.Info("startup probes exhausted, continuing in background",
				"router", w.cfg.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			w.Observe(err)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(ctx)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

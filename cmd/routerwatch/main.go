// Routerwatch watches a MikroTik RouterOS v7 router over its REST API.
//
// Each poll cycle reads the ARP table and the system log. Active devices
// are printed to the console, and novel log entries on critical topics
// raise alerts on the console, the desktop, MQTT (with Home Assistant
// discovery) and email. An optional status server exposes health, the
// device list, Prometheus metrics and a live event stream.
//
// Usage:
//
//	routerwatch [watch]             Poll until interrupted (default)
//	routerwatch devices [-notify]   Print the active devices once
//	routerwatch logs                Print alert-worthy log entries once
//	routerwatch init [dir]          Write an example routerwatch.yaml
//	routerwatch version             Print version and build information
//	routerwatch -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/api"
	"github.com/nugget/routerwatch/internal/buildinfo"
	"github.com/nugget/routerwatch/internal/config"
	"github.com/nugget/routerwatch/internal/connwatch"
	"github.com/nugget/routerwatch/internal/email"
	"github.com/nugget/routerwatch/internal/events"
	"github.com/nugget/routerwatch/internal/logwatch"
	"github.com/nugget/routerwatch/internal/metrics"
	"github.com/nugget/routerwatch/internal/mqtt"
	"github.com/nugget/routerwatch/internal/poller"
	"github.com/nugget/routerwatch/internal/routeros"
)

// eventHistory is how many bus events a new stream client is replayed.
const eventHistory = 100

// main only wires the OS environment to [run], so the whole lifecycle
// can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	output     string // "text" or "json"
	notify     bool
}

// run is the real entry point. Console output goes to stdout and
// structured logs to stderr. It returns an error only for bad usage or
// an unusable configuration; router failures are logged and retried.
//
// Arguments are parsed by hand because the flag package's global
// FlagSet gets in the way of calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "-config="):
			opts.configPath = strings.TrimPrefix(arg, "-config=")
		case arg == "-log-level" && i+1 < len(args):
			opts.logLevel = args[i+1]
			i++
		case strings.HasPrefix(arg, "-log-level="):
			opts.logLevel = strings.TrimPrefix(arg, "-log-level=")
		case arg == "-log-format" && i+1 < len(args):
			opts.logFormat = args[i+1]
			i++
		case strings.HasPrefix(arg, "-log-format="):
			opts.logFormat = strings.TrimPrefix(arg, "-log-format=")
		case (arg == "-o" || arg == "--output") && i+1 < len(args):
			opts.output = args[i+1]
			i++
		case strings.HasPrefix(arg, "-o="):
			opts.output = strings.TrimPrefix(arg, "-o=")
		case strings.HasPrefix(arg, "--output="):
			opts.output = strings.TrimPrefix(arg, "--output=")
		case arg == "-notify":
			opts.notify = true
		case arg == "-h" || arg == "-help" || arg == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(arg, "-") && command == "":
			command = arg
		case !strings.HasPrefix(arg, "-"):
			cmdArgs = append(cmdArgs, arg)
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if opts.output == "" {
		opts.output = "text"
	}
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
	}

	if len(cmdArgs) > 0 && command != "init" {
		return fmt.Errorf("unexpected argument: %s", cmdArgs[0])
	}

	switch command {
	case "", "watch":
		return runWatch(ctx, stdout, stderr, opts)
	case "devices":
		return runDevices(ctx, stdout, stderr, opts)
	case "logs":
		return runLogs(ctx, stdout, stderr, opts)
	case "init":
		if len(cmdArgs) > 1 {
			return fmt.Errorf("usage: routerwatch init [dir]")
		}
		dir := "."
		if len(cmdArgs) == 1 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.output)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Routerwatch - RouterOS device and log watcher")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: routerwatch [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  watch        Poll the router until interrupted (default)")
	fmt.Fprintln(w, "  devices      Print the active devices once")
	fmt.Fprintln(w, "  logs         Print alert-worthy log entries once")
	fmt.Fprintln(w, "  init [dir]   Write an example routerwatch.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>       Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -log-level <level>   trace, debug, info, warn or error")
	fmt.Fprintln(w, "  -log-format <fmt>    text (default) or json")
	fmt.Fprintln(w, "  -o, --output <fmt>   Output format for devices and version: text or json")
	fmt.Fprintln(w, "  -notify              devices: also send the list to desktop and email")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment: ROUTER_IP, ROUTER_USER, ROUTER_PASSWORD, ROUTER_CERT_PATH,")
	fmt.Fprintln(w, "  ROUTER_INSECURE_SKIP_VERIFY, ROUTER_POLL_INTERVAL")
	return nil
}

// setup is the configuration and router client shared by every
// command that talks to the router.
type setup struct {
	cfg    *config.Config
	logger *slog.Logger
	client *routeros.Client
}

// prepare resolves the configuration, builds the logger and creates
// the router client. Every error it returns is a startup failure.
func prepare(stderr io.Writer, opts options) (*setup, error) {
	cfg, path, warnings, err := config.Resolve(opts.configPath, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := config.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.LogFormat = format

	logger := newLogger(stderr, level, format)
	if path != "" {
		logger.Info("config loaded", "path", path)
	} else {
		logger.Info("no config file found, using environment")
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	client, err := routeros.NewClient(routeros.Config{
		BaseURL:            cfg.Router.BaseURL(),
		Username:           cfg.Router.Username,
		Password:           cfg.Router.Password,
		CACert:             cfg.Router.CACert,
		InsecureSkipVerify: cfg.Router.InsecureSkipVerify,
		Timeout:            cfg.Router.Timeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &setup{cfg: cfg, logger: logger, client: client}, nil
}

// newWatcher builds the log classifier from configuration.
func newWatcher(cfg *config.Config) *logwatch.Watcher {
	return logwatch.New(logwatch.Config{
		CriticalTopics:  cfg.Logs.CriticalTopics,
		MessagePatterns: cfg.Logs.MessagePatterns,
		RetainPolls:     cfg.Logs.RetainPolls,
		SuppressStartup: cfg.Logs.SuppressStartupAlerts,
	})
}

// addNotifySinks adds the desktop and email sinks the configuration
// enables.
func addNotifySinks(fan *alert.Fanout, s *setup, routerName string) {
	if s.cfg.Alerts.Desktop {
		fan.Add("desktop", alert.NewDesktop(s.cfg.Alerts.NotifyCommand))
	}
	if s.cfg.Email.Configured() {
		fan.Add("email", email.NewSink(s.cfg.Email, routerName, s.logger))
		s.logger.Info("email alerts enabled",
			"smtp_host", s.cfg.Email.SMTP.Host,
			"recipients", len(s.cfg.Email.To),
		)
	}
}

// runDevices runs one ARP-only cycle and prints the active devices. With
// -notify the list is also delivered as a snapshot alert.
func runDevices(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options) error {
	s, err := prepare(stderr, opts)
	if err != nil {
		return err
	}

	pcfg := poller.Config{
		Fetcher: s.client,
		Watcher: newWatcher(s.cfg),
		Fetch:   poller.FetchDevices,
		Logger:  s.logger,
	}
	if opts.output == "text" {
		pcfg.Devices = stdout
	}
	p := poller.New(pcfg)
	res := p.Cycle(ctx)
	if res.DevicesErr != nil {
		return nil
	}

	if opts.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.Snapshot()); err != nil {
			return err
		}
	}

	if opts.notify {
		fan := alert.NewFanout(s.logger, nil)
		addNotifySinks(fan, s, s.cfg.Router.Host)
		_ = fan.Emit(ctx, alert.Snapshot(res.Devices, time.Now()))
	}
	return nil
}

// runLogs runs one log-only cycle and prints every alert-worthy log entry the
// router currently holds.
func runLogs(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options) error {
	s, err := prepare(stderr, opts)
	if err != nil {
		return err
	}

	// A one-shot run has no history, so startup suppression would
	// always print nothing.
	s.cfg.Logs.SuppressStartupAlerts = false

	p := poller.New(poller.Config{
		Fetcher: s.client,
		Watcher: newWatcher(s.cfg),
		Fetch:   poller.FetchLogs,
		Sink:    alert.NewConsole(stdout),
		Logger:  s.logger,
	})
	p.Cycle(ctx)
	return nil
}

// runWatch is the primary operating mode. It polls the router until
// SIGINT or SIGTERM, then stops the MQTT publisher and the status
// server.
func runWatch(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options) error {
	s, err := prepare(stderr, opts)
	if err != nil {
		return err
	}
	cfg, logger := s.cfg, s.logger
	logger.Info("starting routerwatch",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"router", cfg.Router.BaseURL(),
		"interval", cfg.Poll.Interval(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	routerName := cfg.Router.Host
	{
		idCtx, idCancel := context.WithTimeout(ctx, cfg.Router.Timeout())
		name, err := s.client.Identity(idCtx)
		idCancel()
		switch {
		case err != nil:
			logger.Warn("router identity unavailable", "kind", routeros.KindOf(err).String(), "error", err)
		case name != "":
			routerName = name
			logger.Info("router identity", "name", name)
		}
	}

	bus := events.New(eventHistory)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	health := connwatch.New(connwatch.Config{
		Name:    routerName,
		Probe:   s.client.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() {
			bus.Emit(events.SourceRouter, events.KindReachable, nil)
		},
		OnDown: func(err error) {
			bus.Emit(events.SourceRouter, events.KindUnreachable, map[string]any{"error": err.Error()})
		},
		Logger: logger,
	})

	fan := alert.NewFanout(logger, bus)
	fan.OnError = func(sink string, _ error) { m.SinkFailed(sink) }
	fan.Add("console", alert.NewConsole(stdout))
	if cfg.LogFormat == "json" {
		fan.Add("log", alert.LogSink{Logger: logger})
	}
	addNotifySinks(fan, s, routerName)

	p := poller.New(poller.Config{
		Fetcher:       s.client,
		Watcher:       newWatcher(cfg),
		Sink:          fan,
		Interval:      cfg.Poll.Interval(),
		DeviceChanges: cfg.Alerts.DeviceChanges,
		Devices:       stdout,
		Health:        health,
		Bus:           bus,
		Metrics:       m,
		Logger:        logger,
	})

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.InstanceID(cfg.DataDir, cfg.Router.Host)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		mqttPub = mqtt.New(cfg.MQTT, instanceID, routerName, &mqttStatsAdapter{poller: p, health: health}, logger)
		fan.Add("mqtt", mqttPub)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	}

	var server *api.Server
	if cfg.Listen.Port > 0 {
		server = api.NewServer(api.Config{
			Address:  cfg.Listen.Address,
			Port:     cfg.Listen.Port,
			Devices:  p,
			Health:   health,
			Bus:      bus,
			Gatherer: reg,
			Logger:   logger,
		})
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	logger.Info("alert sinks configured", "count", fan.Len())

	go health.Run(ctx)
	_ = p.Run(ctx)

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if mqttPub != nil {
		if err := mqttPub.Stop(shutdownCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}

	logger.Info("routerwatch stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" yields text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// mqttStatsAdapter bridges the poller, the router health watcher and
// build info to [mqtt.StatsSource].
type mqttStatsAdapter struct {
	poller *poller.Poller
	health *connwatch.Watcher
}

func (a *mqttStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string       { return buildinfo.Version }
func (a *mqttStatsAdapter) RouterReachable() bool { return a.health.IsReady() }
func (a *mqttStatsAdapter) LastPoll() time.Time   { return a.poller.Snapshot().LastCycle }

func (a *mqttStatsAdapter) Devices() (int, bool) {
	snap := a.poller.Snapshot()
	return len(snap.Devices), snap.Stale
}

// Package web renders the routerwatch HTML dashboard: the active device
// list, router reachability and recent poll activity.
package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/routerwatch/internal/buildinfo"
	"github.com/nugget/routerwatch/internal/connwatch"
	"github.com/nugget/routerwatch/internal/events"
	"github.com/nugget/routerwatch/internal/poller"
)

// Config supplies the dashboard's data. Devices is required.
type Config struct {
	Devices func() poller.Snapshot
	Health  func() connwatch.Status // optional
	Events  func() []events.Event   // optional
	Logger  *slog.Logger
}

// Dashboard serves the overview page.
type Dashboard struct {
	cfg       Config
	templates map[string]*template.Template
	logger    *slog.Logger
}

// New parses the embedded templates. It panics on a template syntax
// error so a broken build fails at startup.
func New(cfg Config) *Dashboard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{
		cfg:       cfg,
		templates: loadTemplates(),
		logger:    logger,
	}
}

// DashboardData is the template context for the overview page.
type DashboardData struct {
	Snapshot poller.Snapshot
	Router   *connwatch.Status
	Events   []events.Event
	Version  string
	Uptime   time.Duration
	Now      time.Time
}

// recentEvents is how many bus events the page lists, newest first.
const recentEvents = 20

// ServeHTTP renders the dashboard.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		Snapshot: d.cfg.Devices(),
		Version:  buildinfo.Version,
		Uptime:   buildinfo.Uptime(),
		Now:      time.Now(),
	}
	if d.cfg.Health != nil {
		st := d.cfg.Health()
		data.Router = &st
	}
	if d.cfg.Events != nil {
		data.Events = newestFirst(d.cfg.Events(), recentEvents)
	}

	d.render(w, r, "dashboard.html", data)
}

func newestFirst(evs []events.Event, n int) []events.Event {
	if len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	out := make([]events.Event, len(evs))
	for i, e := range evs {
		out[len(evs)-1-i] = e
	}
	return out
}

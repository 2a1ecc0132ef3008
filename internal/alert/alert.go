// Package alert defines the alerts routerwatch raises and the sinks
// that deliver them.
//
// Delivery is best-effort: a [Fanout] hands each alert to every
// configured [Sink], logs any failure, and never reports it back to the
// poll loop.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/routerwatch/internal/logwatch"
	"github.com/nugget/routerwatch/internal/routeros"
)

// Kind names what an alert is about.
type Kind string

const (
	KindLog          Kind = "log"
	KindDeviceJoined Kind = "device_joined"
	KindDeviceLeft   Kind = "device_left"
	KindSnapshot     Kind = "snapshot"
)

// Alert is one notification-worthy occurrence.
type Alert struct {
	ID       string             `json:"id"`
	Kind     Kind               `json:"kind"`
	Severity logwatch.Severity  `json:"severity"`
	Title    string             `json:"title"`
	Body     string             `json:"body"`
	Entry    *routeros.LogEntry `json:"entry,omitempty"`
	Devices  []routeros.Device  `json:"devices,omitempty"`
	Time     time.Time          `json:"time"`
}

// FromLogEntry builds the alert for a novel log entry.
func FromLogEntry(e routeros.LogEntry, now time.Time) Alert {
	sev := logwatch.SeverityOf(e)
	topics := e.TopicString()
	if topics == "" {
		topics = "log"
	}
	return Alert{
		ID:       uuid.NewString(),
		Kind:     KindLog,
		Severity: sev,
		Title:    "Router " + topics,
		Body:     e.Message,
		Entry:    &e,
		Time:     now,
	}
}

// DeviceJoined builds the alert for a device that appeared.
func DeviceJoined(d routeros.Device, now time.Time) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Kind:     KindDeviceJoined,
		Severity: logwatch.SeverityInfo,
		Title:    "Device joined",
		Body:     DeviceLine(d),
		Devices:  []routeros.Device{d},
		Time:     now,
	}
}

// DeviceLeft builds the alert for a device that disappeared.
func DeviceLeft(d routeros.Device, now time.Time) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Kind:     KindDeviceLeft,
		Severity: logwatch.SeverityInfo,
		Title:    "Device left",
		Body:     DeviceLine(d),
		Devices:  []routeros.Device{d},
		Time:     now,
	}
}

// Snapshot builds a summary alert carrying the full device list.
func Snapshot(devices []routeros.Device, now time.Time) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Kind:     KindSnapshot,
		Severity: logwatch.SeverityInfo,
		Title:    fmt.Sprintf("%d active devices", len(devices)),
		Body:     DeviceTable(devices),
		Devices:  devices,
		Time:     now,
	}
}

// DeviceLine formats one device the way the console prints it.
func DeviceLine(d routeros.Device) string {
	return fmt.Sprintf("IP: %s | MAC: %s | Interface: %s", d.IP, d.MAC, d.Interface)
}

// DeviceTable formats devices one per line.
func DeviceTable(devices []routeros.Device) string {
	var b strings.Builder
	for _, d := range devices {
		b.WriteString(DeviceLine(d))
		b.WriteByte('\n')
	}
	return b.String()
}

// Line is the single-line console rendering of a.
func (a Alert) Line() string {
	if a.Entry != nil {
		return fmt.Sprintf("[%s] %s %s: %s", a.Severity, a.Entry.Time, a.Entry.TopicString(), a.Entry.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Title, strings.TrimSpace(a.Body))
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/config"
	"github.com/nugget/routerwatch/internal/routeros"
)

type fakeClient struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (f *fakeClient) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakeClient) byTopic() map[string]*paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*paho.Publish, len(f.msgs))
	for _, m := range f.msgs {
		out[m.Topic] = m
	}
	return out
}

type fakeStats struct {
	devices int
	stale   bool
	up      bool
	last    time.Time
}

func (s fakeStats) Uptime() time.Duration { return 90*time.Minute + 1500*time.Millisecond }
func (s fakeStats) Version() string       { return "1.2.3" }
func (s fakeStats) Devices() (int, bool)  { return s.devices, s.stale }
func (s fakeStats) RouterReachable() bool { return s.up }
func (s fakeStats) LastPoll() time.Time   { return s.last }

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "gw-watch",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestInstanceID_Derived(t *testing.T) {
	a, err := InstanceID("", "192.168.88.1")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := InstanceID("", "192.168.88.1")
	c, _ := InstanceID("", "10.0.0.1")
	if a != b {
		t.Errorf("derived id not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different routers share an id")
	}
}

func TestInstanceID_Persisted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	first, err := InstanceID(dir, "192.168.88.1")
	if err != nil {
		t.Fatalf("InstanceID: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("file = %q, want %q", data, first)
	}

	second, err := InstanceID(dir, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("persisted id changed: %q -> %q", first, second)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("id-1", "gw-watch", "MikroTik")
	if info.Name != "gw-watch" || info.Identifiers[0] != "id-1" {
		t.Errorf("info = %+v", info)
	}
	if info.Model != "RouterOS watcher (MikroTik)" {
		t.Errorf("Model = %q", info.Model)
	}
	if NewDeviceInfo("id", "d", "").Model != "RouterOS watcher" {
		t.Error("model without router name")
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), "test-id", "", nil, nil)

	tests := []struct {
		got, want string
	}{
		{p.baseTopic(), "routerwatch/gw-watch"},
		{p.availabilityTopic(), "routerwatch/gw-watch/availability"},
		{p.alertTopic(), "routerwatch/gw-watch/alert"},
		{p.stateTopic("active_devices"), "routerwatch/gw-watch/active_devices/state"},
		{p.attributesTopic("last_alert"), "routerwatch/gw-watch/last_alert/attributes"},
		{p.discoveryTopic("sensor", "router"), "homeassistant/sensor/gw-watch/router/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, "instance-123", "", nil, nil)

	want := []string{"uptime", "version", "active_devices", "router", "last_poll", "alerts_today", "last_alert"}
	defs := p.sensorDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d sensors, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.entitySuffix != want[i] {
			t.Errorf("sensor %d = %q, want %q", i, d.entitySuffix, want[i])
		}
		if strings.Contains(d.config.Name, cfg.DeviceName) {
			t.Errorf("sensor %s: Name %q repeats the device name", d.entitySuffix, d.config.Name)
		}
		if !d.config.HasEntityName || d.config.ObjectID != d.entitySuffix {
			t.Errorf("sensor %s: has_entity_name/object_id not set", d.entitySuffix)
		}
		if d.config.UniqueID != "instance-123_"+d.entitySuffix {
			t.Errorf("sensor %s: UniqueID = %q", d.entitySuffix, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != "routerwatch/gw-watch/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
	}
}

func TestPublisher_PublishDiscovery(t *testing.T) {
	p := New(testConfig(), "id", "", nil, nil)
	fc := &fakeClient{}
	p.publishDiscovery(context.Background(), fc)

	msgs := fc.byTopic()
	cfgMsg, ok := msgs["homeassistant/sensor/gw-watch/last_poll/config"]
	if !ok {
		t.Fatalf("missing last_poll discovery; topics: %v", msgs)
	}
	if !cfgMsg.Retain || cfgMsg.QoS != 1 {
		t.Errorf("discovery retain=%v qos=%d", cfgMsg.Retain, cfgMsg.QoS)
	}
	var sc SensorConfig
	if err := json.Unmarshal(cfgMsg.Payload, &sc); err != nil {
		t.Fatal(err)
	}
	if sc.DeviceClass != "timestamp" || sc.StateTopic != "routerwatch/gw-watch/last_poll/state" {
		t.Errorf("last_poll config = %+v", sc)
	}
}

func TestPublisher_PublishStates(t *testing.T) {
	last := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p := New(testConfig(), "id", "", fakeStats{devices: 12, stale: true, up: true, last: last}, nil)
	fc := &fakeClient{}
	p.client = fc

	p.publishStates(context.Background())

	msgs := fc.byTopic()
	want := map[string]string{
		"routerwatch/gw-watch/uptime/state":         "1h30m1s",
		"routerwatch/gw-watch/version/state":        "1.2.3",
		"routerwatch/gw-watch/active_devices/state": "12",
		"routerwatch/gw-watch/router/state":         "online",
		"routerwatch/gw-watch/last_poll/state":      "2026-03-14T09:00:00Z",
		"routerwatch/gw-watch/alerts_today/state":   "0",
	}
	for topic, value := range want {
		m, ok := msgs[topic]
		if !ok {
			t.Errorf("missing %s", topic)
			continue
		}
		if string(m.Payload) != value {
			t.Errorf("%s = %q, want %q", topic, m.Payload, value)
		}
	}
	attrs := msgs["routerwatch/gw-watch/active_devices/attributes"]
	if attrs == nil || string(attrs.Payload) != `{"stale":true}` {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestPublisher_PublishStatesNotConnected(t *testing.T) {
	p := New(testConfig(), "id", "", fakeStats{}, nil)
	p.publishStates(context.Background())
}

func TestPublisher_Emit(t *testing.T) {
	p := New(testConfig(), "id", "", fakeStats{}, nil)
	fc := &fakeClient{}
	p.client = fc

	e := routeros.LogEntry{Time: "jan/02 10:00:00", Topics: []string{"system", "critical"}, Message: "login failure for user admin"}
	a := alert.FromLogEntry(e, time.Now())
	if err := p.Emit(context.Background(), a); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	msgs := fc.byTopic()
	m := msgs["routerwatch/gw-watch/alert"]
	if m == nil {
		t.Fatal("alert not published")
	}
	if m.Retain {
		t.Error("alerts should not be retained")
	}
	var got map[string]any
	if err := json.Unmarshal(m.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["severity"] != "critical" || got["kind"] != "log" {
		t.Errorf("payload = %s", m.Payload)
	}
	if s := msgs["routerwatch/gw-watch/alerts_today/state"]; s == nil || string(s.Payload) != "1" {
		t.Errorf("alerts_today = %v", s)
	}
	if s := msgs["routerwatch/gw-watch/last_alert/state"]; s == nil || !strings.HasPrefix(string(s.Payload), "Router system,critical: ") {
		t.Errorf("last_alert = %v", s)
	}
}

func TestPublisher_EmitErrors(t *testing.T) {
	p := New(testConfig(), "id", "", fakeStats{}, nil)
	a := alert.DeviceJoined(routeros.Device{IP: "10.0.0.9"}, time.Now())

	if err := p.Emit(context.Background(), a); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	brokerErr := errors.New("broker gone")
	p.client = &fakeClient{err: brokerErr}
	if err := p.Emit(context.Background(), a); !errors.Is(err, brokerErr) {
		t.Errorf("err = %v, want wrapped broker error", err)
	}
	if got := p.alerts.Value(); got != 2 {
		t.Errorf("alerts counted = %d, want 2", got)
	}
}

func TestTruncateState(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := truncateState(long)
	if len(got) > maxStateLen || !strings.HasPrefix(long, got) {
		t.Errorf("len = %d", len(got))
	}
	if truncateState("short") != "short" {
		t.Error("short string changed")
	}
}

func TestDailyCounter(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, loc)
	d := NewDailyCounter(loc)
	d.now = func() time.Time { return now }
	d.resetDay = now.YearDay()

	d.Inc()
	d.Inc()
	if d.Value() != 2 {
		t.Errorf("Value = %d, want 2", d.Value())
	}

	now = now.Add(2 * time.Minute)
	if d.Value() != 0 {
		t.Errorf("Value after midnight = %d, want 0", d.Value())
	}
	d.Inc()
	if d.Value() != 1 {
		t.Errorf("Value = %d, want 1", d.Value())
	}
}

func TestDailyCounter_Concurrent(t *testing.T) {
	d := NewDailyCounter(nil)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }
	d.resetDay = fixed.In(time.Local).YearDay()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				d.Inc()
			}
		}()
	}
	wg.Wait()
	if got := d.Value(); got != 1000 {
		t.Errorf("Value = %d", got)
	}
}

package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/routerwatch/internal/alert"
	"github.com/nugget/routerwatch/internal/config"
)

// ErrNotConnected is returned by [Publisher.Emit] before the broker
// connection exists.
var ErrNotConnected = errors.New("mqtt publisher not connected")

// maxStateLen is Home Assistant's limit on a sensor state string.
const maxStateLen = 255

// StatsSource provides the values behind the published sensors. The
// concrete adapter is wired in main to keep this package independent
// of the poll loop.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	// Devices returns the active device count and whether the list is
	// from an earlier cycle.
	Devices() (count int, stale bool)
	RouterReachable() bool
	LastPoll() time.Time
}

// publishClient is the subset of *autopaho.ConnectionManager used for
// publishing.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the broker connection, publishes discovery configs
// on (re-)connect, refreshes sensor states periodically, and forwards
// alerts. It implements alert.Sink.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	alerts     *DailyCounter
	stats      StatsSource
	logger     *slog.Logger

	mu     sync.Mutex
	client publishClient
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID, routerName string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName, routerName),
		alerts:     NewDailyCounter(nil),
		stats:      stats,
		logger:     logger,
	}
}

// Start connects to the broker and runs the periodic state loop. It
// blocks until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.publishStates(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "routerwatch-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.client = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects. ctx bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// Emit publishes a as JSON to the alert topic and updates the
// last-alert sensor.
func (p *Publisher) Emit(ctx context.Context, a alert.Alert) error {
	p.alerts.Inc()

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   p.alertTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	p.publishState(ctx, client, "last_alert", truncateState(a.Title+": "+a.Body))
	p.publishState(ctx, client, "alerts_today", strconv.FormatInt(p.alerts.Value(), 10))
	p.publishRetained(ctx, client, p.attributesTopic("last_alert"), payload)
	return nil
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "routerwatch/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) alertTopic() string {
	return p.baseTopic() + "/alert"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) attributesTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/attributes"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              name,
		ObjectID:          entity,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	uptime := p.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"

	version := p.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	devices := p.sensor("active_devices", "Active Devices", "mdi:lan-connect")
	devices.StateClass = "measurement"
	devices.UnitOfMeasurement = "devices"
	devices.JsonAttributesTopic = p.attributesTopic("active_devices")

	router := p.sensor("router", "Router", "mdi:router-network")

	lastPoll := p.sensor("last_poll", "Last Poll", "mdi:clock-check")
	lastPoll.DeviceClass = "timestamp"
	lastPoll.EntityCategory = "diagnostic"

	alertsToday := p.sensor("alerts_today", "Alerts Today", "mdi:alert-circle-outline")
	alertsToday.StateClass = "total_increasing"

	lastAlert := p.sensor("last_alert", "Last Alert", "mdi:shield-alert")
	lastAlert.JsonAttributesTopic = p.attributesTopic("last_alert")

	var defs []sensorDef
	for _, c := range []SensorConfig{uptime, version, devices, router, lastPoll, alertsToday, lastAlert} {
		defs = append(defs, sensorDef{entitySuffix: c.ObjectID, config: c})
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, client publishClient) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entitySuffix, "error", err)
			continue
		}
		if err := p.publishRetained(ctx, client, topic, payload); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entitySuffix, "topic", topic, "error", err)
			continue
		}
		p.logger.Debug("mqtt discovery published", "entity", s.entitySuffix, "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, client publishClient, status string) {
	if err := p.publishRetained(ctx, client, p.availabilityTopic(), []byte(status)); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) publishRetained(ctx context.Context, client publishClient, topic string, payload []byte) error {
	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})
	return err
}

func (p *Publisher) publishState(ctx context.Context, client publishClient, entity, value string) {
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   p.stateTopic(entity),
		Payload: []byte(value),
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// states returns the current value of every periodic sensor.
func (p *Publisher) states() map[string]string {
	count, _ := p.stats.Devices()
	router := "offline"
	if p.stats.RouterReachable() {
		router = "online"
	}
	lastPoll := "unknown"
	if t := p.stats.LastPoll(); !t.IsZero() {
		lastPoll = t.Format(time.RFC3339)
	}
	return map[string]string{
		"uptime":         p.stats.Uptime().Truncate(time.Second).String(),
		"version":        p.stats.Version(),
		"active_devices": strconv.Itoa(count),
		"router":         router,
		"last_poll":      lastPoll,
		"alerts_today":   strconv.FormatInt(p.alerts.Value(), 10),
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || p.stats == nil {
		return
	}

	states := p.states()
	for entity, value := range states {
		p.publishState(ctx, client, entity, value)
	}
	_, stale := p.stats.Devices()
	attrs, _ := json.Marshal(map[string]any{"stale": stale})
	if err := p.publishRetained(ctx, client, p.attributesTopic("active_devices"), attrs); err != nil {
		p.logger.Debug("mqtt attributes publish failed", "entity", "active_devices", "error", err)
	}

	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}

// truncateState shortens s to HA's state limit on a rune boundary.
func truncateState(s string) string {
	if len(s) <= maxStateLen {
		return s
	}
	s = s[:maxStateLen]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

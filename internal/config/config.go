// Package config handles routerwatch configuration loading.
//
// Configuration comes from an optional YAML file and from the process
// environment. Several settings carry deprecated aliases from earlier
// releases (ip_address, user, pass, cert). Aliases are resolved in one
// place, [Config.resolveAliases] and [Config.ApplyEnv], with a fixed
// precedence: a current name always overrides its deprecated alias, and
// the environment overrides the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sentinel errors returned by [Config.Validate] when the router cannot
// be reached at all. Both are fatal at startup.
var (
	ErrMissingHost        = errors.New("router host is not configured (set router.host or ROUTER_IP)")
	ErrMissingCredentials = errors.New("router credentials are not configured (set router.username/router.password or ROUTER_USER/ROUTER_PASSWORD)")
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./routerwatch.yaml, ~/.config/routerwatch/config.yaml,
// /etc/routerwatch/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"routerwatch.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "routerwatch", "config.yaml"))
	}

	paths = append(paths, "/etc/routerwatch/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all routerwatch configuration.
type Config struct {
	Router    RouterConfig `yaml:"router"`
	Poll      PollConfig   `yaml:"poll"`
	Logs      LogsConfig   `yaml:"logs"`
	Alerts    AlertsConfig `yaml:"alerts"`
	Listen    ListenConfig `yaml:"listen"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Email     EmailConfig  `yaml:"email"`
	DataDir   string       `yaml:"data_dir"` // optional; holds the MQTT instance id
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"`
}

// RouterConfig describes how to reach the router's REST API.
type RouterConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 0 means the HTTPS default
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CACert is a PEM file the router certificate is verified against.
	// When empty, the system trust store is used.
	CACert string `yaml:"ca_cert"`

	// InsecureSkipVerify disables certificate verification. It is never
	// implied; it must be set explicitly and cannot be combined with
	// CACert.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// TimeoutSec bounds each REST request (default 5).
	TimeoutSec int `yaml:"timeout_sec"`

	// Deprecated aliases, kept so older config files keep working.
	LegacyIPAddress string `yaml:"ip_address"`
	LegacyUser      string `yaml:"user"`
	LegacyPass      string `yaml:"pass"`
	LegacyCert      string `yaml:"cert"`
}

// BaseURL returns the scheme and authority of the router's REST API.
func (r RouterConfig) BaseURL() string {
	host := strings.TrimSuffix(r.Host, "/")
	host = strings.TrimPrefix(host, "https://")
	if r.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(r.Port))
	}
	return "https://" + host
}

// Timeout returns the per-request timeout.
func (r RouterConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// PollConfig controls the poll loop schedule.
type PollConfig struct {
	IntervalSec int `yaml:"interval_sec"` // default 30
}

// Interval returns the fixed delay between poll cycles.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

// LogsConfig controls which router log entries raise alerts.
type LogsConfig struct {
	// CriticalTopics are matched case-insensitively as substrings of
	// each entry's comma-joined topic list.
	CriticalTopics []string `yaml:"critical_topics"`

	// MessagePatterns are case-insensitive substrings that make an
	// entry alert-worthy regardless of its topics.
	MessagePatterns []string `yaml:"message_patterns"`

	// SuppressStartupAlerts records the entries present on the first
	// poll without alerting on them.
	SuppressStartupAlerts bool `yaml:"suppress_startup_alerts"`

	// RetainPolls is how many polls an entry identity is remembered
	// after it was last returned by the router (default 3).
	RetainPolls int `yaml:"retain_polls"`
}

// AlertsConfig selects the alert destinations beyond the console.
type AlertsConfig struct {
	Desktop       bool   `yaml:"desktop"`
	DeviceChanges bool   `yaml:"device_changes"`
	NotifyCommand string `yaml:"notify_command"` // overrides notify-send/osascript
}

// ListenConfig defines the optional status API server. Port 0 disables it.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the optional MQTT alert publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// EmailConfig defines the optional alert mail sender.
type EmailConfig struct {
	From string     `yaml:"from"`
	To   []string   `yaml:"to"`
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds outbound mail server settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

// Configured reports whether enough is set to send mail.
func (e EmailConfig) Configured() bool {
	return e.SMTP.Host != "" && len(e.To) > 0
}

// Default returns a configuration with every default applied and no
// router set.
func Default() *Config {
	cfg := &Config{
		Alerts: AlertsConfig{Desktop: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. Environment variable
// references (${VAR}) in the file are expanded before parsing. The
// returned slice lists deprecated keys found in the file.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, nil, err
	}

	deprecated := cfg.resolveAliases()
	cfg.applyDefaults()
	return cfg, deprecated, nil
}

// Resolve produces the effective configuration. A file is loaded when
// explicit names one or when one is found on the search path; without a
// file, [Default] is the base. The environment is applied on top via
// lookup (normally os.LookupEnv) and the result is validated.
//
// The returned path is empty when no file was used. The returned
// warnings name every deprecated key or variable that was honored.
func Resolve(explicit string, lookup func(string) (string, bool)) (*Config, string, []string, error) {
	var (
		cfg      *Config
		path     string
		warnings []string
	)

	found, findErr := FindConfig(explicit)
	switch {
	case findErr == nil:
		loaded, deprecated, err := Load(found)
		if err != nil {
			return nil, found, nil, fmt.Errorf("load config %s: %w", found, err)
		}
		cfg, path = loaded, found
		for _, k := range deprecated {
			warnings = append(warnings, "config key router."+k+" is deprecated")
		}
	case explicit != "":
		return nil, "", nil, findErr
	default:
		cfg = Default()
	}

	for _, name := range cfg.ApplyEnv(lookup) {
		warnings = append(warnings, "environment variable "+name+" is deprecated")
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, warnings, err
	}
	return cfg, path, warnings, nil
}

// resolveAliases folds deprecated router keys into their current
// names. A current key that is already set wins. It returns the
// deprecated keys that were present.
func (c *Config) resolveAliases() []string {
	var used []string
	alias := func(current *string, legacy *string, key string) {
		if *legacy == "" {
			return
		}
		used = append(used, key)
		if *current == "" {
			*current = *legacy
		}
		*legacy = ""
	}
	r := &c.Router
	alias(&r.Host, &r.LegacyIPAddress, "ip_address")
	alias(&r.Username, &r.LegacyUser, "user")
	alias(&r.Password, &r.LegacyPass, "pass")
	alias(&r.CACert, &r.LegacyCert, "cert")
	return used
}

// envBinding maps one router setting to its environment variable and
// deprecated alias.
type envBinding struct {
	current string
	legacy  string
	target  func(*Config) *string
}

var envBindings = []envBinding{
	{"ROUTER_IP", "ip_address", func(c *Config) *string { return &c.Router.Host }},
	{"ROUTER_USER", "username", func(c *Config) *string { return &c.Router.Username }},
	{"ROUTER_PASSWORD", "pass", func(c *Config) *string { return &c.Router.Password }},
	{"ROUTER_CERT_PATH", "cert", func(c *Config) *string { return &c.Router.CACert }},
}

// ApplyEnv overlays router settings from the environment. For each
// setting the current variable wins over its deprecated alias, and
// either wins over the file. ROUTER_INSECURE_SKIP_VERIFY and
// ROUTER_POLL_INTERVAL are also honored. It returns the deprecated
// variable names that supplied a value.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) []string {
	if lookup == nil {
		return nil
	}
	get := func(name string) string {
		v, ok := lookup(name)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	var deprecated []string
	for _, b := range envBindings {
		dst := b.target(c)
		if v := get(b.current); v != "" {
			*dst = v
			continue
		}
		if v := get(b.legacy); v != "" {
			*dst = v
			deprecated = append(deprecated, b.legacy)
		}
	}

	if v := get("ROUTER_INSECURE_SKIP_VERIFY"); v != "" {
		if skip, err := strconv.ParseBool(v); err == nil {
			c.Router.InsecureSkipVerify = skip
		}
	}
	if v := get("ROUTER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.IntervalSec = int(d / time.Second)
		} else if n, err := strconv.Atoi(v); err == nil {
			c.Poll.IntervalSec = n
		}
	}
	return deprecated
}

// applyDefaults fills zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Router.TimeoutSec <= 0 {
		c.Router.TimeoutSec = 5
	}
	if c.Poll.IntervalSec <= 0 {
		c.Poll.IntervalSec = 30
	}
	if len(c.Logs.CriticalTopics) == 0 {
		c.Logs.CriticalTopics = []string{"critical", "error", "login failure"}
	}
	if c.Logs.MessagePatterns == nil {
		c.Logs.MessagePatterns = []string{"login failure"}
	}
	if c.Logs.RetainPolls <= 0 {
		c.Logs.RetainPolls = 3
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "routerwatch"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.Email.SMTP.Host != "" && c.Email.SMTP.Port == 0 {
		c.Email.SMTP.Port = 587
		c.Email.SMTP.StartTLS = true
	}
}

// Validate checks that the configuration is usable. Missing host or
// credentials yield [ErrMissingHost] or [ErrMissingCredentials].
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Router.Host) == "" {
		return ErrMissingHost
	}
	if c.Router.Username == "" || c.Router.Password == "" {
		return ErrMissingCredentials
	}
	if c.Router.CACert != "" && c.Router.InsecureSkipVerify {
		return fmt.Errorf("router.ca_cert and router.insecure_skip_verify are mutually exclusive")
	}
	if c.Router.Port < 0 || c.Router.Port > 65535 {
		return fmt.Errorf("router.port %d out of range (1-65535)", c.Router.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Email.Configured() && c.Email.From == "" {
		return fmt.Errorf("email.from is required when email.smtp.host is set")
	}
	return nil
}

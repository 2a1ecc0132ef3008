package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envMap returns a lookup function backed by a map, so tests never
// touch the real process environment.
func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routerwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "router:\n  host: 10.0.0.1\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/routerwatch.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "routerwatch.yaml"), []byte("router:\n  host: 10.0.0.1\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "routerwatch.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "routerwatch.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "router:\n  host: 10.0.0.1\n  password: ${ROUTERWATCH_TEST_PASSWORD}\n")
	t.Setenv("ROUTERWATCH_TEST_PASSWORD", "secret123")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Router.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.Router.Password, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "router:\n  host: 10.0.0.1\n")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Poll.Interval() != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.Poll.Interval())
	}
	if cfg.Router.Timeout() != 5*time.Second {
		t.Errorf("router timeout = %v, want 5s", cfg.Router.Timeout())
	}
	if !cfg.Alerts.Desktop {
		t.Error("desktop alerts should default to on")
	}
	if len(cfg.Logs.CriticalTopics) == 0 {
		t.Error("critical topics should have defaults")
	}
	if cfg.Router.InsecureSkipVerify {
		t.Error("insecure_skip_verify must never default to true")
	}
}

func TestLoad_DeprecatedKeys(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantHost string
		wantUser string
		wantCert string
		wantDep  int
	}{
		{
			name:     "legacy only",
			yaml:     "router:\n  ip_address: 10.0.0.1\n  user: admin\n  pass: pw\n  cert: /etc/router.pem\n",
			wantHost: "10.0.0.1",
			wantUser: "admin",
			wantCert: "/etc/router.pem",
			wantDep:  4,
		},
		{
			name:     "current key overrides legacy",
			yaml:     "router:\n  host: 10.0.0.2\n  ip_address: 10.0.0.1\n  username: ops\n  user: admin\n",
			wantHost: "10.0.0.2",
			wantUser: "ops",
			wantDep:  2,
		},
		{
			name:     "current only",
			yaml:     "router:\n  host: 10.0.0.3\n  username: ops\n",
			wantHost: "10.0.0.3",
			wantUser: "ops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, deprecated, err := Load(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.Router.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", cfg.Router.Host, tt.wantHost)
			}
			if cfg.Router.Username != tt.wantUser {
				t.Errorf("username = %q, want %q", cfg.Router.Username, tt.wantUser)
			}
			if cfg.Router.CACert != tt.wantCert {
				t.Errorf("ca_cert = %q, want %q", cfg.Router.CACert, tt.wantCert)
			}
			if len(deprecated) != tt.wantDep {
				t.Errorf("deprecated = %v, want %d entries", deprecated, tt.wantDep)
			}
		})
	}
}

func TestApplyEnv_Precedence(t *testing.T) {
	cfg := Default()
	cfg.Router.Host = "from-file"
	cfg.Router.Username = "file-user"

	deprecated := cfg.ApplyEnv(envMap(map[string]string{
		"ROUTER_IP":  "192.168.88.1",
		"ip_address": "10.9.9.9",
		"username":   "legacy-user",
		"pass":       "legacy-pass",
	}))

	if cfg.Router.Host != "192.168.88.1" {
		t.Errorf("host = %q, want current env var to win", cfg.Router.Host)
	}
	if cfg.Router.Username != "legacy-user" {
		t.Errorf("username = %q, want deprecated env alias to beat the file", cfg.Router.Username)
	}
	if cfg.Router.Password != "legacy-pass" {
		t.Errorf("password = %q, want %q", cfg.Router.Password, "legacy-pass")
	}
	if len(deprecated) != 2 {
		t.Errorf("deprecated = %v, want [username pass]", deprecated)
	}
}

func TestApplyEnv_IntervalAndSkip(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"ROUTER_POLL_INTERVAL":        "2m",
		"ROUTER_INSECURE_SKIP_VERIFY": "true",
	}))
	if cfg.Poll.Interval() != 2*time.Minute {
		t.Errorf("interval = %v, want 2m", cfg.Poll.Interval())
	}
	if !cfg.Router.InsecureSkipVerify {
		t.Error("expected insecure skip from environment")
	}

	cfg = Default()
	cfg.ApplyEnv(envMap(map[string]string{"ROUTER_POLL_INTERVAL": "45"}))
	if cfg.Poll.IntervalSec != 45 {
		t.Errorf("interval = %d, want 45", cfg.Poll.IntervalSec)
	}
}

func TestResolve_EnvOnly(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)
	t.Setenv("HOME", dir)

	cfg, path, warnings, err := Resolve("", envMap(map[string]string{
		"ROUTER_IP":        "192.168.88.1",
		"ROUTER_USER":      "admin",
		"ROUTER_PASSWORD":  "pw",
		"ROUTER_CERT_PATH": "/etc/router.pem",
	}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty (no file)", path)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if cfg.Router.BaseURL() != "https://192.168.88.1" {
		t.Errorf("BaseURL = %q", cfg.Router.BaseURL())
	}
}

func TestResolve_MissingHostAndCredentials(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)
	t.Setenv("HOME", dir)

	_, _, _, err := Resolve("", envMap(nil))
	if !errors.Is(err, ErrMissingHost) {
		t.Errorf("err = %v, want ErrMissingHost", err)
	}

	_, _, _, err = Resolve("", envMap(map[string]string{"ROUTER_IP": "10.0.0.1"}))
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestResolve_ExplicitMissing(t *testing.T) {
	if _, _, _, err := Resolve("/nonexistent/routerwatch.yaml", envMap(nil)); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestResolve_DeprecationWarnings(t *testing.T) {
	path := writeConfig(t, "router:\n  ip_address: 10.0.0.1\n  username: admin\n")
	_, _, warnings, err := Resolve(path, envMap(map[string]string{"pass": "pw"}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings = %v, want one for ip_address and one for pass", warnings)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Router.Host = "10.0.0.1"
		cfg.Router.Username = "admin"
		cfg.Router.Password = "pw"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"cert and skip", func(c *Config) { c.Router.CACert = "x.pem"; c.Router.InsecureSkipVerify = true }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad listen port", func(c *Config) { c.Listen.Port = 70000 }, true},
		{"email without from", func(c *Config) { c.Email.SMTP.Host = "smtp"; c.Email.To = []string{"a@b"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		cfg  RouterConfig
		want string
	}{
		{RouterConfig{Host: "192.168.88.1"}, "https://192.168.88.1"},
		{RouterConfig{Host: "router.lan", Port: 8443}, "https://router.lan:8443"},
		{RouterConfig{Host: "https://router.lan/"}, "https://router.lan"},
	}
	for _, tt := range tests {
		if got := tt.cfg.BaseURL(); got != tt.want {
			t.Errorf("BaseURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level should pass through unchanged")
	}
}

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	rc := cfg.ToReducerConfig()
	if rc.ReconnectDelay != defaultReconnectDelay {
		t.Errorf("reconnect delay: got %s", rc.ReconnectDelay)
	}
	if rc.GaugeNotifications {
		t.Errorf("gauge notifications should default to off")
	}

	pc := cfg.ToPulseConfig()
	if pc.ClientName != defaultClientName {
		t.Errorf("client name: got %q", pc.ClientName)
	}
	if pc.Heartbeat != 2*time.Second {
		t.Errorf("heartbeat: got %s", pc.Heartbeat)
	}
}

func TestLoadConfigFile_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
pulse:
  server: unix:/run/user/1000/pulse/native
  reconnect_delay_ms: 1500
notify:
  gauge: true
hotkeys:
  enabled: true
  devices:
    - /dev/input/event3
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Pulse.Server != "unix:/run/user/1000/pulse/native" {
		t.Errorf("server: got %q", cfg.Pulse.Server)
	}
	if d := cfg.ToReducerConfig().ReconnectDelay; d != 1500*time.Millisecond {
		t.Errorf("reconnect delay: got %s", d)
	}
	if !cfg.ToReducerConfig().GaugeNotifications {
		t.Errorf("expected gauge notifications")
	}
	if !reflect.DeepEqual(cfg.Hotkeys.Devices, []string{"/dev/input/event3"}) {
		t.Errorf("devices: got %v", cfg.Hotkeys.Devices)
	}

	// Untouched sections keep their defaults.
	if cfg.Pulse.ClientName != defaultClientName || cfg.IPC.SocketPath != defaultIPCSocketPath || !cfg.Notify.Enabled {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigFile_RejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "pulse:\n  sever: typo\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected an unknown field error")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n---\nlogging:\n  level: info\n")
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("expected a trailing document error, got %v", err)
	}
}

func TestLoadConfigFile_AllowsTrailingComments(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n# the end\n\n")
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level: got %q", cfg.Logging.Level)
	}
}

func TestLoadConfig_DefaultPathIsOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("missing default config should not fail: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	if _, err := loadConfig(missing, true); err == nil {
		t.Fatalf("missing explicit config should fail")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	server := "tcp:127.0.0.1:4713"
	notify := false
	level := "debug"

	FlagOverrides{
		PulseServer:   &server,
		NotifyEnabled: &notify,
		HotkeyDevices: []string{"/dev/input/event5"},
		LogLevel:      &level,
	}.Apply(&cfg)

	if cfg.Pulse.Server != server {
		t.Errorf("server: got %q", cfg.Pulse.Server)
	}
	if cfg.Notify.Enabled {
		t.Errorf("notify should be disabled")
	}
	if !cfg.Hotkeys.Enabled || !reflect.DeepEqual(cfg.Hotkeys.Devices, []string{"/dev/input/event5"}) {
		t.Errorf("hotkeys: got %+v", cfg.Hotkeys)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level: got %q", cfg.Logging.Level)
	}

	// Unset overrides leave values alone.
	if cfg.Settings.Path != defaultSettingsPath {
		t.Errorf("settings path: got %q", cfg.Settings.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty client name", func(c *Config) { c.Pulse.ClientName = "" }},
		{"zero reconnect delay", func(c *Config) { c.Pulse.ReconnectDelayMS = 0 }},
		{"zero heartbeat", func(c *Config) { c.Pulse.HeartbeatMS = 0 }},
		{"huge queue", func(c *Config) { c.Pulse.QueueSize = 10000 }},
		{"empty settings path", func(c *Config) { c.Settings.Path = "" }},
		{"notify without app name", func(c *Config) { c.Notify.AppName = "" }},
		{"hotkeys without devices", func(c *Config) { c.Hotkeys.Enabled = true }},
		{"hotkeys with empty device", func(c *Config) {
			c.Hotkeys.Enabled = true
			c.Hotkeys.Devices = []string{""}
		}},
		{"empty ipc socket", func(c *Config) { c.IPC.SocketPath = "" }},
		{"ws path without slash", func(c *Config) {
			c.StateWS.Enabled = true
			c.StateWS.Path = "ws"
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"":                  "",
		"/tmp/x":            "/tmp/x",
		"~":                 home,
		"~/.config/volumed": filepath.Join(home, ".config/volumed"),
		"~other/x":          "~other/x",
	}
	for in, want := range tests {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseLogLevel("verbose"); err == nil {
		t.Errorf("expected an error for an unknown level")
	}
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for volumed.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. Flags only override.
type Config struct {
	Pulse    PulseFileConfig `yaml:"pulse"`
	Settings SettingsConfig  `yaml:"settings"`
	Notify   NotifyConfig    `yaml:"notify"`
	Hotkeys  HotkeysConfig   `yaml:"hotkeys"`
	IPC      IPCConfig       `yaml:"ipc"`
	StateWS  StateWSConfig   `yaml:"state_ws"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type PulseFileConfig struct {
	// Server is the PulseAudio server address. Empty means the usual
	// discovery ($PULSE_SERVER, then the user runtime socket).
	Server           string `yaml:"server,omitempty"`
	ClientName       string `yaml:"client_name"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
	HeartbeatMS      int    `yaml:"heartbeat_ms"`
	QueueSize        int    `yaml:"queue_size"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Gauge forces the 101/-1 overshoot/undershoot values. They are also used
	// when the notification server advertises gauge support.
	Gauge   bool   `yaml:"gauge"`
	AppName string `yaml:"app_name"`
}

type HotkeysConfig struct {
	Enabled bool     `yaml:"enabled"`
	Devices []string `yaml:"devices,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Pulse: PulseFileConfig{
			ClientName:       defaultClientName,
			ReconnectDelayMS: defaultReconnectDelayMS,
			HeartbeatMS:      defaultHeartbeatMS,
			QueueSize:        defaultRequestQueueSize,
		},
		Settings: SettingsConfig{
			Path: defaultSettingsPath,
		},
		Notify: NotifyConfig{
			Enabled: true,
			AppName: defaultNotifyAppName,
		},
		Hotkeys: HotkeysConfig{
			Enabled: false,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		StateWS: StateWSConfig{
			Enabled: false,
			Listen:  defaultStateWSListen,
			Path:    defaultStateWSPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from flags that were explicitly set.
// A nil pointer means "not set"; a non-nil pointer is applied even if it is
// the zero value.
type FlagOverrides struct {
	PulseServer      *string
	ReconnectDelayMS *int

	SettingsPath *string

	NotifyEnabled *bool
	NotifyGauge   *bool

	HotkeyDevices []string

	IPCSocketPath *string

	StateWSEnabled *bool
	StateWSListen  *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.PulseServer != nil {
		cfg.Pulse.Server = *o.PulseServer
	}
	if o.ReconnectDelayMS != nil {
		cfg.Pulse.ReconnectDelayMS = *o.ReconnectDelayMS
	}

	if o.SettingsPath != nil {
		cfg.Settings.Path = *o.SettingsPath
	}

	if o.NotifyEnabled != nil {
		cfg.Notify.Enabled = *o.NotifyEnabled
	}
	if o.NotifyGauge != nil {
		cfg.Notify.Gauge = *o.NotifyGauge
	}

	if len(o.HotkeyDevices) > 0 {
		cfg.Hotkeys.Enabled = true
		cfg.Hotkeys.Devices = append([]string(nil), o.HotkeyDevices...)
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.StateWSEnabled != nil {
		cfg.StateWS.Enabled = *o.StateWSEnabled
	}
	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Pulse
	if c.Pulse.ClientName == "" {
		return errors.New("pulse.client_name must not be empty")
	}
	if c.Pulse.ReconnectDelayMS <= 0 {
		return errors.New("pulse.reconnect_delay_ms must be > 0")
	}
	if c.Pulse.HeartbeatMS <= 0 {
		return errors.New("pulse.heartbeat_ms must be > 0")
	}
	if c.Pulse.QueueSize <= 0 || c.Pulse.QueueSize > 4096 {
		return errors.New("pulse.queue_size must be between 1 and 4096")
	}

	// Settings
	if c.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}

	// Notify
	if c.Notify.Enabled && c.Notify.AppName == "" {
		return errors.New("notify.enabled is true but notify.app_name is empty")
	}

	// Hotkeys
	if c.Hotkeys.Enabled {
		if len(c.Hotkeys.Devices) == 0 {
			return errors.New("hotkeys.enabled is true but hotkeys.devices is empty")
		}
		for i, dev := range c.Hotkeys.Devices {
			if dev == "" {
				return fmt.Errorf("hotkeys.devices[%d] is empty", i)
			}
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State websocket
	if c.StateWS.Enabled {
		if c.StateWS.Listen == "" {
			return errors.New("state_ws.enabled is true but state_ws.listen is empty")
		}
		if c.StateWS.Path == "" || c.StateWS.Path[0] != '/' {
			return errors.New("state_ws.path must start with '/'")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToReducerConfig converts the file config into the reducer's knobs.
func (c *Config) ToReducerConfig() ReducerConfig {
	return ReducerConfig{
		ReconnectDelay:     time.Duration(c.Pulse.ReconnectDelayMS) * time.Millisecond,
		GaugeNotifications: c.Notify.Gauge,
	}
}

// ToPulseConfig converts the file config into the connection settings.
func (c *Config) ToPulseConfig() PulseConfig {
	return PulseConfig{
		Server:     c.Pulse.Server,
		ClientName: c.Pulse.ClientName,
		Heartbeat:  time.Duration(c.Pulse.HeartbeatMS) * time.Millisecond,
		QueueSize:  c.Pulse.QueueSize,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

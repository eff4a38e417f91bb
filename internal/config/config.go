package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical defaults file. Every Get*
// accessor falls back to the value recorded there.
const DefaultConfigPath = "config/scanlink.defaults.json"

// Wire formats accepted by WireFormat.
const (
	WireFormatText = "text"
	WireFormatCBOR = "cbor"
)

// Data sources accepted by Source.
const (
	SourceSerial    = "serial"
	SourceSimulated = "simulated"
)

// Config is one deployment's settings. Every field is optional; omitted
// fields fall back to the defaults returned by the Get* accessors, so partial
// files are safe. Durations are strings such as "50ms".
type Config struct {
	// Data link
	DataHost   *string `json:"data_host,omitempty" yaml:"data_host,omitempty"`
	DataPort   *int    `json:"data_port,omitempty" yaml:"data_port,omitempty"`
	BindHost   *string `json:"bind_host,omitempty" yaml:"bind_host,omitempty"`
	RcvBuf     *int    `json:"rcvbuf,omitempty" yaml:"rcvbuf,omitempty"`
	WireFormat *string `json:"wire_format,omitempty" yaml:"wire_format,omitempty"`
	// LegacyScanFormat emits scan datagrams without a sequence prefix.
	LegacyScanFormat *bool `json:"legacy_scan_format,omitempty" yaml:"legacy_scan_format,omitempty"`

	// Control link
	ControlHost *string `json:"control_host,omitempty" yaml:"control_host,omitempty"`
	ControlPort *int    `json:"control_port,omitempty" yaml:"control_port,omitempty"`

	// Scan geometry
	Rays         *int     `json:"rays,omitempty" yaml:"rays,omitempty"`
	MaxDistance  *float64 `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`
	StepAngleDeg *float64 `json:"step_angle_deg,omitempty" yaml:"step_angle_deg,omitempty"`
	OffsetDeg    *float64 `json:"offset_deg,omitempty" yaml:"offset_deg,omitempty"`
	OriginX      *float64 `json:"origin_x,omitempty" yaml:"origin_x,omitempty"`
	OriginY      *float64 `json:"origin_y,omitempty" yaml:"origin_y,omitempty"`

	// Sender
	SendInterval  *string `json:"send_interval,omitempty" yaml:"send_interval,omitempty"`
	ResetCooldown *string `json:"reset_cooldown,omitempty" yaml:"reset_cooldown,omitempty"`

	// Data source
	Source             *string  `json:"source,omitempty" yaml:"source,omitempty"`
	SerialPath         *string  `json:"serial_path,omitempty" yaml:"serial_path,omitempty"`
	SerialBaudRate     *int     `json:"serial_baud_rate,omitempty" yaml:"serial_baud_rate,omitempty"`
	SerialInitCommands []string `json:"serial_init_commands,omitempty" yaml:"serial_init_commands,omitempty"`
	RestartSettle      *string  `json:"restart_settle,omitempty" yaml:"restart_settle,omitempty"`
	RetryDelay         *string  `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	RetryAttempts      *int     `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`

	// Position demo
	PositionInterval *string `json:"position_interval,omitempty" yaml:"position_interval,omitempty"`
	PeerTimeout      *string `json:"peer_timeout,omitempty" yaml:"peer_timeout,omitempty"`

	// Hotkeys
	RestartKey     *string `json:"restart_key,omitempty" yaml:"restart_key,omitempty"`
	ToggleKey      *string `json:"toggle_key,omitempty" yaml:"toggle_key,omitempty"`
	ResetSensorKey *string `json:"reset_sensor_key,omitempty" yaml:"reset_sensor_key,omitempty"`

	// Observability
	MonitorListen      *string `json:"monitor_listen,omitempty" yaml:"monitor_listen,omitempty"`
	LogInterval        *string `json:"log_interval,omitempty" yaml:"log_interval,omitempty"`
	EventDB            *string `json:"event_db,omitempty" yaml:"event_db,omitempty"`
	PerfSampleInterval *string `json:"perf_sample_interval,omitempty" yaml:"perf_sample_interval,omitempty"`
	SnapshotDir        *string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`
	SnapshotInterval   *string `json:"snapshot_interval,omitempty" yaml:"snapshot_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with all fields set to nil.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml or .yml file. The file is size
// checked and validated.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	for name, port := range map[string]*int{"data_port": c.DataPort, "control_port": c.ControlPort} {
		if port != nil && (*port < 0 || *port > 65535) {
			return fmt.Errorf("%s must be between 0 and 65535, got %d", name, *port)
		}
	}
	if c.Rays != nil && *c.Rays <= 0 {
		return fmt.Errorf("rays must be positive, got %d", *c.Rays)
	}
	if c.MaxDistance != nil && *c.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive, got %f", *c.MaxDistance)
	}
	if c.RetryAttempts != nil && *c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative, got %d", *c.RetryAttempts)
	}
	if c.WireFormat != nil {
		switch *c.WireFormat {
		case WireFormatText, WireFormatCBOR:
		default:
			return fmt.Errorf("wire_format must be %q or %q, got %q", WireFormatText, WireFormatCBOR, *c.WireFormat)
		}
	}
	if c.Source != nil {
		switch *c.Source {
		case SourceSerial, SourceSimulated:
		default:
			return fmt.Errorf("source must be %q or %q, got %q", SourceSerial, SourceSimulated, *c.Source)
		}
	}

	durations := map[string]*string{
		"send_interval":        c.SendInterval,
		"reset_cooldown":       c.ResetCooldown,
		"restart_settle":       c.RestartSettle,
		"retry_delay":          c.RetryDelay,
		"position_interval":    c.PositionInterval,
		"peer_timeout":         c.PeerTimeout,
		"log_interval":         c.LogInterval,
		"perf_sample_interval": c.PerfSampleInterval,
		"snapshot_interval":    c.SnapshotInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	for name, v := range map[string]*string{"restart_key": c.RestartKey, "toggle_key": c.ToggleKey, "reset_sensor_key": c.ResetSensorKey} {
		if v != nil && len([]rune(*v)) != 1 {
			return fmt.Errorf("%s must be a single character, got %q", name, *v)
		}
	}
	// Hotkeys match case-insensitively, so "R" and "r" collide.
	keys := map[string]string{}
	for _, k := range []struct{ name, key string }{
		{"restart_key", c.GetRestartKey()},
		{"toggle_key", c.GetToggleKey()},
		{"reset_sensor_key", c.GetResetSensorKey()},
	} {
		folded := strings.ToLower(k.key)
		if prev, dup := keys[folded]; dup {
			return fmt.Errorf("%s and %s are both bound to %q", prev, k.name, k.key)
		}
		keys[folded] = k.name
	}
	return nil
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func orString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func orInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func orFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// DataAddress returns host:port of the scan/position datagram destination.
func (c *Config) DataAddress() string {
	return fmt.Sprintf("%s:%d", orString(c.DataHost, "127.0.0.1"), c.GetDataPort())
}

// DataListenAddress returns the bind address for the data receiver.
func (c *Config) DataListenAddress() string {
	return fmt.Sprintf("%s:%d", orString(c.BindHost, ""), c.GetDataPort())
}

// ControlAddress returns host:port that control commands are sent to.
func (c *Config) ControlAddress() string {
	return fmt.Sprintf("%s:%d", orString(c.ControlHost, "127.0.0.1"), c.GetControlPort())
}

// ControlListenAddress returns the bind address for the control listener.
func (c *Config) ControlListenAddress() string {
	return fmt.Sprintf("%s:%d", orString(c.BindHost, ""), c.GetControlPort())
}

func (c *Config) GetDataPort() int    { return orInt(c.DataPort, 5000) }
func (c *Config) GetControlPort() int { return orInt(c.ControlPort, 6000) }

// GetRcvBuf returns the UDP receive buffer size in bytes.
func (c *Config) GetRcvBuf() int { return orInt(c.RcvBuf, 4<<20) }

func (c *Config) GetWireFormat() string { return orString(c.WireFormat, WireFormatText) }

func (c *Config) GetLegacyScanFormat() bool {
	if c.LegacyScanFormat == nil {
		return false
	}
	return *c.LegacyScanFormat
}

// GetRays returns the fixed number of rays per scan.
func (c *Config) GetRays() int { return orInt(c.Rays, 1081) }

func (c *Config) GetMaxDistance() float64  { return orFloat(c.MaxDistance, 10) }
func (c *Config) GetStepAngleDeg() float64 { return orFloat(c.StepAngleDeg, 0.25) }
func (c *Config) GetOffsetDeg() float64    { return orFloat(c.OffsetDeg, -135) }
func (c *Config) GetOriginX() float64      { return orFloat(c.OriginX, 0) }
func (c *Config) GetOriginY() float64      { return orFloat(c.OriginY, 0) }

// GetSendInterval returns the minimum time between sent scan frames (20 Hz).
func (c *Config) GetSendInterval() time.Duration {
	return parseDuration(c.SendInterval, 50*time.Millisecond)
}

// GetResetCooldown returns how long transmission stays paused after a
// sensor restart is requested.
func (c *Config) GetResetCooldown() time.Duration {
	return parseDuration(c.ResetCooldown, 6*time.Second)
}

func (c *Config) GetSource() string     { return orString(c.Source, SourceSimulated) }
func (c *Config) GetSerialPath() string { return orString(c.SerialPath, "/dev/ttyACM0") }
func (c *Config) GetSerialBaudRate() int {
	return orInt(c.SerialBaudRate, 115200)
}

// GetRestartSettle returns the wait between closing and reopening the sensor.
func (c *Config) GetRestartSettle() time.Duration {
	return parseDuration(c.RestartSettle, 5*time.Second)
}

// GetRetryDelay returns the wait between reopening the sensor and checking it.
func (c *Config) GetRetryDelay() time.Duration {
	return parseDuration(c.RetryDelay, 2*time.Second)
}

func (c *Config) GetRetryAttempts() int { return orInt(c.RetryAttempts, 1) }

func (c *Config) GetPositionInterval() time.Duration {
	return parseDuration(c.PositionInterval, 20*time.Millisecond)
}

func (c *Config) GetPeerTimeout() time.Duration {
	return parseDuration(c.PeerTimeout, 5*time.Second)
}

func (c *Config) GetRestartKey() string     { return orString(c.RestartKey, "r") }
func (c *Config) GetToggleKey() string      { return orString(c.ToggleKey, "f") }
func (c *Config) GetResetSensorKey() string { return orString(c.ResetSensorKey, "v") }

func (c *Config) GetMonitorListen() string { return orString(c.MonitorListen, ":8081") }

func (c *Config) GetLogInterval() time.Duration {
	return parseDuration(c.LogInterval, 2*time.Second)
}

// GetEventDB returns the sqlite event log path; empty disables the log.
func (c *Config) GetEventDB() string { return orString(c.EventDB, "scanlink.db") }

func (c *Config) GetPerfSampleInterval() time.Duration {
	return parseDuration(c.PerfSampleInterval, time.Second)
}

// GetSnapshotDir returns where PNG obstacle snapshots go; empty disables them.
func (c *Config) GetSnapshotDir() string { return orString(c.SnapshotDir, "") }

func (c *Config) GetSnapshotInterval() time.Duration {
	return parseDuration(c.SnapshotInterval, time.Second)
}

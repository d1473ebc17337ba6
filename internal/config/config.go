package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion          = 1
	DefaultPath            = "/etc/dreamehome/config.yaml"
	DefaultGRPCAddr        = "0.0.0.0:9000"
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultDashboardDir    = "/var/lib/dreamehome/dashboards"
	DefaultMonitorInterval = 60 * time.Second
	DefaultRefreshDelay    = time.Second
	DefaultTopicPrefix     = "miio"

	TransportLocal = "local"
	TransportMQTT  = "mqtt"

	EnvGRPCAddr = "DREAMEHOME_GRPC_ADDR"
	EnvHTTPAddr = "DREAMEHOME_HTTP_ADDR"
)

// Config is the daemon configuration file.
type Config struct {
	SchemaVersion int           `yaml:"schema_version"`
	Core          CoreConfig    `yaml:"core"`
	Logging       LoggingConfig `yaml:"logging"`
	Dreame        *DreameConfig `yaml:"dreame"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

// LoggingConfig selects the slog handler: level (debug, info, warn, error),
// format (json, text) and output (stdout, stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type DreameConfig struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one vacuum. MaxCallsPerMinute caps requests sent to the
// device; 0 disables the cap.
type DeviceConfig struct {
	ID                string        `yaml:"id"`
	Name              string        `yaml:"name"`
	Model             string        `yaml:"model"`
	Transport         string        `yaml:"transport"`
	Host              string        `yaml:"host"`
	Token             string        `yaml:"token"`
	MQTT              MQTTConfig    `yaml:"mqtt"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	RefreshDelay      time.Duration `yaml:"refresh_delay"`
	MaxCallsPerMinute int           `yaml:"max_calls_per_minute"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// Load parses the YAML config file, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Dreame == nil {
		return
	}
	for i := range cfg.Dreame.Devices {
		dev := &cfg.Dreame.Devices[i]
		if dev.Transport == "" {
			dev.Transport = TransportLocal
		}
		if dev.MonitorInterval == 0 {
			dev.MonitorInterval = DefaultMonitorInterval
		}
		if dev.RefreshDelay == 0 {
			dev.RefreshDelay = DefaultRefreshDelay
		}
		if dev.Name == "" {
			dev.Name = dev.ID
		}
		if dev.Transport == TransportMQTT && dev.MQTT.TopicPrefix == "" {
			dev.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv(EnvGRPCAddr); addr != "" {
		cfg.Core.GRPCAddr = addr
	}
	if addr := os.Getenv(EnvHTTPAddr); addr != "" {
		cfg.Core.HTTPAddr = addr
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	if cfg.Core.DashboardDir == "" {
		return fmt.Errorf("core.dashboard_dir is required")
	}

	if cfg.Dreame == nil {
		return nil
	}
	if len(cfg.Dreame.Devices) == 0 {
		return fmt.Errorf("dreame.devices must not be empty")
	}
	seen := make(map[string]bool)
	for i, dev := range cfg.Dreame.Devices {
		field := fmt.Sprintf("dreame.devices[%d]", i)
		if dev.ID == "" {
			return fmt.Errorf("%s.id is required", field)
		}
		if seen[dev.ID] {
			return fmt.Errorf("duplicate device id: %s", dev.ID)
		}
		seen[dev.ID] = true
		if dev.MonitorInterval < 0 || dev.RefreshDelay < 0 {
			return fmt.Errorf("%s: durations must not be negative", field)
		}
		if dev.MaxCallsPerMinute < 0 {
			return fmt.Errorf("%s.max_calls_per_minute must not be negative", field)
		}

		switch dev.Transport {
		case TransportLocal:
			if dev.Host == "" {
				return fmt.Errorf("%s.host is required", field)
			}
			if err := validateToken(dev.Token); err != nil {
				return fmt.Errorf("%s.token: %w", field, err)
			}
		case TransportMQTT:
			if dev.MQTT.Broker == "" {
				return fmt.Errorf("%s.mqtt.broker is required", field)
			}
		default:
			return fmt.Errorf("%s.transport %q must be %s or %s", field, dev.Transport, TransportLocal, TransportMQTT)
		}
	}
	return nil
}

func validateToken(token string) error {
	if len(token) != 32 {
		return fmt.Errorf("must be 32 hex characters")
	}
	if _, err := hex.DecodeString(token); err != nil {
		return fmt.Errorf("must be 32 hex characters")
	}
	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Dreame != nil {
		enabled["dreame"] = true
	}
	return enabled
}

// ReadSecret reads a credential file and trims surrounding whitespace.
func ReadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

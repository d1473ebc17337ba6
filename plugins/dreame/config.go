package dreame

import (
	"fmt"
	"time"

	"github.com/joshp123/dreamehome/internal/config"
)

// Config defines runtime configuration for the Dreame client.
type Config struct {
	Devices []DeviceConfig
}

// DeviceConfig is one vacuum and the transport that reaches it.
type DeviceConfig struct {
	Device          Device
	Host            string
	Token           string
	MQTT            MQTTConfig
	MonitorInterval time.Duration
	RefreshDelay    time.Duration
	MaxCallsPerMin  int
}

func ConfigFromFile(cfg *config.DreameConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("dreame config is required")
	}
	if len(cfg.Devices) == 0 {
		return Config{}, fmt.Errorf("dreame devices are required")
	}

	out := Config{Devices: make([]DeviceConfig, 0, len(cfg.Devices))}
	for _, dev := range cfg.Devices {
		runtime := DeviceConfig{
			Device: Device{
				ID:        dev.ID,
				Name:      dev.Name,
				Model:     dev.Model,
				Transport: dev.Transport,
			},
			Host:            dev.Host,
			Token:           dev.Token,
			MonitorInterval: dev.MonitorInterval,
			RefreshDelay:    dev.RefreshDelay,
			MaxCallsPerMin:  dev.MaxCallsPerMinute,
		}
		if dev.Transport == config.TransportMQTT {
			password, err := config.ReadSecret(dev.MQTT.PasswordFile)
			if err != nil {
				return Config{}, fmt.Errorf("device %s: %w", dev.ID, err)
			}
			runtime.MQTT = MQTTConfig{
				Broker:      dev.MQTT.Broker,
				Username:    dev.MQTT.Username,
				Password:    password,
				TopicPrefix: dev.MQTT.TopicPrefix,
				DeviceID:    dev.ID,
			}
		}
		out.Devices = append(out.Devices, runtime)
	}
	return out, nil
}

// Package config provides configuration types and loading for the simulator
// daemon.
package config

import "fmt"

// Config represents the complete daemon configuration.
type Config struct {
	Listen   ListenConfig   `mapstructure:"listen"`
	Radio    RadioConfig    `mapstructure:"radio"`
	Scene    SceneConfig    `mapstructure:"scene"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ListenConfig defines how peers reach the daemon.
type ListenConfig struct {
	// GRPCAddress is the packet-streamer RPC endpoint.
	GRPCAddress string `mapstructure:"grpc_address"`
	// TCPAddress is the framed-TCP endpoint. Empty disables it.
	TCPAddress string `mapstructure:"tcp_address"`
	// HTTPAddress is the control API endpoint. Empty disables it.
	HTTPAddress string `mapstructure:"http_address"`
	// AttachTimeoutMs bounds the StartInfo handshake.
	AttachTimeoutMs int `mapstructure:"attach_timeout_ms"`
	// UARTs are serial ports to attach as Bluetooth chips.
	UARTs []UARTConfig `mapstructure:"uarts"`
}

// UARTConfig defines one HCI-over-serial attachment.
type UARTConfig struct {
	Port       string `mapstructure:"port"`
	Baud       int    `mapstructure:"baud"`
	DeviceName string `mapstructure:"device_name"`
}

// RadioConfig tunes the Bluetooth radio engine.
type RadioConfig struct {
	// DisableAddressReuse keeps freed BT addresses burned for the whole
	// process.
	DisableAddressReuse bool `mapstructure:"disable_address_reuse"`
}

// SceneConfig tunes the device registry.
type SceneConfig struct {
	// WorldRadiusM clamps device coordinates.
	WorldRadiusM float32 `mapstructure:"world_radius_m"`
}

// ShutdownConfig tunes the idle controller.
type ShutdownConfig struct {
	// InactivitySeconds is the grace period before auto-exit.
	InactivitySeconds int `mapstructure:"inactivity_shutdown_seconds"`
	// TickSeconds is the deadline check interval.
	TickSeconds int `mapstructure:"tick_seconds"`
}

// NotifyConfig defines scene-change event publishing.
type NotifyConfig struct {
	// Log enables the structured-log notifier.
	Log bool `mapstructure:"log"`
	// MQTT publishes scene snapshots to a broker when Broker is set.
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// MQTTConfig defines MQTT publisher settings.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			GRPCAddress:     "127.0.0.1:7545",
			HTTPAddress:     "127.0.0.1:7681",
			AttachTimeoutMs: 5000,
		},
		Radio: RadioConfig{
			DisableAddressReuse: true,
		},
		Scene: SceneConfig{
			WorldRadiusM: 1000,
		},
		Shutdown: ShutdownConfig{
			InactivitySeconds: 300,
			TickSeconds:       1,
		},
		Notify: NotifyConfig{
			Log: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen.GRPCAddress == "" {
		return fmt.Errorf("listen.grpc_address is required")
	}
	if c.Listen.AttachTimeoutMs < 0 {
		return fmt.Errorf("listen.attach_timeout_ms must not be negative")
	}
	for i, u := range c.Listen.UARTs {
		if u.Port == "" {
			return fmt.Errorf("listen.uarts[%d].port is required", i)
		}
		if u.DeviceName == "" {
			return fmt.Errorf("listen.uarts[%d].device_name is required", i)
		}
	}
	if c.Scene.WorldRadiusM < 0 {
		return fmt.Errorf("scene.world_radius_m must not be negative")
	}
	if c.Shutdown.InactivitySeconds <= 0 {
		return fmt.Errorf("shutdown.inactivity_shutdown_seconds must be positive")
	}
	if c.Notify.MQTT.Broker != "" && c.Notify.MQTT.Topic == "" {
		return fmt.Errorf("notify.mqtt.topic is required when a broker is set")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}

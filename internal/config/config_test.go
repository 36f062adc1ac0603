package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"missing grpc address", func(c *Config) { c.Listen.GRPCAddress = "" }, true},
		{"negative attach timeout", func(c *Config) { c.Listen.AttachTimeoutMs = -1 }, true},
		{"uart without port", func(c *Config) {
			c.Listen.UARTs = []UARTConfig{{DeviceName: "d1"}}
		}, true},
		{"uart without device name", func(c *Config) {
			c.Listen.UARTs = []UARTConfig{{Port: "/dev/ttyS0"}}
		}, true},
		{"valid uart", func(c *Config) {
			c.Listen.UARTs = []UARTConfig{{Port: "/dev/ttyS0", DeviceName: "d1"}}
		}, false},
		{"negative world radius", func(c *Config) { c.Scene.WorldRadiusM = -1 }, true},
		{"zero inactivity", func(c *Config) { c.Shutdown.InactivitySeconds = 0 }, true},
		{"mqtt broker without topic", func(c *Config) {
			c.Notify.MQTT.Broker = "tcp://localhost:1883"
		}, true},
		{"mqtt broker with topic", func(c *Config) {
			c.Notify.MQTT.Broker = "tcp://localhost:1883"
			c.Notify.MQTT.Topic = "netsim/scene"
		}, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

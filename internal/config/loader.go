package config

import (
	"github.com/spf13/viper"
)

// Load reads the configuration from viper and returns a Config struct
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Listener settings
	if v := viper.GetString("listen.grpc_address"); v != "" {
		cfg.Listen.GRPCAddress = v
	}
	cfg.Listen.TCPAddress = viper.GetString("listen.tcp_address")
	if viper.IsSet("listen.http_address") {
		cfg.Listen.HTTPAddress = viper.GetString("listen.http_address")
	}
	if v := viper.GetInt("listen.attach_timeout_ms"); v > 0 {
		cfg.Listen.AttachTimeoutMs = v
	}

	// Serial attachments
	uartsRaw := viper.Get("listen.uarts")
	if uarts, ok := uartsRaw.([]interface{}); ok {
		cfg.Listen.UARTs = make([]UARTConfig, 0, len(uarts))
		for _, u := range uarts {
			if uMap, ok := u.(map[string]interface{}); ok {
				cfg.Listen.UARTs = append(cfg.Listen.UARTs, UARTConfig{
					Port:       getString(uMap, "port"),
					Baud:       getInt(uMap, "baud"),
					DeviceName: getString(uMap, "device_name"),
				})
			}
		}
	}

	// Radio settings
	if viper.IsSet("radio.disable_address_reuse") {
		cfg.Radio.DisableAddressReuse = viper.GetBool("radio.disable_address_reuse")
	}

	// Scene settings
	if v := viper.GetFloat64("scene.world_radius_m"); v > 0 {
		cfg.Scene.WorldRadiusM = float32(v)
	}

	// Shutdown settings
	if v := viper.GetInt("shutdown.inactivity_shutdown_seconds"); v > 0 {
		cfg.Shutdown.InactivitySeconds = v
	}
	if v := viper.GetInt("shutdown.tick_seconds"); v > 0 {
		cfg.Shutdown.TickSeconds = v
	}

	// Notify settings
	if viper.IsSet("notify.log") {
		cfg.Notify.Log = viper.GetBool("notify.log")
	}
	cfg.Notify.MQTT.Broker = viper.GetString("notify.mqtt.broker")
	cfg.Notify.MQTT.Topic = viper.GetString("notify.mqtt.topic")
	cfg.Notify.MQTT.Username = viper.GetString("notify.mqtt.username")
	cfg.Notify.MQTT.Password = viper.GetString("notify.mqtt.password")
	cfg.Notify.MQTT.ClientID = viper.GetString("notify.mqtt.client_id")

	// Logging
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}

	return cfg, nil
}

// Helper functions

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

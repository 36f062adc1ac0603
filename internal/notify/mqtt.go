package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/config"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
)

// MQTT publishes scene snapshots to a broker topic as JSON.
type MQTT struct {
	config config.MQTTConfig
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTT creates an MQTT notifier and connects to the broker.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	m := &MQTT{
		config: cfg,
		logger: logging.With(zap.String("notifier", "mqtt")),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("netsimd-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(m.onConnectionLost)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = mqtt.NewClient(opts)

	m.logger.Info("Connecting to MQTT broker",
		zap.String("broker", cfg.Broker),
		zap.String("topic", cfg.Topic))

	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}

	return m, nil
}

// Notify publishes the scene as JSON. Publish failures are logged, not
// propagated; a broker outage must not stall the registry.
func (m *MQTT) Notify(scene registry.Scene) {
	data, err := json.Marshal(scene)
	if err != nil {
		m.logger.Error("Failed to marshal scene", zap.Error(err))
		return
	}

	token := m.client.Publish(m.config.Topic, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Warn("Failed to publish scene", zap.Error(err))
		}
	}()
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

// Name returns the notifier identifier.
func (m *MQTT) Name() string {
	return fmt.Sprintf("mqtt:%s", m.config.Broker)
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("MQTT connection lost", zap.Error(err))
}

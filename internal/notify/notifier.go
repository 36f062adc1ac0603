// Package notify publishes scene-change events to external surfaces. Each
// notifier is registered as a registry observer.
package notify

import (
	"fmt"

	"github.com/netsimio/netsim/internal/config"
	"github.com/netsimio/netsim/internal/registry"
)

// Notifier receives a scene snapshot after every successful patch and reset.
type Notifier interface {
	// Notify publishes one scene snapshot.
	Notify(scene registry.Scene)

	// Close cleanly shuts down the notifier and releases any resources.
	Close() error

	// Name returns a unique identifier for this notifier.
	Name() string
}

// New creates the notifiers enabled in cfg.
func New(cfg config.NotifyConfig) ([]Notifier, error) {
	var notifiers []Notifier

	if cfg.Log {
		notifiers = append(notifiers, NewLog())
	}
	if cfg.MQTT.Broker != "" {
		m, err := NewMQTT(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt notifier: %w", err)
		}
		notifiers = append(notifiers, m)
	}

	return notifiers, nil
}

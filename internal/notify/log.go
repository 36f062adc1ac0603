package notify

import (
	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
)

// Log writes scene changes to the structured log.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log notifier.
func NewLog() *Log {
	return &Log{logger: logging.With(zap.String("notifier", "log"))}
}

// Notify logs a one-line summary per device.
func (l *Log) Notify(scene registry.Scene) {
	for _, dev := range scene.Devices {
		l.logger.Info("Scene changed",
			zap.Uint32("device_id", uint32(dev.ID)),
			zap.String("name", dev.Name),
			zap.Bool("visible", dev.Visible),
			zap.Float32("x", dev.Position.X),
			zap.Float32("y", dev.Position.Y),
			zap.Float32("z", dev.Position.Z),
			zap.Int("chips", len(dev.Chips)))
	}
}

// Close is a no-op for the log notifier.
func (l *Log) Close() error { return nil }

// Name returns the notifier identifier.
func (l *Log) Name() string { return "log" }

// Package idle drives auto-exit when the simulator has no attached devices.
package idle

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
)

// Default idle timings.
const (
	DefaultGracePeriod  = 300 * time.Second
	DefaultTickInterval = time.Second
)

// Config holds controller tunables.
type Config struct {
	// GracePeriod is how long the daemon may stay empty before shutdown.
	GracePeriod time.Duration
	// TickInterval is how often the deadline is checked.
	TickInterval time.Duration
}

// Controller watches the registry's activity transitions and fires a
// shutdown callback once the grace period elapses with no devices attached.
// It implements the registry's ActivityListener.
type Controller struct {
	grace    time.Duration
	tick     time.Duration
	shutdown func()
	logger   *zap.Logger

	mu            sync.Mutex
	inactiveSince time.Time
	fired         bool
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// New creates a controller invoking shutdown on idle timeout. The controller
// starts in the inactive state so a daemon nobody attaches to still exits.
func New(cfg Config, shutdown func()) *Controller {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Controller{
		grace:         grace,
		tick:          tick,
		shutdown:      shutdown,
		logger:        logging.With(zap.String("component", "idle")),
		inactiveSince: time.Now(),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the tick loop.
func (c *Controller) Start() {
	go c.run()
}

// Stop halts the tick loop. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Active clears the inactivity deadline; called when a chip attaches.
func (c *Controller) Active() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inactiveSince = time.Time{}
}

// Inactive stamps the inactivity deadline; called when the last device is
// removed.
func (c *Controller) Inactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inactiveSince.IsZero() {
		c.inactiveSince = time.Now()
	}
}

// InactiveSince returns the pending deadline start, zero when active.
func (c *Controller) InactiveSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inactiveSince
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.check() {
				return
			}
		}
	}
}

// check fires the shutdown callback at most once.
func (c *Controller) check() bool {
	c.mu.Lock()
	expired := !c.fired && !c.inactiveSince.IsZero() &&
		time.Since(c.inactiveSince) >= c.grace
	if expired {
		c.fired = true
	}
	c.mu.Unlock()

	if expired {
		c.logger.Info("Idle grace period expired, shutting down",
			zap.Duration("grace", c.grace))
		c.shutdown()
	}
	return expired
}

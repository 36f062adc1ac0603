// Package netsim wires the simulator daemon together: registry, radio
// engine, packet-stream listeners, control API, notifiers and the idle
// shutdown controller.
package netsim

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/bt"
	"github.com/netsimio/netsim/internal/config"
	"github.com/netsimio/netsim/internal/controlapi"
	"github.com/netsimio/netsim/internal/gateway"
	"github.com/netsimio/netsim/internal/idle"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/notify"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/internal/transport"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// ErrBind reports a listener that could not be bound; the CLI maps it to a
// dedicated exit code.
var ErrBind = errors.New("bind failed")

// Service is the assembled daemon.
type Service struct {
	config    *config.Config
	registry  *registry.Registry
	engine    *bt.Engine
	gateway   *gateway.Gateway
	grpcSrv   *gateway.GRPCServer
	tcpSrv    *gateway.TCPListener
	uarts     []*gateway.UART
	api       *controlapi.Server
	idle      *idle.Controller
	notifiers []notify.Notifier
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	once     sync.Once
}

// New assembles a service from configuration.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{
		config:   cfg,
		logger:   logging.With(zap.String("component", "netsim")),
		shutdown: make(chan struct{}),
	}

	s.idle = idle.New(idle.Config{
		GracePeriod:  time.Duration(cfg.Shutdown.InactivitySeconds) * time.Second,
		TickInterval: time.Duration(cfg.Shutdown.TickSeconds) * time.Second,
	}, s.RequestShutdown)

	s.registry = registry.New(registry.Config{WorldRadiusM: cfg.Scene.WorldRadiusM}, s.idle)

	s.engine = bt.New(bt.Config{DisableAddressReuse: cfg.Radio.DisableAddressReuse},
		func(a, b uint32) float32 {
			return s.registry.DistanceForChips(registry.ChipID(a), registry.ChipID(b))
		}, nil)

	s.gateway = gateway.New(
		gateway.Config{AttachTimeout: time.Duration(cfg.Listen.AttachTimeoutMs) * time.Millisecond},
		s.registry, s.engine, transport.New(),
		map[wire.ChipKind]gateway.Backend{
			wire.ChipKindWifi: gateway.NewEchoBackend(wire.ChipKindWifi),
			wire.ChipKindUwb:  gateway.NewEchoBackend(wire.ChipKindUwb),
		})

	s.grpcSrv = gateway.NewGRPCServer(s.gateway)
	if cfg.Listen.TCPAddress != "" {
		s.tcpSrv = gateway.NewTCPListener(s.gateway)
	}
	if cfg.Listen.HTTPAddress != "" {
		s.api = controlapi.New(s.registry)
	}
	for _, u := range cfg.Listen.UARTs {
		s.uarts = append(s.uarts, gateway.NewUART(gateway.UARTConfig{
			Port:       u.Port,
			Baud:       u.Baud,
			DeviceName: u.DeviceName,
		}, s.gateway))
	}

	notifiers, err := notify.New(cfg.Notify)
	if err != nil {
		return nil, err
	}
	s.notifiers = notifiers

	return s, nil
}

// Start binds all listeners and launches the daemon's tasks.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.running = true
	s.mu.Unlock()

	// A failed start leaves the service stoppable-but-not-running.
	fail := func(err error) error {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("Starting netsim daemon")

	grpcLis, err := net.Listen("tcp", s.config.Listen.GRPCAddress)
	if err != nil {
		return fail(fmt.Errorf("%w: %s: %v", ErrBind, s.config.Listen.GRPCAddress, err))
	}

	var tcpLis, httpLis net.Listener
	if s.tcpSrv != nil {
		tcpLis, err = net.Listen("tcp", s.config.Listen.TCPAddress)
		if err != nil {
			_ = grpcLis.Close()
			return fail(fmt.Errorf("%w: %s: %v", ErrBind, s.config.Listen.TCPAddress, err))
		}
	}
	if s.api != nil {
		httpLis, err = net.Listen("tcp", s.config.Listen.HTTPAddress)
		if err != nil {
			_ = grpcLis.Close()
			if tcpLis != nil {
				_ = tcpLis.Close()
			}
			return fail(fmt.Errorf("%w: %s: %v", ErrBind, s.config.Listen.HTTPAddress, err))
		}
	}

	s.engine.Start()
	s.idle.Start()

	for _, n := range s.notifiers {
		n := n
		s.registry.Subscribe(n.Notify)
		s.logger.Debug("Notifier registered", zap.String("name", n.Name()))
	}

	go s.serveListener("grpc", func() error { return s.grpcSrv.Serve(grpcLis) })
	if s.tcpSrv != nil {
		go s.serveListener("tcp", func() error { return s.tcpSrv.Serve(tcpLis) })
	}
	if s.api != nil {
		go s.serveListener("http", func() error { return s.api.Serve(httpLis) })
	}
	for _, u := range s.uarts {
		if err := u.Start(); err != nil {
			s.logger.Error("Uart attach failed", zap.Error(err))
		}
	}

	s.logger.Info("Netsim daemon started",
		zap.String("grpc", s.config.Listen.GRPCAddress),
		zap.String("http", s.config.Listen.HTTPAddress),
		zap.Int("uarts", len(s.uarts)))
	return nil
}

func (s *Service) serveListener(name string, serve func() error) {
	if err := serve(); err != nil {
		s.logger.Error("Listener failed", zap.String("listener", name), zap.Error(err))
		s.RequestShutdown()
	}
}

// RequestShutdown signals the run loop to exit. Safe to call repeatedly;
// fired by the idle controller on inactivity timeout.
func (s *Service) RequestShutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// ShutdownRequested is closed when the daemon should exit.
func (s *Service) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

// Registry exposes the device table for in-process callers. The monitor TUI
// does not use it; it polls the control API.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Stop tears the daemon down: listeners first so no new chips attach, then
// the engine and the ancillary tasks.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping netsim daemon")

	for _, u := range s.uarts {
		u.Stop()
	}
	s.grpcSrv.Stop()
	if s.tcpSrv != nil {
		s.tcpSrv.Stop()
	}
	if s.api != nil {
		s.api.Stop()
	}

	s.idle.Stop()
	s.engine.Close()

	for _, n := range s.notifiers {
		if err := n.Close(); err != nil {
			s.logger.Error("Error closing notifier", zap.String("notifier", n.Name()), zap.Error(err))
		}
	}

	s.logger.Info("Netsim daemon stopped")
}

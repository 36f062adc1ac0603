package netsim

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/netsimio/netsim/internal/config"
	"github.com/netsimio/netsim/internal/logging"
)

func init() {
	_ = logging.Initialize(logging.Config{Level: "error", Format: "text"})
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Listen.GRPCAddress = "127.0.0.1:0"
	cfg.Listen.HTTPAddress = ""
	cfg.Notify.Log = false
	return cfg
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("double Start did not fail")
	}

	s.Stop()
	s.Stop() // idempotent
}

func TestIdleShutdownFires(t *testing.T) {
	cfg := testConfig()
	cfg.Shutdown.InactivitySeconds = 1

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	// The daemon starts with no devices attached, so the grace period is
	// already running.
	select {
	case <-s.ShutdownRequested():
	case <-time.After(5 * time.Second):
		t.Fatal("idle shutdown never fired")
	}
}

func TestBindFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer func() { _ = lis.Close() }()

	cfg := testConfig()
	cfg.Listen.GRPCAddress = lis.Addr().String()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = s.Start()
	if !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
}

package transport

import (
	"testing"
	"time"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

func init() {
	_ = logging.Initialize(logging.Config{Level: "error", Format: "text"})
}

func TestSendResponseOrdering(t *testing.T) {
	tr := New()
	ch := tr.Register(registry.ChipID(1))

	for i := byte(0); i < 5; i++ {
		tr.SendResponse(1, wire.PacketTypeEvent, []byte{i})
	}

	for i := byte(0); i < 5; i++ {
		resp, ok := ch.WaitAndPop()
		if !ok {
			t.Fatalf("channel closed at %d", i)
		}
		if resp.Payload[0] != i {
			t.Errorf("response %d out of order: got %d", i, resp.Payload[0])
		}
	}
}

func TestRegisterIdempotent(t *testing.T) {
	tr := New()
	a := tr.Register(registry.ChipID(7))
	b := tr.Register(registry.ChipID(7))
	if a != b {
		t.Error("double Register returned a new channel")
	}
	if a.ChipID() != 7 {
		t.Errorf("chip id: got %d", a.ChipID())
	}
}

func TestCloseWakesWriter(t *testing.T) {
	tr := New()
	ch := tr.Register(registry.ChipID(1))

	done := make(chan bool, 1)
	go func() {
		_, ok := ch.WaitAndPop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Close(1)

	select {
	case ok := <-done:
		if ok {
			t.Error("pop succeeded on closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("writer not woken by Close")
	}

	// Idempotent; sends after close are dropped.
	tr.Close(1)
	tr.SendResponse(1, wire.PacketTypeEvent, []byte{1})
}

func TestSendToUnknownChipDropped(t *testing.T) {
	tr := New()
	tr.SendResponse(42, wire.PacketTypeEvent, []byte{1})
}

package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/internal/transport"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Backend is the chip-transport contract for non-Bluetooth radios. The real
// Wi-Fi (slirp) and UWB engines live outside this module; anything honoring
// this contract can be plugged in.
type Backend interface {
	// Attach wires a chip's response channel.
	Attach(chip registry.ChipID, ch *transport.Channel)

	// Deliver hands one raw payload from the peer to the backend.
	Deliver(chip registry.ChipID, payload []byte)

	// Detach releases the chip. Idempotent.
	Detach(chip registry.ChipID)
}

// EchoBackend is the in-process stand-in used when no external backend is
// configured: payloads are counted and looped back to the sender.
type EchoBackend struct {
	name   string
	logger *zap.Logger

	mu       sync.Mutex
	channels map[registry.ChipID]*transport.Channel
	rx       map[registry.ChipID]uint64
}

// NewEchoBackend creates an echo backend named for its chip kind.
func NewEchoBackend(kind wire.ChipKind) *EchoBackend {
	return &EchoBackend{
		name:     kind.String(),
		logger:   logging.With(zap.String("component", "backend"), zap.String("kind", kind.String())),
		channels: make(map[registry.ChipID]*transport.Channel),
		rx:       make(map[registry.ChipID]uint64),
	}
}

// Attach wires the chip's response channel.
func (b *EchoBackend) Attach(chip registry.ChipID, ch *transport.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[chip] = ch
}

// Deliver counts the payload and loops it back on the chip's channel.
func (b *EchoBackend) Deliver(chip registry.ChipID, payload []byte) {
	b.mu.Lock()
	ch, ok := b.channels[chip]
	b.rx[chip]++
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("Payload for detached chip", zap.Uint32("chip_id", uint32(chip)))
		return
	}
	ch.SendToHost(wire.PacketTypeUnspec, payload)
}

// Detach releases the chip.
func (b *EchoBackend) Detach(chip registry.ChipID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, chip)
}

// RxCount returns how many payloads a chip delivered.
func (b *EchoBackend) RxCount(chip registry.ChipID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rx[chip]
}

// Package transport is the per-chip plumbing between the packet-stream
// gateway and the radio backends: an outbound response queue per chip,
// drained by the stream's single writer task.
package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/pkg/netsim/queue"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Response is one outbound frame queued for a chip's stream.
type Response struct {
	Type    wire.PacketType
	Payload []byte
}

// Channel is one chip's outbound queue. The radio backend pushes, the
// stream's writer task pops. Responses leave in push order.
type Channel struct {
	chipID registry.ChipID
	queue  *queue.Queue[Response]
}

// SendToHost enqueues a packet for the stream writer. Never blocks; packets
// pushed after Close are discarded.
func (c *Channel) SendToHost(typ wire.PacketType, payload []byte) {
	c.queue.Push(Response{Type: typ, Payload: payload})
}

// WaitAndPop blocks until a response is available or the channel is closed.
func (c *Channel) WaitAndPop() (Response, bool) {
	return c.queue.WaitAndPop()
}

// ChipID returns the chip this channel serves.
func (c *Channel) ChipID() registry.ChipID {
	return c.chipID
}

// Transport tracks the response channel of every attached chip.
type Transport struct {
	mu       sync.RWMutex
	channels map[registry.ChipID]*Channel
	logger   *zap.Logger
}

// New creates an empty transport table.
func New() *Transport {
	return &Transport{
		channels: make(map[registry.ChipID]*Channel),
		logger:   logging.With(zap.String("component", "transport")),
	}
}

// Register creates the response channel for a chip. Registering the same
// chip twice returns the existing channel.
func (t *Transport) Register(chipID registry.ChipID) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.channels[chipID]; ok {
		return ch
	}
	ch := &Channel{chipID: chipID, queue: queue.New[Response]()}
	t.channels[chipID] = ch
	return ch
}

// SendResponse enqueues an outgoing frame for chipID. Unknown chips are
// logged and dropped.
func (t *Transport) SendResponse(chipID registry.ChipID, typ wire.PacketType, payload []byte) {
	t.mu.RLock()
	ch, ok := t.channels[chipID]
	t.mu.RUnlock()

	if !ok {
		t.logger.Warn("Response for unregistered chip", zap.Uint32("chip_id", uint32(chipID)))
		return
	}
	ch.SendToHost(typ, payload)
}

// Close drains the chip's queue and signals its writer task to exit.
// Idempotent.
func (t *Transport) Close(chipID registry.ChipID) {
	t.mu.Lock()
	ch, ok := t.channels[chipID]
	delete(t.channels, chipID)
	t.mu.Unlock()

	if ok {
		ch.queue.Stop()
	}
}

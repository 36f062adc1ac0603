// Package bt is the Bluetooth radio engine: it owns the engine-side device
// records, routes link-layer frames between phy members with per-recipient
// RSSI, and administers the radio on/off state machine. All mutations run on
// a single executor goroutine.
package bt

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/distance"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/queue"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Engine errors.
var (
	ErrUnknownChip = errors.New("unknown rootcanal id")
	ErrClosed      = errors.New("engine closed")
	ErrBadPacket   = errors.New("bad hci packet")
)

// DelayedThreshold is the soft deadline between enqueue and dispatch of an
// HCI packet; exceeding it is logged but delivery still proceeds.
const DelayedThreshold = 100 * time.Millisecond

// Phy indexes one physical band. The order is externally observable.
type Phy int

// The two phys, created at engine start.
const (
	PhyClassic Phy = 0
	PhyLowEnergy Phy = 1

	numPhys = 2
)

// String returns the phy name.
func (p Phy) String() string {
	if p == PhyLowEnergy {
		return "LOW_ENERGY"
	}
	return "CLASSIC"
}

// RootcanalID is the engine-local handle for an attached chip, distinct from
// the registry chip id.
type RootcanalID uint32

// HostPort is where a chip's controller writes packets destined for the
// host stack; the gateway's writer task drains the other end.
type HostPort interface {
	SendToHost(typ wire.PacketType, payload []byte)
}

// DistanceFunc returns the distance in meters between the devices owning two
// registry chip ids.
type DistanceFunc func(a, b uint32) float32

// ChipInfo is the engine's snapshot of one chip: counters and configuration.
type ChipInfo struct {
	Address    string
	Properties []byte
	TxCount    [numPhys]uint64
	RxCount    [numPhys]uint64
}

// Config holds engine tunables.
type Config struct {
	// DisableAddressReuse prevents freed BT addresses from being handed
	// out again within the process.
	DisableAddressReuse bool
}

type engineDevice struct {
	id         RootcanalID
	chipID     uint32
	address    string
	properties []byte
	host       HostPort
	ctrl       Controller
	member     [numPhys]bool
	tx         [numPhys]uint64
	rx         [numPhys]uint64
}

// Engine is the radio engine. Construct with New, start with Start.
type Engine struct {
	inbox    *queue.Queue[func()]
	done     chan struct{}
	distance DistanceFunc
	factory  ControllerFactory
	devices  map[RootcanalID]*engineDevice
	phys     [numPhys]map[RootcanalID]*engineDevice
	nextID   RootcanalID
	addrs    *addressAllocator
	invalid  uint64
	started  atomic.Bool
	logger   *zap.Logger
}

// New creates an engine with both phys empty. distanceFn may be nil, in
// which case every pair is at distance zero. factory may be nil to use the
// built-in controller.
func New(cfg Config, distanceFn DistanceFunc, factory ControllerFactory) *Engine {
	if distanceFn == nil {
		distanceFn = func(a, b uint32) float32 { return 0 }
	}
	if factory == nil {
		factory = NewLoopController
	}
	e := &Engine{
		inbox:    queue.New[func()](),
		done:     make(chan struct{}),
		distance: distanceFn,
		factory:  factory,
		devices:  make(map[RootcanalID]*engineDevice),
		addrs:    newAddressAllocator(cfg.DisableAddressReuse),
		logger:   logging.With(zap.String("component", "bt")),
	}
	for i := range e.phys {
		e.phys[i] = make(map[RootcanalID]*engineDevice)
	}
	return e
}

// Start launches the executor goroutine. Idempotent.
func (e *Engine) Start() {
	if e.started.Swap(true) {
		return
	}
	go e.run()
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		fn, ok := e.inbox.WaitAndPop()
		if !ok {
			return
		}
		fn()
	}
}

// Close shuts the engine down. Attached controllers are closed; subsequent
// operations return ErrClosed. Idempotent.
func (e *Engine) Close() {
	if !e.started.Load() {
		e.inbox.Stop()
		return
	}
	_ = e.call(func() {
		for _, dev := range e.devices {
			dev.ctrl.Close()
		}
		e.devices = make(map[RootcanalID]*engineDevice)
		for i := range e.phys {
			e.phys[i] = make(map[RootcanalID]*engineDevice)
		}
	})
	e.inbox.Stop()
	<-e.done
}

// post enqueues fn on the executor without waiting.
func (e *Engine) post(fn func()) error {
	if !e.inbox.Active() {
		return ErrClosed
	}
	e.inbox.Push(fn)
	return nil
}

// call runs fn on the executor and waits for it to finish.
func (e *Engine) call(fn func()) error {
	reply := make(chan struct{})
	if err := e.post(func() {
		fn()
		close(reply)
	}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// AttachChip creates an engine device for a registry chip, wires host as its
// HCI output, and joins both phys with radios on. An empty address requests
// allocation.
func (e *Engine) AttachChip(chipID uint32, address string, properties []byte, host HostPort) (RootcanalID, string, error) {
	var (
		id      RootcanalID
		addr    string
		attachErr error
	)
	err := e.call(func() {
		addr, attachErr = e.addrs.take(address)
		if attachErr != nil {
			return
		}

		e.nextID++
		id = e.nextID
		dev := &engineDevice{
			id:         id,
			chipID:     chipID,
			address:    addr,
			properties: properties,
			host:       host,
		}
		dev.ctrl = e.factory(&Link{engine: e, id: id, Address: addr})
		e.devices[id] = dev
		for p := range e.phys {
			e.phys[p][id] = dev
			dev.member[p] = true
		}

		e.logger.Info("Chip attached to phys",
			zap.Uint32("rootcanal_id", uint32(id)),
			zap.Uint32("chip_id", chipID),
			zap.String("address", addr))
	})
	if err != nil {
		return 0, "", err
	}
	if attachErr != nil {
		return 0, "", attachErr
	}
	return id, addr, nil
}

// DetachChip removes the device from both phys and closes its controller.
func (e *Engine) DetachChip(id RootcanalID) error {
	var opErr error
	err := e.call(func() {
		dev, ok := e.devices[id]
		if !ok {
			opErr = ErrUnknownChip
			return
		}
		for p := range e.phys {
			delete(e.phys[p], id)
		}
		dev.ctrl.Close()
		delete(e.devices, id)
		e.addrs.release(dev.address)

		e.logger.Info("Chip detached from phys", zap.Uint32("rootcanal_id", uint32(id)))
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetRadioState joins or leaves one phy. Turning a radio off removes the
// device from that phy; turning it on adds it back.
func (e *Engine) SetRadioState(id RootcanalID, phy Phy, on bool) error {
	if phy < 0 || phy >= numPhys {
		return ErrUnknownChip
	}
	var opErr error
	err := e.call(func() {
		dev, ok := e.devices[id]
		if !ok {
			opErr = ErrUnknownChip
			return
		}
		if dev.member[phy] == on {
			return
		}
		dev.member[phy] = on
		if on {
			e.phys[phy][id] = dev
		} else {
			delete(e.phys[phy], id)
		}
		e.logger.Debug("Radio state changed",
			zap.Uint32("rootcanal_id", uint32(id)),
			zap.String("phy", phy.String()),
			zap.Bool("on", on))
	})
	if err != nil {
		return err
	}
	return opErr
}

// DeliverHCI hands one HCI packet from the host to the chip's controller.
// The packet is processed on the executor; latency above DelayedThreshold is
// logged as DELAYED but delivery proceeds.
func (e *Engine) DeliverHCI(id RootcanalID, typ wire.PacketType, payload []byte) error {
	return e.deliverHCIAt(id, typ, payload, time.Now())
}

func (e *Engine) deliverHCIAt(id RootcanalID, typ wire.PacketType, payload []byte, enqueued time.Time) error {
	return e.post(func() {
		dev, ok := e.devices[id]
		if !ok {
			e.logger.Warn("HCI packet for unknown chip", zap.Uint32("rootcanal_id", uint32(id)))
			return
		}
		if wait := time.Since(enqueued); wait > DelayedThreshold {
			e.invalid++
			e.logger.Warn("DELAYED hci packet",
				zap.Uint32("rootcanal_id", uint32(id)),
				zap.Duration("wait", wait))
		}
		if err := dev.ctrl.HandleHCI(typ, payload); err != nil {
			e.invalid++
			e.logger.Warn("Controller rejected packet",
				zap.Uint32("rootcanal_id", uint32(id)),
				zap.String("type", typ.String()),
				zap.Error(err))
		}
	})
}

// SnapshotChip returns the engine's counters and configuration for a chip.
func (e *Engine) SnapshotChip(id RootcanalID) (ChipInfo, error) {
	var (
		info  ChipInfo
		opErr error
	)
	err := e.call(func() {
		dev, ok := e.devices[id]
		if !ok {
			opErr = ErrUnknownChip
			return
		}
		info = ChipInfo{
			Address:    dev.address,
			Properties: dev.properties,
			TxCount:    dev.tx,
			RxCount:    dev.rx,
		}
	})
	if err != nil {
		return ChipInfo{}, err
	}
	return info, opErr
}

// SendLinkLayer transmits one link-layer frame from a chip on a phy. The
// send is skipped entirely when the sender's radio for that phy is off.
func (e *Engine) SendLinkLayer(id RootcanalID, phy Phy, payload []byte, txPower int8) error {
	if phy < 0 || phy >= numPhys {
		return ErrUnknownChip
	}
	return e.post(func() { e.sendLinkLayer(id, phy, payload, txPower) })
}

// sendLinkLayer runs on the executor. The recipient set is snapshotted at
// entry; radios toggled during the loop keep their membership for this send.
func (e *Engine) sendLinkLayer(id RootcanalID, phy Phy, payload []byte, txPower int8) {
	sender, ok := e.devices[id]
	if !ok {
		return
	}
	if !sender.member[phy] {
		return
	}
	sender.tx[phy]++

	recipients := make([]*engineDevice, 0, len(e.phys[phy]))
	for _, dev := range e.phys[phy] {
		if dev.id == id {
			continue
		}
		recipients = append(recipients, dev)
	}

	for _, rcpt := range recipients {
		rcpt.rx[phy]++
		d := e.distance(sender.chipID, rcpt.chipID)
		rssi := distance.RSSI(txPower, d)
		rcpt.ctrl.ReceiveLinkLayer(phy, payload, rssi)
	}
}

// InvalidPackets returns how many packets were counted as invalid or delayed.
func (e *Engine) InvalidPackets() uint64 {
	var n uint64
	if err := e.call(func() { n = e.invalid }); err != nil {
		return 0
	}
	return n
}

// Link is the engine-side handle given to each controller for I/O in both
// directions. Safe to use from any goroutine.
type Link struct {
	engine  *Engine
	id      RootcanalID
	Address string
}

// SendToHost forwards a packet from the controller to the host stack.
func (l *Link) SendToHost(typ wire.PacketType, payload []byte) {
	err := l.engine.post(func() {
		if dev, ok := l.engine.devices[l.id]; ok {
			dev.host.SendToHost(typ, payload)
		}
	})
	if err != nil {
		l.engine.logger.Debug("Drop packet to host after close",
			zap.Uint32("rootcanal_id", uint32(l.id)))
	}
}

// Transmit emits a link-layer frame on one phy.
func (l *Link) Transmit(phy Phy, payload []byte, txPower int8) {
	_ = l.engine.SendLinkLayer(l.id, phy, payload, txPower)
}

// Package gateway terminates packet streams from virtual devices: it binds
// each stream to a chip, forwards inbound frames to the radio backends, and
// runs the single writer task returning simulated packets.
package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/bt"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/registry"
	"github.com/netsimio/netsim/internal/transport"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// DefaultAttachTimeout bounds the wait for StartInfo on a new stream.
const DefaultAttachTimeout = 5 * time.Second

// ErrBadStartInfo reports a missing or invalid first frame, a repeated
// StartInfo, or a frame variant that does not match the chip kind.
var ErrBadStartInfo = errors.New("bad start info")

// Config holds gateway tunables.
type Config struct {
	// AttachTimeout is the StartInfo deadline. Zero means
	// DefaultAttachTimeout.
	AttachTimeout time.Duration
}

// Gateway routes packet streams to the registry, the BT engine and the
// raw-payload backends.
type Gateway struct {
	cfg       Config
	registry  *registry.Registry
	engine    *bt.Engine
	transport *transport.Transport
	backends  map[wire.ChipKind]Backend
	logger    *zap.Logger

	mu        sync.Mutex
	malformed uint64
}

// New creates a gateway. backends maps the non-BT chip kinds to their
// engines; kinds without a backend reject attachment.
func New(cfg Config, reg *registry.Registry, engine *bt.Engine, tr *transport.Transport, backends map[wire.ChipKind]Backend) *Gateway {
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = DefaultAttachTimeout
	}
	if backends == nil {
		backends = map[wire.ChipKind]Backend{}
	}
	return &Gateway{
		cfg:       cfg,
		registry:  reg,
		engine:    engine,
		transport: tr,
		backends:  backends,
		logger:    logging.With(zap.String("component", "gateway")),
	}
}

// MalformedFrames returns how many inbound frames were dropped for missing
// or invalid HCI framing.
func (g *Gateway) MalformedFrames() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.malformed
}

func (g *Gateway) countMalformed() {
	g.mu.Lock()
	g.malformed++
	g.mu.Unlock()
}

// Serve runs one stream to completion: StartInfo handshake, chip attach,
// read loop, and teardown. It returns when the stream ends on either side.
func (g *Gateway) Serve(stream wire.PacketStream, peer string) error {
	start, err := g.readStartInfo(stream)
	if err != nil {
		g.logger.Warn("Stream rejected", zap.String("peer", peer), zap.Error(err))
		_ = stream.Send(&wire.Frame{Error: err.Error()})
		return err
	}

	s, err := g.attach(stream, peer, start)
	if err != nil {
		_ = stream.Send(&wire.Frame{Error: err.Error()})
		return err
	}
	defer s.teardown()

	go s.writeLoop()
	return s.readLoop()
}

// readStartInfo waits for the opening frame, bounded by the attach timeout.
func (g *Gateway) readStartInfo(stream wire.PacketStream) (*wire.StartInfo, error) {
	type result struct {
		frame *wire.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := stream.Recv()
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadStartInfo, r.err)
		}
		if r.frame.Start == nil {
			return nil, fmt.Errorf("%w: first frame is not StartInfo", ErrBadStartInfo)
		}
		si := r.frame.Start
		if si.Name == "" {
			return nil, fmt.Errorf("%w: missing device name", ErrBadStartInfo)
		}
		if si.Chip.Kind == wire.ChipKindUnspecified {
			return nil, fmt.Errorf("%w: missing chip kind", ErrBadStartInfo)
		}
		return si, nil
	case <-time.After(g.cfg.AttachTimeout):
		return nil, fmt.Errorf("%w: no StartInfo within %s", ErrBadStartInfo, g.cfg.AttachTimeout)
	}
}

// attach creates the chip in the registry and wires it to its radio backend.
func (g *Gateway) attach(stream wire.PacketStream, peer string, start *wire.StartInfo) (*session, error) {
	decl := start.Chip
	if decl.ID == "" {
		decl.ID = fmt.Sprintf("%s-%s", start.Name, decl.Kind)
	}

	res, err := g.registry.AddChip(peer, start.Name, start.Name, decl)
	if err != nil {
		return nil, err
	}

	s := &session{
		gateway: g,
		stream:  stream,
		kind:    decl.Kind,
		device:  res.DeviceID,
		chip:    res.ChipID,
		channel: g.transport.Register(res.ChipID),
		logger: g.logger.With(
			zap.String("peer", peer),
			zap.Uint32("chip_id", uint32(res.ChipID))),
	}

	switch decl.Kind {
	case wire.ChipKindBluetooth, wire.ChipKindBleBeacon:
		rcID, _, err := g.engine.AttachChip(uint32(res.ChipID), decl.Address, decl.Properties, s.channel)
		if err != nil {
			g.transport.Close(res.ChipID)
			_ = g.registry.RemoveChip(res.DeviceID, res.ChipID)
			return nil, err
		}
		s.rootcanal = rcID
		g.registry.BindChip(res.ChipID, g.bindingFor(rcID))
	default:
		backend, ok := g.backends[decl.Kind]
		if !ok {
			g.transport.Close(res.ChipID)
			_ = g.registry.RemoveChip(res.DeviceID, res.ChipID)
			return nil, fmt.Errorf("no backend for chip kind %s", decl.Kind)
		}
		backend.Attach(res.ChipID, s.channel)
		s.backend = backend
	}

	s.logger.Info("Stream attached", zap.String("kind", decl.Kind.String()))
	return s, nil
}

// bindingFor adapts engine operations to the registry's chip binding.
func (g *Gateway) bindingFor(id bt.RootcanalID) *registry.BTBinding {
	return &registry.BTBinding{
		SetRadio: func(band registry.Band, state registry.RadioState) {
			phy := bt.PhyClassic
			if band == registry.BandLowEnergy {
				phy = bt.PhyLowEnergy
			}
			if state == registry.RadioStateUnknown {
				return
			}
			_ = g.engine.SetRadioState(id, phy, state == registry.RadioStateOn)
		},
		Snapshot: func() (registry.BTRadios, bool) {
			info, err := g.engine.SnapshotChip(id)
			if err != nil {
				return registry.BTRadios{}, false
			}
			return registry.BTRadios{
				LowEnergy: registry.Radio{
					TxCount: info.TxCount[bt.PhyLowEnergy],
					RxCount: info.RxCount[bt.PhyLowEnergy],
				},
				Classic: registry.Radio{
					TxCount: info.TxCount[bt.PhyClassic],
					RxCount: info.RxCount[bt.PhyClassic],
				},
			}, true
		},
	}
}

// session is one attached stream.
type session struct {
	gateway   *Gateway
	stream    wire.PacketStream
	kind      wire.ChipKind
	device    registry.DeviceID
	chip      registry.ChipID
	rootcanal bt.RootcanalID
	backend   Backend
	channel   *transport.Channel
	logger    *zap.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// send serializes all writes to the stream: the writer task and the error
// path must never interleave at the RPC layer.
func (s *session) send(f *wire.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(f)
}

// readLoop forwards inbound frames until EOF, I/O error, or a protocol
// violation.
func (s *session) readLoop() error {
	for {
		frame, err := s.stream.Recv()
		if err != nil {
			s.logger.Debug("Read loop ended", zap.Error(err))
			return nil
		}
		if err := s.dispatch(frame); err != nil {
			s.logger.Warn("Stream terminated by protocol violation", zap.Error(err))
			_ = s.send(&wire.Frame{Error: err.Error()})
			return err
		}
	}
}

// dispatch demultiplexes one inbound frame by chip kind. A frame variant
// mismatched to the kind is fatal; bad HCI framing only counts and drops.
func (s *session) dispatch(frame *wire.Frame) error {
	if frame.Start != nil {
		return fmt.Errorf("%w: repeated StartInfo", ErrBadStartInfo)
	}

	switch s.kind {
	case wire.ChipKindBluetooth, wire.ChipKindBleBeacon:
		if frame.HCI == nil {
			return fmt.Errorf("%w: %s chip requires hci_packet frames", ErrBadStartInfo, s.kind)
		}
		if !frame.HCI.Type.Valid() {
			s.gateway.countMalformed()
			s.logger.Debug("Dropping frame without valid HCI type")
			return nil
		}
		if err := s.gateway.engine.DeliverHCI(s.rootcanal, frame.HCI.Type, frame.HCI.Payload); err != nil {
			return err
		}
	default:
		if frame.Packet == nil {
			return fmt.Errorf("%w: %s chip requires raw packet frames", ErrBadStartInfo, s.kind)
		}
		s.backend.Deliver(s.chip, frame.Packet)
	}
	return nil
}

// writeLoop is the stream's single writer task, draining the chip's
// response queue in push order.
func (s *session) writeLoop() {
	for {
		resp, ok := s.channel.WaitAndPop()
		if !ok {
			return
		}
		frame := &wire.Frame{}
		switch s.kind {
		case wire.ChipKindBluetooth, wire.ChipKindBleBeacon:
			frame.HCI = &wire.HCIPacket{Type: resp.Type, Payload: resp.Payload}
		default:
			frame.Packet = resp.Payload
		}
		if err := s.send(frame); err != nil {
			s.logger.Debug("Write loop ended", zap.Error(err))
			s.teardown()
			return
		}
	}
}

// teardown releases the transport channel, the engine device and the
// registry entry. Runs exactly once regardless of which side closed.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		s.gateway.transport.Close(s.chip)
		switch s.kind {
		case wire.ChipKindBluetooth, wire.ChipKindBleBeacon:
			if err := s.gateway.engine.DetachChip(s.rootcanal); err != nil &&
				!errors.Is(err, bt.ErrClosed) && !errors.Is(err, bt.ErrUnknownChip) {
				s.logger.Error("Engine detach failed", zap.Error(err))
			}
		default:
			s.backend.Detach(s.chip)
		}
		if err := s.gateway.registry.RemoveChip(s.device, s.chip); err != nil {
			s.logger.Error("Registry remove failed", zap.Error(err))
		}
		s.logger.Info("Stream detached")
	})
}

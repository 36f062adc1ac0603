package gateway

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// UARTConfig describes one HCI-over-UART attachment: emulators that expose
// a serial or pty device speaking raw H4 instead of dialing the RPC
// endpoint.
type UARTConfig struct {
	Port       string
	Baud       int
	DeviceName string
}

// UART bridges a serial port into the gateway as a Bluetooth chip stream.
type UART struct {
	cfg     UARTConfig
	gateway *Gateway
	logger  *zap.Logger

	mu   sync.Mutex
	port serial.Port
	done chan struct{}
}

// NewUART creates a UART bridge. Start opens the port.
func NewUART(cfg UARTConfig, gw *Gateway) *UART {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	return &UART{
		cfg:     cfg,
		gateway: gw,
		logger:  logging.With(zap.String("component", "uart"), zap.String("port", cfg.Port)),
	}
}

// Start opens the serial port and serves it as a packet stream until the
// port closes.
func (u *UART) Start() error {
	port, err := serial.Open(u.cfg.Port, &serial.Mode{BaudRate: u.cfg.Baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", u.cfg.Port, err)
	}

	u.mu.Lock()
	u.port = port
	u.done = make(chan struct{})
	u.mu.Unlock()

	u.logger.Info("HCI uart attached", zap.String("device", u.cfg.DeviceName))

	go func() {
		defer close(u.done)
		stream := newH4Stream(port, u.cfg.DeviceName)
		if err := u.gateway.Serve(stream, "uart:"+u.cfg.Port); err != nil {
			u.logger.Warn("Uart stream ended", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the port, tearing down the chip.
func (u *UART) Stop() {
	u.mu.Lock()
	port := u.port
	done := u.done
	u.mu.Unlock()

	if port != nil {
		_ = port.Close()
	}
	if done != nil {
		<-done
	}
}

// h4Stream adapts a raw H4 byte stream to PacketStream. The first Recv
// synthesizes the StartInfo the wire protocol would carry.
type h4Stream struct {
	rw      io.ReadWriter
	name    string
	started bool
	header  [4]byte
}

func newH4Stream(rw io.ReadWriter, name string) *h4Stream {
	return &h4Stream{rw: rw, name: name}
}

// H4 header lengths by packet type.
func h4Header(typ wire.PacketType) (headerLen int, lengthAt int, lengthBytes int, ok bool) {
	switch typ {
	case wire.PacketTypeCommand:
		return 3, 2, 1, true
	case wire.PacketTypeACL:
		return 4, 2, 2, true
	case wire.PacketTypeSCO:
		return 3, 2, 1, true
	case wire.PacketTypeEvent:
		return 2, 1, 1, true
	case wire.PacketTypeISO:
		return 4, 2, 2, true
	default:
		return 0, 0, 0, false
	}
}

func (s *h4Stream) Recv() (*wire.Frame, error) {
	if !s.started {
		s.started = true
		return &wire.Frame{Start: &wire.StartInfo{
			Name: s.name,
			Chip: wire.ChipDecl{Kind: wire.ChipKindBluetooth, ID: s.name + "-hci"},
		}}, nil
	}

	var indicator [1]byte
	if _, err := io.ReadFull(s.rw, indicator[:]); err != nil {
		return nil, err
	}
	typ := wire.PacketType(indicator[0])
	headerLen, lengthAt, lengthBytes, ok := h4Header(typ)
	if !ok {
		return nil, fmt.Errorf("unknown h4 indicator 0x%02x", indicator[0])
	}

	header := s.header[:headerLen]
	if _, err := io.ReadFull(s.rw, header); err != nil {
		return nil, err
	}

	var bodyLen int
	if lengthBytes == 1 {
		bodyLen = int(header[lengthAt])
	} else {
		bodyLen = int(binary.LittleEndian.Uint16(header[lengthAt:lengthAt+2]) & 0x3fff)
	}

	payload := make([]byte, headerLen+bodyLen)
	copy(payload, header)
	if _, err := io.ReadFull(s.rw, payload[headerLen:]); err != nil {
		return nil, err
	}

	return &wire.Frame{HCI: &wire.HCIPacket{Type: typ, Payload: payload}}, nil
}

func (s *h4Stream) Send(f *wire.Frame) error {
	switch {
	case f.HCI != nil:
		pkt := make([]byte, 0, 1+len(f.HCI.Payload))
		pkt = append(pkt, byte(f.HCI.Type))
		pkt = append(pkt, f.HCI.Payload...)
		_, err := s.rw.Write(pkt)
		return err
	case f.Error != "":
		// No error variant on a raw uart; the port just closes.
		return fmt.Errorf("uart stream rejected: %s", f.Error)
	default:
		return nil
	}
}

// Package client implements a virtual device: the peer side of a packet
// stream. It backs the integration tests.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Vendor-specific HCI surface of the simulator's built-in controller.
const (
	// TransmitOpcode carries a link-layer frame: params [phy, txPower, frame...].
	TransmitOpcode uint16 = 0xfc01

	// VendorEventCode marks a received link-layer frame: params
	// [phy, rssi, frame...].
	VendorEventCode byte = 0xff
)

// Phy selectors for TransmitOpcode, matching the engine's phy order.
const (
	PhyClassic   byte = 0
	PhyLowEnergy byte = 1
)

// Client is one virtual device attached over a packet stream.
type Client struct {
	stream wire.PacketStream
	closer func() error
}

// New wraps an existing stream, typically one half of wire.Pipe.
func New(stream wire.PacketStream) *Client {
	c := &Client{stream: stream}
	if closer, ok := stream.(interface{ Close() error }); ok {
		c.closer = closer.Close
	}
	return c
}

// Dial attaches over the RPC endpoint.
func Dial(ctx context.Context, target string) (*Client, error) {
	stream, err := wire.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return &Client{stream: stream, closer: stream.Close}, nil
}

// Start sends the StartInfo identifying this device and chip.
func (c *Client) Start(name string, chip wire.ChipDecl) error {
	return c.stream.Send(&wire.Frame{Start: &wire.StartInfo{Name: name, Chip: chip}})
}

// SendHCI sends one HCI packet.
func (c *Client) SendHCI(typ wire.PacketType, payload []byte) error {
	return c.stream.Send(&wire.Frame{HCI: &wire.HCIPacket{Type: typ, Payload: payload}})
}

// SendPacket sends one raw payload (WIFI / UWB chips).
func (c *Client) SendPacket(payload []byte) error {
	return c.stream.Send(&wire.Frame{Packet: payload})
}

// Transmit issues the vendor transmit command, emitting a link-layer frame
// on the given phy at txPower dBm.
func (c *Client) Transmit(phy byte, txPower int8, frame []byte) error {
	params := make([]byte, 0, 2+len(frame))
	params = append(params, phy, byte(txPower))
	params = append(params, frame...)

	cmd := make([]byte, 0, 3+len(params))
	cmd = binary.LittleEndian.AppendUint16(cmd, TransmitOpcode)
	cmd = append(cmd, byte(len(params)))
	cmd = append(cmd, params...)
	return c.SendHCI(wire.PacketTypeCommand, cmd)
}

// Recv returns the next frame from the simulator.
func (c *Client) Recv() (*wire.Frame, error) {
	return c.stream.Recv()
}

// Close tears down the stream, detaching the chip.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// Received is a link-layer frame observed by this device.
type Received struct {
	Phy     byte
	RSSI    int8
	Payload []byte
}

// ParseVendorEvent extracts a received link-layer frame from an HCI event
// frame, or reports false for unrelated frames.
func ParseVendorEvent(f *wire.Frame) (Received, bool) {
	if f == nil || f.HCI == nil || f.HCI.Type != wire.PacketTypeEvent {
		return Received{}, false
	}
	p := f.HCI.Payload
	if len(p) < 4 || p[0] != VendorEventCode {
		return Received{}, false
	}
	return Received{Phy: p[2], RSSI: int8(p[3]), Payload: p[4:]}, true
}

// ErrStreamRejected reports a server-side error frame.
var ErrStreamRejected = errors.New("stream rejected")

// CheckError converts a server error frame into an error.
func CheckError(f *wire.Frame) error {
	if f != nil && f.Error != "" {
		return fmt.Errorf("%w: %s", ErrStreamRejected, f.Error)
	}
	return nil
}

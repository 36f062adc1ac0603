package bt

import (
	"encoding/binary"
	"fmt"

	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Controller is the per-chip radio behaviour the engine drives. The full
// controller implementation is an external black box; the engine only needs
// these three entry points.
type Controller interface {
	// HandleHCI processes one packet from the host. Returns ErrBadPacket
	// (wrapped) when the payload fails the framing check.
	HandleHCI(typ wire.PacketType, payload []byte) error

	// ReceiveLinkLayer delivers an over-the-air frame with its computed RSSI.
	ReceiveLinkLayer(phy Phy, payload []byte, rssi int8)

	// Close releases controller resources. Called on the executor.
	Close()
}

// ControllerFactory builds a controller for a newly attached chip.
type ControllerFactory func(link *Link) Controller

// HCI opcodes and event codes handled by the built-in controller.
const (
	opcodeReset       uint16 = 0x0c03
	opcodeReadBDAddr  uint16 = 0x1009
	// Vendor-specific transmit: params are [phy, txPower, frame...].
	opcodeVendorTransmit uint16 = 0xfc01

	eventCommandComplete byte = 0x0e
	eventCommandStatus   byte = 0x0f
	eventVendorSpecific  byte = 0xff

	statusSuccess        byte = 0x00
	statusUnknownCommand byte = 0x01
)

// loopController is the built-in minimal controller: it answers the HCI
// commands virtual devices issue during bring-up, forwards vendor transmit
// commands to the link layer, and surfaces received frames to the host as
// vendor events. ACL data is carried over the classic phy.
type loopController struct {
	link *Link
}

// NewLoopController is the default ControllerFactory.
func NewLoopController(link *Link) Controller {
	return &loopController{link: link}
}

func (c *loopController) HandleHCI(typ wire.PacketType, payload []byte) error {
	switch typ {
	case wire.PacketTypeCommand:
		return c.handleCommand(payload)
	case wire.PacketTypeACL:
		// ACL traffic rides the classic phy at default power.
		c.link.Transmit(PhyClassic, payload, 0)
		return nil
	case wire.PacketTypeSCO, wire.PacketTypeISO:
		return nil
	default:
		return fmt.Errorf("%w: host sent %s", ErrBadPacket, typ)
	}
}

func (c *loopController) handleCommand(payload []byte) error {
	if len(payload) < 3 {
		return fmt.Errorf("%w: short command header", ErrBadPacket)
	}
	opcode := binary.LittleEndian.Uint16(payload[:2])
	paramLen := int(payload[2])
	params := payload[3:]
	if len(params) != paramLen {
		return fmt.Errorf("%w: command 0x%04x declares %d param bytes, has %d",
			ErrBadPacket, opcode, paramLen, len(params))
	}

	switch opcode {
	case opcodeReset:
		c.commandComplete(opcode, statusSuccess, nil)
	case opcodeReadBDAddr:
		c.commandComplete(opcode, statusSuccess, reverseAddress(c.link.Address))
	case opcodeVendorTransmit:
		if len(params) < 2 {
			return fmt.Errorf("%w: vendor transmit needs phy and power", ErrBadPacket)
		}
		phy := Phy(params[0])
		if phy != PhyClassic && phy != PhyLowEnergy {
			return fmt.Errorf("%w: vendor transmit on phy %d", ErrBadPacket, params[0])
		}
		c.link.Transmit(phy, params[2:], int8(params[1]))
		c.commandComplete(opcode, statusSuccess, nil)
	default:
		c.commandStatus(opcode, statusUnknownCommand)
	}
	return nil
}

func (c *loopController) ReceiveLinkLayer(phy Phy, payload []byte, rssi int8) {
	// Vendor event [phy, rssi, frame...] so the host observes the frame and
	// its signal strength.
	params := make([]byte, 0, 2+len(payload))
	params = append(params, byte(phy), byte(rssi))
	params = append(params, payload...)
	c.sendEvent(eventVendorSpecific, params)
}

func (c *loopController) Close() {}

func (c *loopController) commandComplete(opcode uint16, status byte, ret []byte) {
	params := make([]byte, 0, 4+len(ret))
	params = append(params, 1) // allowed outstanding commands
	params = binary.LittleEndian.AppendUint16(params, opcode)
	params = append(params, status)
	params = append(params, ret...)
	c.sendEvent(eventCommandComplete, params)
}

func (c *loopController) commandStatus(opcode uint16, status byte) {
	params := []byte{status, 1}
	params = binary.LittleEndian.AppendUint16(params, opcode)
	c.sendEvent(eventCommandStatus, params)
}

func (c *loopController) sendEvent(code byte, params []byte) {
	pkt := make([]byte, 0, 2+len(params))
	pkt = append(pkt, code, byte(len(params)))
	pkt = append(pkt, params...)
	c.link.SendToHost(wire.PacketTypeEvent, pkt)
}

// reverseAddress returns the 6 address bytes in HCI little-endian order.
func reverseAddress(addr string) []byte {
	var b [6]byte
	_, _ = fmt.Sscanf(addr, "%02x:%02x:%02x:%02x:%02x:%02x",
		&b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	out := make([]byte, 6)
	for i := range b {
		out[i] = b[5-i]
	}
	return out
}

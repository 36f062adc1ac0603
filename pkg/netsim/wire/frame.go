// Package wire defines the packet-stream protocol spoken between virtual
// devices and the simulator: a tagged-union frame carrying either the
// stream-opening StartInfo, an HCI packet, a raw radio payload, or a fatal
// error. Frames are encoded in protobuf wire format without generated code;
// the schema files live with the external API definitions.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ChipKind identifies the radio type of a chip.
type ChipKind int32

// Chip kinds carried in StartInfo.
const (
	ChipKindUnspecified ChipKind = 0
	ChipKindBluetooth   ChipKind = 1
	ChipKindWifi        ChipKind = 2
	ChipKindUwb         ChipKind = 3
	ChipKindBleBeacon   ChipKind = 4
)

// String returns the chip kind name used in logs and the control API.
func (k ChipKind) String() string {
	switch k {
	case ChipKindBluetooth:
		return "BLUETOOTH"
	case ChipKindWifi:
		return "WIFI"
	case ChipKindUwb:
		return "UWB"
	case ChipKindBleBeacon:
		return "BLUETOOTH_BEACON"
	default:
		return "UNSPECIFIED"
	}
}

// PacketType is the HCI packet indicator, matching the UART (H4) transport
// encoding so serial attachments can reuse the byte directly.
type PacketType byte

// HCI packet types.
const (
	PacketTypeUnspec  PacketType = 0
	PacketTypeCommand PacketType = 1
	PacketTypeACL     PacketType = 2
	PacketTypeSCO     PacketType = 3
	PacketTypeEvent   PacketType = 4
	PacketTypeISO     PacketType = 5
)

// Valid reports whether the packet type is one a peer may place on the wire.
func (p PacketType) Valid() bool {
	return p >= PacketTypeCommand && p <= PacketTypeISO
}

// String returns the short HCI packet type name.
func (p PacketType) String() string {
	switch p {
	case PacketTypeCommand:
		return "CMD"
	case PacketTypeACL:
		return "ACL"
	case PacketTypeSCO:
		return "SCO"
	case PacketTypeEvent:
		return "EVENT"
	case PacketTypeISO:
		return "ISO"
	default:
		return "UNSPEC"
	}
}

// ChipDecl describes the chip a peer wants to attach, inside StartInfo.
type ChipDecl struct {
	Kind         ChipKind
	ID           string
	Manufacturer string
	ProductName  string
	Address      string
	Properties   []byte
}

// StartInfo is the first frame on every stream, identifying the device and
// the chip being attached.
type StartInfo struct {
	Name string
	Chip ChipDecl
}

// HCIPacket is one Bluetooth HCI packet with its type indicator.
type HCIPacket struct {
	Type    PacketType
	Payload []byte
}

// Frame is the tagged union exchanged on a packet stream. Exactly one of the
// variant fields is set.
type Frame struct {
	Start  *StartInfo
	HCI    *HCIPacket
	Packet []byte // raw payload for WIFI / UWB chips
	Error  string // server -> client fatal message
}

// Frame field numbers.
const (
	fieldStartInfo = 1
	fieldHCI       = 2
	fieldPacket    = 3
	fieldError     = 4
)

// StartInfo field numbers.
const (
	fieldName = 1
	fieldChip = 2
)

// ChipDecl field numbers.
const (
	fieldChipKind         = 1
	fieldChipID           = 2
	fieldChipManufacturer = 3
	fieldChipProductName  = 4
	fieldChipAddress      = 5
	fieldChipProperties   = 6
)

// HCIPacket field numbers.
const (
	fieldHCIType    = 1
	fieldHCIPayload = 2
)

// error message field number.
const fieldErrorMessage = 1

// Codec errors.
var (
	ErrEmptyFrame   = errors.New("frame has no variant set")
	ErrBadFrame     = errors.New("malformed frame")
	ErrUnknownField = errors.New("unknown frame field")
)

// Marshal encodes the frame into protobuf wire format.
func (f *Frame) Marshal() ([]byte, error) {
	var b []byte
	switch {
	case f.Start != nil:
		b = protowire.AppendTag(b, fieldStartInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalStartInfo(f.Start))
	case f.HCI != nil:
		b = protowire.AppendTag(b, fieldHCI, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalHCI(f.HCI))
	case f.Packet != nil:
		b = protowire.AppendTag(b, fieldPacket, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Packet)
	case f.Error != "":
		var e []byte
		e = protowire.AppendTag(e, fieldErrorMessage, protowire.BytesType)
		e = protowire.AppendString(e, f.Error)
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	default:
		return nil, ErrEmptyFrame
	}
	return b, nil
}

// Unmarshal decodes a frame from protobuf wire format.
func Unmarshal(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrBadFrame)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: field %d has wire type %d", ErrBadFrame, num, typ)
		}
		body, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: truncated field %d", ErrBadFrame, num)
		}
		data = data[n:]

		switch num {
		case fieldStartInfo:
			si, err := unmarshalStartInfo(body)
			if err != nil {
				return nil, err
			}
			f.Start = si
		case fieldHCI:
			hp, err := unmarshalHCI(body)
			if err != nil {
				return nil, err
			}
			f.HCI = hp
		case fieldPacket:
			f.Packet = append([]byte(nil), body...)
		case fieldError:
			msg, err := unmarshalError(body)
			if err != nil {
				return nil, err
			}
			f.Error = msg
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownField, num)
		}
	}

	if f.Start == nil && f.HCI == nil && f.Packet == nil && f.Error == "" {
		return nil, ErrEmptyFrame
	}
	return f, nil
}

func marshalStartInfo(si *StartInfo) []byte {
	var b []byte
	if si.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, si.Name)
	}
	b = protowire.AppendTag(b, fieldChip, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalChipDecl(&si.Chip))
	return b
}

func marshalChipDecl(c *ChipDecl) []byte {
	var b []byte
	if c.Kind != ChipKindUnspecified {
		b = protowire.AppendTag(b, fieldChipKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Kind))
	}
	appendStr := func(field protowire.Number, s string) {
		if s != "" {
			b = protowire.AppendTag(b, field, protowire.BytesType)
			b = protowire.AppendString(b, s)
		}
	}
	appendStr(fieldChipID, c.ID)
	appendStr(fieldChipManufacturer, c.Manufacturer)
	appendStr(fieldChipProductName, c.ProductName)
	appendStr(fieldChipAddress, c.Address)
	if len(c.Properties) > 0 {
		b = protowire.AppendTag(b, fieldChipProperties, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Properties)
	}
	return b
}

func marshalHCI(p *HCIPacket) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHCIType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))
	b = protowire.AppendTag(b, fieldHCIPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Payload)
	return b
}

func unmarshalStartInfo(data []byte) (*StartInfo, error) {
	si := &StartInfo{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, body []byte, v uint64) error {
		switch num {
		case fieldName:
			si.Name = string(body)
		case fieldChip:
			c, err := unmarshalChipDecl(body)
			if err != nil {
				return err
			}
			si.Chip = *c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return si, nil
}

func unmarshalChipDecl(data []byte) (*ChipDecl, error) {
	c := &ChipDecl{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, body []byte, v uint64) error {
		switch num {
		case fieldChipKind:
			c.Kind = ChipKind(v)
		case fieldChipID:
			c.ID = string(body)
		case fieldChipManufacturer:
			c.Manufacturer = string(body)
		case fieldChipProductName:
			c.ProductName = string(body)
		case fieldChipAddress:
			c.Address = string(body)
		case fieldChipProperties:
			c.Properties = append([]byte(nil), body...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalHCI(data []byte) (*HCIPacket, error) {
	p := &HCIPacket{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, body []byte, v uint64) error {
		switch num {
		case fieldHCIType:
			p.Type = PacketType(v)
		case fieldHCIPayload:
			p.Payload = append([]byte(nil), body...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalError(data []byte) (string, error) {
	var msg string
	err := eachField(data, func(num protowire.Number, typ protowire.Type, body []byte, v uint64) error {
		if num == fieldErrorMessage {
			msg = string(body)
		}
		return nil
	})
	return msg, err
}

// eachField walks one message's fields, handing varint fields through v and
// length-delimited fields through body.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, body []byte, v uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrBadFrame)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: bad varint in field %d", ErrBadFrame, num)
			}
			data = data[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			body, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: truncated field %d", ErrBadFrame, num)
			}
			data = data[n:]
			if err := fn(num, typ, body, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrBadFrame, num)
			}
			data = data[n:]
		}
	}
	return nil
}

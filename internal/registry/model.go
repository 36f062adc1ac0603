// Package registry holds the in-memory model of simulated devices and their
// radio chips, and the patch/query surface used by external control planes.
package registry

import (
	"github.com/netsimio/netsim/internal/distance"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// DeviceID identifies a device for the lifetime of the process.
type DeviceID uint32

// ChipID identifies a chip for the lifetime of the process. Never reused.
type ChipID uint32

// RadioState is the administrative state of one radio.
type RadioState int32

// Radio states. Unknown means "no change" in patches.
const (
	RadioStateUnknown RadioState = 0
	RadioStateOn      RadioState = 1
	RadioStateOff     RadioState = 2
)

// String returns the state name used in scene snapshots.
func (s RadioState) String() string {
	switch s {
	case RadioStateOn:
		return "ON"
	case RadioStateOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Orientation is a device attitude in degrees.
type Orientation struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// Radio is the per-band view of a chip: administrative state plus traffic
// counters mirrored from the radio engine.
type Radio struct {
	State   RadioState `json:"state"`
	TxCount uint64     `json:"tx_count"`
	RxCount uint64     `json:"rx_count"`
}

// BTRadios groups the two Bluetooth bands of a chip.
type BTRadios struct {
	LowEnergy Radio `json:"low_energy"`
	Classic   Radio `json:"classic"`
}

// Chip is one radio on a device.
type Chip struct {
	ID           ChipID        `json:"id"`
	DeviceID     DeviceID      `json:"-"`
	Kind         wire.ChipKind `json:"-"`
	Name         string        `json:"name"`
	Manufacturer string        `json:"manufacturer,omitempty"`
	ProductName  string        `json:"product_name,omitempty"`
	Address      string        `json:"address,omitempty"`

	// BT is set for BLUETOOTH and BLUETOOTH_BEACON chips.
	BT *BTRadios `json:"bt,omitempty"`
	// Radio is set for WIFI and UWB chips.
	Radio *Radio `json:"radio,omitempty"`

	// Properties is the opaque controller configuration blob from StartInfo.
	Properties []byte `json:"-"`

	binding *BTBinding
}

// Device is a logical host owning one or more chips.
type Device struct {
	ID          DeviceID          `json:"id"`
	GUID        string            `json:"-"`
	Name        string            `json:"name"`
	Visible     bool              `json:"visible"`
	Position    distance.Position `json:"position"`
	Orientation Orientation       `json:"orientation"`

	chips map[ChipID]*Chip
	peer  string
}

// BTBinding connects a registered BT chip to its engine record. SetRadio
// propagates administrative state changes; Snapshot pulls live counters.
// Both are invoked outside the registry lock.
type BTBinding struct {
	SetRadio func(band Band, state RadioState)
	Snapshot func() (BTRadios, bool)
}

// Band selects one of the two Bluetooth phys.
type Band int

// Bluetooth bands.
const (
	BandClassic Band = 0
	BandLowEnergy Band = 1
)

// String returns the band name.
func (b Band) String() string {
	if b == BandLowEnergy {
		return "LOW_ENERGY"
	}
	return "CLASSIC"
}

// AddChipResult reports the identifiers allocated by AddChip.
type AddChipResult struct {
	DeviceID   DeviceID
	ChipID     ChipID
	DeviceName string
}

// ChipView is the external snapshot of a chip.
type ChipView struct {
	ID           ChipID    `json:"id"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	ProductName  string    `json:"product_name,omitempty"`
	Address      string    `json:"address,omitempty"`
	BT           *BTRadios `json:"bt,omitempty"`
	Radio        *Radio    `json:"radio,omitempty"`
}

// DeviceView is the external snapshot of a device.
type DeviceView struct {
	ID          DeviceID          `json:"id"`
	Name        string            `json:"name"`
	Visible     bool              `json:"visible"`
	Position    distance.Position `json:"position"`
	Orientation Orientation       `json:"orientation"`
	Chips       []ChipView        `json:"chips"`
}

// Scene is a consistent snapshot of every device in the simulation.
type Scene struct {
	Devices []DeviceView `json:"devices"`
}

// RadioPatch updates one band of a chip. A nil patch or an UNKNOWN state
// leaves the band unchanged.
type RadioPatch struct {
	State RadioState `json:"state,omitempty"`
}

// ChipPatch updates one chip on a patched device, selected by name.
type ChipPatch struct {
	Name       string      `json:"name"`
	LowEnergy  *RadioPatch `json:"low_energy,omitempty"`
	Classic    *RadioPatch `json:"classic,omitempty"`
	Radio      *RadioPatch `json:"radio,omitempty"`
	Properties []byte      `json:"properties,omitempty"`
}

// DevicePatch is the all-or-nothing mutation applied by PatchDevice.
type DevicePatch struct {
	Visible     *bool              `json:"visible,omitempty"`
	Position    *distance.Position `json:"position,omitempty"`
	Orientation *Orientation       `json:"orientation,omitempty"`
	Chips       []ChipPatch        `json:"chips,omitempty"`
}

package registry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/distance"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// Registry errors.
var (
	ErrNotFound      = errors.New("device not found")
	ErrAmbiguous     = errors.New("device name is ambiguous")
	ErrDuplicateChip = errors.New("duplicate chip")
	ErrBadRequest    = errors.New("bad request")
)

// DefaultWorldRadiusM bounds device coordinates.
const DefaultWorldRadiusM = 1000.0

// ActivityListener observes the transition between "some devices" and
// "no devices", driving the idle shutdown controller.
type ActivityListener interface {
	Active()
	Inactive()
}

// Config holds registry tunables.
type Config struct {
	// WorldRadiusM clamps device positions. Zero means DefaultWorldRadiusM.
	WorldRadiusM float32
}

// Registry is the device/chip table. One lock guards all state; observer
// callbacks and chip bindings are always invoked after the lock is released.
type Registry struct {
	mu       sync.Mutex
	devices  map[DeviceID]*Device
	byGUID   map[string]DeviceID
	chips    map[ChipID]*Chip
	subs     map[int]func(Scene)
	nextDev  DeviceID
	nextChip ChipID
	nextSub  int

	worldRadius float32
	listener    ActivityListener
	logger      *zap.Logger
}

// New creates an empty registry. listener may be nil.
func New(cfg Config, listener ActivityListener) *Registry {
	radius := cfg.WorldRadiusM
	if radius <= 0 {
		radius = DefaultWorldRadiusM
	}
	return &Registry{
		devices:     make(map[DeviceID]*Device),
		byGUID:      make(map[string]DeviceID),
		chips:       make(map[ChipID]*Chip),
		subs:        make(map[int]func(Scene)),
		worldRadius: radius,
		listener:    listener,
		logger:      logging.With(zap.String("component", "registry")),
	}
}

// AddChip attaches a chip described by decl to the device identified by guid,
// creating the device on first attach. peer is recorded for diagnostics.
func (r *Registry) AddChip(peer, guid, deviceName string, decl wire.ChipDecl) (AddChipResult, error) {
	r.mu.Lock()

	dev, ok := r.deviceByGUIDLocked(guid)
	if !ok {
		r.nextDev++
		dev = &Device{
			ID:      r.nextDev,
			GUID:    guid,
			Name:    deviceName,
			Visible: true,
			chips:   make(map[ChipID]*Chip),
			peer:    peer,
		}
		r.devices[dev.ID] = dev
		r.byGUID[guid] = dev.ID
	}

	for _, c := range dev.chips {
		if c.Kind == decl.Kind && c.Name == decl.ID && c.Address == decl.Address {
			r.mu.Unlock()
			return AddChipResult{}, fmt.Errorf("%w: %s %q on device %q",
				ErrDuplicateChip, decl.Kind, decl.ID, dev.Name)
		}
	}

	r.nextChip++
	chip := &Chip{
		ID:           r.nextChip,
		DeviceID:     dev.ID,
		Kind:         decl.Kind,
		Name:         decl.ID,
		Manufacturer: decl.Manufacturer,
		ProductName:  decl.ProductName,
		Address:      decl.Address,
		Properties:   decl.Properties,
	}
	switch decl.Kind {
	case wire.ChipKindBluetooth, wire.ChipKindBleBeacon:
		chip.BT = &BTRadios{
			LowEnergy: Radio{State: RadioStateOn},
			Classic:   Radio{State: RadioStateOn},
		}
	default:
		chip.Radio = &Radio{State: RadioStateOn}
	}
	dev.chips[chip.ID] = chip
	r.chips[chip.ID] = chip

	listener := r.listener
	r.mu.Unlock()

	r.logger.Info("Chip attached",
		zap.Uint32("device_id", uint32(dev.ID)),
		zap.Uint32("chip_id", uint32(chip.ID)),
		zap.String("kind", decl.Kind.String()),
		zap.String("name", deviceName),
		zap.String("peer", peer))

	if listener != nil {
		listener.Active()
	}
	return AddChipResult{DeviceID: dev.ID, ChipID: chip.ID, DeviceName: dev.Name}, nil
}

// BindChip installs the engine binding for a BT chip. The binding is used to
// propagate radio-state patches and to pull counters into scene snapshots.
func (r *Registry) BindChip(chipID ChipID, binding *BTBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chip, ok := r.chips[chipID]; ok {
		chip.binding = binding
	}
}

// RemoveChip detaches a chip. Removing the last chip removes the device; when
// no devices remain the activity listener is notified.
func (r *Registry) RemoveChip(deviceID DeviceID, chipID ChipID) error {
	r.mu.Lock()

	dev, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: device %d", ErrNotFound, deviceID)
	}
	if _, ok := dev.chips[chipID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: chip %d on device %d", ErrNotFound, chipID, deviceID)
	}

	delete(dev.chips, chipID)
	delete(r.chips, chipID)

	deviceGone := len(dev.chips) == 0
	if deviceGone {
		delete(r.devices, deviceID)
		delete(r.byGUID, dev.GUID)
	}
	idle := len(r.devices) == 0
	listener := r.listener
	r.mu.Unlock()

	r.logger.Info("Chip removed",
		zap.Uint32("device_id", uint32(deviceID)),
		zap.Uint32("chip_id", uint32(chipID)),
		zap.Bool("device_removed", deviceGone))

	if idle && listener != nil {
		listener.Inactive()
	}
	return nil
}

// PatchDevice applies patch to the device selected by name. An exact name
// match wins; otherwise a unique substring match is accepted. The patch is
// all-or-nothing: any validation failure leaves state untouched.
func (r *Registry) PatchDevice(selector string, patch DevicePatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	r.mu.Lock()

	dev, err := r.selectByNameLocked(selector)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	// Resolve chip patches before mutating anything.
	type radioChange struct {
		binding *BTBinding
		band    Band
		state   RadioState
	}
	var changes []radioChange
	patchedChips := make([]*Chip, len(patch.Chips))
	for i, cp := range patch.Chips {
		chip := dev.chipByNameLocked(cp.Name)
		if chip == nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: chip %q on device %q", ErrNotFound, cp.Name, dev.Name)
		}
		if (cp.LowEnergy != nil || cp.Classic != nil) && chip.BT == nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: chip %q has no bluetooth radios", ErrBadRequest, cp.Name)
		}
		if cp.Radio != nil && chip.Radio == nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: chip %q has no single radio", ErrBadRequest, cp.Name)
		}
		patchedChips[i] = chip
	}

	// Validation passed; apply.
	if patch.Visible != nil {
		dev.Visible = *patch.Visible
	}
	if patch.Position != nil {
		dev.Position = r.clampPosition(*patch.Position)
	}
	if patch.Orientation != nil {
		dev.Orientation = *patch.Orientation
	}
	for i, cp := range patch.Chips {
		chip := patchedChips[i]
		if cp.Properties != nil {
			chip.Properties = cp.Properties
		}
		apply := func(radio *Radio, band Band, rp *RadioPatch) {
			if rp == nil || rp.State == RadioStateUnknown {
				return
			}
			radio.State = rp.State
			if chip.binding != nil && chip.binding.SetRadio != nil {
				changes = append(changes, radioChange{chip.binding, band, rp.State})
			}
		}
		if chip.BT != nil {
			apply(&chip.BT.LowEnergy, BandLowEnergy, cp.LowEnergy)
			apply(&chip.BT.Classic, BandClassic, cp.Classic)
		}
		if chip.Radio != nil && cp.Radio != nil && cp.Radio.State != RadioStateUnknown {
			chip.Radio.State = cp.Radio.State
		}
	}

	subs, scene := r.snapshotForNotifyLocked()
	r.mu.Unlock()

	for _, ch := range changes {
		ch.binding.SetRadio(ch.band, ch.state)
	}
	for _, fn := range subs {
		fn(scene)
	}
	return nil
}

// GetDistance returns the distance in meters between two devices. Unknown
// ids yield 0 with a logged warning.
func (r *Registry) GetDistance(a, b DeviceID) float32 {
	r.mu.Lock()
	da, oka := r.devices[a]
	db, okb := r.devices[b]
	var pa, pb distance.Position
	if oka {
		pa = da.Position
	}
	if okb {
		pb = db.Position
	}
	r.mu.Unlock()

	if !oka || !okb {
		r.logger.Warn("Distance requested for unknown device",
			zap.Uint32("a", uint32(a)), zap.Uint32("b", uint32(b)))
		return 0
	}
	return distance.Between(pa, pb)
}

// DistanceForChips returns the distance between the devices owning two chips.
// Used by the radio engine for per-recipient RSSI.
func (r *Registry) DistanceForChips(a, b ChipID) float32 {
	r.mu.Lock()
	ca, oka := r.chips[a]
	cb, okb := r.chips[b]
	var devA, devB DeviceID
	if oka {
		devA = ca.DeviceID
	}
	if okb {
		devB = cb.DeviceID
	}
	r.mu.Unlock()

	if !oka || !okb {
		return 0
	}
	return r.GetDistance(devA, devB)
}

// List returns a scene snapshot for external consumers. BT chip counters are
// pulled from the engine through the chip bindings after the lock is
// released.
func (r *Registry) List() Scene {
	r.mu.Lock()
	scene, fills := r.sceneLocked()
	r.mu.Unlock()

	for _, fill := range fills {
		fill()
	}
	return scene
}

// Subscribe registers a scene observer invoked after every successful patch
// and after reset. Returns an id for Unsubscribe.
func (r *Registry) Subscribe(fn func(Scene)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	r.subs[r.nextSub] = fn
	return r.nextSub
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Reset returns every device to defaults and notifies observers once.
func (r *Registry) Reset() {
	r.mu.Lock()
	for _, dev := range r.devices {
		dev.Visible = true
		dev.Position = distance.Position{}
		dev.Orientation = Orientation{}
	}
	subs, scene := r.snapshotForNotifyLocked()
	r.mu.Unlock()

	r.logger.Info("Scene reset")
	for _, fn := range subs {
		fn(scene)
	}
}

// DeviceCount returns the number of devices currently registered.
func (r *Registry) DeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) deviceByGUIDLocked(guid string) (*Device, bool) {
	id, ok := r.byGUID[guid]
	if !ok {
		return nil, false
	}
	dev, ok := r.devices[id]
	return dev, ok
}

// selectByNameLocked implements the patch selector: exact match first, then
// a unique substring match.
func (r *Registry) selectByNameLocked(name string) (*Device, error) {
	var substrMatches []*Device
	for _, dev := range r.devices {
		if dev.Name == name {
			return dev, nil
		}
		if strings.Contains(dev.Name, name) {
			substrMatches = append(substrMatches, dev)
		}
	}
	switch len(substrMatches) {
	case 1:
		return substrMatches[0], nil
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	default:
		return nil, fmt.Errorf("%w: %q matches %d devices", ErrAmbiguous, name, len(substrMatches))
	}
}

func (d *Device) chipByNameLocked(name string) *Chip {
	for _, c := range d.chips {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Registry) clampPosition(p distance.Position) distance.Position {
	mag := distance.Between(distance.Position{}, p)
	if mag <= r.worldRadius || mag == 0 {
		return p
	}
	scale := r.worldRadius / mag
	return distance.Position{X: p.X * scale, Y: p.Y * scale, Z: p.Z * scale}
}

func validatePatch(patch DevicePatch) error {
	finite := func(vs ...float32) bool {
		for _, v := range vs {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
		return true
	}
	if p := patch.Position; p != nil && !finite(p.X, p.Y, p.Z) {
		return fmt.Errorf("%w: position must be finite", ErrBadRequest)
	}
	if o := patch.Orientation; o != nil && !finite(o.Yaw, o.Pitch, o.Roll) {
		return fmt.Errorf("%w: orientation must be finite", ErrBadRequest)
	}
	for _, cp := range patch.Chips {
		if cp.Name == "" {
			return fmt.Errorf("%w: chip patch requires a name", ErrBadRequest)
		}
		for _, rp := range []*RadioPatch{cp.LowEnergy, cp.Classic, cp.Radio} {
			if rp != nil && rp.State != RadioStateUnknown &&
				rp.State != RadioStateOn && rp.State != RadioStateOff {
				return fmt.Errorf("%w: invalid radio state %d", ErrBadRequest, rp.State)
			}
		}
	}
	return nil
}

// sceneLocked builds the snapshot and returns closures that fill BT counters
// from the engine once the lock is released.
func (r *Registry) sceneLocked() (Scene, []func()) {
	scene := Scene{Devices: make([]DeviceView, 0, len(r.devices))}
	var fills []func()

	for _, dev := range r.devices {
		dv := DeviceView{
			ID:          dev.ID,
			Name:        dev.Name,
			Visible:     dev.Visible,
			Position:    dev.Position,
			Orientation: dev.Orientation,
			Chips:       make([]ChipView, 0, len(dev.chips)),
		}
		for _, chip := range dev.chips {
			cv := ChipView{
				ID:           chip.ID,
				Kind:         chip.Kind.String(),
				Name:         chip.Name,
				Manufacturer: chip.Manufacturer,
				ProductName:  chip.ProductName,
				Address:      chip.Address,
			}
			if chip.BT != nil {
				bt := *chip.BT
				cv.BT = &bt
				if chip.binding != nil && chip.binding.Snapshot != nil {
					binding := chip.binding
					target := cv.BT
					state := bt
					fills = append(fills, func() {
						if live, ok := binding.Snapshot(); ok {
							live.LowEnergy.State = state.LowEnergy.State
							live.Classic.State = state.Classic.State
							*target = live
						}
					})
				}
			}
			if chip.Radio != nil {
				radio := *chip.Radio
				cv.Radio = &radio
			}
			dv.Chips = append(dv.Chips, cv)
		}
		scene.Devices = append(scene.Devices, dv)
	}
	return scene, fills
}

func (r *Registry) snapshotForNotifyLocked() ([]func(Scene), Scene) {
	subs := make([]func(Scene), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	scene, _ := r.sceneLocked()
	return subs, scene
}

package registry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsimio/netsim/internal/distance"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

func init() {
	_ = logging.Initialize(logging.Config{Level: "error", Format: "text"})
}

func btDecl(name string) wire.ChipDecl {
	return wire.ChipDecl{Kind: wire.ChipKindBluetooth, ID: name}
}

type fakeListener struct {
	active   int
	inactive int
}

func (l *fakeListener) Active()   { l.active++ }
func (l *fakeListener) Inactive() { l.inactive++ }

func TestAddChipCreatesDevice(t *testing.T) {
	r := New(Config{}, nil)

	res, err := r.AddChip("peer-1", "guid-1", "d1", btDecl("bt0"))
	require.NoError(t, err)
	assert.NotZero(t, res.DeviceID)
	assert.NotZero(t, res.ChipID)
	assert.Equal(t, "d1", res.DeviceName)

	scene := r.List()
	require.Len(t, scene.Devices, 1)
	assert.True(t, scene.Devices[0].Visible)
	require.Len(t, scene.Devices[0].Chips, 1)
	assert.Equal(t, "BLUETOOTH", scene.Devices[0].Chips[0].Kind)
}

func TestAddChipSameGUIDReusesDevice(t *testing.T) {
	r := New(Config{}, nil)

	res1, err := r.AddChip("p", "guid-1", "d1", btDecl("bt0"))
	require.NoError(t, err)
	res2, err := r.AddChip("p", "guid-1", "d1", btDecl("bt1"))
	require.NoError(t, err)

	assert.Equal(t, res1.DeviceID, res2.DeviceID)
	assert.NotEqual(t, res1.ChipID, res2.ChipID)
	assert.Equal(t, 1, r.DeviceCount())
}

func TestAddChipDuplicate(t *testing.T) {
	r := New(Config{}, nil)

	_, err := r.AddChip("p", "guid-1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	_, err = r.AddChip("p", "guid-1", "d1", btDecl("bt0"))
	assert.ErrorIs(t, err, ErrDuplicateChip)

	// Same chip name on a different device is fine.
	_, err = r.AddChip("p", "guid-2", "d2", btDecl("bt0"))
	assert.NoError(t, err)
}

func TestDeviceCountEqualsDistinctGUIDs(t *testing.T) {
	r := New(Config{}, nil)

	a1, _ := r.AddChip("p", "a", "da", btDecl("bt0"))
	_, err := r.AddChip("p", "a", "da", btDecl("bt1"))
	require.NoError(t, err)
	b1, _ := r.AddChip("p", "b", "db", btDecl("bt0"))

	assert.Equal(t, 2, r.DeviceCount())

	require.NoError(t, r.RemoveChip(a1.DeviceID, a1.ChipID))
	assert.Equal(t, 2, r.DeviceCount(), "device a still has one chip")

	require.NoError(t, r.RemoveChip(b1.DeviceID, b1.ChipID))
	assert.Equal(t, 1, r.DeviceCount(), "device b lost its last chip")
}

func TestRemoveChipNotifiesListener(t *testing.T) {
	l := &fakeListener{}
	r := New(Config{}, l)

	res, err := r.AddChip("p", "g", "d1", btDecl("bt0"))
	require.NoError(t, err)
	assert.Equal(t, 1, l.active)

	require.NoError(t, r.RemoveChip(res.DeviceID, res.ChipID))
	assert.Equal(t, 1, l.inactive)

	err = r.RemoveChip(res.DeviceID, res.ChipID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatchSelectorExactBeatsSubstring(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "phone-A", btDecl("bt0"))
	require.NoError(t, err)
	_, err = r.AddChip("p", "g2", "phone-A2", btDecl("bt0"))
	require.NoError(t, err)

	visible := false
	require.NoError(t, r.PatchDevice("phone-A", DevicePatch{Visible: &visible}))

	for _, dev := range r.List().Devices {
		switch dev.Name {
		case "phone-A":
			assert.False(t, dev.Visible)
		case "phone-A2":
			assert.True(t, dev.Visible)
		}
	}
}

func TestPatchSelectorAmbiguous(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "phone-A1", btDecl("bt0"))
	require.NoError(t, err)
	_, err = r.AddChip("p", "g2", "phone-A2", btDecl("bt0"))
	require.NoError(t, err)

	visible := false
	err = r.PatchDevice("phone-A", DevicePatch{Visible: &visible})
	assert.ErrorIs(t, err, ErrAmbiguous)

	for _, dev := range r.List().Devices {
		assert.True(t, dev.Visible, "ambiguous patch must not mutate state")
	}
}

func TestPatchSelectorUniqueSubstring(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "emulator-5554", btDecl("bt0"))
	require.NoError(t, err)
	_, err = r.AddChip("p", "g2", "cuttlefish-1", btDecl("bt0"))
	require.NoError(t, err)

	pos := distance.Position{X: 1, Y: 2, Z: 3}
	require.NoError(t, r.PatchDevice("5554", DevicePatch{Position: &pos}))

	for _, dev := range r.List().Devices {
		if dev.Name == "emulator-5554" {
			assert.Equal(t, pos, dev.Position)
		}
	}

	err = r.PatchDevice("missing", DevicePatch{Position: &pos})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatchRejectsNaN(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	pos := distance.Position{X: float32(math.NaN())}
	err = r.PatchDevice("d1", DevicePatch{Position: &pos})
	assert.ErrorIs(t, err, ErrBadRequest)

	orient := Orientation{Yaw: float32(math.Inf(1))}
	err = r.PatchDevice("d1", DevicePatch{Orientation: &orient})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPatchAllOrNothing(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	visible := false
	err = r.PatchDevice("d1", DevicePatch{
		Visible: &visible,
		Chips:   []ChipPatch{{Name: "no-such-chip", LowEnergy: &RadioPatch{State: RadioStateOff}}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, r.List().Devices[0].Visible, "failed patch must not apply visible")
}

func TestPatchClampsToWorldRadius(t *testing.T) {
	r := New(Config{WorldRadiusM: 10}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	pos := distance.Position{X: 30, Y: 40}
	require.NoError(t, r.PatchDevice("d1", DevicePatch{Position: &pos}))

	got := r.List().Devices[0].Position
	mag := distance.Between(distance.Position{}, got)
	assert.InDelta(t, 10, mag, 0.001)
	assert.InDelta(t, 6, got.X, 0.001)
	assert.InDelta(t, 8, got.Y, 0.001)
}

func TestPatchIdempotent(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	visible := false
	patch := DevicePatch{
		Visible:  &visible,
		Position: &distance.Position{X: 5},
		Chips:    []ChipPatch{{Name: "bt0", LowEnergy: &RadioPatch{State: RadioStateOff}}},
	}
	require.NoError(t, r.PatchDevice("d1", patch))
	once := r.List()
	require.NoError(t, r.PatchDevice("d1", patch))
	twice := r.List()

	assert.Equal(t, once, twice)
}

func TestPatchPropagatesRadioState(t *testing.T) {
	r := New(Config{}, nil)
	res, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	type change struct {
		band  Band
		state RadioState
	}
	var changes []change
	r.BindChip(res.ChipID, &BTBinding{
		SetRadio: func(band Band, state RadioState) {
			changes = append(changes, change{band, state})
		},
	})

	require.NoError(t, r.PatchDevice("d1", DevicePatch{
		Chips: []ChipPatch{{
			Name:      "bt0",
			LowEnergy: &RadioPatch{State: RadioStateOff},
			Classic:   &RadioPatch{State: RadioStateUnknown},
		}},
	}))

	require.Len(t, changes, 1, "UNKNOWN must not propagate")
	assert.Equal(t, BandLowEnergy, changes[0].band)
	assert.Equal(t, RadioStateOff, changes[0].state)
}

func TestGetDistance(t *testing.T) {
	r := New(Config{}, nil)
	a, _ := r.AddChip("p", "ga", "da", btDecl("bt0"))
	b, _ := r.AddChip("p", "gb", "db", btDecl("bt0"))

	pos := distance.Position{X: 3, Y: 4}
	require.NoError(t, r.PatchDevice("db", DevicePatch{Position: &pos}))

	assert.Equal(t, float32(5), r.GetDistance(a.DeviceID, b.DeviceID))
	assert.Equal(t, r.GetDistance(a.DeviceID, b.DeviceID), r.GetDistance(b.DeviceID, a.DeviceID))
	assert.Equal(t, float32(0), r.GetDistance(a.DeviceID, DeviceID(999)))

	assert.Equal(t, float32(5), r.DistanceForChips(a.ChipID, b.ChipID))
}

func TestResetNotifiesObserversOnce(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	visible := false
	pos := distance.Position{X: 9}
	require.NoError(t, r.PatchDevice("d1", DevicePatch{Visible: &visible, Position: &pos}))

	calls := 0
	id := r.Subscribe(func(Scene) { calls++ })
	other := 0
	r.Subscribe(func(Scene) { other++ })

	r.Reset()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, other)

	dev := r.List().Devices[0]
	assert.True(t, dev.Visible)
	assert.Equal(t, distance.Position{}, dev.Position)
	assert.Equal(t, Orientation{}, dev.Orientation)

	r.Unsubscribe(id)
	r.Reset()
	assert.Equal(t, 1, calls, "unsubscribed observer must not fire")
	assert.Equal(t, 2, other)
}

func TestObserverFiresAfterPatch(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.AddChip("p", "g1", "d1", btDecl("bt0"))
	require.NoError(t, err)

	var seen []Scene
	r.Subscribe(func(s Scene) { seen = append(seen, s) })

	visible := false
	require.NoError(t, r.PatchDevice("d1", DevicePatch{Visible: &visible}))
	require.Len(t, seen, 1)
	assert.False(t, seen[0].Devices[0].Visible)

	// Failed patches do not notify.
	err = r.PatchDevice("nope", DevicePatch{Visible: &visible})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, seen, 1)
}

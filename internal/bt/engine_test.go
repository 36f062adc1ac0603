package bt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

func init() {
	_ = logging.Initialize(logging.Config{Level: "error", Format: "text"})
}

type hostPacket struct {
	typ     wire.PacketType
	payload []byte
}

type fakeHost struct {
	packets chan hostPacket
}

func newFakeHost() *fakeHost {
	return &fakeHost{packets: make(chan hostPacket, 16)}
}

func (h *fakeHost) SendToHost(typ wire.PacketType, payload []byte) {
	h.packets <- hostPacket{typ, payload}
}

func (h *fakeHost) next(t *testing.T) hostPacket {
	t.Helper()
	select {
	case p := <-h.packets:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no packet from engine")
		return hostPacket{}
	}
}

func (h *fakeHost) expectNone(t *testing.T) {
	t.Helper()
	select {
	case p := <-h.packets:
		t.Fatalf("unexpected packet: type %v payload %x", p.typ, p.payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// chipDistances wires a static distance table keyed by chip id pairs.
func chipDistances(d map[[2]uint32]float32) DistanceFunc {
	return func(a, b uint32) float32 {
		if v, ok := d[[2]uint32{a, b}]; ok {
			return v
		}
		return d[[2]uint32{b, a}]
	}
}

func startEngine(t *testing.T, cfg Config, dist DistanceFunc) *Engine {
	t.Helper()
	e := New(cfg, dist, nil)
	e.Start()
	t.Cleanup(e.Close)
	return e
}

func TestAttachDetach(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	host := newFakeHost()
	id, addr, err := e.AttachChip(1, "", nil, host)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.NotEmpty(t, addr)

	info, err := e.SnapshotChip(id)
	require.NoError(t, err)
	assert.Equal(t, addr, info.Address)

	require.NoError(t, e.DetachChip(id))
	_, err = e.SnapshotChip(id)
	assert.ErrorIs(t, err, ErrUnknownChip)
	assert.ErrorIs(t, e.DetachChip(id), ErrUnknownChip)
}

func TestLinkLayerDeliveryWithRSSI(t *testing.T) {
	// d1 at origin, d2 at (3,4,0): 5 m, path loss ~14 dB.
	dist := chipDistances(map[[2]uint32]float32{{1, 2}: 5})
	e := startEngine(t, Config{}, dist)

	hostA := newFakeHost()
	idA, _, err := e.AttachChip(1, "", nil, hostA)
	require.NoError(t, err)
	hostB := newFakeHost()
	_, _, err = e.AttachChip(2, "", nil, hostB)
	require.NoError(t, err)

	require.NoError(t, e.SendLinkLayer(idA, PhyLowEnergy, []byte("adv"), 0))

	pkt := hostB.next(t)
	assert.Equal(t, wire.PacketTypeEvent, pkt.typ)
	require.GreaterOrEqual(t, len(pkt.payload), 4)
	assert.Equal(t, eventVendorSpecific, pkt.payload[0])
	assert.Equal(t, byte(PhyLowEnergy), pkt.payload[2])
	assert.Equal(t, int8(-13), int8(pkt.payload[3]))
	assert.Equal(t, "adv", string(pkt.payload[4:]))

	// Sender must not hear itself.
	hostA.expectNone(t)

	infoA, err := e.SnapshotChip(idA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), infoA.TxCount[PhyLowEnergy])
	assert.Equal(t, uint64(0), infoA.RxCount[PhyLowEnergy])
	assert.Equal(t, uint64(0), infoA.TxCount[PhyClassic])
}

func TestRadioOffSuppressesSend(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	hostA := newFakeHost()
	idA, _, err := e.AttachChip(1, "", nil, hostA)
	require.NoError(t, err)
	hostB := newFakeHost()
	idB, _, err := e.AttachChip(2, "", nil, hostB)
	require.NoError(t, err)

	require.NoError(t, e.SetRadioState(idA, PhyLowEnergy, false))
	require.NoError(t, e.SendLinkLayer(idA, PhyLowEnergy, []byte("adv"), 0))

	hostB.expectNone(t)

	infoA, err := e.SnapshotChip(idA)
	require.NoError(t, err)
	assert.Zero(t, infoA.TxCount[PhyLowEnergy], "suppressed send must not count")
	infoB, err := e.SnapshotChip(idB)
	require.NoError(t, err)
	assert.Zero(t, infoB.RxCount[PhyLowEnergy])

	// Classic is unaffected.
	require.NoError(t, e.SendLinkLayer(idA, PhyClassic, []byte("page"), 0))
	pkt := hostB.next(t)
	assert.Equal(t, byte(PhyClassic), pkt.payload[2])

	// Toggling back on rejoins the phy.
	require.NoError(t, e.SetRadioState(idA, PhyLowEnergy, true))
	require.NoError(t, e.SendLinkLayer(idA, PhyLowEnergy, []byte("adv"), 0))
	pkt = hostB.next(t)
	assert.Equal(t, byte(PhyLowEnergy), pkt.payload[2])
}

func TestRadioOffRecipientNotCounted(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	hostA := newFakeHost()
	idA, _, err := e.AttachChip(1, "", nil, hostA)
	require.NoError(t, err)
	hostB := newFakeHost()
	idB, _, err := e.AttachChip(2, "", nil, hostB)
	require.NoError(t, err)
	hostC := newFakeHost()
	idC, _, err := e.AttachChip(3, "", nil, hostC)
	require.NoError(t, err)

	require.NoError(t, e.SetRadioState(idB, PhyLowEnergy, false))
	require.NoError(t, e.SendLinkLayer(idA, PhyLowEnergy, []byte("adv"), 0))

	hostC.next(t)
	hostB.expectNone(t)

	infoB, err := e.SnapshotChip(idB)
	require.NoError(t, err)
	assert.Zero(t, infoB.RxCount[PhyLowEnergy])
	infoC, err := e.SnapshotChip(idC)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), infoC.RxCount[PhyLowEnergy])
}

func TestHCICommandRoundTrip(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	host := newFakeHost()
	id, addr, err := e.AttachChip(1, "", nil, host)
	require.NoError(t, err)

	// Reset.
	require.NoError(t, e.DeliverHCI(id, wire.PacketTypeCommand, []byte{0x03, 0x0c, 0x00}))
	pkt := host.next(t)
	assert.Equal(t, wire.PacketTypeEvent, pkt.typ)
	assert.Equal(t, eventCommandComplete, pkt.payload[0])
	assert.Equal(t, statusSuccess, pkt.payload[5])

	// Read BD_ADDR returns the allocated address, little-endian.
	require.NoError(t, e.DeliverHCI(id, wire.PacketTypeCommand, []byte{0x09, 0x10, 0x00}))
	pkt = host.next(t)
	assert.Equal(t, eventCommandComplete, pkt.payload[0])
	got := pkt.payload[6:12]
	want := reverseAddress(addr)
	assert.Equal(t, want, got)
}

func TestBadPacketCounted(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	host := newFakeHost()
	id, _, err := e.AttachChip(1, "", nil, host)
	require.NoError(t, err)

	// Declared parameter length does not match the payload.
	require.NoError(t, e.DeliverHCI(id, wire.PacketTypeCommand, []byte{0x03, 0x0c, 0x05}))
	assert.Equal(t, uint64(1), e.InvalidPackets())
	host.expectNone(t)
}

func TestDelayedPacketStillDelivered(t *testing.T) {
	e := startEngine(t, Config{}, nil)

	host := newFakeHost()
	id, _, err := e.AttachChip(1, "", nil, host)
	require.NoError(t, err)

	stale := time.Now().Add(-2 * DelayedThreshold)
	require.NoError(t, e.deliverHCIAt(id, wire.PacketTypeCommand, []byte{0x03, 0x0c, 0x00}, stale))

	pkt := host.next(t)
	assert.Equal(t, eventCommandComplete, pkt.payload[0])
	assert.Equal(t, uint64(1), e.InvalidPackets(), "delay is reported as invalid-packet telemetry")
}

func TestClosedEngineRejectsOps(t *testing.T) {
	e := New(Config{}, nil, nil)
	e.Start()

	host := newFakeHost()
	id, _, err := e.AttachChip(1, "", nil, host)
	require.NoError(t, err)

	e.Close()
	e.Close() // idempotent

	_, _, err = e.AttachChip(2, "", nil, newFakeHost())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.DetachChip(id), ErrClosed)
	assert.ErrorIs(t, e.SetRadioState(id, PhyLowEnergy, false), ErrClosed)
	assert.ErrorIs(t, e.DeliverHCI(id, wire.PacketTypeCommand, nil), ErrClosed)
	_, err = e.SnapshotChip(id)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddressAllocation(t *testing.T) {
	a := newAddressAllocator(false)

	first, err := a.take("")
	require.NoError(t, err)
	second, err := a.take("")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	a.release(first)
	third, err := a.take("")
	require.NoError(t, err)
	assert.Equal(t, first, third, "freed address is reused")

	// Provided addresses are normalized and reserved.
	addr, err := a.take("AA:BB:CC:00:11:22")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:00:11:22", addr)
	_, err = a.take("aa:bb:cc:00:11:22")
	assert.Error(t, err)

	_, err = a.take("not-an-address")
	assert.Error(t, err)
}

func TestAddressReuseDisabled(t *testing.T) {
	a := newAddressAllocator(true)

	first, err := a.take("")
	require.NoError(t, err)
	a.release(first)

	second, err := a.take("")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

package bt

import (
	"fmt"
	"net"
)

// Locally administered OUI under which chip addresses are allocated.
const addressOUI = 0x021a00

// addressAllocator hands out process-unique 48-bit BT addresses. With reuse
// disabled a freed address is never handed out again.
type addressAllocator struct {
	disableReuse bool
	next         uint32
	free         []string
	inUse        map[string]bool
}

func newAddressAllocator(disableReuse bool) *addressAllocator {
	return &addressAllocator{
		disableReuse: disableReuse,
		inUse:        make(map[string]bool),
	}
}

// take reserves the provided address, or allocates a fresh one when empty.
func (a *addressAllocator) take(provided string) (string, error) {
	if provided != "" {
		hw, err := net.ParseMAC(provided)
		if err != nil || len(hw) != 6 {
			return "", fmt.Errorf("%w: invalid address %q", ErrBadPacket, provided)
		}
		addr := hw.String()
		if a.inUse[addr] {
			return "", fmt.Errorf("address %s already in use", addr)
		}
		a.inUse[addr] = true
		return addr, nil
	}

	if !a.disableReuse && len(a.free) > 0 {
		addr := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		a.inUse[addr] = true
		return addr, nil
	}

	for {
		a.next++
		addr := fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
			byte(addressOUI>>16&0xff), byte(addressOUI>>8&0xff), byte(addressOUI&0xff),
			byte(a.next>>16), byte(a.next>>8), byte(a.next))
		if !a.inUse[addr] {
			a.inUse[addr] = true
			return addr, nil
		}
	}
}

// release returns an address to the pool. With reuse disabled the address
// stays reserved so it can never be minted again.
func (a *addressAllocator) release(addr string) {
	if !a.inUse[addr] || a.disableReuse {
		return
	}
	delete(a.inUse, addr)
	a.free = append(a.free, addr)
}

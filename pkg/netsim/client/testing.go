package client

import (
	"io"
	"testing"
	"time"

	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// TestPeer is a helper for driving a gateway from tests: it pumps received
// frames into a channel so expectations can carry timeouts.
type TestPeer struct {
	*Client
	t      *testing.T
	frames chan *wire.Frame
	eof    chan struct{}
}

// NewTestPeer wraps a stream half and starts the receive pump.
func NewTestPeer(t *testing.T, stream wire.PacketStream) *TestPeer {
	p := &TestPeer{
		Client: New(stream),
		t:      t,
		frames: make(chan *wire.Frame, 64),
		eof:    make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *TestPeer) pump() {
	defer close(p.eof)
	for {
		f, err := p.Client.Recv()
		if err != nil {
			return
		}
		p.frames <- f
	}
}

// MustStart sends StartInfo or fails the test.
func (p *TestPeer) MustStart(name string, chip wire.ChipDecl) {
	p.t.Helper()
	if err := p.Start(name, chip); err != nil {
		p.t.Fatalf("Failed to send StartInfo: %v", err)
	}
}

// NextFrame returns the next frame or fails the test after the timeout.
func (p *TestPeer) NextFrame(timeout time.Duration) *wire.Frame {
	p.t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(timeout):
		p.t.Fatal("no frame within timeout")
		return nil
	}
}

// NextReceived waits for the next link-layer vendor event, skipping other
// traffic such as command completes.
func (p *TestPeer) NextReceived(timeout time.Duration) Received {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-p.frames:
			if rx, ok := ParseVendorEvent(f); ok {
				return rx
			}
		case <-deadline:
			p.t.Fatal("no link-layer frame within timeout")
			return Received{}
		}
	}
}

// ExpectNoReceived asserts that no link-layer frame arrives for the window.
func (p *TestPeer) ExpectNoReceived(window time.Duration) {
	p.t.Helper()
	deadline := time.After(window)
	for {
		select {
		case f := <-p.frames:
			if rx, ok := ParseVendorEvent(f); ok {
				p.t.Fatalf("unexpected link-layer frame: %x", rx.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// NextError waits for a server error frame.
func (p *TestPeer) NextError(timeout time.Duration) string {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-p.frames:
			if f.Error != "" {
				return f.Error
			}
		case <-deadline:
			p.t.Fatal("no error frame within timeout")
			return ""
		}
	}
}

// WaitEOF waits for the stream to end.
func (p *TestPeer) WaitEOF(timeout time.Duration) {
	p.t.Helper()
	select {
	case <-p.eof:
	case <-time.After(timeout):
		p.t.Fatal("stream did not end")
	}
}

// Drain discards buffered frames.
func (p *TestPeer) Drain() {
	for {
		select {
		case <-p.frames:
		default:
			return
		}
	}
}

var _ io.Closer = (*Client)(nil)

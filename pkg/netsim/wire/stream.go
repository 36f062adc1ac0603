package wire

import (
	"io"
	"sync"
)

// PacketStream is one end of a bidirectional frame stream. Recv returns
// io.EOF when the peer has closed its half. Send is not safe for concurrent
// use; callers serialize writes through a single writer.
type PacketStream interface {
	Recv() (*Frame, error)
	Send(*Frame) error
}

// PipeStream is an in-process PacketStream, used by tests and by backends
// that live in the same process as the gateway.
type PipeStream struct {
	send      chan<- *Frame
	recv      <-chan *Frame
	localDone chan struct{}
	peerDone  chan struct{}
	once      sync.Once
}

// Pipe returns two connected PacketStream halves. Frames sent on one half
// are received on the other. Closing either half ends both directions.
func Pipe() (*PipeStream, *PipeStream) {
	ab := make(chan *Frame, 32)
	ba := make(chan *Frame, 32)
	da := make(chan struct{})
	db := make(chan struct{})

	a := &PipeStream{send: ab, recv: ba, localDone: da, peerDone: db}
	b := &PipeStream{send: ba, recv: ab, localDone: db, peerDone: da}
	return a, b
}

// Send delivers f to the peer. Returns io.ErrClosedPipe after either half
// has closed.
func (p *PipeStream) Send(f *Frame) error {
	select {
	case <-p.localDone:
		return io.ErrClosedPipe
	case <-p.peerDone:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.send <- f:
		return nil
	case <-p.localDone:
		return io.ErrClosedPipe
	case <-p.peerDone:
		return io.ErrClosedPipe
	}
}

// Recv returns the next frame from the peer, draining frames buffered before
// close, then io.EOF.
func (p *PipeStream) Recv() (*Frame, error) {
	select {
	case f := <-p.recv:
		return f, nil
	default:
	}

	select {
	case f := <-p.recv:
		return f, nil
	case <-p.localDone:
		return nil, io.EOF
	case <-p.peerDone:
		// Frames may still have raced in.
		select {
		case f := <-p.recv:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close tears down this half. Idempotent.
func (p *PipeStream) Close() error {
	p.once.Do(func() { close(p.localDone) })
	return nil
}

package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Framed-stream constants for raw TCP attachments.
const (
	// Magic bytes prefixing every framed packet
	Magic1 byte = 0x6e // 'n'
	Magic2 byte = 0x73 // 's'

	// MaxFrameSize bounds one encoded frame on a raw stream
	MaxFrameSize = 16384

	// HeaderSize is 2 magic bytes + 4 length bytes
	HeaderSize = 6
)

var (
	// ErrInvalidMagic indicates invalid magic bytes in a frame header
	ErrInvalidMagic = errors.New("invalid magic bytes")

	// ErrFrameTooLarge indicates a frame exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("frame too large")
)

// StreamFramer carries encoded frames over a byte stream with a
// magic + length header, for peers that attach over raw TCP instead of the
// RPC endpoint. It implements PacketStream.
type StreamFramer struct {
	reader io.Reader
	writer io.Writer
	header [HeaderSize]byte
}

// NewStreamFramer creates a framer over the given stream halves.
func NewStreamFramer(r io.Reader, w io.Writer) *StreamFramer {
	return &StreamFramer{reader: r, writer: w}
}

// Recv reads one framed packet and decodes it.
func (f *StreamFramer) Recv() (*Frame, error) {
	if _, err := io.ReadFull(f.reader, f.header[:]); err != nil {
		return nil, err
	}

	if f.header[0] != Magic1 || f.header[1] != Magic2 {
		return nil, ErrInvalidMagic
	}

	length := binary.BigEndian.Uint32(f.header[2:HeaderSize])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.reader, payload); err != nil {
		return nil, err
	}

	return Unmarshal(payload)
}

// Send encodes and writes one frame.
func (f *StreamFramer) Send(frame *Frame) error {
	payload, err := frame.Marshal()
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var header [HeaderSize]byte
	header[0] = Magic1
	header[1] = Magic2
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))

	if _, err := f.writer.Write(header[:]); err != nil {
		return err
	}
	_, err = f.writer.Write(payload)
	return err
}

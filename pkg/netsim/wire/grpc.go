package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/peer"
)

// CodecName selects the frame codec via the gRPC content-subtype, giving
// "application/grpc+netsim-frame" on the wire.
const CodecName = "netsim-frame"

// Fully qualified stream method. The .proto source for this service is part
// of the external API definitions; the descriptor here is registered by hand
// against the same names.
const (
	ServiceName      = "netsim.packet.PacketStreamer"
	StreamMethod     = "StreamPackets"
	FullStreamMethod = "/" + ServiceName + "/" + StreamMethod
)

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameCodec marshals *Frame values directly, with no generated message types.
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("frame codec: cannot marshal %T", v)
	}
	return f.Marshal()
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("frame codec: cannot unmarshal into %T", v)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

func (frameCodec) Name() string { return CodecName }

// StreamerServer is implemented by the gateway to terminate packet streams.
type StreamerServer interface {
	StreamPackets(PacketStream) error
}

// StreamerServiceDesc is the hand-registered service descriptor for the
// packet streamer.
var StreamerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreamerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamMethod,
			Handler:       streamPacketsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "netsim/packet_streamer.proto",
}

// RegisterStreamerServer attaches the packet streamer to a gRPC server.
func RegisterStreamerServer(s *grpc.Server, srv StreamerServer) {
	s.RegisterService(&StreamerServiceDesc, srv)
}

func streamPacketsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(StreamerServer).StreamPackets(&grpcServerStream{stream})
}

// grpcServerStream adapts grpc.ServerStream to PacketStream.
type grpcServerStream struct {
	stream grpc.ServerStream
}

// Peer returns the remote address of the stream, for diagnostics.
func (s *grpcServerStream) Peer() string {
	if p, ok := peer.FromContext(s.stream.Context()); ok {
		return p.Addr.String()
	}
	return "unknown"
}

func (s *grpcServerStream) Recv() (*Frame, error) {
	f := &Frame{}
	if err := s.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *grpcServerStream) Send(f *Frame) error {
	return s.stream.SendMsg(f)
}

// ClientStream is the client side of a packet stream over gRPC.
type ClientStream struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

// Dial opens a packet stream to a gateway at target. The returned stream
// must be closed with Close when done.
func Dial(ctx context.Context, target string) (*ClientStream, error) {
	conn, err := grpc.Dial(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	desc := &grpc.StreamDesc{
		StreamName:    StreamMethod,
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := conn.NewStream(ctx, desc, FullStreamMethod)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &ClientStream{conn: conn, stream: stream}, nil
}

// Recv returns the next frame from the gateway.
func (c *ClientStream) Recv() (*Frame, error) {
	f := &Frame{}
	if err := c.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Send delivers a frame to the gateway.
func (c *ClientStream) Send(f *Frame) error {
	return c.stream.SendMsg(f)
}

// CloseSend half-closes the stream, signalling EOF to the gateway reader.
func (c *ClientStream) CloseSend() error {
	return c.stream.CloseSend()
}

// Close tears down the stream and its connection.
func (c *ClientStream) Close() error {
	_ = c.stream.CloseSend()
	return c.conn.Close()
}

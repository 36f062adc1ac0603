package gateway

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// GRPCServer exposes the gateway as the PacketStreamer RPC service.
type GRPCServer struct {
	gateway *Gateway
	server  *grpc.Server
	logger  *zap.Logger
}

// NewGRPCServer creates the RPC front end for a gateway.
func NewGRPCServer(gw *Gateway) *GRPCServer {
	s := &GRPCServer{
		gateway: gw,
		server:  grpc.NewServer(),
		logger:  logging.With(zap.String("component", "grpc")),
	}
	wire.RegisterStreamerServer(s.server, s)
	return s
}

// StreamPackets serves one bidirectional packet stream.
func (s *GRPCServer) StreamPackets(stream wire.PacketStream) error {
	peer := "grpc"
	if p, ok := stream.(interface{ Peer() string }); ok {
		peer = p.Peer()
	}
	return s.gateway.Serve(stream, peer)
}

// Serve accepts streams on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("Packet streamer listening", zap.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Stop shuts the server down, ending every live stream.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

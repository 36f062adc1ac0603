package gateway

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/pkg/netsim/wire"
)

// TCPListener accepts framed packet streams over raw TCP, for peers that
// cannot speak the RPC endpoint.
type TCPListener struct {
	gateway *Gateway
	logger  *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewTCPListener creates a TCP front end for a gateway.
func NewTCPListener(gw *Gateway) *TCPListener {
	return &TCPListener{
		gateway: gw,
		conns:   make(map[net.Conn]struct{}),
		logger:  logging.With(zap.String("component", "tcp")),
	}
}

// Serve accepts connections on lis until Stop.
func (t *TCPListener) Serve(lis net.Listener) error {
	t.mu.Lock()
	t.ln = lis
	t.mu.Unlock()

	t.logger.Info("Framed TCP listening", zap.String("address", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

func (t *TCPListener) serveConn(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		_ = conn.Close()
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
	}()

	peer := conn.RemoteAddr().String()
	framer := wire.NewStreamFramer(conn, conn)
	if err := t.gateway.Serve(framer, peer); err != nil {
		t.logger.Debug("Stream ended with error", zap.String("peer", peer), zap.Error(err))
	}
}

// Stop closes the listener and every live connection, then waits for their
// sessions to tear down.
func (t *TCPListener) Stop() {
	t.mu.Lock()
	ln := t.ln
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	t.wg.Wait()
}

// Package transport provides a single Listener/Connection abstraction over
// the three stream transports producers can use to reach the broker: TCP,
// Unix domain sockets, and Windows named pipes.
package transport

import (
	"io"
	"net"

	"github.com/grantmcdermott/jgd/internal/socketuri"
	"github.com/grantmcdermott/jgd/logger"
)

var log = logger.ComponentLogger("transport")

// Connection is a byte-stream peer connection. Write never short-writes: it
// loops internally until every byte is delivered or an error occurs. Close
// is idempotent.
type Connection interface {
	io.Reader
	Write(b []byte) (n int, err error)
	Close() error
	RemoteAddr() string
}

// Listener exposes a lazy sequence of accepted connections and a Close that
// both stops the sequence and unblocks any pending Accept with a terminal
// error.
type Listener interface {
	Accept() (Connection, error)
	Close() error
	Addr() socketuri.SocketAddress
}

// streamConnection adapts a net.Conn (used by both the TCP and Unix-socket
// backends) to Connection, guaranteeing Write never short-writes.
type streamConnection struct {
	net.Conn
}

// newStreamConnection wraps conn and logs the accept, gated by the
// transport-I/O output category. One call site shared by every backend's
// Accept (TCP, Unix, named pipe) keeps the gating consistent.
func newStreamConnection(conn net.Conn) *streamConnection {
	if logger.ShouldShowTransportIO(logger.CurrentVerbosity()) {
		remote := ""
		if addr := conn.RemoteAddr(); addr != nil {
			remote = addr.String()
		}
		log.Debugw("connection accepted", logger.FieldAddress, remote)
	}
	return &streamConnection{Conn: conn}
}

func (c *streamConnection) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := c.Conn.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *streamConnection) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Listen constructs the transport backend matching addr.Scheme.
func Listen(addr socketuri.SocketAddress) (Listener, error) {
	switch addr.Scheme {
	case socketuri.SchemeTCP:
		return listenTCP(addr)
	case socketuri.SchemeUnix:
		return listenUnix(addr)
	case socketuri.SchemeNPipe:
		return listenNPipe(addr)
	default:
		return nil, errUnknownScheme(addr)
	}
}

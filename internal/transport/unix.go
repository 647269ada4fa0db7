package transport

import (
	"net"
	"os"
	"time"

	"github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

type unixListener struct {
	ln   net.Listener
	addr socketuri.SocketAddress
}

// listenUnix probes an existing path before binding: if a connect succeeds,
// a live peer already owns the socket and startup fails with ErrSocketInUse.
// Otherwise the stale entry is removed and the bind proceeds. The socket
// file is removed again on Close.
func listenUnix(addr socketuri.SocketAddress) (Listener, error) {
	if _, err := os.Stat(addr.Path); err == nil {
		if probeConn, dialErr := net.DialTimeout("unix", addr.Path, 200*time.Millisecond); dialErr == nil {
			probeConn.Close()
			return nil, errors.Wrapf(errors.ErrSocketInUse, "unix socket %s is in use by a live peer", addr.Path)
		}
		if err := os.Remove(addr.Path); err != nil {
			return nil, errors.Wrapf(errors.ErrBindFailed, "removing stale socket %s: %v", addr.Path, err)
		}
	}

	ln, err := net.Listen("unix", addr.Path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBindFailed, "unix listen on %s: %v", addr.Path, err)
	}

	return &unixListener{ln: ln, addr: addr}, nil
}

func (l *unixListener) Accept() (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(errors.ErrAcceptFailed, err.Error())
	}
	return newStreamConnection(conn), nil
}

func (l *unixListener) Close() error {
	err := l.ln.Close()
	os.Remove(l.addr.Path)
	return err
}

func (l *unixListener) Addr() socketuri.SocketAddress {
	return l.addr
}

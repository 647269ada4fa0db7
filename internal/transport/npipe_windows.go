//go:build windows

package transport

import (
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

type npipeListener struct {
	ln   net.Listener
	addr socketuri.SocketAddress
}

// listenNPipe binds a single process-global named pipe. Accept semantics
// are identical to Unix-socket accept at the interface level: one kernel
// object serving multiple sequential connections. Connections that arrive
// after Close are destroyed immediately by go-winio; no filesystem cleanup
// is needed.
func listenNPipe(addr socketuri.SocketAddress) (Listener, error) {
	path := `\\.\pipe\` + addr.Name
	ln, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBindFailed, "npipe listen on %s: %v", path, err)
	}
	return &npipeListener{ln: ln, addr: addr}, nil
}

func (l *npipeListener) Accept() (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(errors.ErrAcceptFailed, err.Error())
	}
	return newStreamConnection(conn), nil
}

func (l *npipeListener) Close() error {
	return l.ln.Close()
}

func (l *npipeListener) Addr() socketuri.SocketAddress {
	return l.addr
}

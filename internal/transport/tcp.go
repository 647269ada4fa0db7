package transport

import (
	"fmt"
	"net"

	"github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

type tcpListener struct {
	ln   net.Listener
	addr socketuri.SocketAddress
}

// listenTCP binds to loopback by default; Port 0 requests an OS-chosen port.
func listenTCP(addr socketuri.SocketAddress) (Listener, error) {
	host := addr.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, addr.Port))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBindFailed, "tcp listen on %s:%d: %v", host, addr.Port, err)
	}

	boundPort := ln.Addr().(*net.TCPAddr).Port
	return &tcpListener{
		ln:   ln,
		addr: socketuri.SocketAddress{Scheme: socketuri.SchemeTCP, Host: host, Port: boundPort},
	}, nil
}

func (l *tcpListener) Accept() (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(errors.ErrAcceptFailed, err.Error())
	}
	return newStreamConnection(conn), nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func (l *tcpListener) Addr() socketuri.SocketAddress {
	return l.addr
}

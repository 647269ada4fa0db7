package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	jgderrors "github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

func errUnknownScheme(addr socketuri.SocketAddress) error {
	return jgderrors.Wrapf(jgderrors.ErrMalformedURI, "unsupported transport scheme %q", addr.Scheme)
}

// IsPeerDisappearance classifies an error from a read/write as ordinary peer
// disappearance (BrokenPipe/ConnectionReset/BadResource) versus something
// worth logging at a higher level. The broker never crashes on these; it
// only terminates the affected connection.
func IsPeerDisappearance(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	return false
}

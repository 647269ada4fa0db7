//go:build !windows

package transport

import (
	"github.com/grantmcdermott/jgd/errors"
	"github.com/grantmcdermott/jgd/internal/socketuri"
)

// listenNPipe is only meaningful on Windows; go-winio's pipe implementation
// is itself Windows-only. The CLI should never select npipe as the default
// transport on other platforms (see internal/config), but a user passing
// npipe:// explicitly gets a clear startup error rather than a build break.
func listenNPipe(addr socketuri.SocketAddress) (Listener, error) {
	return nil, errors.Wrapf(errors.ErrBindFailed, "named pipes are only supported on windows (requested %s)", addr.Name)
}

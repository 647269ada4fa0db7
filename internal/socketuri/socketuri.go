// Package socketuri parses and formats the canonical producer transport
// addresses: tcp://host:port, unix:///abs/path, npipe:///name.
package socketuri

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/grantmcdermott/jgd/errors"
)

// Scheme identifies which transport backend a SocketAddress targets.
type Scheme string

const (
	SchemeTCP   Scheme = "tcp"
	SchemeUnix  Scheme = "unix"
	SchemeNPipe Scheme = "npipe"
)

// SocketAddress is an immutable tagged union over the three supported
// producer transports. Exactly one of the scheme-specific fields is
// meaningful for a given Scheme.
type SocketAddress struct {
	Scheme Scheme
	Host   string // tcp only
	Port   int    // tcp only; 0 means OS-chosen
	Path   string // unix only; absolute filesystem path
	Name   string // npipe only
}

// Parse converts a canonical URI string into a SocketAddress. Raw absolute
// filesystem paths (no scheme) are accepted as a backwards-compatible alias
// for unix:// on producer-side input, but Format never emits that form.
func Parse(raw string) (SocketAddress, error) {
	if raw == "" {
		return SocketAddress{}, errors.Wrap(errors.ErrMalformedURI, "empty socket uri")
	}

	// Backwards-compatible alias: a bare absolute path means unix://<path>.
	if strings.HasPrefix(raw, "/") {
		return SocketAddress{Scheme: SchemeUnix, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "parsing %q: %v", raw, err)
	}

	switch u.Scheme {
	case string(SchemeTCP):
		host := u.Hostname()
		if host == "" {
			host = "127.0.0.1"
		}
		portStr := u.Port()
		if portStr == "" {
			return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "tcp uri %q missing port", raw)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "tcp uri %q has invalid port: %v", raw, err)
		}
		return SocketAddress{Scheme: SchemeTCP, Host: host, Port: port}, nil

	case string(SchemeUnix):
		path := u.Path
		if path == "" {
			return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "unix uri %q missing path", raw)
		}
		decoded, err := url.PathUnescape(path)
		if err != nil {
			return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "unix uri %q has invalid percent-encoding: %v", raw, err)
		}
		return SocketAddress{Scheme: SchemeUnix, Path: decoded}, nil

	case string(SchemeNPipe):
		name := strings.TrimPrefix(u.Path, "/")
		if name == "" {
			name = u.Opaque
		}
		if name == "" {
			return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "npipe uri %q missing name", raw)
		}
		return SocketAddress{Scheme: SchemeNPipe, Name: name}, nil

	default:
		return SocketAddress{}, errors.Wrapf(errors.ErrMalformedURI, "unrecognized scheme in %q", raw)
	}
}

// Format renders a SocketAddress as its canonical URI string. Format is a
// left inverse of Parse on canonical input: Format(Parse(s)) reproduces s.
// Non-canonical input is normalised instead (a bare absolute path comes
// back as unix://<path>, a tcp URI with an empty host as 127.0.0.1).
func Format(a SocketAddress) string {
	switch a.Scheme {
	case SchemeTCP:
		return "tcp://" + a.Host + ":" + strconv.Itoa(a.Port)
	case SchemeUnix:
		return "unix://" + escapeUnixPath(a.Path)
	case SchemeNPipe:
		return "npipe:///" + a.Name
	default:
		return ""
	}
}

// escapeUnixPath percent-encodes only the characters that would otherwise be
// ambiguous inside a URI path component: '#' (fragment) and '?' (query).
func escapeUnixPath(path string) string {
	if !strings.ContainsAny(path, "#?") {
		return path
	}
	replacer := strings.NewReplacer("#", "%23", "?", "%3F")
	return replacer.Replace(path)
}

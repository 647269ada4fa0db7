package socketuri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTCP(t *testing.T) {
	addr, err := Parse("tcp://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, SchemeTCP, addr.Scheme)
	assert.Equal(t, "127.0.0.1", addr.Host)
	assert.Equal(t, 8080, addr.Port)
}

func TestParseTCPDefaultsHost(t *testing.T) {
	addr, err := Parse("tcp://:0")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.Host)
	assert.Equal(t, 0, addr.Port)
}

func TestParseTCPMissingPort(t *testing.T) {
	_, err := Parse("tcp://127.0.0.1")
	assert.Error(t, err)
}

func TestParseUnix(t *testing.T) {
	addr, err := Parse("unix:///tmp/jgd.sock")
	require.NoError(t, err)
	assert.Equal(t, SchemeUnix, addr.Scheme)
	assert.Equal(t, "/tmp/jgd.sock", addr.Path)
}

func TestParseUnixBareAbsolutePathAlias(t *testing.T) {
	addr, err := Parse("/tmp/jgd.sock")
	require.NoError(t, err)
	assert.Equal(t, SchemeUnix, addr.Scheme)
	assert.Equal(t, "/tmp/jgd.sock", addr.Path)
}

func TestParseUnixPercentEncodedPath(t *testing.T) {
	addr, err := Parse("unix:///tmp/weird%23name.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/weird#name.sock", addr.Path)
}

func TestParseNPipe(t *testing.T) {
	addr, err := Parse("npipe:///jgd-broker")
	require.NoError(t, err)
	assert.Equal(t, SchemeNPipe, addr.Scheme)
	assert.Equal(t, "jgd-broker", addr.Name)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("ftp://nope")
	assert.Error(t, err)

	_, err = Parse("unix://")
	assert.Error(t, err)
}

func TestFormatRoundTrip(t *testing.T) {
	cases := []string{
		"tcp://127.0.0.1:9000",
		"unix:///var/run/jgd.sock",
		"npipe:///jgd-broker",
	}

	for _, raw := range cases {
		addr, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, Format(addr))
	}
}

func TestFormatUnixPercentEncodesSpecialChars(t *testing.T) {
	addr := SocketAddress{Scheme: SchemeUnix, Path: "/tmp/weird#name.sock"}
	assert.Equal(t, "unix:///tmp/weird%23name.sock", Format(addr))
}

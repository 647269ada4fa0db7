package transport

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantmcdermott/jgd/internal/socketuri"
)

func TestTCPListenAcceptRoundTrip(t *testing.T) {
	ln, err := Listen(socketuri.SocketAddress{Scheme: socketuri.SchemeTCP, Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr()
	assert.NotZero(t, addr.Port)

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			done <- err
			return
		}
		_, err = conn.Write(buf)
		done <- err
	}()

	client, err := net.Dial("tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	reply := make([]byte, 5)
	_, err = client.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reply))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept goroutine")
	}
}

func TestUnixListenStaleSocketRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jgd.sock")

	// A stale socket file with nothing listening behind it.
	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close() // leaves the inode behind, no live peer

	ln, err := Listen(socketuri.SocketAddress{Scheme: socketuri.SchemeUnix, Path: path})
	require.NoError(t, err)
	defer ln.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestUnixListenInUseByLivePeer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jgd.sock")

	live, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer live.Close()

	_, err = Listen(socketuri.SocketAddress{Scheme: socketuri.SchemeUnix, Path: path})
	assert.Error(t, err)
}

func TestUnixListenCloseRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jgd.sock")

	ln, err := Listen(socketuri.SocketAddress{Scheme: socketuri.SchemeUnix, Path: path})
	require.NoError(t, err)

	require.NoError(t, ln.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

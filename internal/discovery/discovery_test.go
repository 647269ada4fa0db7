package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDiscoveryFile(t *testing.T, dir string) file {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	var f file
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWriteAtomicProducesValidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeAtomic(dir, []byte(`{"socketPath":"tcp://127.0.0.1:9000","httpPort":8080,"pid":123}`)))

	f := readDiscoveryFile(t, dir)
	assert.Equal(t, "tcp://127.0.0.1:9000", f.SocketPath)
	assert.Equal(t, 8080, f.HTTPPort)
	assert.Equal(t, 123, f.PID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away, leaving only the final name")
}

func TestWriteAtomicOverwritesPreviousContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeAtomic(dir, []byte(`{"socketPath":"a","httpPort":1,"pid":1}`)))
	require.NoError(t, writeAtomic(dir, []byte(`{"socketPath":"b","httpPort":2,"pid":2}`)))

	f := readDiscoveryFile(t, dir)
	assert.Equal(t, "b", f.SocketPath)
}

func TestRemoveOnlyDeletesWhenPidMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)

	otherPID := os.Getpid() + 1
	encoded, err := json.Marshal(file{SocketPath: "tcp://x", HTTPPort: 1, PID: otherPID})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0o644))

	removeFrom(t, []string{dir})

	_, err = os.Stat(path)
	assert.NoError(t, err, "file owned by a different pid must survive")

	encoded, err = json.Marshal(file{SocketPath: "tcp://x", HTTPPort: 1, PID: os.Getpid()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0o644))

	removeFrom(t, []string{dir})

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

// removeFrom repeats Remove's pid-matching logic against an explicit set of
// directories, since Remove itself always walks Locations().
func removeFrom(t *testing.T, dirs []string) {
	t.Helper()
	pid := os.Getpid()
	for _, dir := range dirs {
		path := filepath.Join(dir, fileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var f file
		require.NoError(t, json.Unmarshal(data, &f))
		if f.PID != pid {
			continue
		}
		require.NoError(t, os.Remove(path))
	}
}

func TestLocationsIncludesSystemTempDir(t *testing.T) {
	locs := Locations()
	require.NotEmpty(t, locs)
	assert.Equal(t, os.TempDir(), locs[0])
}

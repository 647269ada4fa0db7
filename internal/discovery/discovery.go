// Package discovery writes and removes the jgd-discovery.json rendezvous
// file that lets producers find a running broker without configuration.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/grantmcdermott/jgd/logger"
)

const fileName = "jgd-discovery.json"

// file is the on-disk shape of the discovery file (spec §6.2).
type file struct {
	SocketPath string `json:"socketPath"`
	HTTPPort   int    `json:"httpPort"`
	PID        int    `json:"pid"`
}

// Locations returns every directory the discovery file is written to: the
// system temp directory, plus /tmp on POSIX when distinct from it.
func Locations() []string {
	dirs := []string{os.TempDir()}
	if runtime.GOOS != "windows" {
		if _, err := os.Stat("/tmp"); err == nil {
			if filepath.Clean(os.TempDir()) != "/tmp" {
				dirs = append(dirs, "/tmp")
			}
		}
	}
	return dirs
}

// Write serialises {socketPath, httpPort, pid} and writes it atomically
// (temp-file-in-same-directory + rename) to every location in Locations().
// Write failures are logged, not fatal; partial success suffices.
func Write(socketPath string, httpPort int) {
	log := logger.ComponentLogger("discovery")

	f := file{SocketPath: socketPath, HTTPPort: httpPort, PID: os.Getpid()}
	encoded, err := json.Marshal(f)
	if err != nil {
		log.Errorw("failed to encode discovery file", logger.FieldError, err)
		return
	}

	wrote := 0
	for _, dir := range Locations() {
		if err := writeAtomic(dir, encoded); err != nil {
			log.Warnw("failed to write discovery file", logger.FieldPath, dir, logger.FieldError, err)
			continue
		}
		wrote++
		if logger.ShouldOutput(logger.CurrentVerbosity(), logger.OutputDiscoveryIO) {
			log.Debugw("wrote discovery file", logger.FieldPath, filepath.Join(dir, fileName))
		}
	}
	if wrote == 0 {
		log.Errorw("failed to write discovery file to any location")
	}
}

// writeAtomic writes data to dir/jgd-discovery.json via a same-directory
// temp file plus rename, so readers only ever see complete content.
func writeAtomic(dir string, data []byte) error {
	tmpName := filepath.Join(dir, fileName+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpName, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, fileName))
}

// Remove reads back the discovery file at every location and removes it
// only where its pid still matches the current process (another instance
// may have overwritten it since).
func Remove() {
	log := logger.ComponentLogger("discovery")
	pid := os.Getpid()

	for _, dir := range Locations() {
		path := filepath.Join(dir, fileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debugw("discovery file unparseable, leaving in place", logger.FieldPath, path, logger.FieldError, err)
			continue
		}
		if f.PID != pid {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warnw("failed to remove discovery file", logger.FieldPath, path, logger.FieldError, err)
		} else if logger.ShouldOutput(logger.CurrentVerbosity(), logger.OutputDiscoveryIO) {
			log.Debugw("removed discovery file", logger.FieldPath, path)
		}
	}
}

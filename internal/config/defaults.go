package config

import "runtime"

// defaultTransport picks the producer transport a fresh install should use
// absent any override: named pipes on Windows, Unix sockets elsewhere.
func defaultTransport() string {
	if runtime.GOOS == "windows" {
		return "npipe"
	}
	return "unix"
}

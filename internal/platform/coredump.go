//go:build linux || darwin

// Package platform holds process hardening that depends on the host OS.
package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps sets RLIMIT_CORE to zero so a crash cannot write keys or
// plaintext held in memory to disk.
func DisableCoreDumps() error {
	rlim := unix.Rlimit{Cur: 0, Max: 0}
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}

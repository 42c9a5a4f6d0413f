//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// Key buffers are pinned so derived keys are not swapped to disk.
func lockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

func unlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}

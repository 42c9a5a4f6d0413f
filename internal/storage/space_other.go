//go:build !linux && !darwin

package storage

import "errors"

var errFreeSpaceUnsupported = errors.New("storage: free space probe not supported on this platform")

func FreeSpace(string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}

//go:build !linux && !darwin

package platform

import "errors"

func DisableCoreDumps() error {
	return errors.New("platform: core dump limits unsupported on this OS")
}

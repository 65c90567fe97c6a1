package media

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the platform refused access to the device.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrDeviceUnavailable means the device is missing, busy, or the platform
	// surface is not reachable.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// EnumerationError reports that the platform refused to list devices. An
// empty device list after this error means "unknown", not "no devices".
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string { return fmt.Sprintf("device enumeration failed: %v", e.Err) }
func (e *EnumerationError) Unwrap() error { return e.Err }

package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for the capture pipeline.
var (
	// ErrVideoDeviceUnavailable is returned when no camera is selected by the system.
	ErrVideoDeviceUnavailable = errors.New("capture: video device unavailable")

	// ErrAudioDeviceUnavailable is returned when no microphone is available.
	ErrAudioDeviceUnavailable = errors.New("capture: audio device unavailable")

	// ErrAddInputFailed is returned when the session rejects an input.
	ErrAddInputFailed = errors.New("capture: add input failed")

	// ErrAddOutputFailed is returned when the session rejects an output.
	ErrAddOutputFailed = errors.New("capture: add output failed")

	// ErrSetupFailed aggregates any failure during Start.
	ErrSetupFailed = errors.New("capture: setup failed")

	// ErrDeviceChangeFailed is returned when the device configuration lock
	// cannot be acquired.
	ErrDeviceChangeFailed = errors.New("capture: device change failed")

	// ErrNoPhotoData is returned when a still capture finishes without bytes.
	ErrNoPhotoData = errors.New("capture: no photo data")

	// ErrNoVideoData is returned when a recording finalizes without output.
	ErrNoVideoData = errors.New("capture: no video data")

	// ErrNotAuthorized is returned when camera access was denied.
	ErrNotAuthorized = errors.New("capture: not authorized")

	// ErrClosed is returned by operations on a closed component.
	ErrClosed = errors.New("capture: closed")
)

// DeviceError wraps an error with the device it concerns.
type DeviceError struct {
	DeviceID string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture [%s] %s: %v", e.DeviceID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// WrapDeviceError wraps err with device context. Returns nil for a nil err.
func WrapDeviceError(deviceID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{DeviceID: deviceID, Op: op, Err: err}
}

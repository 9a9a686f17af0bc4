package capture

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a camera stream could not be started.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureNotFound         FailureKind = "device_not_found"
	FailureBusy             FailureKind = "device_busy"
	FailureUnknown          FailureKind = "unknown"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera not found")
	ErrDeviceBusy       = errors.New("camera busy")
	ErrUnknown          = errors.New("camera unavailable")
)

// DeviceError is what a media device reports when it cannot grant a
// stream. Name carries the browser-style error name.
type DeviceError struct {
	Name    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Classify maps a device error to one of the four failure kinds.
func Classify(err error) FailureKind {
	var de *DeviceError
	if !errors.As(err, &de) {
		return FailureUnknown
	}
	switch de.Name {
	case "NotAllowedError", "PermissionDeniedError":
		return FailurePermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return FailureNotFound
	case "NotReadableError", "TrackStartError":
		return FailureBusy
	default:
		return FailureUnknown
	}
}

// Message is the text shown to the candidate for a failure kind.
func (k FailureKind) Message() string {
	switch k {
	case FailurePermissionDenied:
		return "Camera permission denied. Please allow camera access in your browser settings."
	case FailureNotFound:
		return "No camera found. Please connect a camera and refresh the page."
	case FailureBusy:
		return "Camera is being used by another application. Please close it and try again."
	default:
		return "Camera access denied."
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailurePermissionDenied:
		return ErrPermissionDenied
	case FailureNotFound:
		return ErrDeviceNotFound
	case FailureBusy:
		return ErrDeviceBusy
	default:
		return ErrUnknown
	}
}

// Error is returned by Controller.Start.
type Error struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("start capture (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

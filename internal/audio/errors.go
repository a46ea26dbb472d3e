package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording is returned when a second stream is started on a recorder.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("not recording")
	// ErrPermissionPending is returned while a device open is still in progress.
	ErrPermissionPending = errors.New("microphone permission request already in progress")
	// ErrDevice marks hardware or driver failures after a stream was granted.
	ErrDevice = errors.New("audio device error")
	// ErrEmptyRecording is returned by Stop when no samples were captured.
	ErrEmptyRecording = errors.New("recording captured no audio")
)

// PermissionKind classifies why a capture device could not be opened.
type PermissionKind string

const (
	PermissionDenied       PermissionKind = "permission_denied"
	DeviceBusy             PermissionKind = "device_busy"
	DeviceNotFound         PermissionKind = "device_not_found"
	DeviceUnsupported      PermissionKind = "device_unsupported"
	SecurityContextInvalid PermissionKind = "security_context_invalid"
	PermissionUnknown      PermissionKind = "unknown"
)

// PermissionError is returned by RequestPermission.
type PermissionError struct {
	Kind   PermissionKind
	Reason string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("microphone unavailable: %s", e.Kind)
	}
	return fmt.Sprintf("microphone unavailable: %s: %s", e.Kind, e.Reason)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Diagnostic is the user-facing explanation for the failure, with the action
// most likely to fix it.
func (e *PermissionError) Diagnostic() string {
	switch e.Kind {
	case PermissionDenied:
		return "Microphone access was denied. Allow this application to use the microphone in the system privacy settings, then start recording again."
	case DeviceBusy:
		return "The microphone is being used by another application. Close other recording or call software, then start recording again."
	case DeviceNotFound:
		return "No microphone was found. Connect an input device or select one in the system sound settings."
	case DeviceUnsupported:
		return "The microphone cannot record in the requested format. Pick another input device or change mic_sample_rate in the configuration."
	case SecurityContextInvalid:
		return "Audio capture is not available in this session. Run the service from a desktop session with a running audio server instead of a headless or sandboxed context."
	default:
		reason := e.Reason
		if reason == "" {
			reason = "unknown error"
		}
		return "The microphone could not be opened (" + reason + "). Check the input device and try again."
	}
}

// AsPermissionError wraps err as a PermissionError of kind Unknown unless it
// already is one.
func AsPermissionError(err error) *PermissionError {
	if err == nil {
		return nil
	}
	var perr *PermissionError
	if errors.As(err, &perr) {
		return perr
	}
	return &PermissionError{Kind: PermissionUnknown, Reason: err.Error(), Err: err}
}

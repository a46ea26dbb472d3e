package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAudio is returned when the artifact holds no bytes.
	ErrNoAudio = errors.New("no audio to transcribe")
	// ErrEmptyResult is returned when the backend answered with no text.
	ErrEmptyResult = errors.New("transcription returned no text")
	// ErrRequestFailed covers network, authentication and status failures.
	ErrRequestFailed = errors.New("transcription request failed")
	// ErrMalformedResponse is returned when the backend payload cannot be decoded.
	ErrMalformedResponse = errors.New("malformed transcription response")
)

// Error carries the backend that produced a transcription failure.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe (%s): %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

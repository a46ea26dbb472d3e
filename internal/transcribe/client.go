// Package transcribe converts recorded or uploaded audio into text.
package transcribe

import (
	"context"
	"strings"

	"github.com/sjawhar/kouyi/internal/audio"
)

// Options are per-call overrides. APIKey replaces the backend's configured key
// when non-empty.
type Options struct {
	APIKey string
}

type Backend interface {
	Name() string
	Transcribe(ctx context.Context, artifact audio.Artifact, opts Options) (string, error)
}

// Client delegates to a single backend and normalizes its results. It never
// retries.
type Client struct {
	backend Backend
}

func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

func (c *Client) Backend() string { return c.backend.Name() }

// Transcribe returns the trimmed transcript. Failures are *Error values
// wrapping ErrEmptyResult, ErrRequestFailed or ErrMalformedResponse.
func (c *Client) Transcribe(ctx context.Context, artifact audio.Artifact, opts Options) (string, error) {
	name := c.backend.Name()
	if artifact.IsZero() {
		return "", &Error{Backend: name, Err: ErrNoAudio}
	}

	text, err := c.backend.Transcribe(ctx, artifact, opts)
	if err != nil {
		return "", &Error{Backend: name, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &Error{Backend: name, Err: ErrEmptyResult}
	}
	return text, nil
}

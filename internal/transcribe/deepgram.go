package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/kouyi/internal/audio"
)

const (
	DefaultDeepgramModel = "nova-2"

	deepgramChunkSize = 8192
	defaultSettle     = 1500 * time.Millisecond
	defaultFirstWait  = 10 * time.Second
)

type liveConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finalize() error
	Stop()
}

type dialFunc func(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error)

// DeepgramBackend streams the artifact over a Deepgram live connection, asks
// Deepgram to flush the last utterance, and joins the final results once no
// new message arrives for the settle window. The settle window only starts
// after the first message; until then firstWait bounds the wait.
type DeepgramBackend struct {
	apiKey    string
	model     string
	language  string
	settle    time.Duration
	firstWait time.Duration

	dial dialFunc
}

// NewDeepgramBackend expects client.Init to have been called by the process.
func NewDeepgramBackend(apiKey, model, language string) *DeepgramBackend {
	if model == "" {
		model = DefaultDeepgramModel
	}
	return &DeepgramBackend{
		apiKey:    apiKey,
		model:     model,
		language:  language,
		settle:    defaultSettle,
		firstWait: defaultFirstWait,
		dial:      dialDeepgram,
	}
}

func dialDeepgram(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error) {
	conn, err := client.NewWSUsingCallback(ctx, apiKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, cb)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b *DeepgramBackend) Name() string { return "deepgram" }

// Transcribe ignores opts.APIKey; Deepgram uses its own credential.
func (b *DeepgramBackend) Transcribe(ctx context.Context, artifact audio.Artifact, _ Options) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := newLiveCollector()
	options := &interfaces.LiveTranscriptionOptions{
		Model:       b.model,
		Language:    b.language,
		Punctuate:   true,
		SmartFormat: true,
	}

	conn, err := b.dial(ctx, b.apiKey, options, collector)
	if err != nil {
		return "", fmt.Errorf("%w: create deepgram client: %w", ErrRequestFailed, err)
	}
	if ok := conn.Connect(); !ok {
		return "", fmt.Errorf("%w: deepgram connect failed", ErrRequestFailed)
	}
	defer conn.Stop()

	reader := bytes.NewReader(artifact.Bytes())
	chunk := make([]byte, deepgramChunkSize)
	for {
		n, _ := reader.Read(chunk)
		if n == 0 {
			break
		}
		if _, err := conn.Write(chunk[:n]); err != nil {
			return "", fmt.Errorf("%w: stream audio to deepgram: %w", ErrRequestFailed, err)
		}
	}
	if err := conn.Finalize(); err != nil {
		return "", fmt.Errorf("%w: finalize deepgram stream: %w", ErrRequestFailed, err)
	}

	return collector.wait(ctx, b.firstWait, b.settle)
}

// liveCollector implements api.LiveMessageCallback.
type liveCollector struct {
	mu        sync.Mutex
	parts     []string
	unhandled int

	activity  chan struct{}
	failed    chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newLiveCollector() *liveCollector {
	return &liveCollector{
		activity: make(chan struct{}, 1),
		failed:   make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *liveCollector) Message(mr *api.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	c.touch()
	if !mr.IsFinal {
		return nil
	}

	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	c.parts = append(c.parts, text)
	c.mu.Unlock()
	return nil
}

func (c *liveCollector) Open(*api.OpenResponse) error {
	slog.Debug("connected to deepgram")
	return nil
}

func (c *liveCollector) Metadata(*api.MetadataResponse) error { return nil }

func (c *liveCollector) SpeechStarted(*api.SpeechStartedResponse) error {
	c.touch()
	return nil
}

func (c *liveCollector) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.touch()
	return nil
}

func (c *liveCollector) Close(*api.CloseResponse) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *liveCollector) Error(er *api.ErrorResponse) error {
	err := fmt.Errorf("%w: deepgram error %s: %s", ErrRequestFailed, er.ErrCode, er.Description)
	select {
	case c.failed <- err:
	default:
	}
	return nil
}

func (c *liveCollector) UnhandledEvent(raw []byte) error {
	c.mu.Lock()
	c.unhandled++
	c.mu.Unlock()
	slog.Debug("unhandled deepgram event", "bytes", len(raw))
	return nil
}

func (c *liveCollector) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *liveCollector) wait(ctx context.Context, firstWait, settle time.Duration) (string, error) {
	timer := time.NewTimer(firstWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
		case err := <-c.failed:
			return "", err
		case <-c.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(settle)
		case <-c.closed:
			return c.result()
		case <-timer.C:
			return c.result()
		}
	}
}

func (c *liveCollector) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.parts) == 0 && c.unhandled > 0 {
		return "", fmt.Errorf("%w: %d unrecognized deepgram events", ErrMalformedResponse, c.unhandled)
	}
	return strings.Join(c.parts, " "), nil
}

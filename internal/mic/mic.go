// Package mic opens PortAudio capture streams for the recorder.
package mic

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/kouyi/internal/audio"
)

const (
	DefaultFramesPerBuffer = 1024

	pollInterval = 10 * time.Millisecond
)

// DefaultSampleRates are tried in order after any configured preference.
var DefaultSampleRates = []int{16000, 48000, 44100, 32000, 24000}

// ErrStreamStopped is returned by Read after Stop.
var ErrStreamStopped = errors.New("capture stream stopped")

type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	AvailableToRead() (int, error)
}

// Device opens the default input device, falling back through sample rates
// until one is accepted.
type Device struct {
	rates           []int
	framesPerBuffer int
	initErr         error

	open func(sampleRate, framesPerBuffer int, buf []int16) (paStream, error)
}

// Open initializes PortAudio. Call Close on shutdown.
func Open(rates []int, framesPerBuffer int) *Device {
	d := New(rates, framesPerBuffer)
	if err := portaudio.Initialize(); err != nil {
		d.initErr = err
		slog.Warn("portaudio init failed", "error", err)
	}
	return d
}

// New returns a device without initializing PortAudio.
func New(rates []int, framesPerBuffer int) *Device {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &Device{
		rates:           SampleRateCandidates(rates),
		framesPerBuffer: framesPerBuffer,
		open:            openDefault,
	}
}

func openDefault(sampleRate, framesPerBuffer int, buf []int16) (paStream, error) {
	return portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
}

func (d *Device) Close() error {
	if d.initErr != nil {
		return nil
	}
	return portaudio.Terminate()
}

// Open implements audio.Device. Failures are returned as *audio.PermissionError.
func (d *Device) Open() (audio.Stream, error) {
	if d.initErr != nil {
		return nil, classify(d.initErr)
	}

	var lastErr error
	for _, rate := range d.rates {
		buf := make([]int16, d.framesPerBuffer)
		stream, err := d.open(rate, d.framesPerBuffer, buf)
		if err == nil {
			slog.Debug("microphone opened", "sample_rate", rate)
			return &Stream{stream: stream, buf: buf, sampleRate: rate}, nil
		}

		lastErr = err
		perr := classify(err)
		if perr.Kind != audio.DeviceUnsupported {
			return nil, perr
		}
		slog.Debug("microphone rejected sample rate", "sample_rate", rate, "error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no sample rates configured")
	}
	return nil, classify(lastErr)
}

// Stream is a mono PCM16 capture stream.
type Stream struct {
	stream     paStream
	buf        []int16
	sampleRate int

	mu      sync.Mutex
	stopped bool
}

func (s *Stream) SampleRate() int { return s.sampleRate }
func (s *Stream) Channels() int   { return 1 }

func (s *Stream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start capture stream: %w", err)
	}
	return nil
}

// Read polls until a full buffer is available so that Stop can interrupt it.
// The returned slice is reused by the next call.
func (s *Stream) Read() ([]int16, error) {
	for {
		if s.isStopped() {
			return nil, ErrStreamStopped
		}

		available, err := s.stream.AvailableToRead()
		if err != nil {
			if s.isStopped() {
				return nil, ErrStreamStopped
			}
			return nil, fmt.Errorf("poll capture stream: %w", err)
		}
		if available < len(s.buf) {
			time.Sleep(pollInterval)
			continue
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("mic input overflow, samples dropped")
				continue
			}
			return nil, fmt.Errorf("read capture stream: %w", err)
		}
		return s.buf, nil
	}
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil && !errors.Is(err, portaudio.StreamIsStopped) {
		return fmt.Errorf("stop capture stream: %w", err)
	}
	return nil
}

func (s *Stream) Close() error {
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	return nil
}

func (s *Stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// classify maps PortAudio and host errors onto permission kinds.
func classify(err error) *audio.PermissionError {
	kind := audio.PermissionUnknown

	var paErr portaudio.Error
	var hostErr portaudio.UnanticipatedHostError
	switch {
	case errors.As(err, &paErr):
		switch paErr {
		case portaudio.NoDefaultInputDevice, portaudio.InvalidDevice:
			kind = audio.DeviceNotFound
		case portaudio.DeviceUnavailable:
			kind = audio.DeviceBusy
		case portaudio.InvalidSampleRate, portaudio.SampleFormatNotSupported, portaudio.InvalidChannelCount:
			kind = audio.DeviceUnsupported
		case portaudio.HostApiNotFound, portaudio.InvalidHostApi, portaudio.IncompatibleStreamHostApi, portaudio.NotInitialized:
			kind = audio.SecurityContextInvalid
		}
	case errors.As(err, &hostErr):
		kind = classifyHost(hostErr.Code, hostErr.Text)
	default:
		kind = classifyHost(0, err.Error())
	}

	return &audio.PermissionError{Kind: kind, Reason: err.Error(), Err: err}
}

// classifyHost interprets host API failures. ALSA reports negative errno codes.
func classifyHost(code int, text string) audio.PermissionKind {
	switch code {
	case -1, -13:
		return audio.PermissionDenied
	case -16:
		return audio.DeviceBusy
	case -2, -19:
		return audio.DeviceNotFound
	case -22:
		return audio.DeviceUnsupported
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		return audio.PermissionDenied
	case strings.Contains(lower, "busy"):
		return audio.DeviceBusy
	case strings.Contains(lower, "no such device"), strings.Contains(lower, "no such file"), strings.Contains(lower, "not found"):
		return audio.DeviceNotFound
	case strings.Contains(lower, "invalid argument"), strings.Contains(lower, "not supported"):
		return audio.DeviceUnsupported
	default:
		return audio.PermissionUnknown
	}
}

// SampleRateCandidates returns preferred rates followed by the defaults,
// dropping duplicates and non-positive values.
func SampleRateCandidates(preferred []int) []int {
	combined := append(append([]int{}, preferred...), DefaultSampleRates...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

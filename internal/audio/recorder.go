package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Device opens capture streams. Open is where the operating system grants or
// refuses microphone access.
type Device interface {
	Open() (Stream, error)
}

// Stream is a live capture handle producing interleaved PCM16 frames.
type Stream interface {
	SampleRate() int
	Channels() int
	Start() error
	// Read blocks until the next buffer is available. It returns an error
	// once the stream is stopped.
	Read() ([]int16, error)
	Stop() error
	Close() error
}

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateRecording            State = "recording"
	StateError                State = "error"
)

const defaultStopTimeout = 2 * time.Second

// Recorder owns the capture device for one recording at a time.
type Recorder struct {
	device Device
	meter  *Meter

	now         func() time.Time
	stopTimeout time.Duration

	mu          sync.Mutex
	state       State
	opening     bool
	active      *capture
	lastErr     error
	subscribers []func(Artifact)
	onState     func(State)
}

type capture struct {
	stream Stream
	ring   *sampleRing
	stop   chan struct{}
	done   chan struct{}

	mu  sync.Mutex
	pcm []int16
}

func NewRecorder(device Device, meter *Meter) *Recorder {
	if meter == nil {
		meter = NewMeter(DefaultLevelInterval, nil)
	}
	return &Recorder{
		device:      device,
		meter:       meter,
		now:         time.Now,
		stopTimeout: defaultStopTimeout,
		state:       StateIdle,
	}
}

// Subscribe registers fn to receive every artifact produced by Stop.
func (r *Recorder) Subscribe(fn func(Artifact)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// OnStateChange registers fn to be called after every state transition.
func (r *Recorder) OnStateChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Level is the current meter reading, 0 when not recording.
func (r *Recorder) Level() float64 {
	return r.meter.Level()
}

// RequestPermission opens the capture device.
func (r *Recorder) RequestPermission() (Stream, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	if r.opening {
		r.mu.Unlock()
		return nil, ErrPermissionPending
	}
	r.opening = true
	r.lastErr = nil
	r.mu.Unlock()
	r.transition(StateRequestingPermission)

	stream, err := r.device.Open()

	r.mu.Lock()
	r.opening = false
	r.mu.Unlock()

	if err != nil {
		perr := AsPermissionError(err)
		r.transition(StateError)
		slog.Warn("microphone unavailable", "kind", perr.Kind, "error", err)
		return nil, perr
	}
	return stream, nil
}

// Start begins capturing from stream and starts the level meter.
func (r *Recorder) Start(stream Stream) error {
	if stream == nil {
		return fmt.Errorf("start recording: %w", ErrDevice)
	}

	r.mu.Lock()
	busy := r.active != nil
	r.mu.Unlock()
	if busy {
		return ErrAlreadyRecording
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		r.transition(StateError)
		return fmt.Errorf("%w: start audio stream: %w", ErrDevice, err)
	}

	c := &capture{
		stream: stream,
		ring:   newSampleRing(FFTSize, stream.Channels()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		_ = stream.Stop()
		_ = stream.Close()
		return ErrAlreadyRecording
	}
	r.active = c
	r.lastErr = nil
	// The meter runs exactly while a capture is attached; detach holds r.mu.
	r.meter.Start(c.ring)
	r.mu.Unlock()

	go r.captureLoop(c)
	r.transition(StateRecording)
	return nil
}

// Stop ends the recording and returns the captured audio as a WAV artifact.
// The device stream is released before Stop returns.
func (r *Recorder) Stop() (Artifact, error) {
	c, err := r.detach()
	if err != nil {
		return Artifact{}, err
	}

	pcm := r.release(c)
	r.transition(StateIdle)

	if len(pcm) == 0 {
		return Artifact{}, ErrEmptyRecording
	}

	data, err := EncodeWAV(pcmBytes(pcm), c.stream.SampleRate(), c.stream.Channels())
	if err != nil {
		return Artifact{}, fmt.Errorf("encode recording: %w", err)
	}
	artifact := NewArtifact(data, MimeWAV, OriginRecorded, r.now())

	r.mu.Lock()
	subscribers := append([]func(Artifact){}, r.subscribers...)
	r.mu.Unlock()
	for _, fn := range subscribers {
		fn(artifact)
	}

	return artifact, nil
}

// Cancel ends an active recording and discards its audio.
func (r *Recorder) Cancel() error {
	c, err := r.detach()
	if err != nil {
		return err
	}
	r.release(c)
	r.transition(StateIdle)
	return nil
}

// Close cancels any active recording.
func (r *Recorder) Close() error {
	if err := r.Cancel(); err != nil && !errors.Is(err, ErrNotRecording) && !errors.Is(err, ErrDevice) {
		return err
	}
	r.meter.Stop()
	return nil
}

// detach takes ownership of the active capture. A capture that already
// failed is reported once and the recorder returns to idle.
func (r *Recorder) detach() (*capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		if r.state == StateError && r.lastErr != nil {
			err := r.lastErr
			r.lastErr = nil
			r.state = StateIdle
			return nil, err
		}
		return nil, ErrNotRecording
	}

	c := r.active
	r.active = nil
	return c, nil
}

func (r *Recorder) release(c *capture) []int16 {
	close(c.stop)
	if err := c.stream.Stop(); err != nil {
		slog.Warn("stop audio stream failed", "error", err)
	}

	select {
	case <-c.done:
	case <-time.After(r.stopTimeout):
		slog.Warn("capture loop did not exit before timeout", "timeout", r.stopTimeout)
	}

	r.stopMeterIfIdle()
	if err := c.stream.Close(); err != nil {
		slog.Warn("close audio stream failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pcm := c.pcm
	c.pcm = nil
	return pcm
}

func (r *Recorder) captureLoop(c *capture) {
	defer close(c.done)

	for {
		samples, err := c.stream.Read()

		select {
		case <-c.stop:
			return
		default:
		}

		if err != nil {
			go r.fail(c, fmt.Errorf("%w: read audio stream: %w", ErrDevice, err))
			return
		}

		c.mu.Lock()
		c.pcm = append(c.pcm, samples...)
		c.mu.Unlock()
		c.ring.Write(samples)
	}
}

func (r *Recorder) fail(c *capture, err error) {
	r.mu.Lock()
	if r.active != c {
		r.mu.Unlock()
		return
	}
	r.active = nil
	r.lastErr = err
	r.meter.Stop()
	r.mu.Unlock()

	slog.Warn("recording aborted", "error", err)
	_ = c.stream.Stop()
	_ = c.stream.Close()
	r.transition(StateError)
}

// stopMeterIfIdle leaves the meter alone when a newer capture already took over.
func (r *Recorder) stopMeterIfIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.meter.Stop()
	}
}

func (r *Recorder) transition(state State) {
	r.mu.Lock()
	r.state = state
	fn := r.onState
	r.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// FFTSize is the analysis window in samples.
	FFTSize = 256
	// LevelCeiling normalizes the mean byte-scale magnitude. Bin magnitudes
	// are mapped onto 0..255 the way browser analysers report
	// getByteFrequencyData, so the ceiling is 255.
	LevelCeiling = 255.0

	DefaultLevelInterval = 16 * time.Millisecond

	binCount    = FFTSize / 2
	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

// SampleSource exposes the most recent captured samples in [-1, 1].
type SampleSource interface {
	Window(dst []float64) int
}

// Meter reports a normalized loudness level while a recording is active.
type Meter struct {
	interval time.Duration
	onLevel  func(float64)

	mu    sync.Mutex
	level float64
	stop  chan struct{}
	done  chan struct{}
}

// NewMeter builds a meter ticking every interval. onLevel, when set, is
// called from the meter goroutine on every tick and must not block or call
// back into the meter.
func NewMeter(interval time.Duration, onLevel func(float64)) *Meter {
	if interval <= 0 {
		interval = DefaultLevelInterval
	}
	return &Meter{interval: interval, onLevel: onLevel}
}

// Start begins sampling src. A running sampler is stopped first.
func (m *Meter) Start(src SampleSource) {
	m.Stop()

	stop := make(chan struct{})
	done := make(chan struct{})

	m.mu.Lock()
	m.stop = stop
	m.done = done
	m.level = 0
	m.mu.Unlock()

	go m.loop(src, stop, done)
}

// Stop cancels sampling. No tick runs after Stop returns.
func (m *Meter) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}

// Level returns the latest value in [0, 1]; 0 while stopped.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Meter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Meter) loop(src SampleSource, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	a := newAnalyser()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// A tick and stop can be ready together; stop wins.
		select {
		case <-stop:
			return
		default:
		}

		level := a.measure(src)

		m.mu.Lock()
		m.level = level
		m.mu.Unlock()

		if m.onLevel != nil {
			m.onLevel(level)
		}
	}
}

type analyser struct {
	fft      *fourier.FFT
	samples  []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyser() *analyser {
	return &analyser{
		fft:      fourier.NewFFT(FFTSize),
		samples:  make([]float64, FFTSize),
		coeffs:   make([]complex128, FFTSize/2+1),
		smoothed: make([]float64, binCount),
	}
}

func (a *analyser) measure(src SampleSource) float64 {
	src.Window(a.samples)
	window.Blackman(a.samples)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.samples)

	var sum float64
	for i := 0; i < binCount; i++ {
		mag := cmplx.Abs(a.coeffs[i]) / FFTSize
		switch {
		case math.IsNaN(mag):
			mag = 0
		case math.IsInf(mag, 0):
			mag = 1
		}
		a.smoothed[i] = smoothing*a.smoothed[i] + (1-smoothing)*mag
		sum += byteMagnitude(a.smoothed[i])
	}

	return clampLevel(sum / binCount / LevelCeiling)
}

// byteMagnitude maps a linear magnitude onto 0..255 between minDecibels and maxDecibels.
func byteMagnitude(mag float64) float64 {
	if !(mag > 0) {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := math.Floor(255 * (db - minDecibels) / (maxDecibels - minDecibels))
	return math.Max(0, math.Min(255, v))
}

func clampLevel(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

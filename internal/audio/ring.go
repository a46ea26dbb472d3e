package audio

import "sync"

// sampleRing keeps the most recent mono samples for level analysis.
type sampleRing struct {
	mu       sync.Mutex
	buf      []float64
	next     int
	filled   int
	channels int
}

func newSampleRing(size, channels int) *sampleRing {
	if channels <= 0 {
		channels = 1
	}
	return &sampleRing{buf: make([]float64, size), channels: channels}
}

// Write downmixes interleaved PCM16 frames and appends them.
func (r *sampleRing) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i+r.channels <= len(samples); i += r.channels {
		var sum float64
		for c := 0; c < r.channels; c++ {
			sum += float64(samples[i+c]) / 32768
		}
		r.buf[r.next] = sum / float64(r.channels)
		r.next = (r.next + 1) % len(r.buf)
		if r.filled < len(r.buf) {
			r.filled++
		}
	}
}

// Window fills dst with the latest samples, oldest first. Slots not yet
// written are zero. It returns the number of real samples copied.
func (r *sampleRing) Window(dst []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range dst {
		dst[i] = 0
	}

	n := r.filled
	if n > len(dst) {
		n = len(dst)
	}
	offset := len(dst) - n
	for i := 0; i < n; i++ {
		idx := (r.next - n + i + len(r.buf)) % len(r.buf)
		dst[offset+i] = r.buf[idx]
	}
	return n
}

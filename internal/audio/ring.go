package audio

import "sync"

// Ring is a fixed-size mono sample buffer shared between an audio callback
// and the render loop. Writers overwrite the oldest samples.
type Ring struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
}

// NewRing allocates a ring holding size samples of silence.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Ring{buffer: make([]float32, size)}
}

// Len returns the ring capacity.
func (r *Ring) Len() int {
	return len(r.buffer)
}

// Samples returns a copy of the buffer ordered oldest to newest.
func (r *Ring) Samples() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make([]float32, len(r.buffer))
	if r.index == 0 {
		copy(cp, r.buffer)
		return cp
	}
	copy(cp, r.buffer[r.index:])
	copy(cp[len(r.buffer)-r.index:], r.buffer[:r.index])
	return cp
}

// Write appends samples, dropping the oldest ones once the ring is full.
func (r *Ring) Write(in []float32) {
	if len(in) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(in) >= len(r.buffer) {
		copy(r.buffer, in[len(in)-len(r.buffer):])
		r.index = 0
		return
	}

	if r.index+len(in) <= len(r.buffer) {
		copy(r.buffer[r.index:], in)
		r.index += len(in)
		if r.index == len(r.buffer) {
			r.index = 0
		}
		return
	}

	remaining := len(r.buffer) - r.index
	copy(r.buffer[r.index:], in[:remaining])
	copy(r.buffer, in[remaining:])
	r.index = len(in) - remaining
}

// downmix averages interleaved channels into mono.
func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	mono := make([]float32, len(in)/channels)
	for i := range mono {
		sum := float32(0)
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

package audio

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Synthetic generates a kick-over-pad test signal so the visualizer can run
// without a stream or an input device.
type Synthetic struct {
	ring       *Ring
	rng        *rand.Rand
	sampleRate float64
	bpm        float64

	t         float64
	phasePad  float64
	phaseKick float64
}

// NewSynthetic creates a generator at sampleRate with a ring of size samples.
func NewSynthetic(sampleRate float64, size int, seed int64) *Synthetic {
	if sampleRate <= 0 {
		sampleRate = 44_100
	}
	return &Synthetic{
		ring:       NewRing(size),
		rng:        rand.New(rand.NewSource(seed)),
		sampleRate: sampleRate,
		bpm:        124,
	}
}

// Samples returns the generated signal, oldest first.
func (s *Synthetic) Samples() []float32 {
	return s.ring.Samples()
}

// Generate synthesizes n samples into the ring. It is not safe for
// concurrent use with itself; Run is the only caller in production.
func (s *Synthetic) Generate(n int) {
	if n <= 0 {
		return
	}
	out := make([]float32, n)
	dt := 1 / s.sampleRate
	beatLen := 60 / s.bpm
	for i := range out {
		s.t += dt
		s.phasePad += dt * 0.7
		sinceBeat := math.Mod(s.t, beatLen)
		if sinceBeat < dt {
			s.phaseKick = 0
		}
		s.phaseKick += dt

		kick := math.Exp(-s.phaseKick*14) * math.Sin(2*math.Pi*(48+90*math.Exp(-s.phaseKick*30))*s.phaseKick)
		pad := 0.12 * (0.6 + 0.4*math.Sin(s.phasePad)) * math.Sin(2*math.Pi*220*s.t)
		noise := (s.rng.Float64() - 0.5) * 0.02
		out[i] = float32(clamp(kick*0.85+pad+noise, -1, 1))
	}
	s.ring.Write(out)
}

// Run feeds the ring in real time until ctx is cancelled.
func (s *Synthetic) Run(ctx context.Context) {
	const period = 10 * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	carry := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			carry += now.Sub(last).Seconds() * s.sampleRate
			last = now
			n := int(carry)
			carry -= float64(n)
			s.Generate(n)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

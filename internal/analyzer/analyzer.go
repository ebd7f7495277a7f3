package analyzer

import "math"

// Node is the analysis tap the sampler reads from.
type Node interface {
	FFTSize() int
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	ByteTimeDomainData(dst []byte)
}

// Sampler owns the byte buffers refilled from a Node once per frame.
type Sampler struct {
	node Node
	freq []byte
	wave []byte
}

// NewSampler sizes its buffers from the node.
func NewSampler(node Node) *Sampler {
	return &Sampler{
		node: node,
		freq: make([]byte, node.FrequencyBinCount()),
		wave: make([]byte, node.FFTSize()),
	}
}

// Sample refills both buffers and returns them with the RMS energy of the
// waveform. The slices are reused on the next call.
func (s *Sampler) Sample() (freq, wave []byte, energy float64) {
	s.node.ByteFrequencyData(s.freq)
	s.node.ByteTimeDomainData(s.wave)
	return s.freq, s.wave, Energy(s.wave)
}

// Energy is the RMS of the waveform with 128 as zero. Silence is exactly 0.
func Energy(wave []byte) float64 {
	if len(wave) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range wave {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(wave)))
}

// DefaultThreshold is the beat threshold used when none is configured.
const DefaultThreshold = 1.25

const (
	avgDecay     = 0.96
	beatCooldown = 14
)

// BeatDetector flags energy spikes above a slow running average with a
// refractory window of beatCooldown ticks.
type BeatDetector struct {
	avg      float64
	seeded   bool
	cooldown int
}

// NewBeatDetector seeds its average from the first observed energy.
func NewBeatDetector() *BeatDetector {
	return &BeatDetector{}
}

// NewBeatDetectorFrom starts from a known average.
func NewBeatDetectorFrom(avg float64) *BeatDetector {
	return &BeatDetector{avg: avg, seeded: true}
}

// Step folds energy into the average and reports a beat. The average is
// updated before the comparison.
func (d *BeatDetector) Step(energy, threshold float64) (avg float64, beat bool) {
	if !d.seeded {
		d.avg = energy
		d.seeded = true
	}
	d.avg = d.avg*avgDecay + energy*(1-avgDecay)
	beat = energy > d.avg*threshold && d.cooldown <= 0
	if beat {
		d.cooldown = beatCooldown
	}
	d.cooldown--
	return d.avg, beat
}

// Average returns the current running energy average.
func (d *BeatDetector) Average() float64 {
	return d.avg
}

// Frame is one tick of analysed audio.
type Frame struct {
	Energy    float64
	EnergyAvg float64
	Beat      bool
	Bands     Bands
	Frequency []byte
	Waveform  []byte
}

// Analyzer combines a Sampler, a BeatDetector and band tracking.
type Analyzer struct {
	sampler *Sampler
	beats   *BeatDetector
	bands   bandTracker
}

// New creates an Analyzer reading from node.
func New(node Node) *Analyzer {
	return &Analyzer{
		sampler: NewSampler(node),
		beats:   NewBeatDetector(),
	}
}

// Analyze samples the node and runs beat detection with threshold.
func (a *Analyzer) Analyze(threshold float64) Frame {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	freq, wave, energy := a.sampler.Sample()
	avg, beat := a.beats.Step(energy, threshold)
	return Frame{
		Energy:    energy,
		EnergyAvg: avg,
		Beat:      beat,
		Bands:     a.bands.update(freq, beat),
		Frequency: freq,
		Waveform:  wave,
	}
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

package audio

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

// AnalyserConfig mirrors the knobs of a browser AnalyserNode.
type AnalyserConfig struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// DefaultAnalyserConfig matches the analyser the stream player was tuned with.
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     1024,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Analyser turns a SampleSource into byte frequency/time-domain buffers with
// AnalyserNode semantics: 8-bit unsigned waveform centred on 128 and a
// smoothed dB spectrum mapped onto 0..255.
type Analyser struct {
	source SampleSource

	mu        sync.Mutex
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64
	window    []float64
	work      []float64
	smoothed  []float64
}

// NewAnalyser validates cfg and precomputes the Blackman window.
func NewAnalyser(source SampleSource, cfg AnalyserConfig) (*Analyser, error) {
	if source == nil {
		return nil, fmt.Errorf("analyser: nil sample source")
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = DefaultAnalyserConfig().FFTSize
	}
	if cfg.FFTSize < 32 || cfg.FFTSize > 32768 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, fmt.Errorf("analyser: fft size %d must be a power of two in [32, 32768]", cfg.FFTSize)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultAnalyserConfig().Smoothing
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		def := DefaultAnalyserConfig()
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}

	a := &Analyser{
		source:    source,
		fftSize:   cfg.FFTSize,
		smoothing: cfg.Smoothing,
		minDB:     cfg.MinDecibels,
		maxDB:     cfg.MaxDecibels,
		window:    make([]float64, cfg.FFTSize),
		work:      make([]float64, cfg.FFTSize),
		smoothed:  make([]float64, cfg.FFTSize/2),
	}
	n := float64(cfg.FFTSize)
	for i := range a.window {
		a.window[i] = blackman(float64(i), n)
	}
	return a, nil
}

// FFTSize returns the transform size, which is also the waveform length.
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount returns half the transform size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// ByteTimeDomainData writes the newest samples as 8-bit PCM with silence at 128.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fill()
	n := min(len(dst), a.fftSize)
	for i := 0; i < n; i++ {
		dst[i] = toByte(128 + a.work[i]*128)
	}
}

// ByteFrequencyData writes the smoothed magnitude spectrum in bytes.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fill()
	for i := range a.work {
		a.work[i] *= a.window[i]
	}
	spectrum := fft.FFTReal(a.work)

	scale := 255 / (a.maxDB - a.minDB)
	n := min(len(dst), len(a.smoothed))
	for k := range a.smoothed {
		mag := cmplx.Abs(spectrum[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= n {
			continue
		}
		if a.smoothed[k] <= 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		dst[k] = toByte((db - a.minDB) * scale)
	}
}

// fill copies the newest fftSize samples into work, padding with silence.
func (a *Analyser) fill() {
	samples := a.source.Samples()
	pad := a.fftSize - len(samples)
	if pad < 0 {
		samples = samples[-pad:]
		pad = 0
	}
	for i := 0; i < pad; i++ {
		a.work[i] = 0
	}
	for i, s := range samples {
		a.work[pad+i] = float64(s)
	}
}

func blackman(i, size float64) float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	x := 2 * math.Pi * i / size
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}

func toByte(v float64) byte {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

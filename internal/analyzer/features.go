package analyzer

import "math"

// Bands summarises the byte spectrum for status displays.
type Bands struct {
	Bass         float64 `json:"bass"`
	Mid          float64 `json:"mid"`
	Treble       float64 `json:"treble"`
	Overall      float64 `json:"overall"`
	BeatStrength float64 `json:"beatStrength"`
}

// Split points as fractions of the bin count. At 44.1 kHz with 512 bins
// these land near 340 Hz and 2.7 kHz.
const (
	bassSplit   = 1.0 / 64
	trebleSplit = 1.0 / 8
)

type bandTracker struct {
	bassPeak   float64
	midPeak    float64
	treblePeak float64
	beatPulse  float64
}

func (t *bandTracker) update(freq []byte, beat bool) Bands {
	if len(freq) == 0 {
		return Bands{}
	}
	n := len(freq)
	lo := max(1, int(math.Round(float64(n)*bassSplit)))
	hi := max(lo+1, int(math.Round(float64(n)*trebleSplit)))

	bass := bandLevel(freq[:lo])
	mid := bandLevel(freq[lo:min(hi, n)])
	treble := 0.0
	if hi < n {
		treble = bandLevel(freq[hi:])
	}

	t.bassPeak = envelope(t.bassPeak, bass, 0.94, 0.75)
	t.midPeak = envelope(t.midPeak, mid, 0.94, 0.78)
	t.treblePeak = envelope(t.treblePeak, treble, 0.94, 0.8)

	if beat {
		t.beatPulse = 1
	}
	t.beatPulse *= 0.88

	b := Bands{
		Bass:         dynamics(bass, t.bassPeak),
		Mid:          dynamics(mid, t.midPeak),
		Treble:       dynamics(treble, t.treblePeak),
		BeatStrength: t.beatPulse,
	}
	b.Overall = (b.Bass + b.Mid + b.Treble) / 3
	return b
}

// GateBands applies a noise floor so weak signals read as zero.
func GateBands(b Bands, floor float64) Bands {
	if floor <= 0 {
		return b
	}
	gate := func(v float64) float64 {
		if v <= floor {
			return 0
		}
		return clamp((v-floor)/(1.0-floor), 0, 1)
	}
	b.Bass = gate(b.Bass)
	b.Mid = gate(b.Mid)
	b.Treble = gate(b.Treble)
	b.Overall = gate(b.Overall)
	b.BeatStrength = gate(b.BeatStrength)
	return b
}

func bandLevel(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, v := range bins {
		sum += int(v)
	}
	return float64(sum) / float64(len(bins)) / 255
}

func envelope(current, input, attack, release float64) float64 {
	if input > current {
		return current*attack + input*(1-attack)
	}
	return current * release
}

func dynamics(value, peak float64) float64 {
	if peak < 0.01 {
		return value
	}
	ratio := value / peak
	if ratio < 0 {
		ratio = 0
	}
	expanded := math.Pow(ratio, 0.7) * peak
	if ratio > 0.85 {
		expanded *= 1.0 + (ratio-0.85)*2.0
	}
	return math.Min(1, expanded)
}

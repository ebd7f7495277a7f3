package params

import (
	"math"
	"math/rand"
	"sync"

	"github.com/guidoenr/shufflizer/internal/theme"
)

// Effect holds the sliders and toggles every effect reads.
type Effect struct {
	Spin          float64 `json:"spin"`
	Trail         float64 `json:"trail"`
	Zap           float64 `json:"zap"`
	Spawn         int     `json:"spawn"`
	Shockwave     float64 `json:"shockwave"`
	BeatThreshold float64 `json:"beatThresh"`
	Glow          bool    `json:"glow"`
	Phosphor      bool    `json:"phosphor"`
	// Segments is read by the tunnel; zero means the effect default.
	Segments int `json:"segments,omitempty"`
}

// Overlay configures the engine-owned rings, spoke and title text.
type Overlay struct {
	Hub            bool    `json:"ovHub"`
	Big            bool    `json:"ovBig"`
	Spoke          bool    `json:"ovSpoke"`
	Throb          float64 `json:"ovThrob"`
	HubRadius      float64 `json:"ovHubR"`
	HubAmp         float64 `json:"ovHubAmp"`
	HubRot         float64 `json:"ovHubRot"`
	BigRadius      float64 `json:"ovBigR"`
	BigAmp         float64 `json:"ovBigAmp"`
	BigRot         float64 `json:"ovBigRot"`
	SpokeLength    float64 `json:"ovSpokeLen"`
	SpokeAmp       float64 `json:"ovSpokeAmp"`
	SpokeRot       float64 `json:"ovSpokeRot"`
	TitleParticles bool    `json:"titleParticles"`
	TrackText      bool    `json:"trackText"`
}

// State is everything the render loop reads from the outside world.
type State struct {
	Effect     Effect        `json:"effect"`
	Overlay    Overlay       `json:"overlay"`
	EffectID   string        `json:"effectId"`
	Bank       string        `json:"bank"`
	Preset     string        `json:"preset"`
	Palette    string        `json:"palette"`
	Custom     theme.Palette `json:"customPalette"`
	Muted      bool          `json:"muted"`
	TrackTitle string        `json:"trackTitle,omitempty"`
}

// Defaults mirror the control panel's initial values.
func Defaults() State {
	return State{
		Effect:   DefaultEffect(),
		Overlay:  DefaultOverlay(),
		EffectID: "tempestTunnel",
		Bank:     "Default",
		Preset:   "Tempest MVP",
		Palette:  theme.DefaultName,
		Custom: theme.Palette{
			Primary: "#39FF14",
			Accent:  "#7CFF5B",
			Glow:    "#39FF14",
			Tint:    0.25,
		},
		Muted: true,
	}
}

// DefaultEffect returns the slider defaults.
func DefaultEffect() Effect {
	return Effect{
		Spin:          1.5,
		Trail:         0.08,
		Zap:           1.0,
		Spawn:         2,
		Shockwave:     1.0,
		BeatThreshold: 1.25,
		Glow:          false,
		Phosphor:      true,
	}
}

// DefaultOverlay returns the overlay defaults with every layer on.
func DefaultOverlay() Overlay {
	return Overlay{
		Hub:            true,
		Big:            true,
		Spoke:          true,
		Throb:          0.75,
		HubRadius:      90,
		HubAmp:         22,
		HubRot:         0.35,
		BigRadius:      320,
		BigAmp:         85,
		BigRot:         -0.18,
		SpokeLength:    900,
		SpokeAmp:       35,
		SpokeRot:       0.55,
		TitleParticles: true,
		TrackText:      true,
	}
}

// Range is a slider's bounds and step.
type Range struct {
	Min, Max, Step float64
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Snap clamps v and aligns it to the step grid starting at Min.
func (r Range) Snap(v float64) float64 {
	v = r.Clamp(v)
	if r.Step <= 0 {
		return v
	}
	steps := math.Floor((v-r.Min)/r.Step + 0.5)
	return r.Clamp(r.Min + steps*r.Step)
}

// Slider ranges.
var (
	SpinRange      = Range{0, 4, 0.05}
	TrailRange     = Range{0.01, 1, 0.01}
	ZapRange       = Range{0, 3, 0.05}
	SpawnRange     = Range{0, 10, 1}
	ShockwaveRange = Range{0, 3, 0.05}
	ThresholdRange = Range{1.05, 1.6, 0.01}
	ThrobRange     = Range{0, 2, 0.05}
	RadiusRange    = Range{0, 1000, 1}
	AmpRange       = Range{0, 300, 1}
	RotRange       = Range{-2, 2, 0.01}
	SpokeLenRange  = Range{0, 3000, 10}
)

// Clamp pulls every numeric field into its range. Segments below the
// minimum are left alone so the tunnel can refuse them.
func (e *Effect) Clamp() {
	e.Spin = SpinRange.Clamp(e.Spin)
	e.Trail = TrailRange.Clamp(e.Trail)
	e.Zap = ZapRange.Clamp(e.Zap)
	e.Spawn = int(SpawnRange.Clamp(float64(e.Spawn)))
	e.Shockwave = ShockwaveRange.Clamp(e.Shockwave)
	e.BeatThreshold = ThresholdRange.Clamp(e.BeatThreshold)
}

// Clamp pulls every numeric overlay field into its range.
func (o *Overlay) Clamp() {
	o.Throb = ThrobRange.Clamp(o.Throb)
	o.HubRadius = RadiusRange.Clamp(o.HubRadius)
	o.HubAmp = AmpRange.Clamp(o.HubAmp)
	o.HubRot = RotRange.Clamp(o.HubRot)
	o.BigRadius = RadiusRange.Clamp(o.BigRadius)
	o.BigAmp = AmpRange.Clamp(o.BigAmp)
	o.BigRot = RotRange.Clamp(o.BigRot)
	o.SpokeLength = SpokeLenRange.Clamp(o.SpokeLength)
	o.SpokeAmp = AmpRange.Clamp(o.SpokeAmp)
	o.SpokeRot = RotRange.Clamp(o.SpokeRot)
}

// MinSegments is the smallest polygon the tunnel accepts.
const MinSegments = 3

// Mutate nudges each slider by a bell-shaped number of steps scaled by
// intensity and randomly flips glow and phosphor.
func (e *Effect) Mutate(rng *rand.Rand, intensity float64) {
	e.Spin = nudge(rng, SpinRange, e.Spin, intensity)
	e.Trail = nudge(rng, TrailRange, e.Trail, intensity)
	e.Zap = nudge(rng, ZapRange, e.Zap, intensity)
	e.Spawn = int(nudge(rng, SpawnRange, float64(e.Spawn), intensity))
	e.Shockwave = nudge(rng, ShockwaveRange, e.Shockwave, intensity)
	e.BeatThreshold = nudge(rng, ThresholdRange, e.BeatThreshold, intensity)

	if rng.Float64() < 0.10*intensity {
		e.Glow = !e.Glow
	}
	if rng.Float64() < 0.06*intensity {
		e.Phosphor = !e.Phosphor
	}
}

func nudge(rng *rand.Rand, r Range, cur, intensity float64) float64 {
	rangeSteps := math.Max(1, roundHalfUp((r.Max-r.Min)/r.Step))
	delta := roundHalfUp(randn(rng) * rangeSteps * 0.08 * intensity)
	return r.Snap(cur + delta*r.Step)
}

// randn approximates a normal sample in [-2, 2].
func randn(rng *rand.Rand) float64 {
	return rng.Float64() + rng.Float64() + rng.Float64() + rng.Float64() - 2
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Store guards the shared State between input goroutines and the render loop.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore wraps an initial state.
func NewStore(initial State) *Store {
	return &Store{state: initial}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn under the write lock and returns the result.
func (s *Store) Update(fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}

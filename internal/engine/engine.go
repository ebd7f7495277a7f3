// Package engine runs the per-tick pipeline: sample audio, detect beats,
// pick the active effect, draw it and the overlays, and finish the frame.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/effects"
	"github.com/guidoenr/shufflizer/internal/overlay"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

// DefaultMaxFPS is the frame-rate ceiling used when Config.MaxFPS is unset.
const DefaultMaxFPS = 60

// Controls supplies the latest user-facing state once per tick.
type Controls interface {
	Snapshot() params.State
}

// Observer receives stage boundaries for profiling. EndFrame gets the
// stats of the frame just drawn.
type Observer interface {
	BeginFrame()
	Mark(stage string)
	EndFrame(Stats)
}

// Config configures an Engine.
type Config struct {
	MaxFPS   float64
	Registry *effects.Registry
	Observer Observer
	Rand     *rand.Rand
	Log      *log.Logger
	// OnFrame runs after each produced frame, outside the engine lock.
	OnFrame func(Stats)
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
)

// Stats describes the most recent frame.
type Stats struct {
	Frames    uint64
	Skipped   uint64
	EffectID  string
	Effect    string
	Energy    float64
	EnergyAvg float64
	Beat      bool
	Bands     analyzer.Bands
	FPS       float64
	Width     float64
	Height    float64
}

// Engine owns the render target, the active effect and the overlay state.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	target   render.Target
	analyzer *analyzer.Analyzer
	controls Controls
	registry *effects.Registry
	log      *log.Logger
	rng      *rand.Rand

	phase  phase
	lastT  time.Duration
	minDt  time.Duration
	active effects.Effect
	// activeID is the id that was requested, not necessarily active.ID().
	activeID string
	state    *effects.State
	overlay  *overlay.State

	palette string
	custom  theme.Palette
	theme   theme.Theme

	stats Stats
}

// New builds an engine drawing into target from the analysis node.
func New(target render.Target, node analyzer.Node, controls Controls, cfg Config) (*Engine, error) {
	if target == nil {
		return nil, fmt.Errorf("engine: nil target")
	}
	if node == nil {
		return nil, fmt.Errorf("engine: nil analysis node")
	}
	if controls == nil {
		return nil, fmt.Errorf("engine: nil controls")
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = DefaultMaxFPS
	}
	if cfg.Registry == nil {
		cfg.Registry = effects.DefaultRegistry()
	}
	if len(cfg.Registry.IDs()) == 0 {
		return nil, fmt.Errorf("engine: empty effect registry")
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:      cfg,
		target:   target,
		analyzer: analyzer.New(node),
		controls: controls,
		registry: cfg.Registry,
		log:      cfg.Log,
		rng:      cfg.Rand,
		minDt:    time.Duration(float64(time.Second) / cfg.MaxFPS),
		overlay:  overlay.NewState(),
	}, nil
}

// Frame handles one host clock callback at time t. The first call only
// records t. Later calls arriving sooner than the ceiling allows are
// dropped. It reports whether a frame was drawn.
func (e *Engine) Frame(t time.Duration) bool {
	stats, ok := e.frame(t)
	if ok && e.cfg.OnFrame != nil {
		e.cfg.OnFrame(stats)
	}
	return ok
}

func (e *Engine) frame(t time.Duration) (Stats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == phaseIdle {
		e.lastT = t
		e.phase = phaseRunning
		return Stats{}, false
	}
	if t-e.lastT < e.minDt {
		e.stats.Skipped++
		return Stats{}, false
	}
	dt := (t - e.lastT).Seconds()
	e.lastT = t

	obs := e.cfg.Observer
	if obs != nil {
		obs.BeginFrame()
	}
	mark := func(stage string) {
		if obs != nil {
			obs.Mark(stage)
		}
	}

	snap := e.controls.Snapshot()
	audio := e.analyzer.Analyze(snap.Effect.BeatThreshold)
	mark("analyze")

	e.resolveTheme(snap)
	w, h := e.target.Size()

	ctx := &effects.Context{
		Surface: e.target,
		Width:   w,
		Height:  h,
		Elapsed: t,
		Delta:   dt,
		Audio:   audio,
		Globals: effects.Globals{
			Glow:       snap.Effect.Glow,
			Phosphor:   snap.Effect.Phosphor,
			TrackTitle: snap.TrackTitle,
		},
		Theme: e.theme,
		Rand:  e.rng,
	}

	e.target.BeginFrame()
	e.selectEffect(snap.EffectID, snap.Effect, ctx)
	ctx.State = e.state
	ctx.Params = e.effectParams(snap.Effect)

	if u, ok := e.active.(effects.Updater); ok {
		u.Update(ctx)
	}
	e.active.Render(ctx)
	mark("effect")

	overlay.Draw(e.target, e.overlay, overlay.Input{
		Width:   w,
		Height:  h,
		Elapsed: t,
		Audio:   audio,
		Params:  snap.Overlay,
		Theme:   e.theme,
		Glow:    snap.Effect.Glow,
		Title:   snap.TrackTitle,
		Rand:    e.rng,
	})
	mark("overlay")

	e.target.EndFrame()
	mark("raster")

	e.stats.Frames++
	e.stats.EffectID = e.active.ID()
	e.stats.Effect = e.active.Name()
	e.stats.Energy = audio.Energy
	e.stats.EnergyAvg = audio.EnergyAvg
	e.stats.Beat = audio.Beat
	e.stats.Bands = audio.Bands
	e.stats.Width, e.stats.Height = w, h
	if dt > 0 {
		e.stats.FPS = 1 / dt
	}
	if obs != nil {
		obs.EndFrame(e.stats)
	}
	return e.stats, true
}

// selectEffect switches when nothing is active yet or a different id was
// requested. An empty id keeps the current effect.
func (e *Engine) selectEffect(id string, p params.Effect, ctx *effects.Context) {
	if e.active != nil && (id == "" || id == e.activeID) {
		return
	}
	fx := e.registry.Lookup(id)
	e.active = fx
	e.activeID = id
	e.state = effects.NewState()

	ctx.State = e.state
	ctx.Params = e.effectParams(p)
	if err := initEffect(fx, ctx); err != nil {
		e.log.Printf("[engine] effect %s init failed: %v", fx.ID(), err)
	}
	e.log.Printf("[engine] effect %s active", fx.ID())
}

func (e *Engine) effectParams(p params.Effect) params.Effect {
	d := e.active.Defaults()
	d.Fill(&p)
	return p
}

// initEffect runs the optional Init hook, turning a panic into an error.
func initEffect(fx effects.Effect, ctx *effects.Context) (err error) {
	in, ok := fx.(effects.Initializer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return in.Init(ctx)
}

func (e *Engine) resolveTheme(s params.State) {
	if e.theme.Name != "" && s.Palette == e.palette && s.Custom == e.custom {
		return
	}
	e.palette = s.Palette
	e.custom = s.Custom
	e.theme = theme.New(s.Palette, s.Custom)
}

// Resize changes the logical viewport. It returns the backing store size.
func (e *Engine) Resize(width, height, dpr float64) (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target.Resize(width, height, dpr)
}

// Stats returns a copy of the latest frame statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run feeds host clock ticks into Frame until ctx is done.
func (e *Engine) Run(ctx context.Context, ticks <-chan time.Time) error {
	var start time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now, ok := <-ticks:
			if !ok {
				return nil
			}
			if start.IsZero() {
				start = now
			}
			e.Frame(now.Sub(start))
		}
	}
}

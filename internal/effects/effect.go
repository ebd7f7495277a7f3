// Package effects contains the pluggable visualizers and the registry the
// engine selects them from.
package effects

import (
	"math/rand"
	"time"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

// Globals are flags shared by every effect and the overlays.
type Globals struct {
	Glow       bool
	Phosphor   bool
	TrackTitle string
}

// Context is everything an effect sees for one tick.
type Context struct {
	Surface render.Surface
	Width   float64
	Height  float64
	Elapsed time.Duration
	// Delta is the time since the previous rendered tick in seconds.
	Delta   float64
	Audio   analyzer.Frame
	Globals Globals
	Params  params.Effect
	Theme   theme.Theme
	State   *State
	Rand    *rand.Rand
}

// Effect draws one visual style. Implementations keep all mutable data in
// Context.State so switching effects discards it.
type Effect interface {
	ID() string
	Name() string
	Defaults() params.EffectOverrides
	Render(ctx *Context)
}

// Initializer is implemented by effects that prepare state on activation.
// Errors are logged by the engine and do not stop rendering.
type Initializer interface {
	Init(ctx *Context) error
}

// Updater is implemented by effects that advance simulation before Render.
type Updater interface {
	Update(ctx *Context)
}

// State is per-activation storage keyed by name.
type State struct {
	slots map[string]any
}

// NewState returns empty storage.
func NewState() *State {
	return &State{slots: make(map[string]any)}
}

// Len reports how many slots have been created.
func (s *State) Len() int {
	return len(s.slots)
}

// Slot returns the value stored under key, creating it with init on first use.
func Slot[T any](s *State, key string, init func() T) *T {
	if v, ok := s.slots[key]; ok {
		if p, ok := v.(*T); ok {
			return p
		}
	}
	v := init()
	p := &v
	s.slots[key] = p
	return p
}

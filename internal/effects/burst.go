package effects

import (
	"math"

	"github.com/guidoenr/shufflizer/internal/params"
)

// Burst sprays spinning crosses from an emitter orbiting the centre.
type Burst struct{}

type particle struct {
	x, y   float64
	vx, vy float64
	life   float64
	rot    float64
	spin   float64
	length float64
}

type burstState struct {
	theta     float64
	orbit     float64
	particles []particle
}

const (
	burstOrbitStart = 120
	burstCullMargin = 200
	fallbackDelta   = 0.016
)

func (Burst) ID() string                       { return "vectorBurst" }
func (Burst) Name() string                     { return "Vector Burst" }
func (Burst) Defaults() params.EffectOverrides { return params.EffectOverrides{} }

func (Burst) state(ctx *Context) *burstState {
	return Slot(ctx.State, "burst", func() burstState {
		return burstState{orbit: burstOrbitStart}
	})
}

// Init places the emitter on its starting orbit.
func (b Burst) Init(ctx *Context) error {
	st := b.state(ctx)
	st.theta = 0
	st.orbit = burstOrbitStart
	return nil
}

// Update moves the emitter, emits and integrates particles, and culls the
// dead or far off-screen ones.
func (b Burst) Update(ctx *Context) {
	st := b.state(ctx)
	e := ctx.Audio.Energy

	dt := ctx.Delta
	if dt == 0 {
		dt = fallbackDelta
	}
	kick := 0.0
	if ctx.Audio.Beat {
		kick = 1.2
	}
	st.theta += (0.35 + kick) * dt
	st.orbit = st.orbit*0.92 + (80+e*260)*0.08

	ex := ctx.Width/2 + math.Cos(st.theta)*st.orbit
	ey := ctx.Height/2 + math.Sin(st.theta)*st.orbit

	emit := 1
	if ctx.Audio.Beat {
		emit = ctx.Params.Spawn + 6
	}
	for i := 0; i < emit; i++ {
		a := randRange(ctx, 0, 2*math.Pi)
		sp := randRange(ctx, 2, 8) + e*20*ctx.Params.Zap
		st.particles = append(st.particles, particle{
			x:      ex,
			y:      ey,
			vx:     math.Cos(a) * sp,
			vy:     math.Sin(a) * sp,
			life:   randRange(ctx, 0.6, 1.2),
			rot:    randRange(ctx, 0, 2*math.Pi),
			spin:   randRange(ctx, -0.12, 0.12),
			length: randRange(ctx, 10, 40) + e*120,
		})
	}

	kept := st.particles[:0]
	for i := range st.particles {
		p := st.particles[i]
		p.x += p.vx
		p.y += p.vy
		p.rot += p.spin
		p.vx *= 0.985
		p.vy *= 0.985
		p.life -= 0.02

		if p.life <= 0 ||
			p.x < -burstCullMargin || p.x > ctx.Width+burstCullMargin ||
			p.y < -burstCullMargin || p.y > ctx.Height+burstCullMargin {
			continue
		}
		kept = append(kept, p)
	}
	st.particles = kept
}

func (b Burst) Render(ctx *Context) {
	st := b.state(ctx)
	s := ctx.Surface

	clearFrame(ctx)
	stroke := setStroke(ctx, 1000, 0.55, 1.2+ctx.Audio.Energy*4)

	s.Save()
	glow(ctx, 10, stroke)
	for _, p := range st.particles {
		s.Save()
		s.SetAlpha(p.life)
		s.Translate(p.x, p.y)
		s.Rotate(p.rot)
		s.BeginPath()
		s.MoveTo(-p.length, 0)
		s.LineTo(p.length, 0)
		s.MoveTo(0, -p.length*0.35)
		s.LineTo(0, p.length*0.35)
		s.Stroke()
		s.Restore()
	}
	s.Restore()
}

package effects

import (
	"fmt"
	"math"

	"github.com/guidoenr/shufflizer/internal/params"
)

const defaultSegments = 16

// Tunnel spins a polygon rim, throws pentagons outward on beats and emits
// shockwave rings.
type Tunnel struct{}

type tunnelShape struct {
	angle  float64
	radius float64
	spin   float64
	life   float64
}

type tunnelState struct {
	angle    float64
	segments int
	shapes   []tunnelShape
	rings    []Ring
	hand     scopeHand
}

func (Tunnel) ID() string   { return "tempestTunnel" }
func (Tunnel) Name() string { return "Tempest Tunnel" }

func (Tunnel) Defaults() params.EffectOverrides {
	return params.EffectOverrides{Segments: params.Int(defaultSegments)}
}

func (Tunnel) state(ctx *Context) *tunnelState {
	return Slot(ctx.State, "tunnel", func() tunnelState { return tunnelState{} })
}

// Init validates the rim polygon.
func (t Tunnel) Init(ctx *Context) error {
	st := t.state(ctx)
	segs := ctx.Params.Segments
	if segs == 0 {
		segs = defaultSegments
	}
	if segs < params.MinSegments {
		return fmt.Errorf("tunnel: %d segments, need at least %d", segs, params.MinSegments)
	}
	st.segments = segs
	return nil
}

// Render follows live Segments changes; values below MinSegments keep the
// previous polygon.
func (t Tunnel) Render(ctx *Context) {
	st := t.state(ctx)
	switch {
	case ctx.Params.Segments >= params.MinSegments:
		st.segments = ctx.Params.Segments
	case st.segments < params.MinSegments:
		st.segments = defaultSegments
	}
	s := ctx.Surface
	e := ctx.Audio.Energy
	p := ctx.Params
	cx, cy := ctx.Width/2, ctx.Height/2

	clearFrame(ctx)
	stroke := setStroke(ctx, 800, 0.5, 2+e*5)

	st.angle += p.Spin*0.01 + e*0.1

	s.Save()
	glow(ctx, 10, stroke)
	radius := 200 + e*100*p.Zap
	s.BeginPath()
	for i := 0; i <= st.segments; i++ {
		a := st.angle + float64(i)/float64(st.segments)*2*math.Pi
		x, y := cx+math.Cos(a)*radius, cy+math.Sin(a)*radius
		if i == 0 {
			s.MoveTo(x, y)
		} else {
			s.LineTo(x, y)
		}
	}
	s.Stroke()
	s.Restore()

	if ctx.Audio.Beat {
		for i := 0; i < p.Spawn; i++ {
			st.shapes = append(st.shapes, tunnelShape{
				angle:  ctx.Rand.Float64() * 2 * math.Pi,
				radius: 100 + ctx.Rand.Float64()*200,
				spin:   (ctx.Rand.Float64() - 0.5) * 0.1,
				life:   1,
			})
		}
	}

	size := 10 + e*50
	kept := st.shapes[:0]
	for i := range st.shapes {
		sh := st.shapes[i]
		sh.angle += sh.spin + e*0.1
		sh.radius += e * 10
		sh.life -= 0.01

		x := cx + math.Cos(sh.angle)*sh.radius
		y := cy + math.Sin(sh.angle)*sh.radius
		s.Save()
		s.SetAlpha(math.Max(0, sh.life))
		glow(ctx, 10, stroke)
		s.BeginPath()
		for j := 0; j < 5; j++ {
			a := sh.angle + float64(j)*2*math.Pi/5
			s.LineTo(x+math.Cos(a)*size, y+math.Sin(a)*size)
		}
		s.ClosePath()
		s.Stroke()
		s.Restore()

		if sh.life > 0 {
			kept = append(kept, sh)
		}
	}
	st.shapes = kept

	if ctx.Audio.Beat && p.Shockwave > 0.01 {
		st.rings = append(st.rings, Ring{
			Radius: 60,
			Speed:  6 + e*p.Shockwave*18,
			Alpha:  0.9,
			Width:  2 + e*p.Shockwave*6,
		})
	}
	st.rings = stepRings(ctx, st.rings, 0.995, 12, stroke)

	st.hand.draw(ctx, handStyle{spin: 0.016, drift: 0.005, maxFrac: 0.46, glowBlur: 6}, stroke)
}

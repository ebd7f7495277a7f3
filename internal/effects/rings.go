package effects

import (
	"math"

	"github.com/guidoenr/shufflizer/internal/params"
)

// Rings fires bursts of concentric shockwaves on each beat.
type Rings struct{}

type ringsState struct {
	rings []Ring
	hand  scopeHand
}

func (Rings) ID() string                       { return "ringShock" }
func (Rings) Name() string                     { return "Ring Shock" }
func (Rings) Defaults() params.EffectOverrides { return params.EffectOverrides{} }

func (Rings) Render(ctx *Context) {
	st := Slot(ctx.State, "rings", func() ringsState { return ringsState{} })
	s := ctx.Surface
	e := ctx.Audio.Energy
	p := ctx.Params

	clearFrame(ctx)
	stroke := setStroke(ctx, 900, 0.55, 1.5+e*4)

	s.Save()
	glow(ctx, 14, stroke)

	if ctx.Audio.Beat {
		strength := math.Min(2, e*(p.Shockwave+0.25))
		count := p.Spawn
		if count == 0 {
			count = 2
		}
		count = max(1, count)
		for i := 0; i < count; i++ {
			st.rings = append(st.rings, Ring{
				Radius: 40 + float64(i)*18,
				Speed:  8 + strength*20,
				Alpha:  0.95,
				Width:  1.5 + strength*4,
			})
		}
	}
	st.rings = stepRings(ctx, st.rings, 0.997, 0, stroke)
	s.Restore()

	st.hand.draw(ctx, handStyle{spin: 0.018, drift: 0.006, maxFrac: 0.42}, stroke)
}

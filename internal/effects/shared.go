package effects

import (
	"image/color"
	"math"
)

// clearFrame paints the translucent black wash that leaves phosphor trails.
func clearFrame(ctx *Context) {
	alpha := 1.0
	if ctx.Globals.Phosphor {
		alpha = ctx.Params.Trail
	}
	s := ctx.Surface
	s.Save()
	s.SetAlpha(alpha)
	s.SetFillColor(color.Black)
	s.FillRect(0, 0, ctx.Width, ctx.Height)
	s.Restore()
}

// setStroke applies the energy-tinted stroke colour and width.
func setStroke(ctx *Context, hueScale, lightness, width float64) color.Color {
	c := ctx.Theme.Stroke(ctx.Audio.Energy, hueScale, lightness)
	ctx.Surface.SetStrokeColor(c)
	ctx.Surface.SetLineWidth(width)
	return c
}

// glow enables the halo when the global flag is on.
func glow(ctx *Context, blur float64, c color.Color) {
	if ctx.Globals.Glow {
		ctx.Surface.SetGlow(blur, c)
	}
}

// Ring is an expanding shockwave circle.
type Ring struct {
	Radius float64
	Speed  float64
	Alpha  float64
	Width  float64
}

const ringFade = 0.02

// stepRings advances, draws and culls rings in place. Rings fade by a fixed
// amount per tick and are removed once nearly invisible.
func stepRings(ctx *Context, rings []Ring, widthDecay float64, glowBlur float64, stroke color.Color) []Ring {
	s := ctx.Surface
	cx, cy := ctx.Width/2, ctx.Height/2
	kept := rings[:0]
	for i := range rings {
		r := rings[i]
		r.Radius += r.Speed
		r.Alpha -= ringFade
		r.Width *= widthDecay

		s.Save()
		s.SetAlpha(r.Alpha)
		s.SetLineWidth(r.Width)
		if glowBlur > 0 {
			glow(ctx, glowBlur, stroke)
		}
		s.BeginPath()
		s.Arc(cx, cy, r.Radius, 0, 2*math.Pi)
		s.Stroke()
		s.Restore()

		if r.Alpha > ringFade {
			kept = append(kept, r)
		}
	}
	return kept
}

// scopeHand is a rotating clock-hand oscilloscope whose pivot drifts in a
// small circle so no pixel is lit permanently.
type scopeHand struct {
	Angle float64
	Drift float64
}

type handStyle struct {
	spin     float64
	drift    float64
	maxFrac  float64
	glowBlur float64
}

func (h *scopeHand) draw(ctx *Context, st handStyle, stroke color.Color) {
	h.Angle += st.spin
	h.Drift += st.drift

	m := math.Min(ctx.Width, ctx.Height)
	base := m * 0.14
	length := math.Min(m*st.maxFrac, base+ctx.Audio.Energy*m*0.35)
	dcx := ctx.Width/2 + math.Cos(h.Drift)*10
	dcy := ctx.Height/2 + math.Sin(h.Drift)*10

	s := ctx.Surface
	s.Save()
	if st.glowBlur > 0 {
		glow(ctx, st.glowBlur, stroke)
	}
	s.SetAlpha(0.75)
	s.SetLineWidth(1.2)
	s.Translate(dcx, dcy)
	s.Rotate(h.Angle)
	s.BeginPath()
	s.MoveTo(0, 0)
	s.LineTo(length, 0)
	s.Stroke()
	s.Restore()
}

func randRange(ctx *Context, lo, hi float64) float64 {
	return lo + ctx.Rand.Float64()*(hi-lo)
}

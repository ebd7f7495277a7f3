// Package overlay draws the engine-owned layers that sit on top of every
// effect: the hub and outer waveform rings, the diameter spoke, the
// now-playing caption and the drifting title particles.
package overlay

import (
	"image/color"
	"math"
	"math/rand"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

const (
	rotationRate = 0.0025
	maxThrob     = 1.25
	hubWindow    = 5
	captionPad   = 12
	captionSize  = 14
)

// State survives effect switches. Only the engine mutates it.
type State struct {
	HubAngle   float64
	OuterAngle float64
	SpokeAngle float64

	titles    []title
	lastTitle string
	lastPing  time.Duration
	spring    harmonica.Spring
}

// NewState returns overlay state at rest.
func NewState() *State {
	return &State{
		spring: harmonica.NewSpring(harmonica.FPS(60), 6.0, 0.5),
	}
}

// Titles reports how many title particles are alive.
func (s *State) Titles() int {
	return len(s.titles)
}

// Input is one tick's worth of data for Draw.
type Input struct {
	Width   float64
	Height  float64
	Elapsed time.Duration
	Audio   analyzer.Frame
	Params  params.Overlay
	Theme   theme.Theme
	Glow    bool
	Title   string
	Rand    *rand.Rand
}

// Draw renders the caption, the waveform overlays and the title particles,
// in that order, and advances the overlay rotation.
func Draw(s render.Surface, st *State, in Input) {
	if in.Params.TrackText {
		drawCaption(s, in)
	}
	drawRings(s, st, in)
	st.updateTitles(in)
	st.drawTitles(s, in)
}

func drawRings(s render.Surface, st *State, in Input) {
	wave := in.Audio.Waveform
	if len(wave) == 0 {
		return
	}
	p := in.Params
	cx, cy := in.Width/2, in.Height/2
	throb := clamp(in.Audio.Energy*p.Throb, 0, maxThrob)

	st.HubAngle += p.HubRot * rotationRate
	st.OuterAngle += p.BigRot * rotationRate
	st.SpokeAngle += p.SpokeRot * rotationRate

	n := float64(len(wave))

	if p.Hub {
		base := p.HubRadius + throb*18
		amp := p.HubAmp * (0.35 + 0.65*throb)

		s.Save()
		s.Translate(cx, cy)
		s.Rotate(st.HubAngle)
		s.SetAlpha(0.85)
		s.SetLineWidth(2.6)
		s.SetStrokeColor(fade(in.Theme.Primary, 0.95))
		s.BeginPath()
		for i := 0; i < len(wave); i += 6 {
			a := float64(i) / n * 2 * math.Pi
			r := base + (smoothSample(wave, i, hubWindow)-128)/128*amp
			lineOrMove(s, i == 0, math.Cos(a)*r, math.Sin(a)*r)
		}
		s.Stroke()
		s.Restore()
	}

	if p.Big {
		base := p.BigRadius + throb*34
		amp := p.BigAmp * (0.55 + 0.75*throb)

		s.Save()
		s.Translate(cx, cy)
		s.Rotate(st.OuterAngle)
		s.SetAlpha(0.75)
		s.SetLineWidth(3.8)
		s.SetStrokeColor(fade(in.Theme.Primary, 0.80))
		s.BeginPath()
		for i := 0; i < len(wave); i += 3 {
			a := float64(i) / n * 2 * math.Pi
			r := base + (float64(wave[i])-128)/128*amp
			lineOrMove(s, i == 0, math.Cos(a)*r, math.Sin(a)*r)
		}
		// left open: closing draws a chord across the seam
		s.Stroke()
		s.Restore()
	}

	if p.Spoke && len(wave) > 1 {
		length := p.SpokeLength
		amp := p.SpokeAmp * (0.35 + 0.8*throb)

		s.Save()
		s.Translate(cx, cy)
		s.Rotate(st.SpokeAngle)
		s.SetAlpha(0.85)
		s.SetLineWidth(2.0)
		s.SetStrokeColor(fade(in.Theme.Primary, 0.95))
		s.BeginPath()
		for i := 0; i < len(wave); i += 2 {
			x := float64(i)/(n-1)*(length*2) - length
			y := (float64(wave[i]) - 128) / 128 * amp
			lineOrMove(s, i == 0, x, y)
		}
		s.Stroke()
		s.Restore()
	}
}

func drawCaption(s render.Surface, in Input) {
	if in.Title == "" {
		return
	}
	s.Save()
	s.SetAlpha(0.75)
	if in.Glow {
		s.SetGlow(10, color.White)
	}
	s.SetFont(captionSize, render.AlignLeft, render.BaselineBottom)
	s.SetFillColor(fade(in.Theme.Primary, 0.9))
	s.FillText(in.Title, captionPad, in.Height-captionPad)
	s.Restore()
}

// smoothSample averages wave over i-win..i+win, wrapping at both ends.
func smoothSample(wave []byte, i, win int) float64 {
	n := len(wave)
	sum := 0
	for k := -win; k <= win; k++ {
		j := ((i+k)%n + n) % n
		sum += int(wave[j])
	}
	return float64(sum) / float64(2*win+1)
}

func lineOrMove(s render.Surface, first bool, x, y float64) {
	if first {
		s.MoveTo(x, y)
		return
	}
	s.LineTo(x, y)
}

func fade(c colorful.Color, alpha float64) color.NRGBA {
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(clamp(alpha, 0, 1) * 255))}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

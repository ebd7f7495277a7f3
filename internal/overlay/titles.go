package overlay

import (
	"math"
	"strings"
	"time"

	"github.com/guidoenr/shufflizer/internal/render"
)

const (
	maxTitles     = 12
	titleMaxRunes = 44
	titleKeep     = 41
	titlePing     = 60 * time.Second
	titleFade     = 0.008
)

type title struct {
	text   string
	angle  float64
	radius float64
	vel    float64
	target float64
	spin   float64
	drift  float64
	size   float64
	life   float64
}

// truncateTitle shortens long titles to 41 runes plus an ellipsis.
func truncateTitle(s string) string {
	r := []rune(s)
	if len(r) > titleMaxRunes {
		return string(r[:titleKeep]) + "…"
	}
	return s
}

// updateTitles spawns a particle when the title changes and once a minute
// while it stays the same, then advances and culls the live ones.
func (st *State) updateTitles(in Input) {
	text := strings.TrimSpace(in.Title)
	switch {
	case text == "":
		st.lastTitle = ""
	case !in.Params.TitleParticles:
		st.lastTitle = text
		st.lastPing = in.Elapsed
	case text != st.lastTitle:
		st.lastTitle = text
		st.lastPing = in.Elapsed
		st.spawnTitle(text, in)
	case in.Elapsed-st.lastPing >= titlePing:
		st.lastPing = in.Elapsed
		st.spawnTitle(text, in)
	}

	e := in.Audio.Energy
	kept := st.titles[:0]
	for i := range st.titles {
		t := st.titles[i]
		jitter := 0.0
		if in.Rand != nil {
			jitter = (in.Rand.Float64() - 0.5) * 0.01
		}
		t.angle += t.spin + e*0.06 + jitter
		t.target += (e*8 + 1.2) * t.drift
		t.radius, t.vel = st.spring.Update(t.radius, t.vel, t.target)
		t.life -= titleFade
		if t.life > 0 {
			kept = append(kept, t)
		}
	}
	st.titles = kept
}

func (st *State) spawnTitle(text string, in Input) {
	rnd := func() float64 { return 0.5 }
	if in.Rand != nil {
		rnd = in.Rand.Float64
	}
	r := 30 + rnd()*40
	st.titles = append(st.titles, title{
		text:   truncateTitle(text),
		angle:  rnd() * 2 * math.Pi,
		radius: r,
		target: r,
		spin:   (rnd() - 0.5) * 0.08,
		drift:  0.6 + rnd()*1.2,
		size:   18 + rnd()*10,
		life:   1,
	})
	if over := len(st.titles) - maxTitles; over > 0 {
		st.titles = append(st.titles[:0], st.titles[over:]...)
	}
}

func (st *State) drawTitles(s render.Surface, in Input) {
	if len(st.titles) == 0 {
		return
	}
	cx, cy := in.Width/2, in.Height/2
	c := in.Theme.Stroke(in.Audio.Energy, 800, 0.5)
	for _, t := range st.titles {
		s.Save()
		s.SetAlpha(t.life)
		if in.Glow {
			s.SetGlow(10, c)
		}
		s.SetFont(math.Floor(t.size), render.AlignCenter, render.BaselineMiddle)
		s.SetFillColor(c)
		s.FillText(t.text, cx+math.Cos(t.angle)*t.radius, cy+math.Sin(t.angle)*t.radius)
		s.Restore()
	}
}

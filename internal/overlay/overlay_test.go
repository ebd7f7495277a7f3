package overlay

import (
	"image/color"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

type point struct{ x, y float64 }

// surface records path vertices, strokes and text.
type surface struct {
	paths   [][]point
	closed  int
	texts   []string
	textPos []point
	alpha   float64
	saved   []float64
}

func (s *surface) Save()    { s.saved = append(s.saved, s.alpha) }
func (s *surface) Restore() { s.alpha, s.saved = s.saved[len(s.saved)-1], s.saved[:len(s.saved)-1] }

func (s *surface) Translate(x, y float64)                                {}
func (s *surface) Rotate(float64)                                        {}
func (s *surface) SetAlpha(a float64)                                    { s.alpha = a }
func (s *surface) SetLineWidth(float64)                                  {}
func (s *surface) SetStrokeColor(color.Color)                            {}
func (s *surface) SetFillColor(color.Color)                              {}
func (s *surface) SetGlow(float64, color.Color)                          {}
func (s *surface) BeginPath()                                            { s.paths = append(s.paths, nil) }
func (s *surface) MoveTo(x, y float64)                                   { s.add(x, y) }
func (s *surface) LineTo(x, y float64)                                   { s.add(x, y) }
func (s *surface) Arc(cx, cy, r, a0, a1 float64)                         {}
func (s *surface) ClosePath()                                            { s.closed++ }
func (s *surface) Stroke()                                               {}
func (s *surface) Fill()                                                 {}
func (s *surface) FillRect(x, y, w, h float64)                           {}
func (s *surface) SetFont(float64, render.TextAlign, render.TextBaseline) {}

func (s *surface) FillText(text string, x, y float64) {
	s.texts = append(s.texts, text)
	s.textPos = append(s.textPos, point{x, y})
}

func (s *surface) add(x, y float64) {
	i := len(s.paths) - 1
	s.paths[i] = append(s.paths[i], point{x, y})
}

func flatWave(n int) []byte {
	w := make([]byte, n)
	for i := range w {
		w[i] = 128
	}
	return w
}

func input(wave []byte) Input {
	return Input{
		Width:  800,
		Height: 600,
		Audio:  analyzer.Frame{Waveform: wave},
		Params: params.DefaultOverlay(),
		Theme:  theme.New(theme.DefaultName, theme.Palette{}),
		Rand:   rand.New(rand.NewSource(7)),
	}
}

func TestRingsPointCounts(t *testing.T) {
	s := &surface{}
	in := input(flatWave(1024))
	in.Params.TrackText = false
	Draw(s, NewState(), in)

	if len(s.paths) != 3 {
		t.Fatalf("paths=%d want 3", len(s.paths))
	}
	if got := len(s.paths[0]); got != 171 {
		t.Fatalf("hub points=%d want 171", got)
	}
	if got := len(s.paths[1]); got != 342 {
		t.Fatalf("outer points=%d want 342", got)
	}
	if got := len(s.paths[2]); got != 512 {
		t.Fatalf("spoke points=%d want 512", got)
	}
	if s.closed != 0 {
		t.Fatalf("overlay paths must stay open, closed=%d", s.closed)
	}
}

func TestFlatWaveGivesCircleAtBaseRadius(t *testing.T) {
	s := &surface{}
	in := input(flatWave(256))
	in.Params.Big, in.Params.Spoke, in.Params.TrackText = false, false, false
	Draw(s, NewState(), in)

	for _, p := range s.paths[0] {
		if r := math.Hypot(p.x, p.y); math.Abs(r-in.Params.HubRadius) > 1e-9 {
			t.Fatalf("radius=%f want %f", r, in.Params.HubRadius)
		}
	}
}

func TestSpokeSpansDiameter(t *testing.T) {
	s := &surface{}
	in := input(flatWave(5))
	in.Params.Hub, in.Params.Big, in.Params.TrackText = false, false, false
	in.Params.SpokeLength = 100
	Draw(s, NewState(), in)

	pts := s.paths[0]
	if len(pts) != 3 || pts[0].x != -100 || pts[2].x != 100 {
		t.Fatalf("spoke points=%v", pts)
	}
}

func TestAnglesAdvance(t *testing.T) {
	st := NewState()
	in := input(flatWave(64))
	in.Params.HubRot = 2
	for i := 0; i < 10; i++ {
		Draw(&surface{}, st, in)
	}
	if math.Abs(st.HubAngle-0.05) > 1e-12 {
		t.Fatalf("hub angle=%f want 0.05", st.HubAngle)
	}
}

func TestEmptyWaveSkipsRings(t *testing.T) {
	s := &surface{}
	st := NewState()
	in := input(nil)
	Draw(s, st, in)
	if len(s.paths) != 0 || st.HubAngle != 0 {
		t.Fatalf("expected no rings, paths=%d angle=%f", len(s.paths), st.HubAngle)
	}
}

func TestSmoothSampleWraps(t *testing.T) {
	wave := flatWave(16)
	wave[15] = 128 + 11
	if got := smoothSample(wave, 0, 5); got != 129 {
		t.Fatalf("smooth=%f want 129", got)
	}
}

func TestCaptionBottomLeft(t *testing.T) {
	s := &surface{}
	in := input(nil)
	in.Title = "Artist - Song"
	in.Params.TitleParticles = false
	Draw(s, NewState(), in)
	if len(s.texts) != 1 || s.texts[0] != "Artist - Song" {
		t.Fatalf("texts=%v", s.texts)
	}
	if s.textPos[0] != (point{12, 588}) {
		t.Fatalf("caption at %v", s.textPos[0])
	}

	s = &surface{}
	in.Params.TrackText = false
	Draw(s, NewState(), in)
	if len(s.texts) != 0 {
		t.Fatalf("caption drawn while hidden: %v", s.texts)
	}
}

func TestTitleSpawnsOnChangeAndPing(t *testing.T) {
	st := NewState()
	in := input(nil)
	in.Params.TrackText = false
	in.Title = "one"
	Draw(&surface{}, st, in)
	Draw(&surface{}, st, in)
	if st.Titles() != 1 {
		t.Fatalf("titles=%d want 1", st.Titles())
	}

	in.Title = "two"
	Draw(&surface{}, st, in)
	if st.Titles() != 2 {
		t.Fatalf("titles=%d want 2 after change", st.Titles())
	}

	in.Elapsed = 61 * time.Second
	Draw(&surface{}, st, in)
	if st.Titles() != 3 {
		t.Fatalf("titles=%d want 3 after ping", st.Titles())
	}
}

func TestTitlesCappedAndFade(t *testing.T) {
	st := NewState()
	in := input(nil)
	in.Params.TrackText = false
	for i := 0; i < 20; i++ {
		in.Title = strings.Repeat("x", i+1)
		Draw(&surface{}, st, in)
	}
	if st.Titles() != maxTitles {
		t.Fatalf("titles=%d want %d", st.Titles(), maxTitles)
	}
	if st.titles[maxTitles-1].text != strings.Repeat("x", 20) {
		t.Fatalf("newest title evicted")
	}

	for i := 0; i < 130; i++ {
		Draw(&surface{}, st, in)
	}
	if st.Titles() != 0 {
		t.Fatalf("titles=%d want 0 after fading", st.Titles())
	}
}

func TestTitleParticlesDisabled(t *testing.T) {
	st := NewState()
	in := input(nil)
	in.Params.TitleParticles = false
	in.Title = "quiet"
	Draw(&surface{}, st, in)
	if st.Titles() != 0 {
		t.Fatalf("titles=%d want 0", st.Titles())
	}
}

func TestTruncateTitle(t *testing.T) {
	short := strings.Repeat("a", 44)
	if truncateTitle(short) != short {
		t.Fatalf("44 runes must be kept")
	}
	long := strings.Repeat("é", 45)
	got := truncateTitle(long)
	if []rune(got)[41] != '…' || len([]rune(got)) != 42 {
		t.Fatalf("truncated=%q", got)
	}
}

func TestTitleRadiusFollowsTarget(t *testing.T) {
	st := NewState()
	in := input(nil)
	in.Params.TrackText = false
	in.Title = "drift"
	Draw(&surface{}, st, in)
	start := st.titles[0].radius
	for i := 0; i < 60; i++ {
		Draw(&surface{}, st, in)
	}
	if st.titles[0].radius <= start {
		t.Fatalf("radius did not grow: %f -> %f", start, st.titles[0].radius)
	}
}

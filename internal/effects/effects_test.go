package effects

import (
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

// recorder is a Surface that counts calls and tracks alpha and glow.
type recorder struct {
	strokes     int
	fills       int
	rects       int
	glowStrokes int
	alpha       float64
	glowBlur    float64
	stack       []recState
	rectAlpha   []float64
}

type recState struct {
	alpha    float64
	glowBlur float64
}

func newRecorder() *recorder { return &recorder{alpha: 1} }

func (r *recorder) Save() { r.stack = append(r.stack, recState{r.alpha, r.glowBlur}) }
func (r *recorder) Restore() {
	if len(r.stack) == 0 {
		return
	}
	top := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.alpha, r.glowBlur = top.alpha, top.glowBlur
}

func (r *recorder) Translate(x, y float64)                                {}
func (r *recorder) Rotate(float64)                                        {}
func (r *recorder) SetAlpha(a float64)                                    { r.alpha = a }
func (r *recorder) SetLineWidth(float64)                                  {}
func (r *recorder) SetStrokeColor(color.Color)                            {}
func (r *recorder) SetFillColor(color.Color)                              {}
func (r *recorder) SetGlow(blur float64, _ color.Color)                   { r.glowBlur = blur }
func (r *recorder) BeginPath()                                            {}
func (r *recorder) MoveTo(x, y float64)                                   {}
func (r *recorder) LineTo(x, y float64)                                   {}
func (r *recorder) Arc(cx, cy, rad, a0, a1 float64)                       {}
func (r *recorder) ClosePath()                                            {}
func (r *recorder) Fill()                                                 { r.fills++ }
func (r *recorder) SetFont(float64, render.TextAlign, render.TextBaseline) {}
func (r *recorder) FillText(string, float64, float64)                     {}

func (r *recorder) Stroke() {
	r.strokes++
	if r.glowBlur > 0 {
		r.glowStrokes++
	}
}

func (r *recorder) FillRect(x, y, w, h float64) {
	r.rects++
	r.rectAlpha = append(r.rectAlpha, r.alpha)
}

func newContext(s render.Surface, energy float64, beat bool) *Context {
	return &Context{
		Surface: s,
		Width:   800,
		Height:  600,
		Delta:   1.0 / 60,
		Audio:   analyzer.Frame{Energy: energy, Beat: beat},
		Globals: Globals{Phosphor: true},
		Params:  params.DefaultEffect(),
		Theme:   theme.New(theme.DefaultName, theme.Palette{}),
		State:   NewState(),
		Rand:    rand.New(rand.NewSource(42)),
	}
}

func TestRegistryLookupFallsBackToFirst(t *testing.T) {
	r := DefaultRegistry()
	if got := r.Lookup("ringShock").ID(); got != "ringShock" {
		t.Fatalf("lookup ringShock=%s", got)
	}
	if got := r.Lookup("nope").ID(); got != "tempestTunnel" {
		t.Fatalf("fallback=%s want tempestTunnel", got)
	}
	if got := r.Lookup("").ID(); got != "tempestTunnel" {
		t.Fatalf("empty id fallback=%s", got)
	}
	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "tempestTunnel" || ids[1] != "ringShock" || ids[2] != "vectorBurst" {
		t.Fatalf("ids=%v", ids)
	}
	if NewRegistry().Lookup("x") != nil {
		t.Fatalf("empty registry should return nil")
	}
}

func TestSlotCreatesOnce(t *testing.T) {
	s := NewState()
	calls := 0
	init := func() int { calls++; return 7 }
	p := Slot(s, "k", init)
	*p = 9
	if got := *Slot(s, "k", init); got != 9 || calls != 1 {
		t.Fatalf("slot=%d calls=%d", got, calls)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestTrailAlphaFollowsPhosphor(t *testing.T) {
	rec := newRecorder()
	ctx := newContext(rec, 0, false)
	ctx.Params.Trail = 0.08
	Rings{}.Render(ctx)
	if rec.rects != 1 || rec.rectAlpha[0] != 0.08 {
		t.Fatalf("phosphor trail alpha=%v", rec.rectAlpha)
	}

	rec = newRecorder()
	ctx = newContext(rec, 0, false)
	ctx.Globals.Phosphor = false
	Rings{}.Render(ctx)
	if rec.rectAlpha[0] != 1 {
		t.Fatalf("opaque clear alpha=%v", rec.rectAlpha)
	}
}

func TestTunnelInitRejectsDegeneratePolygon(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	ctx.Params.Segments = 2
	if err := (Tunnel{}).Init(ctx); err == nil {
		t.Fatalf("expected error for 2 segments")
	}
	// Rendering still works with the default polygon.
	Tunnel{}.Render(ctx)
	if st := (Tunnel{}).state(ctx); st.segments != defaultSegments {
		t.Fatalf("segments=%d want %d", st.segments, defaultSegments)
	}
}

func TestTunnelSegmentsFollowLiveParams(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	tn := Tunnel{}
	if err := tn.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tn.Render(ctx)
	st := tn.state(ctx)
	if st.segments != defaultSegments {
		t.Fatalf("segments=%d want %d", st.segments, defaultSegments)
	}

	ctx.Params.Segments = 5
	tn.Render(ctx)
	if st.segments != 5 {
		t.Fatalf("segments=%d want 5 without re-init", st.segments)
	}

	ctx.Params.Segments = 2
	tn.Render(ctx)
	if st.segments != 5 {
		t.Fatalf("degenerate value applied: segments=%d", st.segments)
	}
}

func TestTunnelSpawnsShapesAndRingOnBeat(t *testing.T) {
	ctx := newContext(newRecorder(), 0.5, true)
	ctx.Params.Spawn = 3
	tn := Tunnel{}
	if err := tn.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tn.Render(ctx)
	st := tn.state(ctx)
	if len(st.shapes) != 3 {
		t.Fatalf("shapes=%d want 3", len(st.shapes))
	}
	if len(st.rings) != 1 || st.rings[0].Alpha != 0.9-ringFade {
		t.Fatalf("rings=%+v", st.rings)
	}
}

func TestTunnelShapesExpireAfterHundredTicks(t *testing.T) {
	ctx := newContext(newRecorder(), 0, true)
	ctx.Params.Spawn = 1
	tn := Tunnel{}
	tn.Render(ctx)
	ctx.Audio.Beat = false
	for i := 0; i < 120; i++ {
		tn.Render(ctx)
	}
	if n := len(tn.state(ctx).shapes); n != 0 {
		t.Fatalf("shapes still alive: %d", n)
	}
	if n := len(tn.state(ctx).rings); n != 0 {
		t.Fatalf("rings still alive: %d", n)
	}
}

func TestRingsCountDefaultsWhenSpawnZero(t *testing.T) {
	ctx := newContext(newRecorder(), 0.4, true)
	ctx.Params.Spawn = 0
	Rings{}.Render(ctx)
	st := Slot(ctx.State, "rings", func() ringsState { return ringsState{} })
	if len(st.rings) != 2 {
		t.Fatalf("rings=%d want 2", len(st.rings))
	}
	if st.rings[1].Radius != 40+18+st.rings[1].Speed {
		t.Fatalf("second ring radius=%f", st.rings[1].Radius)
	}
}

func TestRingsStrengthCapped(t *testing.T) {
	ctx := newContext(newRecorder(), 10, true)
	ctx.Params.Shockwave = 3
	Rings{}.Render(ctx)
	st := Slot(ctx.State, "rings", func() ringsState { return ringsState{} })
	if got := st.rings[0].Speed; got != 8+2*20 {
		t.Fatalf("speed=%f want 48", got)
	}
}

func TestRingFadeCulls(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	rings := []Ring{{Radius: 10, Speed: 1, Alpha: 0.05, Width: 2}}
	rings = stepRings(ctx, rings, 0.995, 0, color.White)
	if len(rings) != 1 {
		t.Fatalf("ring at alpha 0.03 should survive")
	}
	rings = stepRings(ctx, rings, 0.995, 0, color.White)
	if len(rings) != 0 {
		t.Fatalf("ring at alpha 0.01 should be culled")
	}
}

func TestBurstEmitsOnePerTickAndMoreOnBeat(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	b := Burst{}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b.Update(ctx)
	if n := len(b.state(ctx).particles); n != 1 {
		t.Fatalf("particles=%d want 1", n)
	}
	ctx.Audio.Beat = true
	ctx.Params.Spawn = 2
	b.Update(ctx)
	if n := len(b.state(ctx).particles); n != 1+8 {
		t.Fatalf("particles=%d want 9", n)
	}
}

func TestBurstOrbitSmoothing(t *testing.T) {
	ctx := newContext(newRecorder(), 1, false)
	b := Burst{}
	b.Update(ctx)
	want := 120*0.92 + (80+260)*0.08
	if got := b.state(ctx).orbit; math.Abs(got-want) > 1e-9 {
		t.Fatalf("orbit=%f want %f", got, want)
	}
}

func TestBurstThetaUsesFallbackDelta(t *testing.T) {
	ctx := newContext(newRecorder(), 0, true)
	ctx.Delta = 0
	b := Burst{}
	b.Update(ctx)
	if got := b.state(ctx).theta; math.Abs(got-(0.35+1.2)*fallbackDelta) > 1e-12 {
		t.Fatalf("theta=%f", got)
	}
}

func TestBurstCullsOffscreen(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	b := Burst{}
	st := b.state(ctx)
	st.particles = append(st.particles, particle{x: -250, y: 0, life: 1})
	b.Update(ctx)
	for _, p := range st.particles {
		if p.x < -burstCullMargin {
			t.Fatalf("off-screen particle kept: %+v", p)
		}
	}
}

func TestBurstParticleLifeDecays(t *testing.T) {
	ctx := newContext(newRecorder(), 0, false)
	b := Burst{}
	st := b.state(ctx)
	st.particles = append(st.particles, particle{x: 400, y: 300, vx: 2, vy: -4, life: 0.03, length: 999})

	b.Update(ctx)
	p := st.particles[0]
	if p.length != 999 {
		t.Fatalf("seeded particle missing after one tick: %+v", st.particles)
	}
	if math.Abs(p.life-0.01) > 1e-12 {
		t.Fatalf("life=%f want 0.01", p.life)
	}
	if math.Abs(p.vx-2*0.985) > 1e-12 || math.Abs(p.vy+4*0.985) > 1e-12 {
		t.Fatalf("velocity=(%f,%f) want damped by 0.985", p.vx, p.vy)
	}
	if p.x != 402 || p.y != 296 {
		t.Fatalf("position=(%f,%f) want (402,296)", p.x, p.y)
	}

	b.Update(ctx)
	for _, q := range st.particles {
		if q.length == 999 {
			t.Fatalf("expired particle kept: %+v", q)
		}
		if q.life <= 0 {
			t.Fatalf("dead particle kept: %+v", q)
		}
	}
}

func TestGlowOnlyWhenEnabled(t *testing.T) {
	rec := newRecorder()
	ctx := newContext(rec, 0.3, false)
	Tunnel{}.Render(ctx)
	if rec.glowStrokes != 0 {
		t.Fatalf("glow strokes without glow flag: %d", rec.glowStrokes)
	}

	rec = newRecorder()
	ctx = newContext(rec, 0.3, false)
	ctx.Globals.Glow = true
	Tunnel{}.Render(ctx)
	if rec.glowStrokes == 0 {
		t.Fatalf("expected glow strokes with glow flag")
	}
	if rec.glowBlur != 0 {
		t.Fatalf("glow leaked past Restore: %f", rec.glowBlur)
	}
}

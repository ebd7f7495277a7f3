package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/rasterizer"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// glow underlay parameters
const (
	glowAlpha = 0.35
	glowWidth = 0.6
)

type matrix struct {
	a, b, c, d, e, f float64
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

func (m matrix) scale() float64 {
	return math.Sqrt(math.Abs(m.a*m.d - m.b*m.c))
}

type drawState struct {
	m         matrix
	alpha     float64
	lineWidth float64
	stroke    color.Color
	fill      color.Color
	glowBlur  float64
	glowColor color.Color
	fontSize  float64
	align     TextAlign
	baseline  TextBaseline
}

type subpath struct {
	pts    [][2]float64
	closed bool
}

// Canvas is a Target that builds vector paths with tdewolff/canvas and
// rasterizes them once per frame onto a persistent RGBA image. Pixels are
// never cleared between frames, so translucent fills leave trails.
//
// Drawing calls and Resize must come from one goroutine. Size, DPR and
// Image may be called from others.
type Canvas struct {
	mu sync.Mutex // guards width, height, dpr and img

	width, height float64
	dpr           float64
	img           *image.RGBA

	state drawState
	stack []drawState
	path  []subpath

	frame *canvas.Canvas
	ctx   *canvas.Context
	dirty bool

	font  *opentype.Font
	faces map[float64]font.Face
}

// NewCanvas allocates a surface of width x height logical pixels.
func NewCanvas(width, height, dpr float64) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%.0f height=%.0f", width, height)
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	c := &Canvas{font: f, faces: make(map[float64]font.Face)}
	c.Resize(width, height, dpr)
	return c, nil
}

// Resize reallocates the backing image at floor(size*dpr) and clears it.
// Sizes past MaxBackingSide are shrunk first.
func (c *Canvas) Resize(width, height, dpr float64) (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vp := Viewport{Width: width, Height: height, DPR: dpr}.Bounded()
	width, height, dpr = vp.Width, vp.Height, vp.DPR
	pw := int(math.Floor(width * dpr))
	ph := int(math.Floor(height * dpr))

	if dpr != c.dpr {
		c.closeFaces()
	}
	c.width, c.height, c.dpr = width, height, dpr
	c.img = image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	c.resetState()
	c.frame, c.ctx, c.dirty = nil, nil, false
	return pw, ph
}

// Size returns the logical dimensions.
func (c *Canvas) Size() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// DPR returns the device pixel ratio in use.
func (c *Canvas) DPR() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dpr
}

// Image returns the backing image. Callers must not hold it across frames
// while another goroutine renders.
func (c *Canvas) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.img
}

// BeginFrame resets the drawing state to identity at the current dpr.
func (c *Canvas) BeginFrame() {
	c.resetState()
}

// EndFrame rasterizes pending vector work.
func (c *Canvas) EndFrame() {
	c.flush()
	c.stack = c.stack[:0]
}

// DevicePoint maps a logical point through the current transform to
// backing-store pixels.
func (c *Canvas) DevicePoint(x, y float64) (float64, float64) {
	return c.state.m.apply(x, y)
}

func (c *Canvas) resetState() {
	c.state = drawState{
		m:         matrix{a: c.dpr, d: c.dpr},
		alpha:     1,
		lineWidth: 1,
		stroke:    color.Black,
		fill:      color.Black,
		fontSize:  10,
	}
	c.stack = c.stack[:0]
	c.path = c.path[:0]
}

func (c *Canvas) Save() {
	c.stack = append(c.stack, c.state)
}

func (c *Canvas) Restore() {
	if len(c.stack) == 0 {
		return
	}
	c.state = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
}

func (c *Canvas) Translate(x, y float64) {
	m := &c.state.m
	m.e += m.a*x + m.c*y
	m.f += m.b*x + m.d*y
}

func (c *Canvas) Rotate(rad float64) {
	sin, cos := math.Sincos(rad)
	m := c.state.m
	c.state.m.a = m.a*cos + m.c*sin
	c.state.m.b = m.b*cos + m.d*sin
	c.state.m.c = m.c*cos - m.a*sin
	c.state.m.d = m.d*cos - m.b*sin
}

func (c *Canvas) SetAlpha(a float64)           { c.state.alpha = clamp01(a) }
func (c *Canvas) SetLineWidth(w float64)       { c.state.lineWidth = math.Max(0, w) }
func (c *Canvas) SetStrokeColor(col color.Color) { c.state.stroke = col }
func (c *Canvas) SetFillColor(col color.Color)   { c.state.fill = col }

func (c *Canvas) SetGlow(blur float64, col color.Color) {
	c.state.glowBlur = blur
	c.state.glowColor = col
}

func (c *Canvas) BeginPath() {
	c.path = c.path[:0]
}

func (c *Canvas) MoveTo(x, y float64) {
	px, py := c.state.m.apply(x, y)
	c.path = append(c.path, subpath{pts: [][2]float64{{px, py}}})
}

func (c *Canvas) LineTo(x, y float64) {
	if len(c.path) == 0 {
		c.MoveTo(x, y)
		return
	}
	px, py := c.state.m.apply(x, y)
	last := &c.path[len(c.path)-1]
	last.pts = append(last.pts, [2]float64{px, py})
}

// Arc appends a polyline approximation of a circular arc.
func (c *Canvas) Arc(cx, cy, r, start, end float64) {
	if r <= 0 {
		return
	}
	sweep := end - start
	devR := r * c.state.m.scale()
	segs := int(math.Ceil(math.Abs(sweep) / (2 * math.Pi) * math.Max(24, math.Min(180, devR/2))))
	if segs < 1 {
		segs = 1
	}
	for i := 0; i <= segs; i++ {
		a := start + sweep*float64(i)/float64(segs)
		x, y := cx+math.Cos(a)*r, cy+math.Sin(a)*r
		if i == 0 && len(c.path) == 0 {
			c.MoveTo(x, y)
			continue
		}
		c.LineTo(x, y)
	}
}

func (c *Canvas) ClosePath() {
	if len(c.path) == 0 {
		return
	}
	c.path[len(c.path)-1].closed = true
}

func (c *Canvas) Stroke() {
	p := c.buildPath(false)
	if p == nil {
		return
	}
	width := c.state.lineWidth * c.state.m.scale()
	if c.state.glowBlur > 0 {
		glow := c.state.glowColor
		if glow == nil {
			glow = c.state.stroke
		}
		c.drawStroke(p, withAlpha(glow, c.state.alpha*glowAlpha), width+c.state.glowBlur*glowWidth*c.dpr)
	}
	c.drawStroke(p, withAlpha(c.state.stroke, c.state.alpha), width)
}

func (c *Canvas) Fill() {
	p := c.buildPath(true)
	if p == nil {
		return
	}
	c.drawFill(p, withAlpha(c.state.fill, c.state.alpha))
}

func (c *Canvas) FillRect(x, y, w, h float64) {
	saved := c.path
	c.path = nil
	c.MoveTo(x, y)
	c.LineTo(x+w, y)
	c.LineTo(x+w, y+h)
	c.LineTo(x, y+h)
	c.ClosePath()
	c.Fill()
	c.path = saved
}

func (c *Canvas) SetFont(size float64, align TextAlign, baseline TextBaseline) {
	c.state.fontSize = size
	c.state.align = align
	c.state.baseline = baseline
}

// FillText draws text anchored at the transformed point. Rotation is not
// applied to glyphs.
func (c *Canvas) FillText(text string, x, y float64) {
	if text == "" {
		return
	}

	c.flush()
	face := c.face(c.state.fontSize)
	if face == nil {
		return
	}
	px, py := c.state.m.apply(x, y)

	adv := font.MeasureString(face, text)
	switch c.state.align {
	case AlignCenter:
		px -= float64(adv) / 64 / 2
	case AlignRight:
		px -= float64(adv) / 64
	}
	met := face.Metrics()
	ascent, descent := float64(met.Ascent)/64, float64(met.Descent)/64
	switch c.state.baseline {
	case BaselineMiddle:
		py += (ascent - descent) / 2
	case BaselineBottom:
		py -= descent
	case BaselineTop:
		py += ascent
	}

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(withAlpha(c.state.fill, c.state.alpha)),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(px * 64), Y: fixed.Int26_6(py * 64)},
	}
	d.DrawString(text)
}

func (c *Canvas) face(size float64) font.Face {
	if f, ok := c.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72 * c.dpr,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil
	}
	c.faces[size] = f
	return f
}

func (c *Canvas) closeFaces() {
	for k, f := range c.faces {
		_ = f.Close()
		delete(c.faces, k)
	}
}

// buildPath converts the recorded device-space polyline into a canvas
// path, flipping y because canvas coordinates grow upward.
func (c *Canvas) buildPath(forFill bool) *canvas.Path {
	if len(c.path) == 0 {
		return nil
	}
	h := float64(c.img.Bounds().Dy())
	p := &canvas.Path{}
	n := 0
	for _, sp := range c.path {
		if len(sp.pts) < 2 {
			continue
		}
		p.MoveTo(sp.pts[0][0], h-sp.pts[0][1])
		for _, pt := range sp.pts[1:] {
			p.LineTo(pt[0], h-pt[1])
		}
		if sp.closed || forFill {
			p.Close()
		}
		n++
	}
	if n == 0 {
		return nil
	}
	return p
}

func (c *Canvas) context() *canvas.Context {
	if c.ctx == nil {
		b := c.img.Bounds()
		c.frame = canvas.New(float64(b.Dx()), float64(b.Dy()))
		c.ctx = canvas.NewContext(c.frame)
	}
	c.dirty = true
	return c.ctx
}

func (c *Canvas) drawStroke(p *canvas.Path, col color.Color, width float64) {
	if width <= 0 {
		return
	}
	ctx := c.context()
	ctx.SetFillColor(canvas.Transparent)
	ctx.SetStrokeColor(col)
	ctx.SetStrokeWidth(width)
	ctx.DrawPath(0, 0, p)
}

func (c *Canvas) drawFill(p *canvas.Path, col color.Color) {
	ctx := c.context()
	ctx.SetStrokeColor(canvas.Transparent)
	ctx.SetFillColor(col)
	ctx.DrawPath(0, 0, p)
}

// flush rasterizes the pending canvas onto the image at one pixel per unit.
func (c *Canvas) flush() {
	if !c.dirty || c.frame == nil {
		return
	}
	c.frame.Render(rasterizer.New(c.img, 1))
	c.frame, c.ctx, c.dirty = nil, nil, false
}

func withAlpha(col color.Color, alpha float64) color.Color {
	if col == nil {
		col = color.Black
	}
	r, g, b, a := col.RGBA()
	if a == 0 {
		return color.NRGBA{}
	}
	na := float64(a) / 0xffff * clamp01(alpha)
	return color.NRGBA{
		R: uint8(r * 0xffff / a >> 8),
		G: uint8(g * 0xffff / a >> 8),
		B: uint8(b * 0xffff / a >> 8),
		A: uint8(math.Round(na * 255)),
	}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

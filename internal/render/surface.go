package render

import (
	"errors"
	"image"
	"image/color"
	"math"
)

// TextAlign is the horizontal anchor for FillText.
type TextAlign int

const (
	AlignLeft TextAlign = iota
	AlignCenter
	AlignRight
)

// TextBaseline is the vertical anchor for FillText.
type TextBaseline int

const (
	BaselineAlphabetic TextBaseline = iota
	BaselineMiddle
	BaselineBottom
	BaselineTop
)

// Surface is the immediate-mode 2D drawing API effects and overlays use.
// Coordinates are logical pixels with y pointing down.
type Surface interface {
	Save()
	Restore()
	Translate(x, y float64)
	Rotate(radians float64)

	SetAlpha(a float64)
	SetLineWidth(w float64)
	SetStrokeColor(c color.Color)
	SetFillColor(c color.Color)
	// SetGlow enables a soft halo around strokes; blur <= 0 disables it.
	SetGlow(blur float64, c color.Color)

	BeginPath()
	MoveTo(x, y float64)
	LineTo(x, y float64)
	Arc(cx, cy, r, start, end float64)
	ClosePath()
	Stroke()
	Fill()

	FillRect(x, y, w, h float64)
	SetFont(size float64, align TextAlign, baseline TextBaseline)
	FillText(text string, x, y float64)
}

// Target is a Surface that owns the pixels it draws into.
type Target interface {
	Surface
	// Resize sets the logical size and device pixel ratio and returns the
	// backing store dimensions.
	Resize(width, height, dpr float64) (pw, ph int)
	Size() (width, height float64)
	BeginFrame()
	EndFrame()
	Image() *image.RGBA
}

// Presenter shows finished frames somewhere.
type Presenter interface {
	Present(img *image.RGBA, status string) error
	Close() error
}

// ErrPresenterQuit is returned by Present when the user closed the output.
var ErrPresenterQuit = errors.New("presenter quit requested")

// ResizeSource is implemented by presenters that learn about size changes.
type ResizeSource interface {
	Resizes() <-chan Viewport
}

// Viewport is a logical size and device pixel ratio.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DPR    float64 `json:"dpr"`
}

// Backing store limits. Requests beyond them are scaled down to fit.
const (
	MaxDPR         = 4
	MaxBackingSide = 8192
)

// Valid reports whether the size is finite and positive.
func (v Viewport) Valid() bool {
	return finite(v.Width) && finite(v.Height) && finite(v.DPR) && v.Width > 0 && v.Height > 0
}

// Bounded clamps the dpr into [1, MaxDPR] and shrinks each logical side so
// that side*dpr stays within MaxBackingSide.
func (v Viewport) Bounded() Viewport {
	if !finite(v.DPR) || v.DPR < 1 {
		v.DPR = 1
	}
	v.DPR = math.Min(v.DPR, MaxDPR)
	v.Width = boundSide(v.Width, v.DPR)
	v.Height = boundSide(v.Height, v.DPR)
	return v
}

func boundSide(side, dpr float64) float64 {
	if math.IsNaN(side) || side < 1 {
		return 1
	}
	return math.Min(side, MaxBackingSide/dpr)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

package render

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

var statusStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFCD73"}).
	Background(lipgloss.AdaptiveColor{Light: "#DDDDDD", Dark: "#1A1A1A"})

// TerminalConfig configures the ASCII presenter.
type TerminalConfig struct {
	Width      int
	Height     int
	Glyphs     string
	UseANSI    bool
	ShowStatus bool
	Out        io.Writer
}

// Terminal shows frames as coloured glyphs, one cell per block of pixels.
type Terminal struct {
	cfg     TerminalConfig
	out     *bufio.Writer
	glyphs  []rune
	width   int
	height  int
	rows    int
	lines   []string
	resizes chan Viewport
	entered bool
}

// NewTerminal switches to the alternate screen and hides the cursor.
func NewTerminal(cfg TerminalConfig) (*Terminal, error) {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", cfg.Width, cfg.Height)
	}
	t := &Terminal{
		cfg:     cfg,
		out:     bufio.NewWriterSize(cfg.Out, 1<<16),
		glyphs:  Glyphs(cfg.Glyphs),
		resizes: make(chan Viewport, 1),
	}
	t.setSize(cfg.Width, cfg.Height)

	t.out.WriteString("\x1b[?1049h\x1b[2J\x1b[H\x1b[?25l")
	t.entered = true
	return t, t.out.Flush()
}

// Resizes reports terminal size changes as a logical viewport. One cell is
// eight logical pixels wide and sixteen tall.
func (t *Terminal) Resizes() <-chan Viewport {
	return t.resizes
}

// CellViewport converts a terminal grid into a logical viewport.
func CellViewport(cols, rows int) Viewport {
	return Viewport{Width: float64(cols * 8), Height: float64(rows * 16), DPR: 1}
}

func (t *Terminal) setSize(w, h int) {
	t.width, t.height = w, h
	t.rows = h
	if t.cfg.ShowStatus && t.rows > 1 {
		t.rows--
	}
	t.lines = make([]string, t.rows)
}

func (t *Terminal) pollSize() {
	f, ok := t.cfg.Out.(*os.File)
	if !ok {
		return
	}
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 || h <= 0 || (w == t.width && h == t.height) {
		return
	}
	t.setSize(w, h)
	select {
	case t.resizes <- CellViewport(w, t.rows):
	default:
	}
}

// Present samples img onto the terminal grid and writes it.
func (t *Terminal) Present(img *image.RGBA, status string) error {
	t.pollSize()
	t.sample(img)

	t.out.WriteString("\x1b[H")
	for _, line := range t.lines {
		t.out.WriteString(line)
		t.out.WriteByte('\n')
	}
	if t.cfg.ShowStatus {
		t.out.WriteString(t.statusBar(status))
	}
	return t.out.Flush()
}

func (t *Terminal) statusBar(text string) string {
	if len(text) > t.width {
		text = text[:t.width]
	}
	if !t.cfg.UseANSI {
		return text + strings.Repeat(" ", t.width-len(text))
	}
	return statusStyle.Width(t.width).Render(text)
}

// sample fills t.lines from img using a worker per row block.
func (t *Terminal) sample(img *image.RGBA) {
	b := img.Bounds()
	if b.Empty() || t.width <= 0 || t.rows <= 0 {
		return
	}
	cellW := float64(b.Dx()) / float64(t.width)
	cellH := float64(b.Dy()) / float64(t.rows)

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > t.rows {
		numWorkers = t.rows
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rowJobs {
				t.lines[y] = t.sampleRow(img, y, cellW, cellH)
			}
		}()
	}
	for y := 0; y < t.rows; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()
}

func (t *Terminal) sampleRow(img *image.RGBA, y int, cellW, cellH float64) string {
	var builder strings.Builder
	builder.Grow(t.width * 8)
	lastColor := -1
	b := img.Bounds()
	y0 := b.Min.Y + int(float64(y)*cellH)
	y1 := max(y0+1, b.Min.Y+int(float64(y+1)*cellH))
	for x := 0; x < t.width; x++ {
		x0 := b.Min.X + int(float64(x)*cellW)
		x1 := max(x0+1, b.Min.X+int(float64(x+1)*cellW))
		r, g, bl := cellAverage(img, x0, y0, min(x1, b.Max.X), min(y1, b.Max.Y))

		lum := 0.2126*r + 0.7152*g + 0.0722*bl
		index := clampInt(int(lum*float64(len(t.glyphs)-1)+0.5), 0, len(t.glyphs)-1)
		if t.cfg.UseANSI {
			fg := rgbToANSI(boost(r, lum), boost(g, lum), boost(bl, lum))
			if fg != lastColor {
				builder.WriteString(colorCode(fg))
				lastColor = fg
			}
		}
		builder.WriteRune(t.glyphs[index])
	}
	if t.cfg.UseANSI {
		builder.WriteString(resetANSI)
	}
	return builder.String()
}

// cellAverage returns the mean colour of a pixel block in [0,1].
func cellAverage(img *image.RGBA, x0, y0, x1, y1 int) (float64, float64, float64) {
	var sr, sg, sb, n int
	stepX := max(1, (x1-x0)/4)
	stepY := max(1, (y1-y0)/4)
	for y := y0; y < y1; y += stepY {
		off := img.PixOffset(x0, y)
		for x := x0; x < x1; x += stepX {
			sr += int(img.Pix[off])
			sg += int(img.Pix[off+1])
			sb += int(img.Pix[off+2])
			off += 4 * stepX
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	d := float64(n) * 255
	return float64(sr) / d, float64(sg) / d, float64(sb) / d
}

// boost lifts dim colours so thin strokes keep their hue in the terminal.
func boost(c, lum float64) float64 {
	if lum <= 0 {
		return 0
	}
	return clamp01(c / math.Max(lum, 0.25))
}

// Close restores the terminal.
func (t *Terminal) Close() error {
	if !t.entered {
		return nil
	}
	t.entered = false
	t.out.WriteString("\x1b[?25h\x1b[?1049l\x1b[0m")
	return t.out.Flush()
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// Grayscale palette for low saturation/contrast
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

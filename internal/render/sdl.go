//go:build sdl

package render

import (
	"fmt"
	"image"

	"github.com/veandco/go-sdl2/sdl"
)

// SDL shows frames in a resizable window through a streaming texture.
type SDL struct {
	window      *sdl.Window
	renderer    *sdl.Renderer
	texture     *sdl.Texture
	texW, texH  int
	windowTitle string
	resizes     chan Viewport
}

// NewSDL opens a window of width x height logical pixels.
func NewSDL(title string, width, height int) (*SDL, error) {
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, err
	}
	window, err := sdl.CreateWindow(
		title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(width), int32(height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE|sdl.WINDOW_ALLOW_HIGHDPI,
	)
	if err != nil {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, err
	}
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		window.Destroy()
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, err
	}
	return &SDL{
		window:      window,
		renderer:    renderer,
		windowTitle: title,
		resizes:     make(chan Viewport, 1),
	}, nil
}

// Resizes reports window size changes in logical pixels with the
// drawable-to-window ratio as dpr.
func (s *SDL) Resizes() <-chan Viewport {
	return s.resizes
}

func (s *SDL) ensureTexture(w, h int) error {
	if s.texture != nil && s.texW == w && s.texH == h {
		return nil
	}
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	tex, err := s.renderer.CreateTexture(
		sdl.PIXELFORMAT_ABGR8888,
		sdl.TEXTUREACCESS_STREAMING,
		int32(w), int32(h),
	)
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}
	s.texture, s.texW, s.texH = tex, w, h
	return nil
}

// Present uploads img and polls window events.
func (s *SDL) Present(img *image.RGBA, status string) error {
	b := img.Bounds()
	if err := s.ensureTexture(b.Dx(), b.Dy()); err != nil {
		return err
	}
	if status != "" && status != s.windowTitle {
		s.window.SetTitle(status)
		s.windowTitle = status
	}
	if err := s.texture.Update(nil, img.Pix, img.Stride); err != nil {
		return err
	}
	if err := s.renderer.Clear(); err != nil {
		return err
	}
	if err := s.renderer.Copy(s.texture, nil, nil); err != nil {
		return err
	}
	s.renderer.Present()

	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return ErrPresenterQuit
		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				s.notifyResize(int(e.Data1), int(e.Data2))
			}
		}
	}
	return nil
}

func (s *SDL) notifyResize(w, h int) {
	dpr := 1.0
	if dw, _, err := s.renderer.GetOutputSize(); err == nil && w > 0 {
		dpr = float64(dw) / float64(w)
	}
	select {
	case s.resizes <- Viewport{Width: float64(w), Height: float64(h), DPR: dpr}:
	default:
	}
}

// Close releases the window.
func (s *SDL) Close() error {
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	if s.renderer != nil {
		s.renderer.Destroy()
		s.renderer = nil
	}
	if s.window != nil {
		s.window.Destroy()
		s.window = nil
	}
	sdl.QuitSubSystem(sdl.INIT_VIDEO)
	return nil
}

// SupportsSDL reports whether the binary was built with the SDL presenter.
func SupportsSDL() bool { return true }

//go:build !sdl

package render

import (
	"errors"
	"image"
)

// SDL is unavailable in builds without the sdl tag.
type SDL struct{}

// NewSDL always fails without the sdl build tag.
func NewSDL(title string, width, height int) (*SDL, error) {
	return nil, errors.New("SDL backend not enabled; rebuild with -tags sdl")
}

func (s *SDL) Present(img *image.RGBA, status string) error { return ErrPresenterQuit }

func (s *SDL) Resizes() <-chan Viewport { return nil }

func (s *SDL) Close() error { return nil }

// SupportsSDL reports whether the binary was built with the SDL presenter.
func SupportsSDL() bool { return false }

// Package theme resolves named colour palettes and mixes the energy-driven
// stroke colour shared by the effects.
package theme

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Palette is the serialisable form of a theme.
type Palette struct {
	Primary string  `json:"primary"`
	Accent  string  `json:"accent"`
	Glow    string  `json:"glow"`
	Tint    float64 `json:"tint"`
}

// CustomName selects the user palette instead of a preset.
const CustomName = "Custom"

// DefaultName is used when the requested palette is unknown.
const DefaultName = "Ember Grid"

type named struct {
	name string
	pal  Palette
}

var presets = []named{
	{"Phosphor Prime", Palette{"#00FF66", "#66FFD0", "#00AA44", 0.65}},
	{"Ember Grid", Palette{"#FF9200", "#FFCD73", "#D77B5F", 0.65}},
	{"Copper Pulse", Palette{"#F18E3F", "#E59579", "#C14C32", 0.65}},
	{"Overdrive", Palette{"#FFC500", "#EC410B", "#B30019", 0.7}},
	{"Midnight Alloy", Palette{"#FFA400", "#6C3400", "#41222A", 0.7}},
	{"Analog Drift", Palette{"#FFCD87", "#BC7576", "#696B7E", 0.6}},
}

// Names lists the preset palettes in display order followed by Custom.
func Names() []string {
	out := make([]string, 0, len(presets)+1)
	for _, p := range presets {
		out = append(out, p.name)
	}
	return append(out, CustomName)
}

// Preset returns a preset palette by exact name.
func Preset(name string) (Palette, bool) {
	for _, p := range presets {
		if p.name == name {
			return p.pal, true
		}
	}
	return Palette{}, false
}

// Theme is a resolved palette ready for drawing.
type Theme struct {
	Name    string
	Primary colorful.Color
	Accent  colorful.Color
	Glow    colorful.Color
	Tint    float64
}

// New resolves name once. Custom uses custom with every field normalised
// against the default preset; unknown names fall back to DefaultName.
func New(name string, custom Palette) Theme {
	def, _ := Preset(DefaultName)
	if name == CustomName {
		return build(CustomName, NormalizePalette(custom, def))
	}
	if pal, ok := Preset(name); ok {
		return build(name, pal)
	}
	return build(DefaultName, def)
}

// NormalizePalette fills invalid fields of p from fallback.
func NormalizePalette(p, fallback Palette) Palette {
	out := Palette{Tint: clamp01(p.Tint)}
	var err error
	if out.Primary, err = NormalizeHex(p.Primary); err != nil {
		out.Primary = fallback.Primary
	}
	if out.Accent, err = NormalizeHex(p.Accent); err != nil {
		out.Accent = fallback.Accent
	}
	if out.Glow, err = NormalizeHex(p.Glow); err != nil {
		out.Glow = fallback.Glow
	}
	return out
}

// NormalizeHex accepts 3 or 6 hex digits with or without '#' and returns
// the upper-case #RRGGBB form.
func NormalizeHex(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return "", fmt.Errorf("theme: invalid hex colour %q", s)
	}
	c, err := colorful.Hex("#" + s)
	if err != nil {
		return "", fmt.Errorf("theme: invalid hex colour %q: %w", s, err)
	}
	return strings.ToUpper(c.Hex()), nil
}

func build(name string, p Palette) Theme {
	return Theme{
		Name:    name,
		Primary: mustHex(p.Primary),
		Accent:  mustHex(p.Accent),
		Glow:    mustHex(p.Glow),
		Tint:    clamp01(p.Tint),
	}
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{R: 1, G: 1, B: 1}
	}
	return c
}

// accentEnergy switches the tint target from Primary to Accent.
const accentEnergy = 0.55

// Stroke mixes a rainbow hue driven by energy toward the palette by Tint.
func (t Theme) Stroke(energy, hueScale, lightness float64) colorful.Color {
	hue := math.Mod(energy*hueScale, 360)
	if hue < 0 {
		hue += 360
	}
	rainbow := colorful.Hsl(hue, 1, lightness)
	target := t.Primary
	if energy > accentEnergy {
		target = t.Accent
	}
	return rainbow.BlendRgb(target, t.Tint).Clamped()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package presets holds the named parameter banks selectable from the
// keyboard and the web panel.
package presets

import (
	"math/rand"

	"github.com/guidoenr/shufflizer/internal/params"
)

// Preset is one named effect configuration.
type Preset struct {
	Name     string        `json:"name"`
	EffectID string        `json:"effectId"`
	Params   params.Effect `json:"params"`
}

// Bank is an ordered group of presets.
type Bank struct {
	Name    string   `json:"name"`
	Presets []Preset `json:"presets"`
}

func p(name, effect string, spin, trail, zap float64, spawn int, shock, thresh float64, glow, phosphor bool) Preset {
	return Preset{
		Name:     name,
		EffectID: effect,
		Params: params.Effect{
			Spin:          spin,
			Trail:         trail,
			Zap:           zap,
			Spawn:         spawn,
			Shockwave:     shock,
			BeatThreshold: thresh,
			Glow:          glow,
			Phosphor:      phosphor,
		},
	}
}

var banks = []Bank{
	{Name: "Default", Presets: []Preset{
		p("Tempest MVP", "tempestTunnel", 1.5, 0.08, 1.0, 2, 1.0, 1.25, false, true),
		p("Hot & Zappy", "tempestTunnel", 2.2, 0.06, 1.8, 4, 1.2, 1.22, true, true),
		p("Slow Phosphor", "tempestTunnel", 0.8, 0.05, 0.7, 1, 0.8, 1.28, false, true),
	}},
	{Name: "Minimal", Presets: []Preset{
		p("Wireframe Clean", "tempestTunnel", 1.2, 0.16, 0.9, 0, 0.0, 1.30, false, false),
	}},
	{Name: "VLM", Presets: []Preset{
		p("Minter 01 (Tunnel)", "tempestTunnel", 1.4, 0.07, 1.2, 2, 1.0, 1.25, false, true),
		p("Minter 02 (Rings)", "ringShock", 1.2, 0.08, 1.1, 3, 1.5, 1.22, true, true),
		p("Minter 03 (Burst)", "vectorBurst", 0.8, 0.07, 1.3, 2, 0.8, 1.26, true, true),
		p("Minter 04 (Clean Rings)", "ringShock", 0.6, 0.14, 0.8, 1, 1.0, 1.32, false, false),
	}},
}

// Banks lists bank names in order.
func Banks() []string {
	out := make([]string, len(banks))
	for i, b := range banks {
		out[i] = b.Name
	}
	return out
}

// All returns a copy of every bank.
func All() []Bank {
	out := make([]Bank, len(banks))
	for i, b := range banks {
		out[i] = Bank{Name: b.Name, Presets: append([]Preset(nil), b.Presets...)}
	}
	return out
}

// Names lists the presets of bank, or nil for an unknown bank.
func Names(bank string) []string {
	b, ok := find(bank)
	if !ok {
		return nil
	}
	out := make([]string, len(b.Presets))
	for i, pr := range b.Presets {
		out[i] = pr.Name
	}
	return out
}

// Get returns the named preset, falling back to the first one in the bank.
// It reports false only when the bank does not exist.
func Get(bank, name string) (Preset, bool) {
	b, ok := find(bank)
	if !ok || len(b.Presets) == 0 {
		return Preset{}, false
	}
	return b.Presets[indexOf(b, name)], true
}

// Step moves dir positions from name within bank, wrapping around.
func Step(bank, name string, dir int) (Preset, bool) {
	b, ok := find(bank)
	if !ok || len(b.Presets) == 0 {
		return Preset{}, false
	}
	n := len(b.Presets)
	i := ((indexOf(b, name)+dir)%n + n) % n
	return b.Presets[i], true
}

// Random picks any preset from any bank.
func Random(rng *rand.Rand) (bank string, pr Preset) {
	total := 0
	for _, b := range banks {
		total += len(b.Presets)
	}
	k := rng.Intn(total)
	for _, b := range banks {
		if k < len(b.Presets) {
			return b.Name, b.Presets[k]
		}
		k -= len(b.Presets)
	}
	return banks[0].Name, banks[0].Presets[0]
}

// Apply loads the preset into s. Overlay and palette choices are kept.
func Apply(s *params.State, bank string, pr Preset) {
	segments := s.Effect.Segments
	s.Bank = bank
	s.Preset = pr.Name
	s.EffectID = pr.EffectID
	s.Effect = pr.Params
	s.Effect.Segments = segments
}

func find(name string) (Bank, bool) {
	for _, b := range banks {
		if b.Name == name {
			return b, true
		}
	}
	return Bank{}, false
}

func indexOf(b Bank, name string) int {
	for i, pr := range b.Presets {
		if pr.Name == name {
			return i
		}
	}
	return 0
}

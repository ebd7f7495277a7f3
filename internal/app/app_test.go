package app

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eiannone/keyboard"

	"github.com/guidoenr/shufflizer/internal/engine"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/web"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()
	cfg := Config{
		Source:  SourceSynthetic,
		Output:  OutputNone,
		WebPort: freePort(t),
		Width:   320,
		Height:  180,
		Seed:    7,
		Log:     log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestKeyBindings(t *testing.T) {
	cases := []struct {
		char rune
		key  keyboard.Key
		want inputEvent
	}{
		{'[', 0, inputEventPrev},
		{']', 0, inputEventNext},
		{'\\', 0, inputEventRandom},
		{'m', 0, inputEventMutateLow},
		{'M', 0, inputEventMutateHigh},
		{'u', 0, inputEventToggleMute},
		{'q', 0, inputEventQuit},
		{0, keyboard.KeyEsc, inputEventQuit},
		{'x', 0, inputEventNone},
	}
	for _, tc := range cases {
		if got := keyEvent(tc.char, tc.key); got != tc.want {
			t.Fatalf("keyEvent(%q, %v)=%v want %v", tc.char, tc.key, got, tc.want)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	base := Config{Source: SourceSynthetic, Output: OutputNone, WebPort: 1, Log: log.New(io.Discard, "", 0)}

	cfg := base
	cfg.Effect = "nope"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected unknown effect error")
	}

	cfg = base
	cfg.Bank = "Nope"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected unknown bank error")
	}

	cfg = base
	cfg.WebPort = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error without any output")
	}

	cfg = base
	cfg.Source = SourceStream
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for stream without url")
	}

	cfg = base
	cfg.FFTSize = 1000
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for non power of two fft size")
	}
}

func TestCommandLineChoicesApply(t *testing.T) {
	a := newTestApp(t, func(c *Config) {
		c.Bank = "VLM"
		c.Preset = "Minter 03 (Burst)"
		c.Palette = "Overdrive"
		c.Unmute = true
	})
	s := a.Snapshot()
	if s.Bank != "VLM" || s.EffectID != "vectorBurst" || s.Palette != "Overdrive" || s.Muted {
		t.Fatalf("state=%+v", s)
	}
}

func TestUpdatePresetCommands(t *testing.T) {
	a := newTestApp(t, nil)

	s, err := a.Update(web.UpdateRequest{Bank: strPtr("VLM"), Preset: strPtr("Minter 02 (Rings)")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.EffectID != "ringShock" || s.Effect.Spawn != 3 {
		t.Fatalf("preset not applied: %+v", s)
	}

	s, _ = a.Update(web.UpdateRequest{Step: 1})
	if s.Preset != "Minter 03 (Burst)" {
		t.Fatalf("next preset=%s", s.Preset)
	}
	s, _ = a.Update(web.UpdateRequest{Step: 2})
	if s.Preset != "Minter 01 (Tunnel)" {
		t.Fatalf("wrapped preset=%s", s.Preset)
	}

	// Partial state runs after the preset command.
	s, _ = a.Update(web.UpdateRequest{
		Step:   -1,
		Update: params.Update{Effect: &params.EffectOverrides{Spin: params.Float(3)}},
	})
	if s.Preset != "Minter 04 (Clean Rings)" || s.Effect.Spin != 3 {
		t.Fatalf("state=%+v", s)
	}

	if _, err := a.Update(web.UpdateRequest{Bank: strPtr("Nope")}); err == nil {
		t.Fatalf("expected unknown bank error")
	}
	if a.Snapshot().Preset != "Minter 04 (Clean Rings)" {
		t.Fatalf("failed command changed state")
	}
}

func TestUpdateRandomAndMutateStayValid(t *testing.T) {
	a := newTestApp(t, nil)
	for i := 0; i < 20; i++ {
		s, err := a.Update(web.UpdateRequest{Random: true, Mutate: params.Float(0.85)})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if !a.registry.Has(s.EffectID) {
			t.Fatalf("random picked unknown effect %q", s.EffectID)
		}
		e := s.Effect
		if e.Spin < params.SpinRange.Min || e.Spin > params.SpinRange.Max ||
			e.BeatThreshold < params.ThresholdRange.Min || e.BeatThreshold > params.ThresholdRange.Max {
			t.Fatalf("mutate left range: %+v", e)
		}
	}
}

func TestToggleMuteFromKeyboard(t *testing.T) {
	a := newTestApp(t, nil)
	if !a.Snapshot().Muted {
		t.Fatalf("expected muted default")
	}
	a.handleInput(inputEventToggleMute)
	if a.Snapshot().Muted {
		t.Fatalf("expected unmuted after toggle")
	}
	a.handleInput(inputEventNext)
	if a.Snapshot().Preset != "Hot & Zappy" {
		t.Fatalf("preset=%s", a.Snapshot().Preset)
	}
}

func TestSaveAndRestore(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.Save(); err == nil {
		t.Fatalf("expected error when settings are disabled")
	}

	dir := t.TempDir()
	a = newTestApp(t, func(c *Config) { c.SettingsDir = dir })
	a.setTrackTitle("Artist - Song")
	if _, err := a.Update(web.UpdateRequest{Bank: strPtr("Minimal")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	path, err := a.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if strings.Contains(string(raw), "Artist - Song") {
		t.Fatalf("track title persisted: %s", raw)
	}

	b := newTestApp(t, func(c *Config) { c.SettingsDir = dir })
	if s := b.Snapshot(); s.Bank != "Minimal" || s.Preset != "Wireframe Clean" || s.TrackTitle != "" {
		t.Fatalf("restored=%+v", s)
	}
}

func TestSettingsDocumentVisualAndAudio(t *testing.T) {
	dir := t.TempDir()
	doc := `{"audio":{"mode":"custom","streamUrl":"/stream.mp3","customUrl":"http://radio.local/live.mp3"},"visual":{"hideTrackText":true}}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := newTestApp(t, func(c *Config) { c.SettingsDir = dir })
	if a.Snapshot().Overlay.TrackText {
		t.Fatalf("hideTrackText ignored")
	}
	if a.cfg.StreamURL != "http://radio.local/live.mp3" {
		t.Fatalf("stream url=%q", a.cfg.StreamURL)
	}
}

func TestStatusLine(t *testing.T) {
	s := params.Defaults()
	s.TrackTitle = "A - B"
	line := statusLine(engine.Stats{Effect: "Tempest Tunnel", FPS: 60, Energy: 0.1, EnergyAvg: 0.05, Beat: true}, s)
	for _, want := range []string{"Tempest Tunnel", "60.0 fps", "*", "Default / Tempest MVP", "muted", "A - B"} {
		if !strings.Contains(line, want) {
			t.Fatalf("status %q missing %q", line, want)
		}
	}
}

type quitPresenter struct {
	calls atomic.Int32
}

func (q *quitPresenter) Present(img *image.RGBA, status string) error {
	q.calls.Add(1)
	return render.ErrPresenterQuit
}

func (q *quitPresenter) Close() error { return nil }

func TestRunDrawsFramesUntilPresenterQuits(t *testing.T) {
	a := newTestApp(t, func(c *Config) { c.HostHz = 240 })
	q := &quitPresenter{}
	a.presenters = append(a.presenters, q)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.calls.Load() == 0 {
		t.Fatalf("presenter never called")
	}
	if a.Stats().Frames == 0 {
		t.Fatalf("no frames drawn")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err=%v", err)
	}
}

func TestProfilerWritesStages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.csv")
	var logs strings.Builder
	p := newProfiler(path, log.New(&logs, "", 0))
	p.BeginFrame()
	p.Mark("analyze")
	p.Mark("effect")
	p.EndFrame(engine.Stats{Frames: 1, EffectID: "ringShock"})
	p.BeginFrame()
	p.Mark("analyze")
	p.EndFrame(engine.Stats{Frames: 2, EffectID: "vectorBurst"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 6 || lines[0] != "timestamp,frame,effect,stage,delta_ms" {
		t.Fatalf("profile=%q", lines)
	}
	for i, want := range []string{",1,ringShock,analyze,", ",1,ringShock,effect,", ",1,ringShock,frame_total,", ",2,vectorBurst,analyze,", ",2,vectorBurst,frame_total,"} {
		if !strings.Contains(lines[i+1], want) {
			t.Fatalf("line %d=%q missing %q", i+1, lines[i+1], want)
		}
	}

	summary := logs.String()
	if !strings.Contains(summary, "ringShock frames=1") || !strings.Contains(summary, "vectorBurst frames=1") ||
		strings.Index(summary, "ringShock") > strings.Index(summary, "vectorBurst") {
		t.Fatalf("summary=%q", summary)
	}

	var nilProfiler *profiler
	nilProfiler.Mark("x")
	nilProfiler.EndFrame(engine.Stats{})
	if err := nilProfiler.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func strPtr(s string) *string { return &s }

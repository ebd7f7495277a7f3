package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"

	"github.com/guidoenr/shufflizer/internal/audio"
	"github.com/guidoenr/shufflizer/internal/effects"
	"github.com/guidoenr/shufflizer/internal/engine"
	"github.com/guidoenr/shufflizer/internal/nowplaying"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/presets"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/settings"
	"github.com/guidoenr/shufflizer/internal/web"
)

// Config configures the application runtime.
type Config struct {
	Source     string
	StreamURL  string
	DeviceName string
	FFTSize    int

	MaxFPS float64
	HostHz float64

	Width  int
	Height int
	DPR    float64
	Output string
	Glyphs string

	WebPort            int
	NowPlayingURL      string
	NowPlayingInterval time.Duration
	SettingsDir        string

	Palette string
	Bank    string
	Preset  string
	Effect  string

	ProfilePath string
	Debug       bool
	UseANSI     bool
	ShowStatus  bool
	Unmute      bool
	Seed        int64
	Log         *log.Logger
}

const (
	SourceStream    = "stream"
	SourceCapture   = "capture"
	SourceSynthetic = "synthetic"

	OutputTerminal = "terminal"
	OutputSDL      = "sdl"
	OutputNone     = "none"
)

type inputEvent int

const (
	inputEventNone inputEvent = iota
	inputEventPrev
	inputEventNext
	inputEventRandom
	inputEventMutateLow
	inputEventMutateHigh
	inputEventToggleMute
	inputEventQuit
)

// App wires an audio source, the engine and every presenter together. It
// is the engine's Controls and the web panel's Controller.
type App struct {
	cfg      Config
	log      *log.Logger
	store    *params.Store
	registry *effects.Registry

	rngMu sync.Mutex
	rng   *rand.Rand

	stream    *audio.Stream
	capture   *audio.Capture
	synthetic *audio.Synthetic
	node      *audio.Analyser

	canvas     *render.Canvas
	engine     *engine.Engine
	presenters []render.Presenter
	web        *web.Server
	poller     *nowplaying.Poller
	settings   *settings.Store
	profiler   *profiler

	inputEvents chan inputEvent
	quit        chan struct{}
	quitOnce    sync.Once
}

// New constructs the application using the provided configuration.
func New(cfg Config) (*App, error) {
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	if cfg.HostHz <= 0 {
		cfg.HostHz = 120
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = engine.DefaultMaxFPS
	}
	if cfg.Source == "" {
		cfg.Source = SourceSynthetic
	}
	if cfg.Output == "" {
		cfg.Output = OutputTerminal
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	a := &App{
		cfg:      cfg,
		log:      cfg.Log,
		registry: effects.DefaultRegistry(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		quit:     make(chan struct{}),
	}

	state, err := a.initialState()
	if err != nil {
		return nil, err
	}
	a.store = params.NewStore(state)

	if err := a.openSource(state); err != nil {
		a.Close()
		return nil, err
	}
	a.node, err = audio.NewAnalyser(a.sampleSource(), audio.AnalyserConfig{FFTSize: cfg.FFTSize})
	if err != nil {
		a.Close()
		return nil, err
	}

	vp := a.initialViewport()
	a.canvas, err = render.NewCanvas(vp.Width, vp.Height, vp.DPR)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.profiler = newProfiler(cfg.ProfilePath, a.log)
	engineCfg := engine.Config{
		MaxFPS:   cfg.MaxFPS,
		Registry: a.registry,
		Rand:     rand.New(rand.NewSource(cfg.Seed + 1)),
		Log:      a.log,
		OnFrame:  a.present,
	}
	if a.profiler != nil {
		engineCfg.Observer = a.profiler
	}
	a.engine, err = engine.New(a.canvas, a.node, a.store, engineCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openPresenters(); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.NowPlayingURL != "" {
		a.poller = nowplaying.New(nowplaying.Config{
			URL:      cfg.NowPlayingURL,
			Interval: cfg.NowPlayingInterval,
			Log:      a.log,
			Debug:    cfg.Debug,
		}, a.setTrackTitle)
	}
	return a, nil
}

// initialState layers persisted settings and command-line choices over the
// defaults.
func (a *App) initialState() (params.State, error) {
	state := params.Defaults()
	if a.cfg.SettingsDir != "" {
		a.settings = settings.New(a.cfg.SettingsDir, "")
		if _, err := a.settings.Load(state); err != nil {
			return state, fmt.Errorf("load settings: %w", err)
		}
		if err := a.settings.Decode(&state); err != nil {
			a.log.Printf("[settings] ignoring unreadable settings: %v", err)
			state = params.Defaults()
		}
		a.applyVisualSettings(&state)
		a.applyAudioSettings()
	}

	if a.cfg.Bank != "" || a.cfg.Preset != "" {
		bank := a.cfg.Bank
		if bank == "" {
			bank = state.Bank
		}
		pr, ok := presets.Get(bank, a.cfg.Preset)
		if !ok {
			return state, fmt.Errorf("unknown preset bank %q (have %v)", bank, presets.Banks())
		}
		presets.Apply(&state, bank, pr)
	}
	if a.cfg.Effect != "" {
		if !a.registry.Has(a.cfg.Effect) {
			return state, fmt.Errorf("unknown effect %q (have %v)", a.cfg.Effect, a.registry.IDs())
		}
		state.EffectID = a.cfg.Effect
	}
	if a.cfg.Palette != "" {
		state.Palette = a.cfg.Palette
	}
	if a.cfg.Unmute {
		state.Muted = false
	}
	state.TrackTitle = ""
	return state, nil
}

type savedAudio struct {
	Mode      string `json:"mode"`
	StreamURL string `json:"streamUrl"`
	CustomURL string `json:"customUrl"`
}

type savedVisual struct {
	HideTrackText bool `json:"hideTrackText"`
}

type savedDocument struct {
	Audio  savedAudio  `json:"audio"`
	Visual savedVisual `json:"visual"`
}

func (a *App) applyVisualSettings(s *params.State) {
	var doc savedDocument
	if err := a.settings.Decode(&doc); err != nil {
		return
	}
	if doc.Visual.HideTrackText {
		s.Overlay.TrackText = false
	}
}

// applyAudioSettings fills the stream URL from the settings document when
// the command line left it empty.
func (a *App) applyAudioSettings() {
	if a.cfg.StreamURL != "" {
		return
	}
	var doc savedDocument
	if err := a.settings.Decode(&doc); err != nil {
		return
	}
	url := doc.Audio.StreamURL
	if doc.Audio.Mode == "custom" && doc.Audio.CustomURL != "" {
		url = doc.Audio.CustomURL
	}
	// Page-relative paths only make sense in a browser.
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		a.cfg.StreamURL = url
	}
}

func (a *App) openSource(state params.State) error {
	size := a.cfg.FFTSize
	if size <= 0 {
		size = audio.DefaultAnalyserConfig().FFTSize
	}
	switch a.cfg.Source {
	case SourceStream:
		if a.cfg.StreamURL == "" {
			return errors.New("stream source needs -stream-url")
		}
		a.stream = audio.NewStream(audio.StreamConfig{
			URL:        a.cfg.StreamURL,
			BufferSize: size * 4,
			Muted:      state.Muted,
			Log:        a.log,
			Debug:      a.cfg.Debug,
		})
		a.log.Printf("[audio] streaming %s (muted=%t)", a.cfg.StreamURL, state.Muted)
	case SourceCapture:
		if err := audio.Initialize(); err != nil {
			return fmt.Errorf("initialize PortAudio: %w", err)
		}
		capture, err := audio.NewCapture(audio.Config{
			DeviceName: a.cfg.DeviceName,
			BufferSize: size * 4,
			Channels:   2,
		})
		if err != nil {
			audio.Terminate()
			return fmt.Errorf("audio capture: %w", err)
		}
		a.capture = capture
		if info := capture.Device(); info != nil {
			a.log.Printf("[audio] capture started on \"%s\" @ %.0f Hz", info.Name, capture.SampleRate())
		} else {
			a.log.Printf("[audio] capture started @ %.0f Hz", capture.SampleRate())
		}
	case SourceSynthetic:
		a.synthetic = audio.NewSynthetic(44_100, size*4, a.cfg.Seed)
		a.log.Println("[audio] using synthetic generator")
	default:
		return fmt.Errorf("unknown source %q", a.cfg.Source)
	}
	return nil
}

func (a *App) sampleSource() audio.SampleSource {
	switch {
	case a.stream != nil:
		return a.stream
	case a.capture != nil:
		return a.capture
	case a.synthetic != nil:
		return a.synthetic
	}
	return nil
}

func (a *App) initialViewport() render.Viewport {
	dpr := a.cfg.DPR
	if dpr <= 0 {
		dpr = 1
	}
	if a.cfg.Output == OutputTerminal {
		rows := a.cfg.Height
		if a.cfg.ShowStatus && rows > 1 {
			rows--
		}
		return render.CellViewport(a.cfg.Width, rows)
	}
	return render.Viewport{Width: float64(a.cfg.Width), Height: float64(a.cfg.Height), DPR: dpr}
}

func (a *App) openPresenters() error {
	switch a.cfg.Output {
	case OutputTerminal:
		t, err := render.NewTerminal(render.TerminalConfig{
			Width:      a.cfg.Width,
			Height:     a.cfg.Height,
			Glyphs:     a.cfg.Glyphs,
			UseANSI:    a.cfg.UseANSI,
			ShowStatus: a.cfg.ShowStatus,
		})
		if err != nil {
			return err
		}
		a.presenters = append(a.presenters, t)
	case OutputSDL:
		if !render.SupportsSDL() {
			return errors.New("this build has no SDL support (rebuild with -tags sdl)")
		}
		s, err := render.NewSDL("shufflizer", a.cfg.Width, a.cfg.Height)
		if err != nil {
			return fmt.Errorf("sdl window: %w", err)
		}
		a.presenters = append(a.presenters, s)
	case OutputNone:
	default:
		return fmt.Errorf("unknown output %q", a.cfg.Output)
	}

	if a.cfg.WebPort > 0 {
		a.web = web.NewServer(a, a.registry, web.Config{
			Addr:  fmt.Sprintf(":%d", a.cfg.WebPort),
			Log:   a.log,
			Debug: a.cfg.Debug,
		})
		a.presenters = append(a.presenters, a.web)
	}
	if len(a.presenters) == 0 {
		return errors.New("no output: use -output terminal|sdl or enable -web")
	}
	return nil
}

// Run drives the host clock until ctx is cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	switch {
	case a.stream != nil:
		go a.stream.Run(ctx)
	case a.synthetic != nil:
		go a.synthetic.Run(ctx)
	}
	if a.poller != nil {
		go a.poller.Run(ctx)
	}
	if a.settings != nil {
		go func() {
			if err := a.settings.Watch(ctx, params.Defaults(), a.log, a.reloadSettings); err != nil {
				a.log.Printf("[settings] %v", err)
			}
		}()
	}
	if a.web != nil {
		go func() {
			if err := a.web.Start(ctx); err != nil {
				a.log.Printf("[web] %v", err)
			}
		}()
	}

	resizes := a.mergeResizes(ctx)
	a.startInputListener(ctx)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / a.cfg.HostHz))
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.quit:
			return nil
		case vp := <-resizes:
			pw, ph := a.engine.Resize(vp.Width, vp.Height, vp.DPR)
			if a.cfg.Debug {
				a.log.Printf("[engine] resized to %.0fx%.0f (%dx%d px)", vp.Width, vp.Height, pw, ph)
			}
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt == inputEventQuit {
				return nil
			}
			a.handleInput(evt)
		case now := <-ticker.C:
			a.engine.Frame(now.Sub(start))
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	for _, p := range a.presenters {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			errs = append(errs, err)
		}
		audio.Terminate()
	}
	if err := a.profiler.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Snapshot implements engine.Controls and web.Controller.
func (a *App) Snapshot() params.State {
	return a.store.Snapshot()
}

// Stats implements web.Controller.
func (a *App) Stats() engine.Stats {
	return a.engine.Stats()
}

// Update applies preset commands first and then the partial state.
func (a *App) Update(req web.UpdateRequest) (params.State, error) {
	var cmdErr error
	next := a.store.Update(func(s *params.State) {
		if cmdErr = a.applyPresetCommands(s, req); cmdErr != nil {
			return
		}
		req.Update.Apply(s)
	})
	if cmdErr != nil {
		return next, cmdErr
	}
	if a.stream != nil && a.stream.Muted() != next.Muted {
		a.stream.SetMuted(next.Muted)
	}
	return next, nil
}

func (a *App) applyPresetCommands(s *params.State, req web.UpdateRequest) error {
	if req.Bank != nil || req.Preset != nil {
		bank := s.Bank
		if req.Bank != nil {
			bank = *req.Bank
		}
		name := ""
		if req.Preset != nil {
			name = *req.Preset
		}
		pr, ok := presets.Get(bank, name)
		if !ok {
			return fmt.Errorf("unknown preset bank %q", bank)
		}
		presets.Apply(s, bank, pr)
	}
	if req.Step != 0 {
		if pr, ok := presets.Step(s.Bank, s.Preset, req.Step); ok {
			presets.Apply(s, s.Bank, pr)
		}
	}

	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	if req.Random {
		bank, pr := presets.Random(a.rng)
		presets.Apply(s, bank, pr)
	}
	if req.Mutate != nil {
		s.Effect.Mutate(a.rng, *req.Mutate)
	}
	return nil
}

// Save persists the current state as settings overrides.
func (a *App) Save() (string, error) {
	if a.settings == nil {
		return "", errors.New("settings are disabled (set -settings-dir)")
	}
	state := a.store.Snapshot()
	state.TrackTitle = ""
	if _, err := a.settings.Set(state); err != nil {
		return "", err
	}
	return a.settings.OverridesPath(), nil
}

func (a *App) setTrackTitle(text string) {
	a.store.Update(func(s *params.State) {
		s.TrackTitle = text
	})
	if a.cfg.Debug {
		a.log.Printf("[nowplaying] %s", text)
	}
}

// reloadSettings keeps the live track title, which is never persisted.
func (a *App) reloadSettings(map[string]any) {
	next := params.Defaults()
	if err := a.settings.Decode(&next); err != nil {
		a.log.Printf("[settings] reload: %v", err)
		return
	}
	a.applyVisualSettings(&next)
	state := a.store.Update(func(s *params.State) {
		next.TrackTitle = s.TrackTitle
		*s = next
	})
	if a.stream != nil {
		a.stream.SetMuted(state.Muted)
	}
	a.log.Printf("[settings] reloaded (%s / %s)", state.Bank, state.Preset)
}

func (a *App) handleInput(evt inputEvent) {
	var req web.UpdateRequest
	switch evt {
	case inputEventPrev:
		req.Step = -1
	case inputEventNext:
		req.Step = 1
	case inputEventRandom:
		req.Random = true
	case inputEventMutateLow:
		req.Mutate = params.Float(0.35)
	case inputEventMutateHigh:
		req.Mutate = params.Float(0.85)
	case inputEventToggleMute:
		req.Muted = params.Bool(!a.store.Snapshot().Muted)
	default:
		return
	}
	state, err := a.Update(req)
	if err != nil {
		a.log.Printf("input: %v", err)
		return
	}
	if a.cfg.Debug {
		a.log.Printf("preset -> %s / %s (%s) muted=%t", state.Bank, state.Preset, state.EffectID, state.Muted)
	}
}

// present runs after every drawn frame on the host clock goroutine.
func (a *App) present(stats engine.Stats) {
	img := a.canvas.Image()
	status := statusLine(stats, a.store.Snapshot())
	for _, p := range a.presenters {
		err := p.Present(img, status)
		if err == nil {
			continue
		}
		if errors.Is(err, render.ErrPresenterQuit) {
			a.requestQuit()
			return
		}
		if a.cfg.Debug {
			a.log.Printf("present: %v", err)
		}
	}
}

func (a *App) requestQuit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func statusLine(st engine.Stats, s params.State) string {
	beat := ""
	if st.Beat {
		beat = " *"
	}
	line := fmt.Sprintf("%s | %.1f fps | e=%.3f avg=%.3f%s | %s / %s | %s",
		st.Effect, st.FPS, st.Energy, st.EnergyAvg, beat, s.Bank, s.Preset, s.Palette)
	if s.Muted {
		line += " | muted"
	}
	if s.TrackTitle != "" {
		line += " | " + s.TrackTitle
	}
	return line
}

// mergeResizes fans every presenter's resize channel into one.
func (a *App) mergeResizes(ctx context.Context) <-chan render.Viewport {
	out := make(chan render.Viewport, 1)
	for _, p := range a.presenters {
		src, ok := p.(render.ResizeSource)
		if !ok || src.Resizes() == nil {
			continue
		}
		go func(in <-chan render.Viewport) {
			for {
				select {
				case <-ctx.Done():
					return
				case vp := <-in:
					select {
					case out <- vp:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src.Resizes())
	}
	return out
}

func keyEvent(char rune, key keyboard.Key) inputEvent {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return inputEventQuit
	case char == 'q' || char == 'Q':
		return inputEventQuit
	case char == '[':
		return inputEventPrev
	case char == ']':
		return inputEventNext
	case char == '\\':
		return inputEventRandom
	case char == 'm':
		return inputEventMutateLow
	case char == 'M':
		return inputEventMutateHigh
	case char == 'u' || char == 'U':
		return inputEventToggleMute
	}
	return inputEventNone
}

func (a *App) startInputListener(ctx context.Context) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		a.inputEvents = nil
		return
	}
	if err := keyboard.Open(); err != nil {
		a.log.Printf("keyboard input disabled: %v", err)
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt := keyEvent(char, key)
			switch evt {
			case inputEventNone:
			case inputEventQuit:
				events <- inputEventQuit
				return
			default:
				select {
				case events <- evt:
				default:
				}
			}
		}
	}()
}

var _ web.Controller = (*App)(nil)

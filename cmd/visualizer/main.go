package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/guidoenr/shufflizer/internal/app"
	"github.com/guidoenr/shufflizer/internal/audio"
	"github.com/guidoenr/shufflizer/internal/render"
)

// SDL needs every window call on the thread that created it.
func init() {
	runtime.LockOSThread()
}

func main() {
	var (
		configPath  = flag.String("config", "", "Optional TOML file with flag defaults (keys are flag names)")
		source      = flag.String("source", "synthetic", "Audio source (stream|capture|synthetic)")
		streamURL   = flag.String("stream-url", "", "MP3 stream URL for -source stream")
		deviceName  = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		listDevs    = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		fftSize     = flag.Int("fft-size", 1024, "Analyser FFT size (power of two, 32..32768)")
		maxFPS      = flag.Float64("fps", 60, "Frame-rate ceiling")
		hostHz      = flag.Float64("host-hz", 120, "Host clock rate driving the render loop")
		width       = flag.Int("width", 0, "Viewport width (cells for terminal output, pixels otherwise)")
		height      = flag.Int("height", 0, "Viewport height (cells for terminal output, pixels otherwise)")
		dpr         = flag.Float64("dpr", 1, "Device pixel ratio for sdl/none output")
		output      = flag.String("output", "terminal", "Local output (terminal|sdl|none)")
		glyphs      = flag.String("glyphs", "default", "Terminal glyph set ("+strings.Join(render.GlyphSetNames(), "|")+")")
		webPort     = flag.Int("web", 8090, "Web viewer and control panel port (0 disables)")
		nowPlaying  = flag.String("nowplaying-url", "", "Now-playing JSON endpoint (flat or Icecast status)")
		npInterval  = flag.Duration("nowplaying-interval", time.Second, "Now-playing poll interval")
		settingsDir = flag.String("settings-dir", "", "Directory holding settings.json and saved overrides")
		palette     = flag.String("palette", "", "Palette name (see the web panel for the list)")
		bank        = flag.String("bank", "", "Preset bank")
		preset      = flag.String("preset", "", "Preset name within the bank")
		effect      = flag.String("effect", "", "Effect id (tempestTunnel|ringShock|vectorBurst)")
		profilePath = flag.String("profile", "", "Write per-stage frame timings to this CSV file")
		debug       = flag.Bool("debug", false, "Enable verbose logging")
		showStatus  = flag.Bool("status", true, "Display status bar")
		noColor     = flag.Bool("no-color", false, "Disable ANSI color output")
		unmute      = flag.Bool("unmute", false, "Play the stream audibly from the start")
		seed        = flag.Int64("seed", 0, "Random seed (0 uses the clock)")
	)

	flag.Parse()

	if *configPath != "" {
		if err := applyConfigFile(flag.CommandLine, *configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	if *maxFPS <= 0 {
		log.Fatalf("fps must be positive (got %.2f)", *maxFPS)
	}
	if *hostHz <= 0 {
		log.Fatalf("host-hz must be positive (got %.2f)", *hostHz)
	}
	if *width < 0 || *height < 0 {
		log.Fatalf("invalid dimensions: width=%d height=%d", *width, *height)
	}

	if *width == 0 || *height == 0 {
		w, h := 960, 540
		if *output == app.OutputTerminal {
			w, h = 80, 24
			if fd := int(os.Stdout.Fd()); fd >= 0 {
				if tw, th, err := term.GetSize(fd); err == nil && tw > 0 && th > 0 {
					w, h = tw, th
				}
			}
		}
		if *width == 0 {
			*width = w
		}
		if *height == 0 {
			*height = h
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "[shufflizer] ", log.LstdFlags)
	if !*debug {
		logger.SetOutput(os.Stderr)
		logger.SetFlags(0)
	}

	if *listDevs {
		if err := audio.Initialize(); err != nil {
			logger.Fatalf("failed to initialize PortAudio: %v", err)
		}
		defer audio.Terminate()
		listDevices(logger)
		return
	}

	appConfig := app.Config{
		Source:             *source,
		StreamURL:          *streamURL,
		DeviceName:         *deviceName,
		FFTSize:            *fftSize,
		MaxFPS:             *maxFPS,
		HostHz:             *hostHz,
		Width:              *width,
		Height:             *height,
		DPR:                *dpr,
		Output:             *output,
		Glyphs:             *glyphs,
		WebPort:            *webPort,
		NowPlayingURL:      *nowPlaying,
		NowPlayingInterval: *npInterval,
		SettingsDir:        *settingsDir,
		Palette:            *palette,
		Bank:               *bank,
		Preset:             *preset,
		Effect:             *effect,
		ProfilePath:        *profilePath,
		Debug:              *debug,
		UseANSI:            !*noColor,
		ShowStatus:         *showStatus,
		Unmute:             *unmute,
		Seed:               *seed,
		Log:                logger,
	}

	a, err := app.New(appConfig)
	if err != nil {
		logger.Fatalf("failed to create app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nExiting...")
			return
		}
		logger.Fatalf("runtime error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
}

// applyConfigFile sets every flag named in the TOML file that was not given
// on the command line.
func applyConfigFile(fs *flag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return err
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, v := range values {
		if fs.Lookup(name) == nil {
			return fmt.Errorf("%s: unknown key %q", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("%s: %s: %w", path, name, err)
		}
	}
	return nil
}

func listDevices(logger *log.Logger) {
	devices, err := audio.InputDevices()
	if err != nil {
		logger.Fatalf("list devices: %v", err)
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		markers := ""
		if dev.IsDefault {
			markers += " (default)"
		}
		if dev.Loopback {
			markers += " (loopback)"
		}
		fmt.Printf("- %s [%s]%s\n    inputs:%d sample:%.0f Hz\n",
			dev.Name, dev.HostAPI, markers, dev.Channels, dev.DefaultSampleHz)
	}
	if dev, err := audio.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
}

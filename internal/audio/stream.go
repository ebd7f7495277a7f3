package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// StreamConfig controls an Icecast/HTTP MP3 stream source.
type StreamConfig struct {
	URL           string
	BufferSize    int
	RetryInterval time.Duration
	Muted         bool
	Client        *http.Client
	Log           *log.Logger
	Debug         bool
}

// Stream decodes an MP3 stream, taps the PCM into a Ring for analysis and
// plays it through oto. Playback starts muted unless configured otherwise.
type Stream struct {
	cfg  StreamConfig
	ring *Ring

	mu     sync.Mutex
	muted  bool
	player *oto.Player

	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
}

// ErrStreamStatus is returned when the stream server answers with a non-200 status.
var ErrStreamStatus = errors.New("unexpected stream status")

// NewStream prepares a stream source; Run connects it.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	return &Stream{
		cfg:   cfg,
		ring:  NewRing(cfg.BufferSize),
		muted: cfg.Muted,
	}
}

// Samples returns the decoded stream as mono samples, oldest first.
func (s *Stream) Samples() []float32 {
	return s.ring.Samples()
}

// Muted reports the current playback gate.
func (s *Stream) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetMuted toggles audible playback without interrupting analysis.
func (s *Stream) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.player != nil {
		s.player.SetVolume(volume(muted))
	}
}

// Run keeps the stream connected until ctx is cancelled, retrying on a
// fixed interval after any failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		err := s.play(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && s.cfg.Debug {
			s.cfg.Log.Printf("[audio] stream %s: %v (retrying in %s)", s.cfg.URL, err, s.cfg.RetryInterval)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func (s *Stream) play(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "shufflizer")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrStreamStatus, resp.Status)
	}

	dec, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	tap := &pcmTap{src: dec, ring: s.ring}

	player, err := s.newPlayer(dec.SampleRate(), tap)
	if err != nil {
		// No audio output; keep analysing at network pace.
		s.cfg.Log.Printf("[audio] playback unavailable: %v", err)
		_, err = io.Copy(io.Discard, readerWithContext(ctx, tap))
		return err
	}
	defer func() {
		s.mu.Lock()
		s.player = nil
		s.mu.Unlock()
		_ = player.Close()
	}()

	player.Play()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := player.Err(); err != nil {
				return err
			}
			if !player.IsPlaying() {
				if err := tap.Err(); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				return io.ErrUnexpectedEOF
			}
		}
	}
}

func (s *Stream) newPlayer(rate int, r io.Reader) (*oto.Player, error) {
	s.otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			s.otoErr = err
			return
		}
		<-ready
		s.otoCtx = ctx
		s.otoRate = rate
	})
	if s.otoErr != nil {
		return nil, s.otoErr
	}
	if rate != s.otoRate {
		return nil, fmt.Errorf("sample rate changed from %d to %d", s.otoRate, rate)
	}

	player := s.otoCtx.NewPlayer(r)
	s.mu.Lock()
	player.SetVolume(volume(s.muted))
	s.player = player
	s.mu.Unlock()
	return player, nil
}

func volume(muted bool) float64 {
	if muted {
		return 0
	}
	return 1
}

// pcmTap forwards 16-bit little-endian stereo PCM and copies a mono
// downmix of every complete frame into the ring.
type pcmTap struct {
	src   io.Reader
	ring  *Ring
	carry []byte

	mu  sync.Mutex
	err error
}

// Err returns the last error from the source. The player reads the tap on
// its own goroutine.
func (t *pcmTap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

const bytesPerFrame = 4

func (t *pcmTap) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if err != nil {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}
	if n == 0 {
		return n, err
	}

	buf := append(t.carry, p[:n]...)
	frames := len(buf) / bytesPerFrame
	mono := make([]float32, frames)
	for i := range mono {
		off := i * bytesPerFrame
		l := int16(binary.LittleEndian.Uint16(buf[off:]))
		r := int16(binary.LittleEndian.Uint16(buf[off+2:]))
		mono[i] = (float32(l) + float32(r)) / 65536
	}
	t.carry = append(t.carry[:0], buf[frames*bytesPerFrame:]...)
	t.ring.Write(mono)
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Package nowplaying polls a JSON endpoint for the current track title.
//
// Two payload shapes are understood. The flat form
//
//	{"ts": 1712345678, "artist": "A", "title": "T"}
//
// reports a change whenever ts changes. The Icecast status form
//
//	{"icestats": {"source": {...} | [{...}, ...]}}
//
// reports a change whenever the extracted title string changes.
package nowplaying

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Separator joins artist and title.
const Separator = " - "

// DefaultInterval is the poll period when Config.Interval is unset.
const DefaultInterval = time.Second

// Config configures a Poller.
type Config struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Log      *log.Logger
	Debug    bool
}

// Poller fetches the now-playing document on a fixed interval.
type Poller struct {
	cfg      Config
	onUpdate func(string)

	mu       sync.Mutex
	haveTs   bool
	lastTs   string
	lastText string
}

// New returns a poller that calls onUpdate with each new title.
func New(cfg Config, onUpdate func(string)) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	return &Poller{cfg: cfg, onUpdate: onUpdate}
}

// Run polls immediately and then every interval until ctx is done.
// Failures are logged in debug mode and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, _, err := p.Poll(ctx); err != nil && p.cfg.Debug && ctx.Err() == nil {
			p.cfg.Log.Printf("[nowplaying] fetch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches once. It returns the current text and whether it counts as
// an update; onUpdate has already been called when it does.
func (p *Poller) Poll(ctx context.Context) (string, bool, error) {
	doc, err := p.fetch(ctx)
	if err != nil {
		return "", false, err
	}
	text, changed := p.observe(doc)
	if changed && p.onUpdate != nil {
		p.onUpdate(text)
	}
	return text, changed, nil
}

func (p *Poller) fetch(ctx context.Context) (document, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return document{}, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return document{}, err
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return document{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return document{}, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

type document struct {
	Ts       json.RawMessage `json:"ts"`
	Artist   any             `json:"artist"`
	Title    any             `json:"title"`
	IceStats *struct {
		Source json.RawMessage `json:"source"`
	} `json:"icestats"`
}

type iceSource struct {
	Title              string `json:"title"`
	YPCurrentlyPlaying string `json:"yp_currently_playing"`
	ServerName         string `json:"server_name"`
	Description        string `json:"description"`
}

func (p *Poller) observe(doc document) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if doc.IceStats != nil {
		text := strings.TrimSpace(iceTitle(doc.IceStats.Source))
		if text == "" || text == p.lastText {
			return text, false
		}
		p.lastText = text
		return text, true
	}

	text := joinTrack(asText(doc.Artist), asText(doc.Title))
	ts := tsKey(doc.Ts)
	switch {
	case ts != "" && (!p.haveTs || ts != p.lastTs):
		p.haveTs, p.lastTs = true, ts
		if text == "" {
			return "", false
		}
		p.lastText = text
		return text, true
	case ts == "" && !p.haveTs && text != "" && text != p.lastText:
		p.lastText = text
		return text, true
	}
	return text, false
}

// iceTitle picks the first source and the first non-empty title field.
func iceTitle(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var src iceSource
	if raw[0] == '[' {
		var list []iceSource
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return ""
		}
		src = list[0]
	} else if err := json.Unmarshal(raw, &src); err != nil {
		return ""
	}
	for _, s := range []string{src.Title, src.YPCurrentlyPlaying, src.ServerName, src.Description} {
		if s != "" {
			return s
		}
	}
	return ""
}

// tsKey normalises ts to a comparable string; null or missing is "".
func tsKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}

func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func joinTrack(artist, title string) string {
	switch {
	case artist != "" && title != "":
		return artist + Separator + title
	case title != "":
		return title
	default:
		return artist
	}
}

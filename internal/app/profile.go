package app

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/guidoenr/shufflizer/internal/engine"
)

// profiler writes per-stage frame timings as CSV, tagged with the frame
// number and the effect that drew it. It implements engine.Observer.
// Stage rows are buffered until EndFrame, which knows the effect id.
type profiler struct {
	mu      sync.Mutex
	file    *os.File
	logger  *log.Logger
	start   time.Time
	last    time.Time
	pending []stageTiming
	totals  map[string]*effectTotals
	enabled bool
}

type stageTiming struct {
	at    time.Time
	stage string
	ms    float64
}

// effectTotals accumulates frame_total per effect for the closing summary.
type effectTotals struct {
	frames int
	sumMs  float64
	maxMs  float64
}

func newProfiler(path string, logger *log.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if logger != nil {
			logger.Printf("profiler disabled: %v", err)
		}
		return nil
	}
	p := &profiler{
		file:    f,
		logger:  logger,
		totals:  make(map[string]*effectTotals),
		enabled: true,
	}
	fmt.Fprintln(p.file, "timestamp,frame,effect,stage,delta_ms")
	return p
}

func (p *profiler) BeginFrame() {
	if p == nil || !p.enabled {
		return
	}
	now := time.Now()
	p.start = now
	p.last = now
	p.pending = p.pending[:0]
}

// Mark records the time since the previous mark under stage.
func (p *profiler) Mark(stage string) {
	if p == nil || !p.enabled {
		return
	}
	now := time.Now()
	p.pending = append(p.pending, stageTiming{at: now, stage: stage, ms: now.Sub(p.last).Seconds() * 1000})
	p.last = now
}

// EndFrame writes the buffered stages and the frame total for st.
func (p *profiler) EndFrame(st engine.Stats) {
	if p == nil || !p.enabled {
		return
	}
	now := time.Now()
	total := now.Sub(p.start).Seconds() * 1000

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	for _, s := range p.pending {
		p.write(s.at, st, s.stage, s.ms)
	}
	p.write(now, st, "frame_total", total)
	p.pending = p.pending[:0]

	t := p.totals[st.EffectID]
	if t == nil {
		t = &effectTotals{}
		p.totals[st.EffectID] = t
	}
	t.frames++
	t.sumMs += total
	if total > t.maxMs {
		t.maxMs = total
	}
}

// Close logs a per-effect summary and closes the file.
func (p *profiler) Close() error {
	if p == nil || !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	if p.logger != nil {
		for _, line := range p.summary() {
			p.logger.Printf("profile: %s", line)
		}
	}
	err := p.file.Close()
	p.file = nil
	return err
}

func (p *profiler) summary() []string {
	ids := make([]string, 0, len(p.totals))
	for id := range p.totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		t := p.totals[id]
		lines = append(lines, fmt.Sprintf("%s frames=%d avg=%.3fms max=%.3fms",
			id, t.frames, t.sumMs/float64(t.frames), t.maxMs))
	}
	return lines
}

func (p *profiler) write(at time.Time, st engine.Stats, stage string, deltaMs float64) {
	fmt.Fprintf(p.file, "%s,%d,%s,%s,%.3f\n", at.Format(time.RFC3339Nano), st.Frames, st.EffectID, stage, deltaMs)
}

package web

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/guidoenr/shufflizer/internal/analyzer"
	"github.com/guidoenr/shufflizer/internal/effects"
	"github.com/guidoenr/shufflizer/internal/engine"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/presets"
	"github.com/guidoenr/shufflizer/internal/render"
	"github.com/guidoenr/shufflizer/internal/theme"
)

//go:embed static/index.html
var indexHTML []byte

// bandFloor hides analyser noise in the panel meters.
const bandFloor = 0.04

// Controller is the application side of the control panel.
type Controller interface {
	Snapshot() params.State
	Update(req UpdateRequest) (params.State, error)
	Stats() engine.Stats
	Save() (string, error)
}

// Config configures the server.
type Config struct {
	Addr        string
	FrameRate   float64
	JPEGQuality int
	Log         *log.Logger
	Debug       bool
}

type Server struct {
	cfg       Config
	ctl       Controller
	registry  *effects.Registry
	log       *log.Logger
	upgrader  websocket.Upgrader
	limiter   *rate.Limiter
	resizes   chan render.Viewport
	closeOnce sync.Once
	done      chan struct{}

	mu      sync.RWMutex
	clients map[*websocketClient]bool
}

type message struct {
	kind int
	data []byte
}

type websocketClient struct {
	id     string
	conn   *websocket.Conn
	send   chan message
	server *Server
}

// StatusResponse is served on /api/status and pushed to websocket clients.
type StatusResponse struct {
	Type      string         `json:"type"`
	FPS       float64        `json:"fps"`
	Frames    uint64         `json:"frames"`
	EffectID  string         `json:"effectId"`
	Effect    string         `json:"effect"`
	Energy    float64        `json:"energy"`
	EnergyAvg float64        `json:"energyAvg"`
	Beat      bool           `json:"beat"`
	Bands     analyzer.Bands `json:"bands"`
	State     params.State   `json:"state"`
	Clients   int            `json:"clients"`
}

// UpdateRequest is a partial state change plus preset commands. Preset
// commands run before the partial state is applied.
type UpdateRequest struct {
	params.Update
	Bank   *string  `json:"bank,omitempty"`
	Preset *string  `json:"preset,omitempty"`
	Step   int      `json:"step,omitempty"`
	Random bool     `json:"random,omitempty"`
	Mutate *float64 `json:"mutate,omitempty"`
}

// ClientMessage is sent by the browser over the websocket.
type ClientMessage struct {
	Type   string  `json:"type"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DPR    float64 `json:"dpr"`
}

type EffectInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewServer builds a server. It does not listen until Start.
func NewServer(ctl Controller, registry *effects.Registry, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 20
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 70
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if registry == nil {
		registry = effects.DefaultRegistry()
	}
	return &Server{
		cfg:      cfg,
		ctl:      ctl,
		registry: registry,
		log:      cfg.Log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FrameRate), 1),
		resizes:  make(chan render.Viewport, 1),
		done:     make(chan struct{}),
		clients:  make(map[*websocketClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/update", s.handleUpdate)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/effects", s.handleEffects)
	mux.HandleFunc("/api/palettes", s.handlePalettes)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}

	s.log.Printf("[web] server starting on http://0.0.0.0%s", s.cfg.Addr)

	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// Present sends the frame to connected browsers, at most FrameRate times a
// second. It implements render.Presenter.
func (s *Server) Present(img *image.RGBA, status string) error {
	if img == nil || s.clientCount() == 0 || !s.limiter.Allow() {
		return nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return fmt.Errorf("web: encode frame: %w", err)
	}
	s.broadcast(message{kind: websocket.BinaryMessage, data: buf.Bytes()})
	return nil
}

// Resizes delivers viewport changes reported by browsers. Only the latest
// pending change is kept.
func (s *Server) Resizes() <-chan render.Viewport {
	return s.resizes
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for c := range s.clients {
			close(c.send)
			delete(s.clients, c)
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) status() StatusResponse {
	st := s.ctl.Stats()
	return StatusResponse{
		Type:      "status",
		FPS:       st.FPS,
		Frames:    st.Frames,
		EffectID:  st.EffectID,
		Effect:    st.Effect,
		Energy:    st.Energy,
		EnergyAvg: st.EnergyAvg,
		Beat:      st.Beat,
		Bands:     analyzer.GateBands(st.Bands, bandFloor),
		State:     s.ctl.Snapshot(),
		Clients:   s.clientCount(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.EffectID != nil && *req.EffectID != "" && !s.registry.Has(*req.EffectID) {
		http.Error(w, fmt.Sprintf("unknown effect %q", *req.EffectID), http.StatusBadRequest)
		return
	}

	state, err := s.ctl.Update(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := s.ctl.Save()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to save settings: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "saved", "path": path})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, presets.All())
}

func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	out := make([]EffectInfo, len(all))
	for i, fx := range all {
		out[i] = EffectInfo{ID: fx.ID(), Name: fx.Name()}
	}
	writeJSON(w, out)
}

func (s *Server) handlePalettes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, theme.Names())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("[web] websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan message, 16),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()
	if s.cfg.Debug {
		s.log.Printf("[web] client %s connected from %s", client.id, r.RemoteAddr)
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// broadcast queues msg for every client. Clients whose queue is full are
// dropped.
func (s *Server) broadcast(msg message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(s.clients, client)
			if s.cfg.Debug {
				s.log.Printf("[web] dropped slow client %s", client.id)
			}
		}
	}
}

func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}
		if s.clientCount() == 0 {
			continue
		}
		data, err := json.Marshal(s.status())
		if err == nil {
			s.broadcast(message{kind: websocket.TextMessage, data: data})
		}
	}
}

func (s *Server) offerViewport(vp render.Viewport) {
	for {
		select {
		case s.resizes <- vp:
			return
		default:
		}
		select {
		case <-s.resizes:
		default:
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "viewport" {
			continue
		}
		vp := render.Viewport{Width: msg.Width, Height: msg.Height, DPR: msg.DPR}
		if !vp.Valid() {
			continue
		}
		c.server.offerViewport(vp.Bounded())
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

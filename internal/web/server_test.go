package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guidoenr/shufflizer/internal/engine"
	"github.com/guidoenr/shufflizer/internal/params"
	"github.com/guidoenr/shufflizer/internal/presets"
	"github.com/guidoenr/shufflizer/internal/render"
)

type fakeController struct {
	mu      sync.Mutex
	state   params.State
	saveErr error
	saves   int
	last    UpdateRequest
}

func (f *fakeController) Snapshot() params.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Update(req UpdateRequest) (params.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	req.Update.Apply(&f.state)
	return f.state, nil
}

func (f *fakeController) Stats() engine.Stats {
	return engine.Stats{FPS: 59.5, EffectID: "ringShock", Effect: "Ring Shock", Energy: 0.25, Frames: 7}
}

func (f *fakeController) Save() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return "/tmp/settings.json", f.saveErr
}

func newTestServer(t *testing.T) (*Server, *fakeController, *httptest.Server) {
	t.Helper()
	ctl := &fakeController{state: params.Defaults()}
	s := NewServer(ctl, nil, Config{FrameRate: 1000})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ctl, ts
}

func TestIndexServed(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", resp.StatusCode)
	}
}

func TestStatusReportsStatsAndState(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.EffectID != "ringShock" || st.FPS != 59.5 || st.State.EffectID != "tempestTunnel" {
		t.Fatalf("status=%+v", st)
	}
}

func TestUpdateAppliesPartialState(t *testing.T) {
	_, ctl, ts := newTestServer(t)
	body := `{"effect":{"spin":2.5},"effectId":"vectorBurst","mutate":0.5}`
	resp, err := http.Post(ts.URL+"/api/update", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var st params.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Effect.Spin != 2.5 || st.EffectID != "vectorBurst" {
		t.Fatalf("state=%+v", st)
	}
	if ctl.last.Mutate == nil || *ctl.last.Mutate != 0.5 {
		t.Fatalf("mutate not forwarded: %+v", ctl.last)
	}
}

func TestUpdateRejectsUnknownEffectAndBadMethod(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/update", "application/json", strings.NewReader(`{"effectId":"nope"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown effect status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/update")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/update", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", resp.StatusCode)
	}
}

func TestListings(t *testing.T) {
	_, _, ts := newTestServer(t)

	var effects []EffectInfo
	getJSON(t, ts.URL+"/api/effects", &effects)
	if len(effects) != 3 || effects[0].ID != "tempestTunnel" || effects[2].Name != "Vector Burst" {
		t.Fatalf("effects=%+v", effects)
	}

	var banks []presets.Bank
	getJSON(t, ts.URL+"/api/presets", &banks)
	if len(banks) != 3 || banks[2].Name != "VLM" {
		t.Fatalf("banks=%+v", banks)
	}

	var palettes []string
	getJSON(t, ts.URL+"/api/palettes", &palettes)
	if len(palettes) == 0 || palettes[len(palettes)-1] != "Custom" {
		t.Fatalf("palettes=%v", palettes)
	}
}

func TestSave(t *testing.T) {
	_, ctl, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/save", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ctl.saves != 1 {
		t.Fatalf("status=%d saves=%d", resp.StatusCode, ctl.saves)
	}

	ctl.saveErr = errors.New("disk full")
	resp, err = http.Post(ts.URL+"/api/save", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestWebsocketViewportAndFrames(t *testing.T) {
	s, _, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Type: "viewport", Width: 640, Height: 360, DPR: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case vp := <-s.Resizes():
		if vp.Width != 640 || vp.Height != 360 || vp.DPR != 2 {
			t.Fatalf("viewport=%+v", vp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no viewport received")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.clientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := s.Present(img, "status"); err != nil {
		t.Fatalf("Present: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("kind=%d want binary", kind)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if decoded.Bounds().Dx() != 8 {
		t.Fatalf("frame width=%d", decoded.Bounds().Dx())
	}
}

func TestWebsocketViewportBounded(t *testing.T) {
	s, _, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Type: "viewport", Width: 1e10, Height: 1e10, DPR: 50}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case vp := <-s.Resizes():
		if vp.DPR != render.MaxDPR || vp.Width*vp.DPR > render.MaxBackingSide || vp.Height*vp.DPR > render.MaxBackingSide {
			t.Fatalf("viewport not bounded: %+v", vp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no viewport received")
	}

	// Non-finite and non-positive sizes are dropped.
	for _, raw := range []string{
		`{"type":"viewport","width":1e999,"height":10}`,
		`{"type":"viewport","width":-5,"height":10}`,
		`{"type":"viewport","width":10,"height":0}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := conn.WriteJSON(ClientMessage{Type: "viewport", Width: 320, Height: 200, DPR: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case vp := <-s.Resizes():
		if vp.Width != 320 || vp.Height != 200 {
			t.Fatalf("viewport=%+v want 320x200", vp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no viewport received")
	}
}

func TestPresentWithoutClientsIsNoop(t *testing.T) {
	s := NewServer(&fakeController{}, nil, Config{})
	if err := s.Present(image.NewRGBA(image.Rect(0, 0, 4, 4)), ""); err != nil {
		t.Fatalf("Present: %v", err)
	}
}

func TestSlowClientDropped(t *testing.T) {
	s := NewServer(&fakeController{}, nil, Config{})
	c := &websocketClient{id: "slow", send: make(chan message, 1), server: s}
	s.clients[c] = true
	s.broadcast(message{kind: websocket.TextMessage, data: []byte("a")})
	s.broadcast(message{kind: websocket.TextMessage, data: []byte("b")})
	if s.clientCount() != 0 {
		t.Fatalf("slow client kept")
	}
	if _, ok := <-c.send; !ok {
		t.Fatalf("queued message lost")
	}
	if _, ok := <-c.send; ok {
		t.Fatalf("send channel not closed")
	}
}

func TestOfferViewportKeepsLatest(t *testing.T) {
	s := NewServer(&fakeController{}, nil, Config{})
	s.offerViewport(vp(100))
	s.offerViewport(vp(200))
	got := <-s.Resizes()
	if got.Width != 200 {
		t.Fatalf("width=%f want 200", got.Width)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func vp(w float64) render.Viewport {
	return render.Viewport{Width: w, Height: w / 2, DPR: 1}
}

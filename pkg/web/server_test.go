package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/graph"
	"github.com/teslashibe/go-capture/pkg/hw"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/session"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	mock := device.NewMock(device.DefaultMockDevices()...)
	mock.SetFrameSize(32, 24)
	reg, err := device.NewRegistry(ctx, mock, quiet)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	sess, err := hw.NewCaptureSession(hw.Config{FrameRate: 100}, quiet)
	if err != nil {
		t.Fatalf("NewCaptureSession failed: %v", err)
	}
	ocfg := output.DefaultConfig()
	ocfg.MovieDir = t.TempDir()
	ocfg.Tick = 20 * time.Millisecond
	photo, err := output.NewPhotoService(ocfg, output.BackendNative, quiet)
	if err != nil {
		t.Fatalf("NewPhotoService failed: %v", err)
	}
	movie, err := output.NewMovieService(ocfg, output.BackendNative, quiet)
	if err != nil {
		t.Fatalf("NewMovieService failed: %v", err)
	}
	src := graph.NewSource("preview")
	chain, err := graph.NewChain(src, quiet, filter.Passthrough)
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	original := NewThumbnailSink("thumb-0", 16, 70, 0)
	stack, err := graph.NewStack(src, quiet, graph.Target{Filter: filter.Passthrough, Sink: original})
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}

	orch, err := session.New(session.DefaultConfig(), session.Options{
		Registry: reg, Session: sess, Photo: photo, Movie: movie,
		Source: src, Chain: chain, Stack: stack, Logger: quiet,
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.StatusInterval = 50 * time.Millisecond
	cfg.Preview.MaxFPS = 0
	s, err := NewServer(cfg, orch, quiet)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	chain.Connect(s.PreviewSink())
	s.AddThumbnail(filter.Passthrough.ID, original)

	t.Cleanup(func() {
		s.Shutdown()
		orch.Close()
		stack.Close()
		chain.Close()
		reg.Close()
	})
	return s
}

func call(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func expectStatus(t *testing.T, s *Server, method, path, body string, want int) []byte {
	t.Helper()
	resp, data := call(t, s, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d %s, want %d", method, path, resp.StatusCode, data, want)
	}
	return data
}

func decodeStatus(t *testing.T, data []byte) session.Status {
	t.Helper()
	var st session.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no port", func(c *Config) { c.Port = "" }, false},
		{"zero interval", func(c *Config) { c.StatusInterval = 0 }, false},
		{"bad quality", func(c *Config) { c.Preview.JPEGQuality = 0 }, false},
		{"negative fps", func(c *Config) { c.Preview.MaxFPS = -1 }, false},
		{"bad thumbnail quality", func(c *Config) { c.Thumbnail.JPEGQuality = 101 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() = %v, valid %v", err, tt.valid)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", capture.ErrSetupFailed, capture.ErrNotAuthorized), http.StatusForbidden},
		{session.ErrNotRunning, http.StatusConflict},
		{fmt.Errorf("wrap: %w", output.ErrRecordingInProgress), http.StatusConflict},
		{session.ErrUnknownFilter, http.StatusNotFound},
		{camera.ErrInvalidConfig, http.StatusBadRequest},
		{capture.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	st := decodeStatus(t, expectStatus(t, s, "GET", "/api/status", "", http.StatusOK))
	if st.State != "uninitialized" {
		t.Errorf("initial state = %q", st.State)
	}

	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK))
	if st.State != "running" || st.Camera == nil || st.Camera.ID != "mock-back" {
		t.Errorf("after start = %+v", st)
	}

	expectStatus(t, s, "POST", "/api/mode", `{"mode":"slowmo"}`, http.StatusBadRequest)
	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/mode", `{"mode":"video"}`, http.StatusOK))
	if st.Mode != capture.ModeVideo || st.Preset != camera.PresetHigh {
		t.Errorf("after mode = %+v", st)
	}

	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/camera/switch", "", http.StatusOK))
	if st.Camera == nil || st.Camera.ID != "mock-front" {
		t.Errorf("after switch camera = %+v", st.Camera)
	}
	expectStatus(t, s, "POST", "/api/camera/select", `{"id":"nope"}`, http.StatusNotFound)

	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/session/stop", "", http.StatusOK))
	if st.Delivering {
		t.Error("delivering after stop")
	}
	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/session/resume", "", http.StatusOK))
	if !st.Delivering {
		t.Error("not delivering after resume")
	}

	st = decodeStatus(t, expectStatus(t, s, "POST", "/api/session/teardown", "", http.StatusOK))
	if st.State != "stopped" || st.Camera != nil {
		t.Errorf("after teardown = %+v", st)
	}

	data := expectStatus(t, s, "GET", "/api/devices", "", http.StatusOK)
	var devs struct {
		Cameras []device.CaptureDevice `json:"cameras"`
	}
	if err := json.Unmarshal(data, &devs); err != nil || len(devs.Cameras) != 2 {
		t.Errorf("devices = %s (%v)", data, err)
	}
}

func TestPhotoEndpoint(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s, "POST", "/api/photo", "", http.StatusConflict)
	expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK)

	resp, data := call(t, s, "POST", "/api/photo", `{"quality":"speed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/photo = %d %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Photo-Id") == "" || resp.Header.Get("X-Photo-Proxy") != "false" {
		t.Errorf("headers = %v", resp.Header)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("body is not a JPEG")
	}
}

func TestVideoEndpoints(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK)

	expectStatus(t, s, "POST", "/api/video/stop", "", http.StatusConflict)
	expectStatus(t, s, "POST", "/api/video/start", "", http.StatusConflict)

	expectStatus(t, s, "POST", "/api/mode", `{"mode":"video"}`, http.StatusOK)
	data := expectStatus(t, s, "POST", "/api/video/start", `{"audio":true}`, http.StatusAccepted)
	var started struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &started); err != nil || started.ID == "" {
		t.Fatalf("start response = %s", data)
	}
	expectStatus(t, s, "POST", "/api/video/start", "", http.StatusConflict)

	time.Sleep(150 * time.Millisecond)
	data = expectStatus(t, s, "POST", "/api/video/stop", "", http.StatusOK)
	var v capture.Video
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode video: %v", err)
	}
	if v.ID != started.ID || v.Frames == 0 || v.Path == "" || v.AudioPath == "" {
		t.Errorf("video = %+v", v)
	}
}

func TestFilterEndpoints(t *testing.T) {
	s := newTestServer(t)
	thumb := NewThumbnailSink("thumb-sepia", 16, 70, 0)
	s.AddThumbnail(1, thumb)

	data := expectStatus(t, s, "GET", "/api/filters", "", http.StatusOK)
	var list []filterInfo
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode filters: %v", err)
	}
	if len(list) != len(filter.Builtins()) || !list[0].Selected {
		t.Errorf("filters = %+v", list)
	}

	expectStatus(t, s, "POST", "/api/filters/select", `{"id":99}`, http.StatusNotFound)
	data = expectStatus(t, s, "POST", "/api/filters/select", `{"id":1}`, http.StatusOK)
	var f filter.Filter
	if err := json.Unmarshal(data, &f); err != nil || f.ID != 1 {
		t.Errorf("selected = %s", data)
	}

	data = expectStatus(t, s, "POST", "/api/filters/params", `{"name":"intensity","value":0.4}`, http.StatusOK)
	if err := json.Unmarshal(data, &f); err != nil || f.Params["intensity"] != 0.4 {
		t.Errorf("after param = %s", data)
	}
	expectStatus(t, s, "POST", "/api/filters/params", `{"name":"radius","value":1}`, http.StatusBadRequest)

	expectStatus(t, s, "GET", "/api/filters/1/preview", "", http.StatusNoContent)
	thumb.ConsumeFrame(capture.Frame{Image: image.NewRGBA(image.Rect(0, 0, 64, 48))})
	resp, body := call(t, s, "GET", "/api/filters/1/preview", "")
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Errorf("preview = %d", resp.StatusCode)
	}
	expectStatus(t, s, "GET", "/api/filters/5/preview", "", http.StatusNotFound)
}

func TestPreviewFilterEndpoints(t *testing.T) {
	s := newTestServer(t)

	var fs []filter.Filter
	data := expectStatus(t, s, "GET", "/api/filters/preview", "", http.StatusOK)
	if err := json.Unmarshal(data, &fs); err != nil || len(fs) != 1 || fs[0].ID != 0 {
		t.Fatalf("preview filters = %s", data)
	}

	expectStatus(t, s, "PUT", "/api/filters/99/preview", "", http.StatusNotFound)
	data = expectStatus(t, s, "PUT", "/api/filters/2/preview", "", http.StatusCreated)
	var f filter.Filter
	if err := json.Unmarshal(data, &f); err != nil || f.ID != 2 {
		t.Errorf("added = %s", data)
	}
	expectStatus(t, s, "GET", "/api/filters/2/preview", "", http.StatusNoContent)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"set intensity", "/api/filters/2/params", `{"name":"intensity","value":0.5}`, http.StatusOK},
		{"unknown param", "/api/filters/2/params", `{"name":"radius","value":1}`, http.StatusBadRequest},
		{"no branch", "/api/filters/7/params", `{"name":"intensity","value":1}`, http.StatusNotFound},
		{"bad id", "/api/filters/x/params", `{"name":"intensity","value":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s, "POST", tt.path, tt.body, tt.want)
		})
	}
	if got, err := s.orch.PreviewFilter(2); err != nil || got.Params["intensity"] != 0.5 {
		t.Errorf("branch params = %v, %v", got.Params, err)
	}
	if s.orch.SelectedFilter().ID != filter.Passthrough.ID {
		t.Error("branch param changed the selected filter")
	}

	expectStatus(t, s, "POST", "/api/filters/select", `{"id":2}`, http.StatusOK)
	expectStatus(t, s, "DELETE", "/api/filters/2/preview", "", http.StatusNoContent)
	st := decodeStatus(t, expectStatus(t, s, "GET", "/api/status", "", http.StatusOK))
	if st.Filter.ID != filter.Passthrough.ID {
		t.Errorf("filter after removing the selected branch = %v", st.Filter)
	}
	expectStatus(t, s, "GET", "/api/filters/2/preview", "", http.StatusNotFound)
	expectStatus(t, s, "DELETE", "/api/filters/2/preview", "", http.StatusNotFound)
}

func TestCameraConfigEndpoints(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s, "GET", "/api/camera/capabilities", "", http.StatusNotFound)
	expectStatus(t, s, "PUT", "/api/camera/config", `{"zoom":20}`, http.StatusBadRequest)
	expectStatus(t, s, "PUT", "/api/camera/config", `{"preset":"vhs"}`, http.StatusBadRequest)

	data := expectStatus(t, s, "PUT", "/api/camera/config", `{"preset":"hd720","zoom":2}`, http.StatusOK)
	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil || cfg["width"] != float64(1280) || cfg["zoom"] != float64(2) {
		t.Errorf("config = %s", data)
	}

	data = expectStatus(t, s, "GET", "/api/camera/presets", "", http.StatusOK)
	var presets map[string]camera.Config
	if err := json.Unmarshal(data, &presets); err != nil || len(presets) != len(camera.PresetNames()) {
		t.Errorf("presets = %s", data)
	}

	expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK)
	expectStatus(t, s, "GET", "/api/camera/capabilities", "", http.StatusOK)
	expectStatus(t, s, "POST", "/api/camera/focus", `{"x":0.2,"y":0.8}`, http.StatusOK)
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.Run(context.Background())
	go s.Listener(ln)
	return "ws://" + ln.Addr().String()
}

func TestPreviewWebsocket(t *testing.T) {
	s := newTestServer(t)
	base := serve(t, s)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/preview", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.previewHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("preview client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Frames arrive from the session once it runs.
	expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.BinaryMessage || len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Errorf("message type %d is not a JPEG frame", typ)
	}
	if s.PreviewSink().Sent() == 0 {
		t.Error("Sent = 0")
	}
}

func TestStatusWebsocket(t *testing.T) {
	s := newTestServer(t)
	base := serve(t, s)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first statusEvent
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != "status" || first.Status == nil || first.Status.State != "uninitialized" {
		t.Errorf("first event = %+v", first)
	}

	expectStatus(t, s, "POST", "/api/session/start", "", http.StatusOK)
	for {
		var ev statusEvent
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "status" && ev.Status != nil && ev.Status.State == "running" {
			return
		}
	}
}

func TestStatusWebsocket_ClientChurn(t *testing.T) {
	s := newTestServer(t)
	base := serve(t, s)

	for i := 0; i < 20; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/status", nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev statusEvent
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		ws.Close()
	}

	deadline := time.Now().Add(3 * time.Second)
	for s.statusHub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("status clients = %d after disconnects, want 0", s.statusHub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial after churn: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev statusEvent
	if err := ws.ReadJSON(&ev); err != nil || ev.Type != "status" {
		t.Fatalf("read after churn: %+v, %v", ev, err)
	}
}

func TestUpgradeRequired(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s, "GET", "/ws/preview", "", http.StatusUpgradeRequired)
}

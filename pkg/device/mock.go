package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"

	"github.com/teslashibe/go-capture/pkg/audioio"
)

// Mock is a Discoverer that synthesizes solid-colour frames. It is safe for
// concurrent use and lets tests inject open, lock and read failures.
type Mock struct {
	mu           sync.Mutex
	devices      []CaptureDevice
	preferred    string
	preferredMic string
	size         image.Point

	failOpen map[string]error
	failLock map[string]error
	failRead map[string]error
	failDisc error

	opens    map[string]int
	controls map[string]*MockControls
}

// MockControls records the configuration applied to a mock camera.
type MockControls struct {
	Locked        bool
	Locks         int
	Focus         Point
	Exposure      Point
	Zoom          float64
	ExposureBias  float64
	WhiteBalanceK float64
}

// DefaultMockDevices returns a back camera, a front camera and a microphone.
func DefaultMockDevices() []CaptureDevice {
	formats := []Format{
		{Width: 1920, Height: 1080, FrameRates: []FrameRateRange{{Min: 1, Max: 30}}},
		{Width: 1280, Height: 720, FrameRates: []FrameRateRange{{Min: 1, Max: 60}}, TenBit: true},
	}
	return []CaptureDevice{
		{ID: "mock-back", Label: "Mock Back Camera", Position: PositionBack, Media: MediaVideo, Formats: formats},
		{ID: "mock-front", Label: "Mock Front Camera", Position: PositionFront, Media: MediaVideo, Formats: formats[1:]},
		{ID: "mock-mic", Label: "Mock Microphone", Media: MediaAudio},
	}
}

// NewMock creates a mock discoverer. The first camera becomes the system
// preferred camera.
func NewMock(devices ...CaptureDevice) *Mock {
	m := &Mock{
		devices:  append([]CaptureDevice(nil), devices...),
		size:     image.Pt(64, 48),
		failOpen: make(map[string]error),
		failLock: make(map[string]error),
		failRead: make(map[string]error),
		opens:    make(map[string]int),
		controls: make(map[string]*MockControls),
	}
	for _, d := range devices {
		if d.Media == MediaVideo && m.preferred == "" {
			m.preferred = d.ID
		}
		if d.Media == MediaAudio && m.preferredMic == "" {
			m.preferredMic = d.ID
		}
	}
	return m
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// SetFrameSize sets the dimensions of synthesized frames.
func (m *Mock) SetFrameSize(w, h int) {
	m.mu.Lock()
	m.size = image.Pt(w, h)
	m.mu.Unlock()
}

// SetDevices replaces the enumerated devices.
func (m *Mock) SetDevices(devices ...CaptureDevice) {
	m.mu.Lock()
	m.devices = append([]CaptureDevice(nil), devices...)
	m.mu.Unlock()
}

// SetPreferred changes the system preferred camera.
func (m *Mock) SetPreferred(id string) {
	m.mu.Lock()
	m.preferred = id
	m.mu.Unlock()
}

// FailDiscover makes Discover return err. A nil err clears it.
func (m *Mock) FailDiscover(err error) {
	m.mu.Lock()
	m.failDisc = err
	m.mu.Unlock()
}

// FailOpen makes OpenVideo and OpenAudio for id return err.
func (m *Mock) FailOpen(id string, err error) { m.setFailure(m.failOpen, id, err) }

// FailLock makes LockForConfiguration on id return err.
func (m *Mock) FailLock(id string, err error) { m.setFailure(m.failLock, id, err) }

// FailRead makes every subsequent Read on id return err.
func (m *Mock) FailRead(id string, err error) { m.setFailure(m.failRead, id, err) }

func (m *Mock) setFailure(set map[string]error, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(set, id)
		return
	}
	set[id] = err
}

// Opens returns how many times id was opened.
func (m *Mock) Opens(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[id]
}

// Controls returns a copy of the configuration applied to id.
func (m *Mock) Controls(id string) MockControls {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controls[id]; ok {
		return *c
	}
	return MockControls{}
}

// Discover returns the configured devices.
func (m *Mock) Discover(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDisc != nil {
		return Snapshot{}, m.failDisc
	}
	return Snapshot{
		Devices:         append([]CaptureDevice(nil), m.devices...),
		PreferredCamera: m.preferred,
		PreferredMic:    m.preferredMic,
	}, nil
}

// OpenVideo opens a synthetic stream for dev.
func (m *Mock) OpenVideo(ctx context.Context, dev CaptureDevice) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOpen[dev.ID]; err != nil {
		return nil, err
	}
	if !m.knownLocked(dev.ID) {
		return nil, fmt.Errorf("mock device %q not found", dev.ID)
	}
	m.opens[dev.ID]++
	if _, ok := m.controls[dev.ID]; !ok {
		m.controls[dev.ID] = &MockControls{Zoom: 1, WhiteBalanceK: 5500}
	}
	return &mockHandle{mock: m, id: dev.ID, fill: colorFor(dev), size: m.size}, nil
}

// OpenAudio returns a silent mock microphone.
func (m *Mock) OpenAudio(ctx context.Context, dev CaptureDevice, cfg audioio.Config) (audioio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	err := m.failOpen[dev.ID]
	if err == nil {
		m.opens[dev.ID]++
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	cfg.Backend = audioio.BackendMock
	cfg.Device = dev.ID
	return audioio.NewSource(cfg, nil)
}

func (m *Mock) knownLocked(id string) bool {
	for _, d := range m.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func colorFor(dev CaptureDevice) color.RGBA {
	switch dev.Position {
	case PositionBack:
		return color.RGBA{R: 200, G: 60, B: 40, A: 255}
	case PositionFront:
		return color.RGBA{R: 40, G: 80, B: 200, A: 255}
	case PositionExternal:
		return color.RGBA{R: 60, G: 180, B: 80, A: 255}
	default:
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
}

type mockHandle struct {
	mock *Mock
	id   string
	fill color.RGBA
	size image.Point

	mu     sync.Mutex
	closed bool
}

func (h *mockHandle) Read() (image.Image, func(), error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, nil, io.EOF
	}

	h.mock.mu.Lock()
	err := h.mock.failRead[h.id]
	h.mock.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	img := image.NewRGBA(image.Rectangle{Max: h.size})
	draw.Draw(img, img.Bounds(), &image.Uniform{C: h.fill}, image.Point{}, draw.Src)
	return img, func() {}, nil
}

func (h *mockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *mockHandle) control(fn func(c *MockControls) error) error {
	h.mock.mu.Lock()
	defer h.mock.mu.Unlock()
	c := h.mock.controls[h.id]
	if !c.Locked {
		return errors.New("device not locked for configuration")
	}
	return fn(c)
}

func (h *mockHandle) LockForConfiguration() error {
	h.mock.mu.Lock()
	defer h.mock.mu.Unlock()
	if err := h.mock.failLock[h.id]; err != nil {
		return err
	}
	c := h.mock.controls[h.id]
	c.Locked = true
	c.Locks++
	return nil
}

func (h *mockHandle) UnlockForConfiguration() {
	h.mock.mu.Lock()
	defer h.mock.mu.Unlock()
	h.mock.controls[h.id].Locked = false
}

func (h *mockHandle) SetFocusPoint(p Point) error {
	return h.control(func(c *MockControls) error { c.Focus = p; return nil })
}

func (h *mockHandle) SetExposurePoint(p Point) error {
	return h.control(func(c *MockControls) error { c.Exposure = p; return nil })
}

func (h *mockHandle) SetZoom(factor float64) error {
	return h.control(func(c *MockControls) error {
		if factor < 1 {
			return fmt.Errorf("zoom factor %.2f below 1", factor)
		}
		c.Zoom = factor
		return nil
	})
}

func (h *mockHandle) SetExposureBias(ev float64) error {
	return h.control(func(c *MockControls) error { c.ExposureBias = ev; return nil })
}

func (h *mockHandle) SetWhiteBalance(kelvin float64) error {
	return h.control(func(c *MockControls) error { c.WhiteBalanceK = kelvin; return nil })
}

var (
	_ Discoverer   = (*Mock)(nil)
	_ Controllable = (*mockHandle)(nil)
)

package device

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/teslashibe/go-capture/pkg/audioio"
)

func TestMock_OpenAndRead(t *testing.T) {
	mock := NewMock(DefaultMockDevices()...)
	mock.SetFrameSize(8, 6)
	ctx := context.Background()

	dev := DefaultMockDevices()[0]
	h, err := mock.OpenVideo(ctx, dev)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}

	img, release, err := h.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	release()
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("Expected 8x6 frame, got %v", b)
	}
	if mock.Opens(dev.ID) != 1 {
		t.Errorf("Expected 1 open, got %d", mock.Opens(dev.ID))
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, _, err := h.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}
}

func TestMock_Failures(t *testing.T) {
	mock := NewMock(DefaultMockDevices()...)
	ctx := context.Background()
	dev := DefaultMockDevices()[1]
	boom := errors.New("boom")

	mock.FailOpen(dev.ID, boom)
	if _, err := mock.OpenVideo(ctx, dev); !errors.Is(err, boom) {
		t.Fatalf("Expected open failure, got %v", err)
	}
	mock.FailOpen(dev.ID, nil)

	h, err := mock.OpenVideo(ctx, dev)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	mock.FailRead(dev.ID, boom)
	if _, _, err := h.Read(); !errors.Is(err, boom) {
		t.Errorf("Expected read failure, got %v", err)
	}

	if _, err := mock.OpenVideo(ctx, cam("ghost", PositionBack)); err == nil {
		t.Error("Expected error opening unknown device")
	}
}

func TestMock_Controls(t *testing.T) {
	mock := NewMock(DefaultMockDevices()...)
	dev := DefaultMockDevices()[0]
	h, err := mock.OpenVideo(context.Background(), dev)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	ctrl, ok := h.(Controllable)
	if !ok {
		t.Fatal("mock handle should be Controllable")
	}

	if err := ctrl.SetFocusPoint(Point{X: 0.5, Y: 0.5}); err == nil {
		t.Error("Expected error configuring an unlocked device")
	}

	if err := ctrl.LockForConfiguration(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := ctrl.SetFocusPoint(Point{X: 0.25, Y: 0.75}); err != nil {
		t.Fatalf("SetFocusPoint failed: %v", err)
	}
	if err := ctrl.SetZoom(0.5); err == nil {
		t.Error("Expected error for zoom below 1")
	}
	ctrl.UnlockForConfiguration()

	c := mock.Controls(dev.ID)
	if c.Locked {
		t.Error("Expected device to be unlocked")
	}
	if c.Focus != (Point{X: 0.25, Y: 0.75}) {
		t.Errorf("Unexpected focus point %+v", c.Focus)
	}

	boom := errors.New("busy")
	mock.FailLock(dev.ID, boom)
	if err := ctrl.LockForConfiguration(); !errors.Is(err, boom) {
		t.Errorf("Expected lock failure, got %v", err)
	}
}

func TestMock_OpenAudio(t *testing.T) {
	mock := NewMock(DefaultMockDevices()...)
	src, err := mock.OpenAudio(context.Background(), DefaultMockDevices()[2], audioio.DefaultConfig())
	if err != nil {
		t.Fatalf("OpenAudio failed: %v", err)
	}
	defer src.Close()
	if src.Name() != "mock" {
		t.Errorf("Expected mock audio source, got %q", src.Name())
	}
	if src.Config().Device != "mock-mic" {
		t.Errorf("Expected device mock-mic, got %q", src.Config().Device)
	}
}

func TestCaptureDevice_Formats(t *testing.T) {
	d := DefaultMockDevices()[0]
	w, h := d.MaxDimensions()
	if w != 1920 || h != 1080 {
		t.Errorf("Expected 1920x1080, got %dx%d", w, h)
	}
	if d.MaxFrameRate() != 60 {
		t.Errorf("Expected max frame rate 60, got %v", d.MaxFrameRate())
	}
	if !d.SupportsTenBit() {
		t.Error("Expected 10-bit support")
	}
}

func TestPositionFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Position
	}{
		{"FaceTime HD Camera", PositionFront},
		{"Rear Camera", PositionBack},
		{"USB2.0 HD UVC WebCam", PositionExternal},
	}
	for _, tt := range tests {
		if got := positionFromLabel(tt.label); got != tt.want {
			t.Errorf("positionFromLabel(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

package hw

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
)

type frameRecorder struct {
	name string
	mu   sync.Mutex
	devs []string
}

func (r *frameRecorder) Name() string { return r.name }

func (r *frameRecorder) ConsumeFrame(f capture.Frame) {
	r.mu.Lock()
	r.devs = append(r.devs, f.DeviceID)
	r.mu.Unlock()
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devs)
}

type audioRecorder struct {
	chunks atomic.Int64
}

func (r *audioRecorder) Name() string                    { return "audio-recorder" }
func (r *audioRecorder) ConsumeAudio(audioio.AudioChunk) { r.chunks.Add(1) }

func newTestSession(t *testing.T) (*CaptureSession, *device.Mock) {
	t.Helper()
	s, err := NewCaptureSession(Config{FrameRate: 200}, nil)
	if err != nil {
		t.Fatalf("NewCaptureSession failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, device.NewMock(device.DefaultMockDevices()...)
}

func openInput(t *testing.T, mock *device.Mock, idx int) *DeviceInput {
	t.Helper()
	in, err := NewDeviceInput(context.Background(), mock, device.DefaultMockDevices()[idx])
	if err != nil {
		t.Fatalf("NewDeviceInput failed: %v", err)
	}
	return in
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConfigure_CommitAndDiscard(t *testing.T) {
	s, mock := newTestSession(t)
	in := openInput(t, mock, 0)
	out := &frameRecorder{name: "out"}

	err := s.Configure(func(c Configuration) error {
		c.SetPreset("photo")
		if err := c.AddInput(in); err != nil {
			return err
		}
		return c.AddOutput(out)
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if s.VideoInput() != in || len(s.Outputs()) != 1 || s.Preset() != "photo" {
		t.Fatal("expected committed topology")
	}

	boom := errors.New("boom")
	err = s.Configure(func(c Configuration) error {
		c.RemoveInput(in)
		c.RemoveOutput(out)
		c.SetPreset("high")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if s.VideoInput() != in || len(s.Outputs()) != 1 || s.Preset() != "photo" {
		t.Error("discarded transaction must leave the session unchanged")
	}
}

func TestConfigure_SlotRules(t *testing.T) {
	s, mock := newTestSession(t)
	back := openInput(t, mock, 0)
	front := openInput(t, mock, 1)
	out := &frameRecorder{name: "out"}

	err := s.Configure(func(c Configuration) error {
		if err := c.AddInput(back); err != nil {
			return err
		}
		if c.CanAddInput(front) {
			t.Error("second video input should not be addable")
		}
		if err := c.AddInput(front); !errors.Is(err, capture.ErrAddInputFailed) {
			t.Errorf("Expected ErrAddInputFailed, got %v", err)
		}
		if err := c.AddOutput(out); err != nil {
			return err
		}
		if err := c.AddOutput(out); !errors.Is(err, capture.ErrAddOutputFailed) {
			t.Errorf("Expected ErrAddOutputFailed, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
}

func TestNewDeviceInput_OpenFailure(t *testing.T) {
	mock := device.NewMock(device.DefaultMockDevices()...)
	mock.FailOpen("mock-front", errors.New("busy"))

	_, err := NewDeviceInput(context.Background(), mock, device.DefaultMockDevices()[1])
	if !errors.Is(err, capture.ErrAddInputFailed) {
		t.Fatalf("Expected ErrAddInputFailed, got %v", err)
	}
	var devErr *capture.DeviceError
	if !errors.As(err, &devErr) || devErr.DeviceID != "mock-front" {
		t.Errorf("Expected DeviceError for mock-front, got %v", err)
	}
}

func TestDelivery(t *testing.T) {
	s, mock := newTestSession(t)
	in := openInput(t, mock, 0)
	out := &frameRecorder{name: "out"}

	if err := s.Configure(func(c Configuration) error {
		if err := c.AddInput(in); err != nil {
			return err
		}
		return c.AddOutput(out)
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := s.StartRunning(); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}
	if err := s.StartRunning(); err != nil {
		t.Fatalf("second StartRunning failed: %v", err)
	}
	waitFor(t, "frames", func() bool { return out.count() >= 5 })

	s.StopRunning()
	n := out.count()
	time.Sleep(30 * time.Millisecond)
	if out.count() != n {
		t.Error("frames delivered after StopRunning returned")
	}
	if s.IsRunning() {
		t.Error("session should not be running")
	}
}

func TestDelivery_SwitchNeverLosesInput(t *testing.T) {
	s, mock := newTestSession(t)
	back := openInput(t, mock, 0)
	front := openInput(t, mock, 1)
	out := &frameRecorder{name: "out"}

	if err := s.Configure(func(c Configuration) error {
		if err := c.AddInput(back); err != nil {
			return err
		}
		return c.AddOutput(out)
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := s.StartRunning(); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}

	stop := make(chan struct{})
	var missing atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if s.VideoInput() == nil {
				missing.Add(1)
			}
		}
	}()

	current, next := back, front
	for i := 0; i < 200; i++ {
		err := s.Configure(func(c Configuration) error {
			c.RemoveInput(current)
			return c.AddInput(next)
		})
		if err != nil {
			t.Fatalf("switch %d failed: %v", i, err)
		}
		current, next = next, current
	}
	close(stop)
	wg.Wait()

	if missing.Load() != 0 {
		t.Errorf("observed %d states without a video input", missing.Load())
	}
	waitFor(t, "frames", func() bool { return out.count() > 0 })
}

func TestDelivery_RuntimeError(t *testing.T) {
	s, mock := newTestSession(t)
	in := openInput(t, mock, 0)

	if err := s.Configure(func(c Configuration) error { return c.AddInput(in) }); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := s.StartRunning(); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}

	boom := errors.New("usb disconnected")
	mock.FailRead("mock-back", boom)

	select {
	case n := <-s.Notifications():
		if n.Kind != RuntimeError || !errors.Is(n.Err, boom) {
			t.Errorf("unexpected notification %+v", n)
		}
		if n.MediaServicesReset {
			t.Error("read failures are not media-services resets")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runtime error")
	}
	waitFor(t, "stopped", func() bool { return !s.IsRunning() })

	mock.FailRead("mock-back", nil)
	if err := s.StartRunning(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected session to run again")
	}
}

func TestInterruption(t *testing.T) {
	s, mock := newTestSession(t)
	in := openInput(t, mock, 0)
	if err := s.Configure(func(c Configuration) error { return c.AddInput(in) }); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := s.StartRunning(); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}

	s.Interrupt("device in use")
	if !s.IsInterrupted() || s.IsRunning() {
		t.Fatal("expected interrupted, stopped session")
	}
	n := <-s.Notifications()
	if n.Kind != InterruptionBegan || n.Reason != "device in use" {
		t.Errorf("unexpected notification %+v", n)
	}

	s.EndInterruption()
	if s.IsInterrupted() {
		t.Error("interruption should be cleared")
	}
	if n := <-s.Notifications(); n.Kind != InterruptionEnded {
		t.Errorf("unexpected notification %+v", n)
	}

	s.InjectRuntimeError(errors.New("reset"), true)
	if n := <-s.Notifications(); n.Kind != RuntimeError || !n.MediaServicesReset {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestAudioDelivery(t *testing.T) {
	s, mock := newTestSession(t)
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	mic, err := NewAudioInput(context.Background(), mock, device.DefaultMockDevices()[2], cfg)
	if err != nil {
		t.Fatalf("NewAudioInput failed: %v", err)
	}
	defer mic.Close()
	rec := &audioRecorder{}

	if err := s.StartRunning(); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}
	if err := s.Configure(func(c Configuration) error {
		if err := c.AddInput(mic); err != nil {
			return err
		}
		return c.AddOutput(rec)
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	waitFor(t, "audio chunks", func() bool { return rec.chunks.Load() >= 3 })

	if err := s.Configure(func(c Configuration) error {
		c.RemoveInput(mic)
		return nil
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	n := rec.chunks.Load()
	time.Sleep(30 * time.Millisecond)
	if rec.chunks.Load() != n {
		t.Error("audio delivered after the microphone was detached")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg.FrameRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero frame rate")
	}
}

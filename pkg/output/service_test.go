package output

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.MovieDir = t.TempDir()
	cfg.Tick = 20 * time.Millisecond
	return cfg
}

func frameOf(w, h int) capture.Frame {
	return capture.Frame{Seq: 1, Timestamp: time.Now(), Image: solid(w, h, color.RGBA{R: 10, G: 20, B: 30, A: 255})}
}

// countingEncoder records frames in memory and signals each write.
type countingEncoder struct {
	mu      sync.Mutex
	frames  int
	written chan struct{}
	failAt  int
}

func newCountingEncoder() *countingEncoder {
	return &countingEncoder{written: make(chan struct{}, 64)}
}

func (e *countingEncoder) factory() EncoderFactory {
	return func(path string, _, _ int, _ float64) (Encoder, error) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func (e *countingEncoder) WriteFrame(image.Image) error {
	e.mu.Lock()
	e.frames++
	n := e.frames
	e.mu.Unlock()
	if e.failAt > 0 && n >= e.failAt {
		return errors.New("encoder broke")
	}
	select {
	case e.written <- struct{}{}:
	default:
	}
	return nil
}

func (e *countingEncoder) Close() error { return nil }

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"quality zero", func(c *Config) { c.JPEGQuality = 0 }, true},
		{"quality high", func(c *Config) { c.JPEGQuality = 101 }, true},
		{"no proxy size", func(c *Config) { c.ProxyMaxDimension = 0 }, true},
		{"no tick", func(c *Config) { c.Tick = 0 }, true},
		{"no movie dir", func(c *Config) { c.MovieDir = "" }, true},
		{"no thumbnail size", func(c *Config) { c.ThumbnailMaxDimension = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBackend(t *testing.T) {
	for _, s := range []string{"native", "gpu", "static"} {
		if _, err := ParseBackend(s); err != nil {
			t.Errorf("ParseBackend(%q) error = %v", s, err)
		}
	}
	if _, err := ParseBackend("metal"); err == nil {
		t.Error("ParseBackend(metal) succeeded")
	}
}

func TestRotateAndFit(t *testing.T) {
	src := solid(4, 2, color.RGBA{A: 255})
	tests := []struct {
		angle      float64
		wantW, wnH int
	}{
		{0, 4, 2},
		{90, 2, 4},
		{180, 4, 2},
		{270, 2, 4},
		{-90, 2, 4},
	}
	for _, tt := range tests {
		b := rotate(src, tt.angle).Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wnH {
			t.Errorf("rotate(%v) = %dx%d, want %dx%d", tt.angle, b.Dx(), b.Dy(), tt.wantW, tt.wnH)
		}
	}

	big := solid(400, 200, color.RGBA{A: 255})
	if b := fitLongEdge(big, 100).Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("fitLongEdge = %dx%d, want 100x50", b.Dx(), b.Dy())
	}
	if got := fitWithin(big, 0, 0); got != image.Image(big) {
		t.Error("fitWithin with no bounds should return the input")
	}
}

func TestPhotoService_NativeCapture(t *testing.T) {
	svc, err := NewPhotoService(testConfig(t), BackendNative, nil)
	if err != nil {
		t.Fatalf("NewPhotoService() error = %v", err)
	}
	defer svc.Close()

	svc.UpdateConfiguration(device.CaptureDevice{
		ID:      "cam",
		Formats: []device.Format{{Width: 32, Height: 16}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := svc.BeginCapture(ctx, capture.PhotoFeatures{Deferred: true})
	if err != nil {
		t.Fatalf("BeginCapture() error = %v", err)
	}
	if a := svc.Activity(); a != capture.PhotoActivity(true) {
		t.Errorf("Activity() = %v, want photo", a)
	}

	svc.ConsumeFrame(frameOf(64, 32))

	photo, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if photo.Width != 32 || photo.Height != 16 {
		t.Errorf("photo = %dx%d, want 32x16", photo.Width, photo.Height)
	}
	if photo.IsProxy {
		t.Error("final photo flagged as proxy")
	}

	deadline := time.After(time.Second)
	for !svc.Activity().IsIdle() {
		select {
		case <-deadline:
			t.Fatal("activity never returned to idle")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPhotoService_Rotation(t *testing.T) {
	tests := []struct {
		backend    Backend
		wantW, wnH int
	}{
		{BackendNative, 8, 16},
		{BackendGPU, 16, 8},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			svc, err := NewPhotoService(testConfig(t), tt.backend, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer svc.Close()
			svc.SetVideoRotationAngle(90)

			b, _ := svc.BeginCapture(context.Background(), capture.PhotoFeatures{})
			svc.ConsumeFrame(frameOf(16, 8))
			photo, err := b.Wait(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if photo.Width != tt.wantW || photo.Height != tt.wnH {
				t.Errorf("photo = %dx%d, want %dx%d", photo.Width, photo.Height, tt.wantW, tt.wnH)
			}
		})
	}
}

func TestPhotoService_Static(t *testing.T) {
	svc, err := NewPhotoService(testConfig(t), BackendStatic, nil, WithStaticImage(solid(20, 10, color.RGBA{A: 255})))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	photo, err := svc.CapturePhoto(ctx, capture.PhotoFeatures{Quality: capture.QualitySpeed})
	if err != nil {
		t.Fatalf("CapturePhoto() error = %v", err)
	}
	if photo.Width != 20 || len(photo.Data) == 0 {
		t.Errorf("photo = %+v", photo)
	}
}

func TestPhotoService_FlushResolvesPending(t *testing.T) {
	svc, err := NewPhotoService(testConfig(t), BackendNative, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := svc.BeginCapture(context.Background(), capture.PhotoFeatures{})
	svc.Flush()

	if _, err := b.Wait(context.Background()); !errors.Is(err, capture.ErrNoPhotoData) {
		t.Errorf("Wait() error = %v, want ErrNoPhotoData", err)
	}
	svc.Close()
}

func TestMovieService_StaticRecordingTicks(t *testing.T) {
	svc, err := NewMovieService(testConfig(t), BackendStatic, nil, WithStaticImage(solid(16, 16, color.RGBA{G: 255, A: 255})))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := svc.StartRecording(ctx, capture.VideoFeatures{})
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	var (
		seen     []capture.Activity
		ticked   = make(chan struct{})
		finished = make(chan struct{})
	)
	go func() {
		defer close(finished)
		ticks := 0
		for a := range b.Progress() {
			seen = append(seen, a)
			if a.Kind == capture.ActivityVideo && a.Duration > 0 {
				ticks++
				if ticks == 3 {
					close(ticked)
				}
			}
		}
	}()

	select {
	case <-ticked:
	case <-ctx.Done():
		t.Fatal("fewer than 3 ticks observed")
	}
	svc.StopRecording()
	svc.StopRecording()

	video, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	<-finished

	if !seen[len(seen)-1].IsIdle() {
		t.Errorf("terminal progress = %v, want idle", seen[len(seen)-1])
	}
	if video.Frames < 3 {
		t.Errorf("Frames = %d, want >= 3", video.Frames)
	}
	if _, err := os.Stat(video.Path); err != nil {
		t.Errorf("movie file: %v", err)
	}
	if len(video.Thumbnail) == 0 {
		t.Error("missing thumbnail")
	}
	if svc.IsRecording() {
		t.Error("still recording after finish")
	}
}

func TestMovieService_NativeWithAudio(t *testing.T) {
	enc := newCountingEncoder()
	svc, err := NewMovieService(testConfig(t), BackendNative, nil, WithEncoder(enc.factory()))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	b, err := svc.StartRecording(context.Background(), capture.VideoFeatures{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartRecording(context.Background(), capture.VideoFeatures{}); !errors.Is(err, ErrRecordingInProgress) {
		t.Errorf("second StartRecording() error = %v", err)
	}

	svc.ConsumeFrame(frameOf(8, 8))
	select {
	case <-enc.written:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never written")
	}
	svc.ConsumeAudio(audioio.AudioChunk{Samples: []int16{1, 2, 3, 4}, SampleRate: 48000, Channels: 1})
	svc.StopRecording()

	video, err := b.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	info, err := os.Stat(video.AudioPath)
	if err != nil {
		t.Fatalf("audio sidecar: %v", err)
	}
	if info.Size() != 8 {
		t.Errorf("sidecar size = %d, want 8", info.Size())
	}
}

func TestMovieService_NoFrames(t *testing.T) {
	svc, err := NewMovieService(testConfig(t), BackendNative, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	b, err := svc.StartRecording(context.Background(), capture.VideoFeatures{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	svc.StopRecording()
	if _, err := b.Wait(context.Background()); !errors.Is(err, capture.ErrNoVideoData) {
		t.Errorf("Wait() error = %v, want ErrNoVideoData", err)
	}
}

func TestMovieService_EncoderFailure(t *testing.T) {
	enc := newCountingEncoder()
	enc.failAt = 1
	svc, err := NewMovieService(testConfig(t), BackendStatic, nil, WithEncoder(enc.factory()))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	b, err := svc.StartRecording(context.Background(), capture.VideoFeatures{})
	if err != nil {
		t.Fatal(err)
	}
	<-ctx.Done()
	svc.StopRecording()

	if _, err := b.Wait(context.Background()); err == nil || errors.Is(err, capture.ErrNoVideoData) {
		t.Errorf("Wait() error = %v, want encoder error", err)
	}
}

func TestMovieService_RecordVideoCancelStops(t *testing.T) {
	svc, err := NewMovieService(testConfig(t), BackendStatic, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.RecordVideo(ctx, capture.VideoFeatures{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RecordVideo() error = %v", err)
	}

	svc.Flush()
	if svc.IsRecording() {
		t.Error("recording still active after cancel")
	}
}

func TestMovieService_ClosedRefusesRecording(t *testing.T) {
	svc, err := NewMovieService(testConfig(t), BackendStatic, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Close()
	if _, err := svc.StartRecording(context.Background(), capture.VideoFeatures{}); !errors.Is(err, capture.ErrClosed) {
		t.Errorf("StartRecording() after Close error = %v", err)
	}
}

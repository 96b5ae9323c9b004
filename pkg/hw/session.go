// Package hw models the live hardware capture session.
//
// A Session owns at most one video input, at most one audio input and any
// number of outputs. Topology and preset only change inside Configure, which
// stages the changes and commits them atomically: frame delivery never sees
// a half-applied configuration.
package hw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
)

// Preset names a session quality preset.
type Preset string

// Output is anything attached to the session's output set.
type Output interface {
	Name() string
}

// FrameConsumer receives every delivered video frame. ConsumeFrame runs on
// the delivery goroutine and must not block.
type FrameConsumer interface {
	Output
	ConsumeFrame(capture.Frame)
}

// AudioConsumer receives microphone chunks while an audio input is attached.
type AudioConsumer interface {
	Output
	ConsumeAudio(audioio.AudioChunk)
}

// Configuration is the staged view handed to Configure.
type Configuration interface {
	Preset() Preset
	SetPreset(Preset)

	VideoInput() *DeviceInput
	AudioInput() *AudioInput
	CanAddInput(in Input) bool
	AddInput(in Input) error
	RemoveInput(in Input)

	Outputs() []Output
	HasOutput(out Output) bool
	AddOutput(out Output) error
	RemoveOutput(out Output)
}

// Session is the hardware capture session.
type Session interface {
	// Configure runs fn as one transaction. Changes are committed only if fn
	// returns nil.
	Configure(fn func(Configuration) error) error
	StartRunning() error
	StopRunning()
	IsRunning() bool
	IsInterrupted() bool

	Preset() Preset
	VideoInput() *DeviceInput
	AudioInput() *AudioInput
	Outputs() []Output

	Notifications() <-chan Notification
	Close() error
}

// Config holds session delivery settings.
type Config struct {
	// FrameRate caps frame delivery. Default: 30
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{FrameRate: 30}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %v", c.FrameRate)
	}
	return nil
}

type topology struct {
	preset  Preset
	video   *DeviceInput
	audio   *AudioInput
	outputs []Output
}

func (t topology) clone() topology {
	t.outputs = append([]Output(nil), t.outputs...)
	return t
}

// CaptureSession is the Session implementation driven by device handles.
type CaptureSession struct {
	cfg    Config
	logger *slog.Logger

	// topoMu guards topo. Configure holds it for writing from begin to
	// commit; delivery takes it for reading once per frame.
	topoMu sync.RWMutex
	topo   topology

	// stateMu serializes Start/Stop and guards run state.
	stateMu     sync.Mutex
	running     bool
	interrupted bool
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	runCtx      context.Context

	seq    atomic.Uint64
	frames atomic.Uint64

	notify chan Notification
}

// NewCaptureSession creates a stopped session with an empty topology.
func NewCaptureSession(cfg Config, logger *slog.Logger) (*CaptureSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureSession{
		cfg:    cfg,
		logger: logger.With("component", "hw-session"),
		notify: make(chan Notification, 16),
	}, nil
}

// Configure stages the changes fn makes and commits them if fn succeeds.
func (s *CaptureSession) Configure(fn func(Configuration) error) error {
	s.topoMu.Lock()
	staged := &stagedConfig{topo: s.topo.clone()}
	if err := fn(staged); err != nil {
		s.topoMu.Unlock()
		s.logger.Debug("configuration discarded", "error", err)
		return err
	}
	prev := s.topo
	s.topo = staged.topo
	s.topoMu.Unlock()

	s.afterCommit(prev.audio, staged.topo.audio)
	return nil
}

// afterCommit stops a detached microphone and starts a newly attached one.
func (s *CaptureSession) afterCommit(prev, next *AudioInput) {
	if prev == next {
		return
	}
	if prev != nil {
		prev.stop(s.logger)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.running && next != nil {
		s.startAudio(s.runCtx, next)
	}
}

// StartRunning begins frame delivery. Starting a running session is a no-op.
func (s *CaptureSession) StartRunning() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.closed {
		return capture.ErrClosed
	}
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.interrupted = false
	s.runCtx = ctx
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.deliverLoop(ctx, s.done)

	s.topoMu.RLock()
	audio := s.topo.audio
	s.topoMu.RUnlock()
	if audio != nil {
		s.startAudio(ctx, audio)
	}

	s.logger.Info("session started", "frame_rate", s.cfg.FrameRate)
	return nil
}

// StopRunning halts delivery and waits for the delivery goroutine to exit.
func (s *CaptureSession) StopRunning() {
	s.stateMu.Lock()
	if !s.running {
		s.stateMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.stateMu.Unlock()

	cancel()
	<-done

	s.topoMu.RLock()
	audio := s.topo.audio
	s.topoMu.RUnlock()
	if audio != nil {
		audio.stop(s.logger)
	}

	s.logger.Info("session stopped", "frames", s.frames.Load())
}

// IsRunning reports whether frames are being delivered.
func (s *CaptureSession) IsRunning() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// IsInterrupted reports whether an interruption is in effect.
func (s *CaptureSession) IsInterrupted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.interrupted
}

// Preset returns the committed preset.
func (s *CaptureSession) Preset() Preset {
	s.topoMu.RLock()
	defer s.topoMu.RUnlock()
	return s.topo.preset
}

// VideoInput returns the committed video input, nil if none.
func (s *CaptureSession) VideoInput() *DeviceInput {
	s.topoMu.RLock()
	defer s.topoMu.RUnlock()
	return s.topo.video
}

// AudioInput returns the committed audio input, nil if none.
func (s *CaptureSession) AudioInput() *AudioInput {
	s.topoMu.RLock()
	defer s.topoMu.RUnlock()
	return s.topo.audio
}

// Outputs returns the committed outputs.
func (s *CaptureSession) Outputs() []Output {
	s.topoMu.RLock()
	defer s.topoMu.RUnlock()
	return append([]Output(nil), s.topo.outputs...)
}

// FramesDelivered returns the number of frames handed to consumers.
func (s *CaptureSession) FramesDelivered() uint64 {
	return s.frames.Load()
}

// Notifications delivers interruption and runtime-error events.
func (s *CaptureSession) Notifications() <-chan Notification {
	return s.notify
}

// Close stops delivery. Inputs are owned by whoever created them.
func (s *CaptureSession) Close() error {
	s.StopRunning()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notify)
	return nil
}

func (s *CaptureSession) deliverLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(float64(time.Second) / s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.topoMu.RLock()
		in := s.topo.video
		s.topoMu.RUnlock()
		if in == nil {
			continue
		}

		img, release, err := in.handle.Read()
		if err != nil {
			if s.handleReadError(ctx, in, err) {
				return
			}
			continue
		}

		s.topoMu.RLock()
		if s.topo.video != in {
			// Switched while reading.
			s.topoMu.RUnlock()
			release()
			continue
		}
		consumers := frameConsumers(s.topo.outputs)
		s.topoMu.RUnlock()

		frame := capture.Frame{
			Seq:       s.seq.Add(1),
			Timestamp: time.Now(),
			DeviceID:  in.dev.ID,
			Image:     img,
		}
		for _, c := range consumers {
			c.ConsumeFrame(frame)
		}
		release()
		s.frames.Add(1)
	}
}

// handleReadError reports whether delivery must end.
func (s *CaptureSession) handleReadError(ctx context.Context, in *DeviceInput, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	s.topoMu.RLock()
	stale := s.topo.video != in
	s.topoMu.RUnlock()
	if stale || errors.Is(err, io.EOF) {
		// Closed by a switch or teardown.
		return false
	}

	s.logger.Error("video input failed", "device", in.dev.ID, "error", err)
	s.stateMu.Lock()
	s.running = false
	s.cancel()
	s.stateMu.Unlock()
	s.post(Notification{
		Kind: RuntimeError,
		Err:  capture.WrapDeviceError(in.dev.ID, "read", err),
	})
	return true
}

// startAudio starts the microphone and its pump. Called with stateMu held.
func (s *CaptureSession) startAudio(ctx context.Context, in *AudioInput) {
	done, ok := in.beginPump()
	if !ok {
		return
	}
	if err := in.src.Start(ctx); err != nil {
		s.logger.Warn("start audio input failed", "device", in.dev.ID, "error", err)
		close(done)
		return
	}
	go s.pumpAudio(ctx, in, done)
}

func (s *CaptureSession) pumpAudio(ctx context.Context, in *AudioInput, done chan struct{}) {
	defer close(done)

	for {
		chunk, err := in.src.Read(ctx)
		if err != nil {
			return
		}

		s.topoMu.RLock()
		if s.topo.audio != in {
			s.topoMu.RUnlock()
			return
		}
		var consumers []AudioConsumer
		for _, o := range s.topo.outputs {
			if c, ok := o.(AudioConsumer); ok {
				consumers = append(consumers, c)
			}
		}
		s.topoMu.RUnlock()

		for _, c := range consumers {
			c.ConsumeAudio(chunk)
		}
	}
}

func frameConsumers(outputs []Output) []FrameConsumer {
	var out []FrameConsumer
	for _, o := range outputs {
		if c, ok := o.(FrameConsumer); ok {
			out = append(out, c)
		}
	}
	return out
}

var _ Session = (*CaptureSession)(nil)

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/graph"
	"github.com/teslashibe/go-capture/pkg/hw"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// Options are the collaborators an Orchestrator coordinates. Registry,
// Session, Photo and Movie are required.
type Options struct {
	Registry *device.Registry
	Session  hw.Session
	Photo    *output.PhotoService
	Movie    *output.MovieService

	// Source is the preview graph root. Required for the GPU backend.
	Source *graph.Source
	// Chain renders the selected filter. Captures tap it in filtered mode.
	Chain *graph.Chain
	// Stack renders every catalogue filter side by side.
	Stack *graph.Stack

	Filters    []filter.Filter
	Camera     *camera.Manager
	Authorizer Authorizer
	Audio      audioio.Config
	Logger     *slog.Logger
}

// Orchestrator drives one capture session.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	registry *device.Registry
	session  hw.Session
	photo    *output.PhotoService
	movie    *output.MovieService
	source   *graph.Source
	chain    *graph.Chain
	stack    *graph.Stack
	camera   *camera.Manager
	auth     Authorizer
	audioCfg audioio.Config
	filters  []filter.Filter
	audioTap hw.Output

	jobs       chan func()
	quit       chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once

	cancel    context.CancelFunc
	listeners sync.WaitGroup

	mu     sync.Mutex
	state  State
	mode   capture.Mode
	paused bool

	activity *stream.Fanout[capture.Activity]
}

// New creates an orchestrator and starts its worker and event listeners.
// The session is not configured until Start.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil || opts.Session == nil || opts.Photo == nil || opts.Movie == nil {
		return nil, errors.New("session: registry, session, photo and movie are required")
	}
	if opts.Photo.Backend() != cfg.Backend || opts.Movie.Backend() != cfg.Backend {
		return nil, fmt.Errorf("session: output backends do not match %q", cfg.Backend)
	}
	if cfg.Backend == output.BackendGPU && opts.Source == nil {
		return nil, errors.New("session: gpu backend requires a graph source")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cam := opts.Camera
	if cam == nil {
		cam = camera.NewManager(*camera.GetPreset(camera.PresetForMode(cfg.Mode)))
	}
	auth := opts.Authorizer
	if auth == nil {
		auth = AllowAll
	}
	audioCfg := opts.Audio
	if audioCfg.SampleRate == 0 {
		audioCfg = audioio.DefaultConfig()
	}
	filters := opts.Filters
	if len(filters) == 0 {
		filters = filter.Builtins()
	}
	filters = append([]filter.Filter(nil), filters...)
	filter.Sort(filters)

	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		registry:   opts.Registry,
		session:    opts.Session,
		photo:      opts.Photo,
		movie:      opts.Movie,
		source:     opts.Source,
		chain:      opts.Chain,
		stack:      opts.Stack,
		camera:     cam,
		auth:       auth,
		audioCfg:   audioCfg,
		filters:    filters,
		audioTap:   opts.Movie.AudioOutput(),
		jobs:       make(chan func()),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
		mode:       cfg.Mode,
		activity:   stream.NewFanout(capture.Idle()),
	}
	cam.SetHook(o.applyCameraConfig)

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	go o.worker()
	o.listeners.Add(3)
	go o.watchNotifications(ctx)
	go o.watchPreferred(ctx)
	go o.mergeActivity(ctx)

	return o, nil
}

func (o *Orchestrator) worker() {
	defer close(o.workerDone)
	for {
		select {
		case job := <-o.jobs:
			job()
		case <-o.quit:
			return
		}
	}
}

// do runs fn on the worker and waits for it. Jobs run one at a time in
// submission order.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	job := func() { errc <- fn() }

	select {
	case o.jobs <- job:
	case <-o.quit:
		return capture.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		o.logger.Debug("state changed", "from", prev.String(), "to", s.String())
	}
}

// Mode returns the capture mode.
func (o *Orchestrator) Mode() capture.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Backend returns the rendering backend.
func (o *Orchestrator) Backend() output.Backend { return o.cfg.Backend }

// Camera returns the camera settings manager.
func (o *Orchestrator) Camera() *camera.Manager { return o.camera }

// Registry returns the device registry.
func (o *Orchestrator) Registry() *device.Registry { return o.registry }

// Start authorizes access, configures the session for the current mode and
// starts delivery. Calling Start on a configured session is a no-op. Any
// failure is reported as capture.ErrSetupFailed and Start may be retried.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.do(ctx, func() error { return o.start(ctx) })
}

func (o *Orchestrator) start(ctx context.Context) error {
	if o.State().configured() {
		return nil
	}
	o.setState(StateStarting)
	if err := o.setup(ctx); err != nil {
		o.setState(StateUninitialized)
		o.logger.Error("session setup failed", "error", err)
		return fmt.Errorf("%w: %w", capture.ErrSetupFailed, err)
	}
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.setState(StateRunning)
	o.logger.Info("session running", "mode", o.Mode(), "backend", o.cfg.Backend)
	return nil
}

func (o *Orchestrator) setup(ctx context.Context) error {
	if err := o.auth.Authorize(ctx, device.MediaVideo); err != nil {
		return err
	}
	withAudio := o.cfg.Audio
	if withAudio {
		if err := o.auth.Authorize(ctx, device.MediaAudio); err != nil {
			o.logger.Warn("microphone not authorized, continuing without audio", "error", err)
			withAudio = false
		}
	}

	cam, err := o.registry.DefaultCamera()
	if err != nil {
		return err
	}
	disc := o.registry.Discoverer()
	videoIn, err := hw.NewDeviceInput(ctx, disc, cam)
	if err != nil {
		return err
	}
	var audioIn *hw.AudioInput
	if withAudio {
		mic, err := o.registry.DefaultMic()
		if err == nil {
			audioIn, err = hw.NewAudioInput(ctx, disc, mic, o.audioCfg)
		}
		if err != nil {
			o.closeInput(videoIn)
			return err
		}
	}

	mode := o.Mode()
	err = o.session.Configure(func(c hw.Configuration) error {
		c.SetPreset(hw.Preset(camera.PresetForMode(mode)))
		if err := c.AddInput(videoIn); err != nil {
			return err
		}
		if audioIn != nil {
			if err := c.AddInput(audioIn); err != nil {
				return err
			}
		}
		if o.source != nil {
			if err := c.AddOutput(o.source); err != nil {
				return err
			}
		}
		for _, out := range o.sessionOutputs(mode) {
			if err := c.AddOutput(out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		o.closeInput(videoIn)
		if audioIn != nil {
			o.closeInput(audioIn)
		}
		return err
	}

	if o.source != nil {
		o.source.BindSession(o.session)
	}
	o.attachGraphSinks(mode, o.renderFiltered())
	o.applyDevice(cam)

	if err := o.session.StartRunning(); err != nil {
		o.dismantle()
		return err
	}
	return nil
}

// sessionOutputs lists the outputs attached to the session itself in mode.
func (o *Orchestrator) sessionOutputs(mode capture.Mode) []hw.Output {
	var outs []hw.Output
	switch o.cfg.Backend {
	case output.BackendNative:
		outs = append(outs, o.photo)
		if mode == capture.ModeVideo {
			outs = append(outs, o.movie)
		}
	case output.BackendGPU:
		if mode == capture.ModeVideo {
			outs = append(outs, o.audioTap)
		}
	}
	return outs
}

func (o *Orchestrator) renderFiltered() bool {
	return o.chain != nil && o.camera.GetConfig().RenderMode == camera.RenderFiltered
}

// attachGraphSinks connects the GPU capture sinks for mode.
func (o *Orchestrator) attachGraphSinks(mode capture.Mode, filtered bool) {
	if o.cfg.Backend != output.BackendGPU {
		return
	}
	o.attachSink(o.photo, filtered)
	if mode == capture.ModeVideo {
		o.attachSink(o.movie, filtered)
	} else {
		o.detachSink(o.movie)
	}
}

// attachSink taps the filtered chain or the raw source, detaching the sink
// from wherever it was first.
func (o *Orchestrator) attachSink(s graph.Sink, filtered bool) {
	o.detachSink(s)
	if filtered && o.chain != nil {
		o.chain.AttachTap(s)
		return
	}
	o.source.AttachTap(s)
}

func (o *Orchestrator) detachSink(s graph.Sink) {
	if o.source != nil {
		o.source.DetachTap(s)
	}
	if o.chain != nil {
		o.chain.DetachTap(s)
	}
}

// applyDevice pushes the active device's limits and the stored camera
// settings to the pipeline.
func (o *Orchestrator) applyDevice(dev device.CaptureDevice) {
	o.photo.UpdateConfiguration(dev)
	o.movie.UpdateConfiguration(dev)
	if err := o.applyControls(o.camera.GetConfig()); err != nil {
		o.logger.Warn("camera settings not applied", "device", dev.ID, "error", err)
	}
}

// applyControls writes zoom, exposure bias and white balance to the active
// device. Devices without controls are skipped.
func (o *Orchestrator) applyControls(cfg camera.Config) error {
	in := o.session.VideoInput()
	if in == nil {
		return nil
	}
	if _, ok := in.Controls(); !ok {
		return nil
	}
	return o.withLockedDevice(func(ctrl device.Controllable) error {
		if err := ctrl.SetZoom(cfg.Zoom); err != nil {
			return err
		}
		if err := ctrl.SetExposureBias(cfg.ExposureBias); err != nil {
			return err
		}
		if cfg.WhiteBalance != 0 {
			return ctrl.SetWhiteBalance(cfg.WhiteBalance)
		}
		return nil
	})
}

// withLockedDevice runs fn with the active device locked for
// configuration. The lock is released on every path.
func (o *Orchestrator) withLockedDevice(fn func(device.Controllable) error) error {
	in := o.session.VideoInput()
	if in == nil {
		return fmt.Errorf("%w: no active camera", capture.ErrDeviceChangeFailed)
	}
	ctrl, ok := in.Controls()
	if !ok {
		return fmt.Errorf("%w: %s is not configurable", capture.ErrDeviceChangeFailed, in.Device().ID)
	}
	if err := ctrl.LockForConfiguration(); err != nil {
		return fmt.Errorf("%w: %w", capture.ErrDeviceChangeFailed, err)
	}
	defer ctrl.UnlockForConfiguration()

	if err := fn(ctrl); err != nil {
		return fmt.Errorf("%w: %w", capture.ErrDeviceChangeFailed, err)
	}
	return nil
}

// applyCameraConfig is the camera manager hook.
func (o *Orchestrator) applyCameraConfig(cfg camera.Config) error {
	return o.do(context.Background(), func() error {
		if !o.State().configured() {
			return nil
		}
		if err := o.applyControls(cfg); err != nil {
			return err
		}
		o.attachGraphSinks(o.Mode(), o.chain != nil && cfg.RenderMode == camera.RenderFiltered)
		return nil
	})
}

// Stop pauses delivery. The topology is kept.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.State().configured() {
			return nil
		}
		o.mu.Lock()
		o.paused = true
		o.mu.Unlock()
		o.session.StopRunning()
		return nil
	})
}

// Resume restarts delivery after Stop or an interruption.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.State().configured() {
			return ErrNotRunning
		}
		o.mu.Lock()
		o.paused = false
		o.mu.Unlock()
		if err := o.session.StartRunning(); err != nil {
			return err
		}
		o.setState(StateRunning)
		return nil
	})
}

// Teardown stops delivery, removes every input and output in one
// transaction and closes the inputs. Pending photos resolve without data
// and an active recording is finalized.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	return o.do(ctx, func() error { return o.teardown() })
}

func (o *Orchestrator) teardown() error {
	st := o.State()
	if st == StateUninitialized || st == StateStopped {
		return nil
	}
	o.movie.Flush()
	if err := o.dismantle(); err != nil {
		return err
	}
	o.photo.Flush()
	o.setState(StateStopped)
	o.logger.Info("session torn down")
	return nil
}

// dismantle empties the session topology and closes its inputs.
func (o *Orchestrator) dismantle() error {
	o.session.StopRunning()
	o.detachSink(o.photo)
	o.detachSink(o.movie)

	var closing []hw.Input
	mode := o.Mode()
	err := o.session.Configure(func(c hw.Configuration) error {
		closing = closing[:0]
		for _, out := range c.Outputs() {
			c.RemoveOutput(out)
		}
		if v := c.VideoInput(); v != nil {
			c.RemoveInput(v)
			closing = append(closing, v)
		}
		if a := c.AudioInput(); a != nil {
			c.RemoveInput(a)
			closing = append(closing, a)
		}
		c.SetPreset(hw.Preset(camera.PresetForMode(mode)))
		return nil
	})
	if err != nil {
		o.logger.Error("teardown transaction failed", "error", err)
		return err
	}
	for _, in := range closing {
		o.closeInput(in)
	}
	return nil
}

func (o *Orchestrator) closeInput(in hw.Input) {
	if err := in.Close(); err != nil {
		o.logger.Warn("close input failed", "device", in.Device().ID, "error", err)
	}
}

// SetCaptureMode switches between photo and video. The preset and the movie
// output change in one transaction; the camera input is untouched.
func (o *Orchestrator) SetCaptureMode(ctx context.Context, mode capture.Mode) error {
	if _, err := capture.ParseMode(string(mode)); err != nil {
		return err
	}
	return o.do(ctx, func() error {
		prev := o.Mode()
		if mode == prev {
			return nil
		}
		if !o.State().configured() {
			o.setMode(mode)
			return nil
		}
		if mode == capture.ModePhoto {
			o.movie.Flush()
		}

		err := o.session.Configure(func(c hw.Configuration) error {
			c.SetPreset(hw.Preset(camera.PresetForMode(mode)))
			for _, out := range o.sessionOutputs(prev) {
				c.RemoveOutput(out)
			}
			for _, out := range o.sessionOutputs(mode) {
				if err := c.AddOutput(out); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			o.logger.Error("mode change failed", "mode", mode, "error", err)
			return err
		}
		o.setMode(mode)
		o.attachGraphSinks(mode, o.renderFiltered())
		o.logger.Info("capture mode changed", "mode", mode)
		return nil
	})
}

func (o *Orchestrator) setMode(m capture.Mode) {
	o.mu.Lock()
	o.mode = m
	o.mu.Unlock()
}

// Close tears the session down and closes the session and output services.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if terr := o.Teardown(context.Background()); terr != nil && !errors.Is(terr, capture.ErrClosed) {
			err = terr
		}
		o.cancel()
		o.listeners.Wait()
		close(o.quit)
		<-o.workerDone

		if perr := o.photo.Close(); perr != nil && err == nil {
			err = perr
		}
		if merr := o.movie.Close(); merr != nil && err == nil {
			err = merr
		}
		if serr := o.session.Close(); serr != nil && err == nil {
			err = serr
		}
		o.activity.Close()
	})
	return err
}

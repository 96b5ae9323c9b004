package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-capture/internal/config"
	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/graph"
	"github.com/teslashibe/go-capture/pkg/hw"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/session"
	"github.com/teslashibe/go-capture/pkg/web"
)

// app owns every long-lived component of the binary.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *device.Registry
	session  *hw.CaptureSession
	chain    *graph.Chain
	stack    *graph.Stack
	orch     *session.Orchestrator
	server   *web.Server
}

func newDiscoverer(cfg *config.Config, logger *slog.Logger) device.Discoverer {
	if cfg.Device.Discoverer == config.DiscovererMediaDevices {
		return device.NewMediaDevices(cfg.Device.Capture, logger)
	}
	return device.NewMock(device.DefaultMockDevices()...)
}

func listDevices(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg, err := device.NewRegistry(ctx, newDiscoverer(cfg, logger), logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	fmt.Println("Cameras:")
	for _, d := range reg.Cameras() {
		w, h := d.MaxDimensions()
		fmt.Printf("  %-24s %-8s %dx%d  %s\n", d.ID, d.Position, w, h, d.Label)
	}
	fmt.Println("Microphones:")
	for _, d := range reg.Microphones() {
		fmt.Printf("  %-24s %s\n", d.ID, d.Label)
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger.With("component", "app")}

	disc := newDiscoverer(cfg, logger)
	reg, err := device.NewRegistry(ctx, disc, logger)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	sessCfg := cfg.Session
	if sessCfg.Audio && len(reg.Microphones()) == 0 {
		a.logger.Warn("no microphone found, recording without audio", "discoverer", disc.Name())
		sessCfg.Audio = false
	}

	sess, err := hw.NewCaptureSession(hw.Config{FrameRate: sessCfg.FrameRate}, logger)
	if err != nil {
		reg.Close()
		return nil, err
	}
	a.session = sess

	outCfg := cfg.Output
	outCfg.FrameRate = sessCfg.FrameRate
	photo, err := output.NewPhotoService(outCfg, sessCfg.Backend, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	movie, err := output.NewMovieService(outCfg, sessCfg.Backend, logger)
	if err != nil {
		photo.Close()
		return nil, a.abort(err)
	}

	catalogue := cfg.Catalogue()
	cam := camera.NewManager(*camera.GetPreset(camera.PresetForMode(sessCfg.Mode)))
	selected := filter.Passthrough
	for _, f := range catalogue {
		if int(f.ID) == cam.GetConfig().LastFilter {
			selected = f
		}
	}

	src := graph.NewSource("preview")
	chain, err := graph.NewChain(src, logger, selected)
	if err != nil {
		photo.Close()
		movie.Close()
		return nil, a.abort(err)
	}
	a.chain = chain

	webCfg := cfg.WebConfig()
	tc := webCfg.Thumbnail
	thumbs := make(map[filter.ID]*web.ThumbnailSink, len(catalogue))
	targets := make([]graph.Target, 0, len(catalogue))
	for _, f := range catalogue {
		t := web.NewThumbnailSink(fmt.Sprintf("thumb-%d", f.ID), tc.MaxDimension, tc.JPEGQuality, tc.MaxFPS)
		thumbs[f.ID] = t
		targets = append(targets, graph.Target{Filter: f, Sink: t})
	}
	stack, err := graph.NewStack(src, logger, targets...)
	if err != nil {
		photo.Close()
		movie.Close()
		return nil, a.abort(err)
	}
	a.stack = stack
	if err := stack.Select(selected); err != nil {
		a.logger.Debug("initial filter not in stack", "filter", selected.String())
	}

	orch, err := session.New(sessCfg, session.Options{
		Registry: reg,
		Session:  sess,
		Photo:    photo,
		Movie:    movie,
		Source:   src,
		Chain:    chain,
		Stack:    stack,
		Filters:  catalogue,
		Camera:   cam,
		Audio:    cfg.Audio,
		Logger:   logger,
	})
	if err != nil {
		photo.Close()
		movie.Close()
		return nil, a.abort(err)
	}
	a.orch = orch

	server, err := web.NewServer(webCfg, orch, logger)
	if err != nil {
		orch.Close()
		return nil, a.abort(err)
	}
	for id, t := range thumbs {
		server.AddThumbnail(id, t)
	}
	chain.Connect(server.PreviewSink())
	a.server = server

	return a, nil
}

// abort releases what newApp built so far.
func (a *app) abort(err error) error {
	if a.stack != nil {
		a.stack.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.orch == nil && a.session != nil {
		a.session.Close()
	}
	a.registry.Close()
	return err
}

// Run starts the session and serves the control API until ctx is
// cancelled. A failed start is logged; the API can retry it.
func (a *app) Run(ctx context.Context) error {
	go a.registry.Watch(ctx, a.cfg.Device.PollInterval)
	a.server.Run(ctx)

	if err := a.orch.Start(ctx); err != nil {
		a.logger.Error("session start failed, retry with POST /api/session/start", "error", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- a.server.Listen() }()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errc:
	}
	return errors.Join(runErr, a.shutdown())
}

func (a *app) shutdown() error {
	var errs []error
	if err := a.server.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("web: %w", err))
	}
	if err := a.orch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	a.stack.Close()
	a.chain.Close()
	a.registry.Close()
	return errors.Join(errs...)
}

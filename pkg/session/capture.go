package session

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/output"
)

// BeginPhoto queues a still capture and returns its bridge without waiting.
func (o *Orchestrator) BeginPhoto(ctx context.Context, features capture.PhotoFeatures) (*output.PhotoBridge, error) {
	var b *output.PhotoBridge
	err := o.do(ctx, func() error {
		if o.cfg.Backend != output.BackendStatic && !o.State().configured() {
			return ErrNotRunning
		}
		if o.cfg.Backend == output.BackendGPU {
			o.attachSink(o.photo, o.renderFiltered())
		}
		var err error
		b, err = o.photo.BeginCapture(ctx, features)
		return err
	})
	return b, err
}

// CapturePhoto captures one still. The wait happens off the worker so other
// operations proceed meanwhile.
func (o *Orchestrator) CapturePhoto(ctx context.Context, features capture.PhotoFeatures) (capture.Photo, error) {
	b, err := o.BeginPhoto(ctx, features)
	if err != nil {
		return capture.Photo{}, err
	}
	return b.Wait(ctx)
}

// StartRecording begins a movie and returns its bridge. Audio is recorded
// only when requested and a microphone is attached.
func (o *Orchestrator) StartRecording(ctx context.Context, features capture.VideoFeatures) (*output.MovieBridge, error) {
	var b *output.MovieBridge
	err := o.do(ctx, func() error {
		if o.cfg.Backend != output.BackendStatic && !o.State().configured() {
			return ErrNotRunning
		}
		if o.Mode() != capture.ModeVideo {
			return fmt.Errorf("%w: recording requires video mode", ErrWrongMode)
		}
		if o.cfg.Backend == output.BackendGPU {
			o.attachSink(o.movie, o.renderFiltered())
		}
		features.Audio = features.Audio && o.session.AudioInput() != nil
		var err error
		b, err = o.movie.StartRecording(ctx, features)
		return err
	})
	return b, err
}

// RecordVideo records until StopRecording and returns the finished movie.
// Cancelling ctx stops the recording.
func (o *Orchestrator) RecordVideo(ctx context.Context, features capture.VideoFeatures) (capture.Video, error) {
	b, err := o.StartRecording(ctx, features)
	if err != nil {
		return capture.Video{}, err
	}
	v, err := b.Wait(ctx)
	if ctx.Err() != nil {
		o.movie.StopRecording()
	}
	return v, err
}

// StopRecording ends the active recording. It is a no-op when idle.
func (o *Orchestrator) StopRecording() {
	o.movie.StopRecording()
}

// IsRecording reports whether a movie is being recorded.
func (o *Orchestrator) IsRecording() bool { return o.movie.IsRecording() }

// FocusAndExpose points focus and exposure at p on the active camera.
func (o *Orchestrator) FocusAndExpose(ctx context.Context, p device.Point) error {
	return o.do(ctx, func() error {
		return o.withLockedDevice(func(ctrl device.Controllable) error {
			p = p.Clamp()
			if err := ctrl.SetFocusPoint(p); err != nil {
				return err
			}
			return ctrl.SetExposurePoint(p)
		})
	})
}

// SetVideoRotationAngle rotates native captures by angle degrees.
func (o *Orchestrator) SetVideoRotationAngle(angle float64) {
	o.photo.SetVideoRotationAngle(angle)
	o.movie.SetVideoRotationAngle(angle)
}

// Filters returns the filter catalogue ordered by ID.
func (o *Orchestrator) Filters() []filter.Filter {
	return append([]filter.Filter(nil), o.filters...)
}

func (o *Orchestrator) lookupFilter(id filter.ID) (filter.Filter, bool) {
	for _, f := range o.filters {
		if f.ID == id {
			return f, true
		}
	}
	return filter.Filter{}, false
}

// SelectFilter rebuilds the preview chain around the filter with id and
// remembers it as the last used filter.
func (o *Orchestrator) SelectFilter(ctx context.Context, id filter.ID) error {
	return o.do(ctx, func() error {
		f, ok := o.lookupFilter(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownFilter, id)
		}
		if o.chain == nil {
			return fmt.Errorf("%w: no preview chain", ErrUnknownFilter)
		}
		if err := o.chain.Reset([]filter.Filter{f}); err != nil {
			return err
		}
		if o.stack != nil {
			if err := o.stack.Select(f); err != nil {
				o.logger.Debug("filter not in stack", "filter", f.String())
			}
		}
		o.camera.Update(func(c *camera.Config) { c.LastFilter = int(f.ID) })
		o.logger.Info("filter selected", "filter", f.String())
		return nil
	})
}

// SelectedFilter returns the filter in the preview chain with its live
// parameters.
func (o *Orchestrator) SelectedFilter() filter.Filter {
	if o.chain == nil {
		return filter.Passthrough
	}
	if fs := o.chain.Snapshot(); len(fs) > 0 {
		return fs[0]
	}
	return filter.Passthrough
}

// SetFilterParam adjusts a parameter of the selected filter.
func (o *Orchestrator) SetFilterParam(ctx context.Context, name string, v float64) error {
	return o.do(ctx, func() error {
		if o.chain == nil {
			return fmt.Errorf("%w: no preview chain", ErrUnknownFilter)
		}
		n, ok := o.chain.Node(0)
		if !ok {
			return fmt.Errorf("%w: no filter selected", ErrUnknownFilter)
		}
		return n.SetParam(name, v)
	})
}

// Activity returns the merged photo and movie activity.
func (o *Orchestrator) Activity() capture.Activity { return o.activity.Current() }

// SubscribeActivity streams merged activity until cancel is called.
func (o *Orchestrator) SubscribeActivity() (<-chan capture.Activity, func()) {
	return o.activity.Subscribe()
}

// mergeActivity republishes service activity. A recording takes precedence
// over photo activity.
func (o *Orchestrator) mergeActivity(ctx context.Context) {
	defer o.listeners.Done()

	photoCh, cancelPhoto := o.photo.SubscribeActivity()
	defer cancelPhoto()
	movieCh, cancelMovie := o.movie.SubscribeActivity()
	defer cancelMovie()

	photo, movie := capture.Idle(), capture.Idle()
	for photoCh != nil || movieCh != nil {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-photoCh:
			if !ok {
				photoCh = nil
				continue
			}
			photo = a
		case a, ok := <-movieCh:
			if !ok {
				movieCh = nil
				continue
			}
			movie = a
		}
		if !movie.IsIdle() {
			o.activity.Publish(movie)
		} else {
			o.activity.Publish(photo)
		}
	}
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State       string                `json:"state"`
	Mode        capture.Mode          `json:"mode"`
	Backend     output.Backend        `json:"backend"`
	Preset      string                `json:"preset"`
	Delivering  bool                  `json:"delivering"`
	Paused      bool                  `json:"paused"`
	Interrupted bool                  `json:"interrupted"`
	Recording   bool                  `json:"recording"`
	Camera      *device.CaptureDevice `json:"camera,omitempty"`
	Microphone  *device.CaptureDevice `json:"microphone,omitempty"`
	Activity    capture.Activity      `json:"activity"`
	Filter      filter.Filter         `json:"filter"`
	Photo       output.PhotoSettings  `json:"photo"`
}

// Status reports the current state.
func (o *Orchestrator) Status() Status {
	st := Status{
		State:       o.State().String(),
		Mode:        o.Mode(),
		Backend:     o.cfg.Backend,
		Preset:      string(o.session.Preset()),
		Delivering:  o.session.IsRunning(),
		Paused:      o.isPaused(),
		Interrupted: o.session.IsInterrupted(),
		Recording:   o.movie.IsRecording(),
		Activity:    o.Activity(),
		Filter:      o.SelectedFilter(),
		Photo:       o.photo.Settings(),
	}
	if in := o.session.VideoInput(); in != nil {
		d := in.Device()
		st.Camera = &d
	}
	if in := o.session.AudioInput(); in != nil {
		d := in.Device()
		st.Microphone = &d
	}
	return st
}

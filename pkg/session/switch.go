package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/hw"
)

// SwitchCamera moves to the next camera in registry order and records it as
// the user's choice. Device failures are logged and leave the current
// camera attached; only cancellation and shutdown are returned.
func (o *Orchestrator) SwitchCamera(ctx context.Context) error {
	return o.do(ctx, func() error {
		curID := ""
		if in := o.session.VideoInput(); in != nil {
			curID = in.Device().ID
		} else if d, err := o.registry.DefaultCamera(); err == nil {
			curID = d.ID
		}
		next, err := o.registry.Next(curID)
		if err != nil {
			o.logger.Error("no camera to switch to", "error", err)
			return nil
		}
		_ = o.switchTo(ctx, next, true)
		return nil
	})
}

// SelectCamera switches to the camera with id and records it as the user's
// choice. Unlike SwitchCamera a failed switch is returned, wrapped in
// ErrDeviceChangeFailed; the current camera stays attached.
func (o *Orchestrator) SelectCamera(ctx context.Context, id string) error {
	dev, ok := o.registry.Lookup(id)
	if !ok {
		return capture.WrapDeviceError(id, "select", capture.ErrVideoDeviceUnavailable)
	}
	return o.do(ctx, func() error {
		if err := o.switchTo(ctx, dev, true); err != nil {
			return fmt.Errorf("%w: %w", capture.ErrDeviceChangeFailed, err)
		}
		return nil
	})
}

// switchTo replaces the active camera with dev in one transaction. If the
// new input cannot be added the old one is put back before commit.
func (o *Orchestrator) switchTo(ctx context.Context, dev device.CaptureDevice, user bool) error {
	cur := o.session.VideoInput()
	if !o.State().configured() || (cur != nil && cur.Device().ID == dev.ID) {
		if user {
			o.registry.SetUserPreferred(dev.ID)
		}
		return nil
	}

	in, err := hw.NewDeviceInput(ctx, o.registry.Discoverer(), dev)
	if err != nil {
		o.logger.Error("open camera failed, keeping current", "device", dev.ID, "error", err)
		return err
	}

	var addErr error
	err = o.session.Configure(func(c hw.Configuration) error {
		if cur != nil {
			c.RemoveInput(cur)
		}
		if addErr = c.AddInput(in); addErr != nil {
			if cur == nil {
				return addErr
			}
			return c.AddInput(cur)
		}
		return nil
	})
	if err == nil {
		err = addErr
	}
	if err != nil {
		o.closeInput(in)
		o.logger.Error("camera switch failed, keeping current", "device", dev.ID, "error", err)
		return err
	}

	if cur != nil {
		o.closeInput(cur)
	}
	if user {
		o.registry.SetUserPreferred(dev.ID)
	}
	o.applyDevice(dev)

	from := ""
	if cur != nil {
		from = cur.Device().ID
	}
	o.logger.Info("camera switched", "from", from, "to", dev.ID, "user", user)
	return nil
}

// watchPreferred follows system preferred-camera changes without recording
// them as the user's choice.
func (o *Orchestrator) watchPreferred(ctx context.Context) {
	defer o.listeners.Done()
	changes := o.registry.PreferredCameraChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case dev, ok := <-changes:
			if !ok {
				return
			}
			err := o.do(ctx, func() error {
				_ = o.switchTo(ctx, dev, false)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, capture.ErrClosed) {
				o.logger.Warn("preferred camera change not applied", "device", dev.ID, "error", err)
			}
		}
	}
}

// watchNotifications reacts to interruptions and runtime errors.
func (o *Orchestrator) watchNotifications(ctx context.Context) {
	defer o.listeners.Done()
	notes := o.session.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			o.handleNotification(ctx, n)
		}
	}
}

func (o *Orchestrator) handleNotification(ctx context.Context, n hw.Notification) {
	switch n.Kind {
	case hw.InterruptionBegan:
		o.logger.Warn("capture interrupted", "reason", n.Reason)
		_ = o.do(ctx, func() error {
			if o.State() == StateRunning && !o.isPaused() {
				o.setState(StateInterrupted)
			}
			return nil
		})
	case hw.InterruptionEnded:
		o.logger.Info("capture interruption ended")
		_ = o.do(ctx, o.restart)
	case hw.RuntimeError:
		o.logger.Error("capture runtime error", "error", n.Err, "media_services_reset", n.MediaServicesReset)
		if n.MediaServicesReset {
			_ = o.do(ctx, o.restart)
			return
		}
		_ = o.do(ctx, func() error {
			if o.State() == StateRunning && !o.session.IsRunning() && !o.isPaused() {
				o.setState(StateInterrupted)
			}
			return nil
		})
	}
}

// restart restarts delivery unless the user paused it. A paused session
// keeps its state; Resume restarts it.
func (o *Orchestrator) restart() error {
	if !o.State().configured() || o.isPaused() {
		return nil
	}
	if !o.session.IsRunning() {
		if err := o.session.StartRunning(); err != nil {
			o.logger.Error("restart after interruption failed", "error", err)
			return err
		}
		o.logger.Info("session restarted")
	}
	o.setState(StateRunning)
	return nil
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

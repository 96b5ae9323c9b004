// Package session coordinates the capture pipeline. An Orchestrator owns the
// hardware session, the output services and the preview graph, and runs
// every topology change on one worker goroutine in submission order.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/output"
)

// State is the orchestrator lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateInterrupted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateInterrupted:
		return "interrupted"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// configured reports whether the session topology is in place.
func (s State) configured() bool {
	return s == StateRunning || s == StateInterrupted
}

var (
	// ErrNotRunning is returned by captures while the session is not set up.
	ErrNotRunning = errors.New("session: not running")

	// ErrWrongMode is returned when recording outside video mode.
	ErrWrongMode = errors.New("session: operation not available in current mode")

	// ErrUnknownFilter is returned for filter IDs outside the catalogue.
	ErrUnknownFilter = errors.New("session: unknown filter")
)

// Authorizer grants access to a media type.
type Authorizer interface {
	Authorize(ctx context.Context, media device.Media) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, media device.Media) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, media device.Media) error {
	return f(ctx, media)
}

// AllowAll grants every request.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, device.Media) error { return nil })

// DenyMedia refuses the listed media types with capture.ErrNotAuthorized.
func DenyMedia(denied ...device.Media) Authorizer {
	return AuthorizerFunc(func(_ context.Context, media device.Media) error {
		for _, d := range denied {
			if d == media {
				return fmt.Errorf("%w: %s", capture.ErrNotAuthorized, media)
			}
		}
		return nil
	})
}

// Config holds orchestrator settings.
type Config struct {
	Backend   output.Backend `yaml:"backend" json:"backend"`
	Mode      capture.Mode   `yaml:"mode" json:"mode"`
	Audio     bool           `yaml:"audio" json:"audio"`
	FrameRate float64        `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultConfig returns a native photo session with audio.
func DefaultConfig() Config {
	return Config{
		Backend:   output.BackendNative,
		Mode:      capture.ModePhoto,
		Audio:     true,
		FrameRate: 30,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := output.ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := capture.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("session: frame_rate must be positive")
	}
	return nil
}

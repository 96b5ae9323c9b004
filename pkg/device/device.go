// Package device enumerates and selects capture hardware.
//
// A Registry holds an immutable snapshot of what a Discoverer reports along
// with the preferred cameras. Changes to the system preferred camera are
// published most-recent-wins. Discoverers are the only code that talks to
// hardware: MediaDevices wraps pion/mediadevices and Mock synthesizes frames
// for tests and headless runs.
package device

import (
	"context"
	"image"

	"github.com/teslashibe/go-capture/pkg/audioio"
)

// Position is where a camera faces.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
	PositionExternal
)

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	case PositionExternal:
		return "external"
	default:
		return "unspecified"
	}
}

// order is the switching order of cameras: back, front, external.
func (p Position) order() int {
	switch p {
	case PositionBack:
		return 0
	case PositionFront:
		return 1
	case PositionExternal:
		return 2
	default:
		return 3
	}
}

// Media is the kind of stream a device produces.
type Media string

const (
	MediaVideo Media = "video"
	MediaAudio Media = "audio"
)

// FrameRateRange is an inclusive range of supported frame rates.
type FrameRateRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Format is one capture format a device supports.
type Format struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	FrameRates []FrameRateRange `json:"frame_rates,omitempty"`
	// TenBit marks a 10-bit (HDR capable) variant.
	TenBit bool `json:"ten_bit,omitempty"`
}

// CaptureDevice is an immutable snapshot of one device.
type CaptureDevice struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
	Media    Media    `json:"media"`
	Formats  []Format `json:"formats,omitempty"`
}

// IsZero reports whether d is the zero device.
func (d CaptureDevice) IsZero() bool { return d.ID == "" }

// MaxDimensions returns the largest format's dimensions.
func (d CaptureDevice) MaxDimensions() (width, height int) {
	for _, f := range d.Formats {
		if f.Width*f.Height > width*height {
			width, height = f.Width, f.Height
		}
	}
	return width, height
}

// MaxFrameRate returns the highest frame rate across all formats, 0 if unknown.
func (d CaptureDevice) MaxFrameRate() float64 {
	var max float64
	for _, f := range d.Formats {
		for _, r := range f.FrameRates {
			if r.Max > max {
				max = r.Max
			}
		}
	}
	return max
}

// SupportsTenBit reports whether any format is a 10-bit variant.
func (d CaptureDevice) SupportsTenBit() bool {
	for _, f := range d.Formats {
		if f.TenBit {
			return true
		}
	}
	return false
}

// Point is a normalized device coordinate in [0,1]x[0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clamp limits p to the unit square.
func (p Point) Clamp() Point {
	return Point{X: clamp01(p.X), Y: clamp01(p.Y)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Handle is an open video stream.
type Handle interface {
	// Read blocks for the next frame. The returned release func must be
	// called once the image is no longer referenced.
	Read() (image.Image, func(), error)
	Close() error
}

// Controllable is implemented by handles whose device accepts configuration.
// Setters are only valid between LockForConfiguration and
// UnlockForConfiguration.
type Controllable interface {
	LockForConfiguration() error
	UnlockForConfiguration()
	SetFocusPoint(Point) error
	SetExposurePoint(Point) error
	SetZoom(factor float64) error
	SetExposureBias(ev float64) error
	SetWhiteBalance(kelvin float64) error
}

// Snapshot is one enumeration result.
type Snapshot struct {
	Devices []CaptureDevice
	// PreferredCamera is the system preferred camera ID, empty when the
	// system has not selected one.
	PreferredCamera string
	// PreferredMic is the system default microphone ID.
	PreferredMic string
}

// Discoverer enumerates and opens hardware.
type Discoverer interface {
	Discover(ctx context.Context) (Snapshot, error)
	OpenVideo(ctx context.Context, dev CaptureDevice) (Handle, error)
	OpenAudio(ctx context.Context, dev CaptureDevice, cfg audioio.Config) (audioio.Source, error)
	Name() string
}

// Package capture holds the value types shared by every layer of the capture
// pipeline: capture modes, activity states, frames and the photo/video results
// handed back to callers.
package capture

import (
	"fmt"
	"image"
	"time"
)

// Mode selects the session preset and which default output is attached.
type Mode string

const (
	// ModePhoto configures the session for still capture.
	ModePhoto Mode = "photo"
	// ModeVideo configures the session for movie recording.
	ModeVideo Mode = "video"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePhoto, ModeVideo:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("capture: unknown mode %q", s)
	}
}

// ActivityKind tags the Activity union.
type ActivityKind int

const (
	ActivityIdle ActivityKind = iota
	ActivityPhoto
	ActivityVideo
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityPhoto:
		return "photo"
	case ActivityVideo:
		return "video"
	default:
		return "idle"
	}
}

// Activity is the capture-progress state published by output services.
// Only the field matching Kind is meaningful.
type Activity struct {
	Kind        ActivityKind  `json:"kind"`
	WillCapture bool          `json:"will_capture,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Idle returns the idle activity.
func Idle() Activity { return Activity{Kind: ActivityIdle} }

// PhotoActivity returns a photo activity.
func PhotoActivity(willCapture bool) Activity {
	return Activity{Kind: ActivityPhoto, WillCapture: willCapture}
}

// VideoActivity returns a recording activity with the elapsed duration.
func VideoActivity(d time.Duration) Activity {
	return Activity{Kind: ActivityVideo, Duration: d}
}

// IsIdle reports whether no capture is in progress.
func (a Activity) IsIdle() bool { return a.Kind == ActivityIdle }

func (a Activity) String() string {
	switch a.Kind {
	case ActivityPhoto:
		return fmt.Sprintf("photo(willCapture: %t)", a.WillCapture)
	case ActivityVideo:
		return fmt.Sprintf("video(%.1fs)", a.Duration.Seconds())
	default:
		return "idle"
	}
}

// Frame is one image delivered by the hardware session.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	DeviceID  string
	Image     image.Image
}

// Photo is the in-memory result of a still capture.
type Photo struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	// IsProxy is set when only the deferred proxy was delivered before
	// capture finished.
	IsProxy bool `json:"is_proxy"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
}

// Video is the in-memory result of a movie recording.
type Video struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Frames    int           `json:"frames"`
	// AudioPath is the raw PCM sidecar, empty when no audio was recorded.
	AudioPath string `json:"audio_path,omitempty"`
	Thumbnail []byte `json:"-"`
}

// QualityPrioritization mirrors the speed/quality trade-off of still capture.
type QualityPrioritization string

const (
	QualitySpeed    QualityPrioritization = "speed"
	QualityBalanced QualityPrioritization = "balanced"
	QualityQuality  QualityPrioritization = "quality"
)

// PhotoFeatures are per-request still-capture options.
type PhotoFeatures struct {
	// Deferred asks for a low-resolution proxy before the final image.
	Deferred bool
	// Quality overrides the service default when set.
	Quality QualityPrioritization
	// Flash is recorded for completeness; simulated hardware ignores it.
	Flash bool
}

// VideoFeatures are per-request recording options.
type VideoFeatures struct {
	// Audio records the attached microphone into a PCM sidecar.
	Audio bool
	// HDR requests a 10-bit format when the device supports one.
	HDR bool
}

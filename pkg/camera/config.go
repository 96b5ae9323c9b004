// Package camera holds the user-facing camera settings: resolution, zoom,
// exposure and white balance, how the preview is rendered and which filter
// was used last. A Manager applies changes to the active device through its
// OnConfigChange hook.
package camera

import "github.com/teslashibe/go-capture/pkg/device"

// RenderMode selects whether captures use the filter graph's output.
type RenderMode string

const (
	// RenderPlain captures unfiltered frames.
	RenderPlain RenderMode = "plain"
	// RenderFiltered captures frames after the filter chain.
	RenderFiltered RenderMode = "filtered"
)

// Config holds all camera settings. These can be modified at runtime
// through the control API.
type Config struct {
	// === Resolution ===
	Width     int `json:"width" yaml:"width"`
	Height    int `json:"height" yaml:"height"`
	FrameRate int `json:"frame_rate" yaml:"frame_rate"`
	Quality   int `json:"quality" yaml:"quality"` // JPEG quality 1-100

	// === Exposure ===
	// ExposureBias is EV compensation in stops (-2.0 to +2.0).
	ExposureBias float64 `json:"exposure_bias" yaml:"exposure_bias"`

	// WhiteBalance is a colour temperature in kelvin. 0 is auto.
	WhiteBalance float64 `json:"white_balance" yaml:"white_balance"`

	// === Zoom ===
	Zoom float64 `json:"zoom" yaml:"zoom"` // 1.0 to MaxZoom

	// === Rendering ===
	RenderMode RenderMode `json:"render_mode" yaml:"render_mode"`
	// LastFilter is the ID of the most recently selected filter.
	LastFilter int `json:"last_filter" yaml:"last_filter"`

	// HDR prefers a 10-bit format for recordings.
	HDR bool `json:"hdr" yaml:"hdr"`
}

// Limits
const (
	MaxWidth        = 7680
	MaxHeight       = 4320
	MaxZoom         = 8.0
	MinWhiteBalance = 2000.0
	MaxWhiteBalance = 10000.0
)

// DefaultConfig returns 1080p at 30 fps with automatic exposure.
func DefaultConfig() Config {
	return Config{
		Width:        1920,
		Height:       1080,
		FrameRate:    30,
		Quality:      90,
		ExposureBias: 0,
		WhiteBalance: 0, // Auto
		Zoom:         1.0,
		RenderMode:   RenderPlain,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 7680")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 4320")
	}
	if c.FrameRate < 1 || c.FrameRate > 240 {
		errors = append(errors, "frame_rate must be between 1 and 240")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.ExposureBias < -2.0 || c.ExposureBias > 2.0 {
		errors = append(errors, "exposure_bias must be between -2.0 and 2.0")
	}
	if c.WhiteBalance != 0 && (c.WhiteBalance < MinWhiteBalance || c.WhiteBalance > MaxWhiteBalance) {
		errors = append(errors, "white_balance must be 0 (auto) or between 2000 and 10000")
	}
	if c.Zoom < 1.0 || c.Zoom > MaxZoom {
		errors = append(errors, "zoom must be between 1.0 and 8.0")
	}
	switch c.RenderMode {
	case "", RenderPlain, RenderFiltered:
	default:
		errors = append(errors, "render_mode must be plain or filtered")
	}

	return errors
}

// Capabilities describes what dev supports for the control API.
func Capabilities(dev device.CaptureDevice) map[string]interface{} {
	w, h := dev.MaxDimensions()
	return map[string]interface{}{
		"device":         dev.ID,
		"label":          dev.Label,
		"position":       dev.Position.String(),
		"max_width":      w,
		"max_height":     h,
		"max_frame_rate": dev.MaxFrameRate(),
		"ten_bit":        dev.SupportsTenBit(),
		"max_zoom":       MaxZoom,
		"render_modes":   []string{string(RenderPlain), string(RenderFiltered)},
	}
}

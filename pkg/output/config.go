// Package output provides the photo and movie output services and the
// completion bridges that turn capture callbacks into single results.
//
// Each service runs on one of three backends. Native services are session
// outputs fed straight from the camera. GPU services are graph sinks fed
// from the filter chain or the raw graph source. Static services render a
// fixed image and never touch hardware.
package output

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-capture/pkg/capture"
)

// Backend selects how a service receives frames.
type Backend string

const (
	BackendNative Backend = "native"
	BackendGPU    Backend = "gpu"
	BackendStatic Backend = "static"
)

// ParseBackend converts a string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendNative, BackendGPU, BackendStatic:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("output: unknown backend %q", s)
	}
}

// ErrRecordingInProgress is returned when a second recording is started.
var ErrRecordingInProgress = errors.New("output: recording already in progress")

// Config holds output settings shared by the photo and movie services.
type Config struct {
	// JPEGQuality is the encoder quality for balanced prioritization (1-100).
	JPEGQuality int `yaml:"jpeg_quality" json:"jpeg_quality"`

	// ProxyMaxDimension bounds the long edge of deferred proxy images.
	ProxyMaxDimension int `yaml:"proxy_max_dimension" json:"proxy_max_dimension"`

	// MovieDir is where recordings and audio sidecars are written.
	MovieDir string `yaml:"movie_dir" json:"movie_dir"`

	// Tick is the recording-progress interval.
	Tick time.Duration `yaml:"tick" json:"tick"`

	// ThumbnailMaxDimension bounds the long edge of movie thumbnails.
	ThumbnailMaxDimension int `yaml:"thumbnail_max_dimension" json:"thumbnail_max_dimension"`

	// FrameRate is written into movie containers that record one.
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		JPEGQuality:           90,
		ProxyMaxDimension:     480,
		MovieDir:              os.TempDir(),
		Tick:                  100 * time.Millisecond,
		ThumbnailMaxDimension: 160,
		FrameRate:             30,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("output: jpeg_quality must be 1-100, got %d", c.JPEGQuality)
	}
	if c.ProxyMaxDimension <= 0 {
		return fmt.Errorf("output: proxy_max_dimension must be positive")
	}
	if c.ThumbnailMaxDimension <= 0 {
		return fmt.Errorf("output: thumbnail_max_dimension must be positive")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("output: tick must be positive")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("output: frame_rate must be positive")
	}
	if c.MovieDir == "" {
		return fmt.Errorf("output: movie_dir is required")
	}
	return nil
}

// jpegQuality maps a prioritization onto an encoder quality.
func (c Config) jpegQuality(q capture.QualityPrioritization) int {
	switch q {
	case capture.QualitySpeed:
		return max(c.JPEGQuality-20, 40)
	case capture.QualityQuality:
		return min(c.JPEGQuality+5, 100)
	default:
		return c.JPEGQuality
	}
}

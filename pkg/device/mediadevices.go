package device

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/teslashibe/go-capture/pkg/audioio"
)

// MediaDevicesConfig holds the constraints used when opening cameras.
type MediaDevicesConfig struct {
	Width     int     `yaml:"width" json:"width"`
	Height    int     `yaml:"height" json:"height"`
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultMediaDevicesConfig returns 720p at 30 fps.
func DefaultMediaDevicesConfig() MediaDevicesConfig {
	return MediaDevicesConfig{Width: 1280, Height: 720, FrameRate: 30}
}

// MediaDevices discovers and opens hardware through pion/mediadevices.
// Drivers must be registered by the binary (driver/camera, driver/microphone).
type MediaDevices struct {
	cfg    MediaDevicesConfig
	logger *slog.Logger
}

// NewMediaDevices creates a mediadevices discoverer.
func NewMediaDevices(cfg MediaDevicesConfig, logger *slog.Logger) *MediaDevices {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaDevices{cfg: cfg, logger: logger.With("component", "mediadevices")}
}

// Name returns "mediadevices".
func (m *MediaDevices) Name() string { return "mediadevices" }

// Discover enumerates registered drivers. mediadevices has no notion of a
// system preferred device, so the first camera in switching order is used.
func (m *MediaDevices) Discover(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	best := -1
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			dev := CaptureDevice{
				ID:       info.DeviceID,
				Label:    info.Label,
				Position: positionFromLabel(info.Label),
				Media:    MediaVideo,
				Formats: []Format{{
					Width:      m.cfg.Width,
					Height:     m.cfg.Height,
					FrameRates: []FrameRateRange{{Min: 1, Max: m.cfg.FrameRate}},
				}},
			}
			if best < 0 || dev.Position.order() < best {
				best = dev.Position.order()
				snap.PreferredCamera = dev.ID
			}
			snap.Devices = append(snap.Devices, dev)
		case mediadevices.AudioInput:
			if snap.PreferredMic == "" {
				snap.PreferredMic = info.DeviceID
			}
			snap.Devices = append(snap.Devices, CaptureDevice{
				ID:    info.DeviceID,
				Label: info.Label,
				Media: MediaAudio,
			})
		}
	}
	return snap, nil
}

// positionFromLabel guesses where a camera faces from its driver label.
func positionFromLabel(label string) Position {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "front"), strings.Contains(l, "user"), strings.Contains(l, "facetime"):
		return PositionFront
	case strings.Contains(l, "back"), strings.Contains(l, "rear"), strings.Contains(l, "environment"):
		return PositionBack
	default:
		return PositionExternal
	}
}

// OpenVideo opens a raw frame reader on dev. If the preferred constraints
// are rejected it retries with the device ID only.
func (m *MediaDevices) OpenVideo(ctx context.Context, dev CaptureDevice) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(dev.ID)
			c.Width = prop.Int(m.cfg.Width)
			c.Height = prop.Int(m.cfg.Height)
			if m.cfg.FrameRate > 0 {
				c.FrameRate = prop.Float(m.cfg.FrameRate)
			}
		},
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		m.logger.Warn("preferred constraints rejected, retrying", "device", dev.ID, "error", err)
		ms, err = mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.DeviceID = prop.String(dev.ID)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("open camera %q: %w", dev.ID, err)
		}
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("open camera %q: no video track", dev.ID)
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("open camera %q: unexpected track type %T", dev.ID, tracks[0])
	}

	m.logger.Info("camera opened", "device", dev.ID, "label", dev.Label)
	return &mediaHandle{track: track, reader: track.NewReader(false)}, nil
}

// OpenAudio opens the microphone through the audioio mediadevices backend.
func (m *MediaDevices) OpenAudio(ctx context.Context, dev CaptureDevice, cfg audioio.Config) (audioio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg.Backend = audioio.BackendMediaDevices
	cfg.Device = dev.ID
	return audioio.NewSource(cfg, m.logger)
}

type mediaHandle struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
}

func (h *mediaHandle) Read() (image.Image, func(), error) {
	return h.reader.Read()
}

func (h *mediaHandle) Close() error {
	return h.track.Close()
}

var _ Discoverer = (*MediaDevices)(nil)

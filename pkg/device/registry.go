package device

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// Registry tracks the enumerated devices and the current preferences.
type Registry struct {
	disc   Discoverer
	logger *slog.Logger

	mu              sync.RWMutex
	cameras         []CaptureDevice
	mics            []CaptureDevice
	systemPreferred string
	systemMic       string
	userPreferred   string
	enumerated      bool

	changes *stream.Latest[CaptureDevice]
}

// NewRegistry enumerates devices once and returns the registry.
func NewRegistry(ctx context.Context, disc Discoverer, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		disc:    disc,
		logger:  logger.With("component", "device-registry"),
		changes: stream.NewLatest[CaptureDevice](),
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Discoverer returns the backing discoverer.
func (r *Registry) Discoverer() Discoverer { return r.disc }

// Refresh re-enumerates devices. A change of the system preferred camera is
// published on PreferredCameraChanges.
func (r *Registry) Refresh(ctx context.Context) error {
	snap, err := r.disc.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover devices: %w", err)
	}

	var cameras, mics []CaptureDevice
	for _, d := range snap.Devices {
		switch d.Media {
		case MediaVideo:
			cameras = append(cameras, d)
		case MediaAudio:
			mics = append(mics, d)
		}
	}
	sort.SliceStable(cameras, func(i, j int) bool {
		return cameras[i].Position.order() < cameras[j].Position.order()
	})

	r.mu.Lock()
	prev := r.systemPreferred
	first := !r.enumerated
	r.enumerated = true
	r.cameras = cameras
	r.mics = mics
	r.systemPreferred = snap.PreferredCamera
	r.systemMic = snap.PreferredMic
	preferred, ok := r.lookupLocked(snap.PreferredCamera)
	r.mu.Unlock()

	r.logger.Debug("devices enumerated",
		"discoverer", r.disc.Name(),
		"cameras", len(cameras),
		"microphones", len(mics),
		"preferred", snap.PreferredCamera,
	)

	if !first && prev != snap.PreferredCamera && ok {
		r.logger.Info("system preferred camera changed", "from", prev, "to", preferred.ID)
		r.changes.Publish(preferred)
	}
	return nil
}

// Watch polls the discoverer until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("device refresh failed", "error", err)
			}
		}
	}
}

// Cameras returns video devices ordered back, front, external. Order within
// a position is the discoverer's.
func (r *Registry) Cameras() []CaptureDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CaptureDevice(nil), r.cameras...)
}

// Microphones returns the audio devices.
func (r *Registry) Microphones() []CaptureDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CaptureDevice(nil), r.mics...)
}

// Lookup finds a camera or microphone by ID.
func (r *Registry) Lookup(id string) (CaptureDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.lookupLocked(id); ok {
		return d, true
	}
	for _, d := range r.mics {
		if d.ID == id {
			return d, true
		}
	}
	return CaptureDevice{}, false
}

func (r *Registry) lookupLocked(id string) (CaptureDevice, bool) {
	if id == "" {
		return CaptureDevice{}, false
	}
	for _, d := range r.cameras {
		if d.ID == id {
			return d, true
		}
	}
	return CaptureDevice{}, false
}

// DefaultCamera returns the user preferred camera when it is still present,
// otherwise the system preferred camera.
func (r *Registry) DefaultCamera() (CaptureDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.lookupLocked(r.userPreferred); ok {
		return d, nil
	}
	if d, ok := r.lookupLocked(r.systemPreferred); ok {
		return d, nil
	}
	return CaptureDevice{}, capture.ErrVideoDeviceUnavailable
}

// DefaultMic returns the system default microphone, or the first one found.
func (r *Registry) DefaultMic() (CaptureDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.mics) == 0 {
		return CaptureDevice{}, capture.ErrAudioDeviceUnavailable
	}
	for _, d := range r.mics {
		if d.ID == r.systemMic {
			return d, nil
		}
	}
	return r.mics[0], nil
}

// Next returns the camera after currentID in switching order, wrapping to
// the first. An unknown currentID yields the first camera.
func (r *Registry) Next(currentID string) (CaptureDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.cameras)
	if n == 0 {
		return CaptureDevice{}, capture.ErrVideoDeviceUnavailable
	}
	for i, d := range r.cameras {
		if d.ID == currentID {
			return r.cameras[(i+1)%n], nil
		}
	}
	return r.cameras[0], nil
}

// SetUserPreferred records the camera the user chose last.
func (r *Registry) SetUserPreferred(id string) {
	r.mu.Lock()
	r.userPreferred = id
	r.mu.Unlock()
}

// UserPreferred returns the recorded user choice.
func (r *Registry) UserPreferred() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userPreferred
}

// SystemPreferred returns the system preferred camera ID.
func (r *Registry) SystemPreferred() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemPreferred
}

// PreferredCameraChanges delivers system preferred-camera changes. Only the
// newest pending change is kept for a slow consumer.
func (r *Registry) PreferredCameraChanges() <-chan CaptureDevice {
	return r.changes.C()
}

// Close ends the change stream.
func (r *Registry) Close() {
	r.changes.Close()
}

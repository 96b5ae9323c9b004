package hw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
)

// Input is a session input.
type Input interface {
	Device() device.CaptureDevice
	Media() device.Media
	Close() error
}

// DeviceInput is an open camera.
type DeviceInput struct {
	// ID distinguishes two inputs opened on the same device.
	ID     string
	dev    device.CaptureDevice
	handle device.Handle
}

// NewDeviceInput opens dev through disc. Any failure is reported as
// capture.ErrAddInputFailed.
func NewDeviceInput(ctx context.Context, disc device.Discoverer, dev device.CaptureDevice) (*DeviceInput, error) {
	if dev.Media != device.MediaVideo {
		return nil, fmt.Errorf("%w: %s is not a camera", capture.ErrAddInputFailed, dev.ID)
	}
	h, err := disc.OpenVideo(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrAddInputFailed, capture.WrapDeviceError(dev.ID, "open", err))
	}
	return &DeviceInput{ID: uuid.NewString(), dev: dev, handle: h}, nil
}

// Device returns the device snapshot.
func (in *DeviceInput) Device() device.CaptureDevice { return in.dev }

// Media returns MediaVideo.
func (in *DeviceInput) Media() device.Media { return device.MediaVideo }

// Controls returns the device's configuration interface, if it has one.
func (in *DeviceInput) Controls() (device.Controllable, bool) {
	c, ok := in.handle.(device.Controllable)
	return c, ok
}

// Close releases the camera.
func (in *DeviceInput) Close() error { return in.handle.Close() }

// AudioInput is an open microphone.
type AudioInput struct {
	dev device.CaptureDevice
	src audioio.Source

	mu   sync.Mutex
	pump chan struct{}
}

// NewAudioInput opens dev through disc.
func NewAudioInput(ctx context.Context, disc device.Discoverer, dev device.CaptureDevice, cfg audioio.Config) (*AudioInput, error) {
	if dev.Media != device.MediaAudio {
		return nil, fmt.Errorf("%w: %s is not a microphone", capture.ErrAddInputFailed, dev.ID)
	}
	src, err := disc.OpenAudio(ctx, dev, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrAddInputFailed, capture.WrapDeviceError(dev.ID, "open", err))
	}
	return &AudioInput{dev: dev, src: src}, nil
}

// Device returns the device snapshot.
func (in *AudioInput) Device() device.CaptureDevice { return in.dev }

// Media returns MediaAudio.
func (in *AudioInput) Media() device.Media { return device.MediaAudio }

// Config returns the microphone format.
func (in *AudioInput) Config() audioio.Config { return in.src.Config() }

// Close releases the microphone.
func (in *AudioInput) Close() error { return in.src.Close() }

// beginPump reserves the pump slot. It returns false if a pump is running.
func (in *AudioInput) beginPump() (chan struct{}, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pump != nil {
		select {
		case <-in.pump:
		default:
			return nil, false
		}
	}
	in.pump = make(chan struct{})
	return in.pump, true
}

// stop halts the microphone and waits for its pump to exit.
func (in *AudioInput) stop(logger *slog.Logger) {
	if err := in.src.Stop(); err != nil {
		logger.Warn("stop audio input failed", "device", in.dev.ID, "error", err)
	}
	in.mu.Lock()
	pump := in.pump
	in.mu.Unlock()
	if pump != nil {
		<-pump
	}
}

// stagedConfig is the Configuration handed to Configure.
type stagedConfig struct {
	topo topology
}

func (c *stagedConfig) Preset() Preset     { return c.topo.preset }
func (c *stagedConfig) SetPreset(p Preset) { c.topo.preset = p }

func (c *stagedConfig) VideoInput() *DeviceInput { return c.topo.video }
func (c *stagedConfig) AudioInput() *AudioInput  { return c.topo.audio }

func (c *stagedConfig) CanAddInput(in Input) bool {
	switch in.(type) {
	case *DeviceInput:
		return c.topo.video == nil
	case *AudioInput:
		return c.topo.audio == nil
	default:
		return false
	}
}

func (c *stagedConfig) AddInput(in Input) error {
	if !c.CanAddInput(in) {
		return fmt.Errorf("%w: %s input slot occupied", capture.ErrAddInputFailed, in.Media())
	}
	switch v := in.(type) {
	case *DeviceInput:
		c.topo.video = v
	case *AudioInput:
		c.topo.audio = v
	}
	return nil
}

func (c *stagedConfig) RemoveInput(in Input) {
	switch v := in.(type) {
	case *DeviceInput:
		if c.topo.video == v {
			c.topo.video = nil
		}
	case *AudioInput:
		if c.topo.audio == v {
			c.topo.audio = nil
		}
	}
}

func (c *stagedConfig) Outputs() []Output {
	return append([]Output(nil), c.topo.outputs...)
}

func (c *stagedConfig) HasOutput(out Output) bool {
	for _, o := range c.topo.outputs {
		if o == out {
			return true
		}
	}
	return false
}

func (c *stagedConfig) AddOutput(out Output) error {
	if out == nil {
		return fmt.Errorf("%w: nil output", capture.ErrAddOutputFailed)
	}
	if c.HasOutput(out) {
		return fmt.Errorf("%w: %s already attached", capture.ErrAddOutputFailed, out.Name())
	}
	c.topo.outputs = append(c.topo.outputs, out)
	return nil
}

func (c *stagedConfig) RemoveOutput(out Output) {
	for i, o := range c.topo.outputs {
		if o == out {
			c.topo.outputs = append(c.topo.outputs[:i], c.topo.outputs[i+1:]...)
			return
		}
	}
}

var (
	_ Input = (*DeviceInput)(nil)
	_ Input = (*AudioInput)(nil)
)

package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// MediaDevicesSource captures a microphone through pion/mediadevices.
// A microphone driver must be registered by the binary for devices to exist.
type MediaDevicesSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	track    mediadevices.Track
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newMediaDevicesSource(cfg Config, logger *slog.Logger) *MediaDevicesSource {
	return &MediaDevicesSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start opens the microphone track and begins reading chunks.
func (s *MediaDevicesSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			if s.cfg.Device != "" {
				c.DeviceID = prop.String(s.cfg.Device)
			}
			c.SampleRate = prop.Int(s.cfg.SampleRate)
			c.ChannelCount = prop.Int(s.cfg.Channels)
		},
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("open microphone %q: %w", s.cfg.Device, err)
	}

	tracks := ms.GetAudioTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("open microphone %q: no audio track", s.cfg.Device)
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		tracks[0].Close()
		return fmt.Errorf("open microphone %q: unexpected track type %T", s.cfg.Device, tracks[0])
	}

	s.track = track
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)

	go s.readLoop(ctx, track.NewReader(false), s.stopCh, s.streamCh)

	s.logger.Info("microphone started", "device", s.cfg.Device, "sample_rate", s.cfg.SampleRate)
	return nil
}

func (s *MediaDevicesSource) readLoop(ctx context.Context, r audio.Reader, stopCh <-chan struct{}, out chan AudioChunk) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stopCh:
			return
		default:
		}

		chunk, release, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("microphone read failed", "error", err)
			}
			return
		}
		converted := convertChunk(chunk)
		release()

		select {
		case out <- converted:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(converted.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// convertChunk flattens a mediadevices chunk into interleaved PCM16.
func convertChunk(chunk wave.Audio) AudioChunk {
	info := chunk.ChunkInfo()
	out := AudioChunk{
		SampleRate: info.SamplingRate,
		Channels:   info.Channels,
	}

	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		out.Samples = append([]int16(nil), c.Data...)
	case *wave.Float32Interleaved:
		out.Samples = make([]int16, len(c.Data))
		for i, v := range c.Data {
			out.Samples[i] = floatToPCM16(v)
		}
	default:
		out.Samples = make([]int16, 0, info.Len*info.Channels)
		for i := 0; i < info.Len; i++ {
			for ch := 0; ch < info.Channels; ch++ {
				out.Samples = append(out.Samples, clampPCM16(chunk.At(i, ch).Int()))
			}
		}
	}
	return out
}

func floatToPCM16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

func clampPCM16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Stop halts capture and closes the track.
func (s *MediaDevicesSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	var err error
	if s.track != nil {
		err = s.track.Close()
		s.track = nil
	}
	s.logger.Info("microphone stopped", "device", s.cfg.Device)
	return err
}

// Read reads the next audio chunk.
func (s *MediaDevicesSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the audio configuration.
func (s *MediaDevicesSource) Config() Config {
	return s.cfg
}

// Name returns "mediadevices".
func (s *MediaDevicesSource) Name() string {
	return string(BackendMediaDevices)
}

// Close releases resources.
func (s *MediaDevicesSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *MediaDevicesSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMediaDevices),
	}
}

var _ SourceWithStats = (*MediaDevicesSource)(nil)

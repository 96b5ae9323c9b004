package output

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/hw"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// recording is one movie in progress. Encoder state is owned by the run
// goroutine; audio is written from the session's audio pump.
type recording struct {
	id       string
	bridge   *MovieBridge
	features capture.VideoFeatures
	path     string
	started  time.Time
	frames   *stream.Latest[capture.Frame]

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	audioMu   sync.Mutex
	audio     *os.File
	audioPath string
	audioErr  error

	enc   Encoder
	count int
	thumb image.Image
	err   error
}

func (r *recording) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *recording) writeAudio(chunk audioio.AudioChunk) {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()
	if r.audio == nil || r.audioErr != nil {
		return
	}
	if _, err := r.audio.Write(chunk.Bytes()); err != nil {
		r.audioErr = err
	}
}

// closeAudio closes the sidecar and returns its path, empty if none.
func (r *recording) closeAudio() (string, error) {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()
	if r.audio == nil {
		return "", nil
	}
	err := r.audio.Close()
	r.audio = nil
	if r.audioErr != nil {
		err = r.audioErr
	}
	return r.audioPath, err
}

// MovieService records movies from its backend.
type MovieService struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	static  image.Image
	encoder EncoderFactory

	mu       sync.Mutex
	rec      *recording
	rotation float64
	tenBit   bool
	closed   bool

	activity *stream.Fanout[capture.Activity]
	wg       sync.WaitGroup
}

// NewMovieService creates a movie service on backend.
func NewMovieService(cfg Config, backend Backend, logger *slog.Logger, opts ...Option) (*MovieService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseBackend(string(backend)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if backend == BackendStatic && o.static == nil {
		o.static = placeholder(640, 480)
	}
	if o.encoder == nil {
		o.encoder = defaultEncoder(cfg.JPEGQuality)
	}
	return &MovieService{
		cfg:      cfg,
		backend:  backend,
		logger:   logger.With("component", "movie-output", "backend", string(backend)),
		static:   o.static,
		encoder:  o.encoder,
		activity: stream.NewFanout(capture.Idle()),
	}, nil
}

// Name implements hw.Output and graph.Sink.
func (s *MovieService) Name() string { return "movie-output" }

// Backend returns the service backend.
func (s *MovieService) Backend() Backend { return s.backend }

func (s *MovieService) current() *recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// ConsumeFrame queues the frame for the active recording. Frames arriving
// faster than the encoder drains them are dropped.
func (s *MovieService) ConsumeFrame(f capture.Frame) {
	rec := s.current()
	if rec == nil || f.Image == nil {
		return
	}
	f.Image = cloneRGBA(f.Image)
	rec.frames.Publish(f)
}

// ConsumeAudio appends microphone samples to the active recording's sidecar.
func (s *MovieService) ConsumeAudio(chunk audioio.AudioChunk) {
	if rec := s.current(); rec != nil {
		rec.writeAudio(chunk)
	}
}

type audioTap struct{ s *MovieService }

func (t audioTap) Name() string                         { return "movie-audio" }
func (t audioTap) ConsumeAudio(chunk audioio.AudioChunk) { t.s.ConsumeAudio(chunk) }

// AudioOutput returns a session output carrying only audio into this
// service. GPU services receive video from the graph and need it for sound.
func (s *MovieService) AudioOutput() hw.Output { return audioTap{s: s} }

// StartRecording begins a recording and returns its bridge.
func (s *MovieService) StartRecording(ctx context.Context, features capture.VideoFeatures) (*MovieBridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, capture.ErrClosed
	}
	if s.rec != nil {
		return nil, ErrRecordingInProgress
	}
	if err := os.MkdirAll(s.cfg.MovieDir, 0o755); err != nil {
		return nil, fmt.Errorf("create movie dir: %w", err)
	}

	id := uuid.NewString()
	rec := &recording{
		id:       id,
		bridge:   newMovieBridge(id, s.logger),
		features: features,
		path:     filepath.Join(s.cfg.MovieDir, "movie-"+id+movieExt),
		started:  time.Now(),
		frames:   stream.NewLatest[capture.Frame](),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if features.Audio {
		rec.audioPath = strings.TrimSuffix(rec.path, movieExt) + ".pcm"
		f, err := os.Create(rec.audioPath)
		if err != nil {
			return nil, fmt.Errorf("create audio sidecar: %w", err)
		}
		rec.audio = f
	}

	s.rec = rec
	s.wg.Add(1)
	go s.run(rec)

	s.logger.Info("recording started",
		"id", id, "path", rec.path, "audio", features.Audio, "hdr", features.HDR && s.tenBit)
	return rec.bridge, nil
}

// RecordVideo records until StopRecording and waits for the finished movie.
// Cancelling ctx stops the recording.
func (s *MovieService) RecordVideo(ctx context.Context, features capture.VideoFeatures) (capture.Video, error) {
	b, err := s.StartRecording(ctx, features)
	if err != nil {
		return capture.Video{}, err
	}
	v, err := b.Wait(ctx)
	if ctx.Err() != nil {
		s.StopRecording()
	}
	return v, err
}

// StopRecording ends the active recording. It is a no-op when idle.
func (s *MovieService) StopRecording() {
	if rec := s.current(); rec != nil {
		rec.requestStop()
	}
}

// IsRecording reports whether a recording is active.
func (s *MovieService) IsRecording() bool { return s.current() != nil }

func (s *MovieService) run(rec *recording) {
	defer s.wg.Done()
	defer close(rec.done)

	rec.bridge.DidStartRecording()
	s.activity.Publish(capture.VideoActivity(0))

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-rec.stop:
			break loop
		case f, ok := <-rec.frames.C():
			if ok {
				s.write(rec, f.Image)
			}
		case <-ticker.C:
			elapsed := time.Since(rec.started)
			rec.bridge.DidRecord(elapsed)
			s.activity.Publish(capture.VideoActivity(elapsed))
			if s.backend == BackendStatic {
				s.write(rec, s.static)
			}
		}
	}

	s.mu.Lock()
	if s.rec == rec {
		s.rec = nil
	}
	s.mu.Unlock()
	rec.frames.Close()

	res, err := s.finalize(rec)
	if err != nil {
		s.logger.Error("recording failed", "id", rec.id, "error", err)
	} else {
		s.logger.Info("recording finished", "id", rec.id, "frames", res.Frames, "duration", res.Duration)
	}
	rec.bridge.DidFinishRecording(res, err)
	s.activity.Publish(capture.Idle())
}

func (s *MovieService) write(rec *recording, img image.Image) {
	if rec.err != nil {
		return
	}
	if s.backend == BackendNative {
		s.mu.Lock()
		rotation := s.rotation
		s.mu.Unlock()
		if rotation != 0 {
			img = rotate(img, rotation)
		}
	}
	if rec.enc == nil {
		b := img.Bounds()
		enc, err := s.encoder(rec.path, b.Dx(), b.Dy(), s.cfg.FrameRate)
		if err != nil {
			rec.err = fmt.Errorf("open encoder: %w", err)
			return
		}
		rec.enc = enc
		rec.thumb = img
	}
	if err := rec.enc.WriteFrame(img); err != nil {
		rec.err = fmt.Errorf("write frame: %w", err)
		return
	}
	rec.count++
}

func (s *MovieService) finalize(rec *recording) (Recording, error) {
	res := Recording{
		Started:  rec.started,
		Duration: time.Since(rec.started),
		Frames:   rec.count,
	}

	audioPath, audioErr := rec.closeAudio()
	if rec.enc != nil {
		if err := rec.enc.Close(); err != nil && rec.err == nil {
			rec.err = fmt.Errorf("finalize movie: %w", err)
		}
		res.Path = rec.path
	}
	if rec.err != nil {
		return res, rec.err
	}
	if rec.count == 0 {
		if audioPath != "" {
			_ = os.Remove(audioPath)
		}
		return res, nil
	}

	if audioErr != nil {
		s.logger.Warn("audio sidecar incomplete", "id", rec.id, "error", audioErr)
	} else {
		res.AudioPath = audioPath
	}
	if thumb, err := encodeJPEG(fitLongEdge(rec.thumb, s.cfg.ThumbnailMaxDimension), s.cfg.JPEGQuality); err == nil {
		res.Thumbnail = thumb
	}
	return res, nil
}

// UpdateConfiguration records whether the device can deliver 10-bit HDR.
func (s *MovieService) UpdateConfiguration(dev device.CaptureDevice) {
	if s.backend == BackendStatic {
		return
	}
	s.mu.Lock()
	s.tenBit = dev.SupportsTenBit()
	s.mu.Unlock()
}

// BindSession picks up the active device when the service is connected into
// the preview graph.
func (s *MovieService) BindSession(sess hw.Session) {
	if in := sess.VideoInput(); in != nil {
		s.UpdateConfiguration(in.Device())
	}
}

// SetVideoRotationAngle rotates native recordings. Other backends ignore it.
func (s *MovieService) SetVideoRotationAngle(angle float64) {
	if s.backend != BackendNative {
		return
	}
	s.mu.Lock()
	s.rotation = angle
	s.mu.Unlock()
}

// Activity returns the current recording activity.
func (s *MovieService) Activity() capture.Activity { return s.activity.Current() }

// SubscribeActivity streams recording activity until cancel is called.
func (s *MovieService) SubscribeActivity() (<-chan capture.Activity, func()) {
	return s.activity.Subscribe()
}

// Flush stops the active recording and waits for it to finalize.
func (s *MovieService) Flush() {
	rec := s.current()
	if rec == nil {
		return
	}
	rec.requestStop()
	<-rec.done
}

// Close finalizes any recording and refuses new ones.
func (s *MovieService) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
	s.wg.Wait()
	s.activity.Close()
	return nil
}

var (
	_ hw.FrameConsumer = (*MovieService)(nil)
	_ hw.AudioConsumer = (*MovieService)(nil)
	_ hw.AudioConsumer = audioTap{}
)

package output

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/hw"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// Option configures a service.
type Option func(*options)

type options struct {
	static  image.Image
	encoder EncoderFactory
}

// WithStaticImage sets the image rendered by the static backend.
func WithStaticImage(img image.Image) Option {
	return func(o *options) { o.static = img }
}

// WithEncoder overrides the movie encoder.
func WithEncoder(f EncoderFactory) Option {
	return func(o *options) { o.encoder = f }
}

type photoRequest struct {
	bridge   *PhotoBridge
	features capture.PhotoFeatures
}

// PhotoService captures still images from its backend.
type PhotoService struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	static  image.Image

	mu                sync.Mutex
	pending           []photoRequest
	inflight          int
	maxW, maxH        int
	quality           capture.QualityPrioritization
	responsive        bool
	deferredSupported bool
	rotation          float64

	activity *stream.Fanout[capture.Activity]
	wg       sync.WaitGroup
}

// NewPhotoService creates a photo service on backend.
func NewPhotoService(cfg Config, backend Backend, logger *slog.Logger, opts ...Option) (*PhotoService, error) {
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
	return &PhotoService{
		cfg:      cfg,
		backend:  backend,
		logger:   logger.With("component", "photo-output", "backend", string(backend)),
		static:   o.static,
		quality:  capture.QualityBalanced,
		activity: stream.NewFanout(capture.Idle()),
	}, nil
}

// Name implements hw.Output and graph.Sink.
func (s *PhotoService) Name() string { return "photo-output" }

// Backend returns the service backend.
func (s *PhotoService) Backend() Backend { return s.backend }

// ConsumeFrame hands the frame to every waiting capture.
func (s *PhotoService) ConsumeFrame(f capture.Frame) {
	s.mu.Lock()
	reqs := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(reqs) == 0 || f.Image == nil {
		s.requeue(reqs)
		return
	}

	// The device may reuse the buffer once delivery returns.
	f.Image = cloneRGBA(f.Image)
	for _, r := range reqs {
		s.wg.Add(1)
		go func(r photoRequest) {
			defer s.wg.Done()
			s.process(r, f)
		}(r)
	}
}

func (s *PhotoService) requeue(reqs []photoRequest) {
	if len(reqs) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(reqs, s.pending...)
	s.mu.Unlock()
}

// BindSession picks up the active device when the service is connected into
// the preview graph.
func (s *PhotoService) BindSession(sess hw.Session) {
	if in := sess.VideoInput(); in != nil {
		s.UpdateConfiguration(in.Device())
	}
}

// BeginCapture queues a capture and returns its bridge.
func (s *PhotoService) BeginCapture(ctx context.Context, features capture.PhotoFeatures) (*PhotoBridge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := newPhotoBridge(uuid.NewString(), s.logger)
	req := photoRequest{bridge: b, features: features}
	b.onDone = s.captureDone

	s.mu.Lock()
	s.inflight++
	if s.backend != BackendStatic {
		s.pending = append(s.pending, req)
	}
	s.mu.Unlock()
	s.activity.Publish(capture.PhotoActivity(true))

	if s.backend == BackendStatic {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.process(req, capture.Frame{Timestamp: time.Now(), Image: s.static})
		}()
	}
	return b, nil
}

// CapturePhoto captures one still and waits for its result.
func (s *PhotoService) CapturePhoto(ctx context.Context, features capture.PhotoFeatures) (capture.Photo, error) {
	b, err := s.BeginCapture(ctx, features)
	if err != nil {
		return capture.Photo{}, err
	}
	return b.Wait(ctx)
}

func (s *PhotoService) captureDone() {
	s.mu.Lock()
	s.inflight--
	idle := s.inflight == 0
	s.mu.Unlock()
	if idle {
		s.activity.Publish(capture.Idle())
	}
}

func (s *PhotoService) process(r photoRequest, f capture.Frame) {
	b := r.bridge
	if b.Resolved() {
		return
	}
	b.WillBeginCapture()

	s.mu.Lock()
	maxW, maxH := s.maxW, s.maxH
	quality := s.quality
	deferred := r.features.Deferred && s.deferredSupported
	rotation := s.rotation
	s.mu.Unlock()

	if r.features.Quality != "" {
		quality = r.features.Quality
	}

	img := f.Image
	if s.backend == BackendNative && rotation != 0 {
		img = rotate(img, rotation)
	}
	img = fitWithin(img, maxW, maxH)

	if deferred {
		proxy, err := encodeJPEG(fitLongEdge(img, s.cfg.ProxyMaxDimension), s.cfg.jpegQuality(capture.QualitySpeed))
		if err == nil {
			b.DidFinishProcessingProxy(proxy)
		}
	}

	data, err := encodeJPEG(img, s.cfg.jpegQuality(quality))
	if err != nil {
		err = fmt.Errorf("encode photo: %w", err)
	}
	b.DidFinishProcessingPhoto(data, err)
	b.DidFinishCapture(nil)
}

// UpdateConfiguration applies the device's limits to later captures.
func (s *PhotoService) UpdateConfiguration(dev device.CaptureDevice) {
	if s.backend == BackendStatic {
		return
	}
	w, h := dev.MaxDimensions()
	responsive := dev.MaxFrameRate() >= 60

	s.mu.Lock()
	s.maxW, s.maxH = w, h
	s.responsive = responsive
	s.deferredSupported = len(dev.Formats) > 0
	if responsive {
		s.quality = capture.QualityBalanced
	} else {
		s.quality = capture.QualityQuality
	}
	s.mu.Unlock()

	s.logger.Debug("photo configuration updated",
		"device", dev.ID, "max_width", w, "max_height", h, "responsive", responsive)
}

// PhotoSettings is the configuration derived from the active device.
type PhotoSettings struct {
	MaxWidth          int                           `json:"max_width"`
	MaxHeight         int                           `json:"max_height"`
	Quality           capture.QualityPrioritization `json:"quality"`
	Responsive        bool                          `json:"responsive"`
	DeferredSupported bool                          `json:"deferred_supported"`
}

// Settings returns the current device-derived configuration.
func (s *PhotoService) Settings() PhotoSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PhotoSettings{
		MaxWidth:          s.maxW,
		MaxHeight:         s.maxH,
		Quality:           s.quality,
		Responsive:        s.responsive,
		DeferredSupported: s.deferredSupported,
	}
}

// SetVideoRotationAngle rotates native captures. Other backends ignore it.
func (s *PhotoService) SetVideoRotationAngle(angle float64) {
	if s.backend != BackendNative {
		return
	}
	s.mu.Lock()
	s.rotation = angle
	s.mu.Unlock()
}

// Activity returns the current capture activity.
func (s *PhotoService) Activity() capture.Activity { return s.activity.Current() }

// SubscribeActivity streams capture activity until cancel is called.
func (s *PhotoService) SubscribeActivity() (<-chan capture.Activity, func()) {
	return s.activity.Subscribe()
}

// Flush resolves every capture still waiting for a frame.
func (s *PhotoService) Flush() {
	s.mu.Lock()
	reqs := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, r := range reqs {
		r.bridge.DidFinishCapture(nil)
	}
}

// Close flushes pending captures and waits for in-flight encoding.
func (s *PhotoService) Close() error {
	s.Flush()
	s.wg.Wait()
	s.activity.Close()
	return nil
}

var _ hw.FrameConsumer = (*PhotoService)(nil)

package web

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/hub"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// PreviewConfig bounds the preview stream.
type PreviewConfig struct {
	MaxFPS       float64 `yaml:"max_fps" json:"max_fps"`
	JPEGQuality  int     `yaml:"jpeg_quality" json:"jpeg_quality"`
	MaxDimension int     `yaml:"max_dimension" json:"max_dimension"`
}

// DefaultPreviewConfig returns 15 fps at 640 pixels, quality 70.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{MaxFPS: 15, JPEGQuality: 70, MaxDimension: 640}
}

func (c PreviewConfig) interval() time.Duration {
	if c.MaxFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.MaxFPS)
}

// downscale copies src into a new RGBA whose long edge is at most max.
// The copy is owned by the caller, so it may outlive the frame buffer.
func downscale(src image.Image, max int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if max > 0 && (w > max || h > max) {
		if w >= h {
			h = h * max / w
			w = max
		} else {
			w = w * max / h
			h = max
		}
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// limiter admits at most one event per interval.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (l *limiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interval > 0 && now.Sub(l.last) < l.interval {
		return false
	}
	l.last = now
	return true
}

// PreviewSink is the preview graph's display output. Frames are scaled on
// the delivery goroutine and JPEG-encoded by Run, which broadcasts them on
// the hub. Nothing is done while no client is connected.
type PreviewSink struct {
	name    string
	hub     *hub.Hub
	cfg     PreviewConfig
	logger  *slog.Logger
	limit   limiter
	pending *stream.Latest[*image.RGBA]
	sent    atomic.Uint64
}

// NewPreviewSink creates a sink broadcasting on h.
func NewPreviewSink(name string, h *hub.Hub, cfg PreviewConfig, logger *slog.Logger) *PreviewSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewSink{
		name:    name,
		hub:     h,
		cfg:     cfg,
		logger:  logger.With("component", "preview", "sink", name),
		limit:   limiter{interval: cfg.interval()},
		pending: stream.NewLatest[*image.RGBA](),
	}
}

// Name implements graph.Sink.
func (p *PreviewSink) Name() string { return p.name }

// ConsumeFrame implements graph.Sink.
func (p *PreviewSink) ConsumeFrame(f capture.Frame) {
	if f.Image == nil || p.hub.ClientCount() == 0 || !p.limit.allow(time.Now()) {
		return
	}
	p.pending.Publish(downscale(f.Image, p.cfg.MaxDimension))
}

// Sent returns how many frames were broadcast.
func (p *PreviewSink) Sent() uint64 { return p.sent.Load() }

// Run encodes and broadcasts frames until ctx is cancelled.
func (p *PreviewSink) Run(ctx context.Context) {
	defer p.pending.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case img, ok := <-p.pending.C():
			if !ok {
				return
			}
			data, err := encodeJPEG(img, p.cfg.JPEGQuality)
			if err != nil {
				p.logger.Warn("preview encode failed", "error", err)
				continue
			}
			p.hub.BroadcastBinary(data)
			p.sent.Add(1)
		}
	}
}

// ThumbnailSink keeps the newest downscaled frame of one filter branch.
type ThumbnailSink struct {
	name    string
	maxDim  int
	quality int
	limit   limiter

	mu     sync.Mutex
	latest *image.RGBA
}

// NewThumbnailSink creates a sink refreshing at most fps times a second.
func NewThumbnailSink(name string, maxDim, quality int, fps float64) *ThumbnailSink {
	return &ThumbnailSink{
		name:    name,
		maxDim:  maxDim,
		quality: quality,
		limit:   limiter{interval: PreviewConfig{MaxFPS: fps}.interval()},
	}
}

// Name implements graph.Sink.
func (t *ThumbnailSink) Name() string { return t.name }

// ConsumeFrame implements graph.Sink.
func (t *ThumbnailSink) ConsumeFrame(f capture.Frame) {
	if f.Image == nil || !t.limit.allow(time.Now()) {
		return
	}
	img := downscale(f.Image, t.maxDim)
	t.mu.Lock()
	t.latest = img
	t.mu.Unlock()
}

// JPEG encodes the newest thumbnail. It reports false before the first
// frame.
func (t *ThumbnailSink) JPEG() ([]byte, bool, error) {
	t.mu.Lock()
	img := t.latest
	t.mu.Unlock()
	if img == nil {
		return nil, false, nil
	}
	data, err := encodeJPEG(img, t.quality)
	return data, true, err
}

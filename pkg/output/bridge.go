package output

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // DecodeConfig for photo dimensions
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/stream"
)

// promise is a one-shot result cell. Only the first resolve wins.
type promise[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

// resolve stores the result and reports whether this call won.
func (p *promise[T]) resolve(v T, err error) bool {
	won := false
	p.once.Do(func() {
		p.val, p.err = v, err
		won = true
		close(p.done)
	})
	return won
}

func (p *promise[T]) isResolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *promise[T]) result() (T, error) {
	<-p.done
	return p.val, p.err
}

// PhotoBridge turns the still-capture callback sequence into one result and
// a progress stream. Callbacks may arrive in any order; the first
// DidFinishCapture (or an abandoned Wait) resolves the capture and later
// callbacks are ignored.
type PhotoBridge struct {
	id     string
	logger *slog.Logger

	mu       sync.Mutex
	proxy    []byte
	final    []byte
	procErr  error
	progress *stream.Latest[capture.Activity]
	result   *promise[capture.Photo]
	onDone   func()
}

func newPhotoBridge(id string, logger *slog.Logger) *PhotoBridge {
	return &PhotoBridge{
		id:       id,
		logger:   logger,
		progress: stream.NewLatest[capture.Activity](),
		result:   newPromise[capture.Photo](),
	}
}

// NewPhotoBridge creates a bridge for a capture driven by external callbacks.
func NewPhotoBridge(id string, logger *slog.Logger) *PhotoBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return newPhotoBridge(id, logger)
}

// ID returns the capture identifier.
func (b *PhotoBridge) ID() string { return b.id }

// Progress yields photo activity until the capture resolves, then closes.
func (b *PhotoBridge) Progress() <-chan capture.Activity { return b.progress.C() }

// Resolved reports whether the result is final.
func (b *PhotoBridge) Resolved() bool { return b.result.isResolved() }

// WillBeginCapture marks the start of exposure.
func (b *PhotoBridge) WillBeginCapture() {
	b.progress.Publish(capture.PhotoActivity(true))
}

// DidFinishProcessingProxy buffers the deferred proxy unless final data
// already arrived.
func (b *PhotoBridge) DidFinishProcessingProxy(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.final == nil && len(data) > 0 {
		b.proxy = data
	}
}

// DidFinishProcessingPhoto buffers the final image or the processing error.
func (b *PhotoBridge) DidFinishProcessingPhoto(data []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.procErr == nil {
			b.procErr = err
		}
		return
	}
	if len(data) > 0 {
		b.final = data
	}
}

// DidFinishCapture resolves the capture: with err if set, else any buffered
// processing error, else capture.ErrNoPhotoData when nothing was buffered,
// else the best payload.
func (b *PhotoBridge) DidFinishCapture(err error) {
	b.mu.Lock()
	procErr, final, proxy := b.procErr, b.final, b.proxy
	b.mu.Unlock()

	switch {
	case err != nil:
		b.finish(capture.Photo{}, err)
	case procErr != nil:
		b.finish(capture.Photo{}, procErr)
	case final != nil:
		b.finish(b.photo(final, false), nil)
	case proxy != nil:
		b.finish(b.photo(proxy, true), nil)
	default:
		b.finish(capture.Photo{}, capture.ErrNoPhotoData)
	}
}

func (b *PhotoBridge) photo(data []byte, isProxy bool) capture.Photo {
	p := capture.Photo{
		ID:        b.id,
		Data:      data,
		Timestamp: time.Now(),
		IsProxy:   isProxy,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		p.Width, p.Height = cfg.Width, cfg.Height
	}
	return p
}

// finish closes progress before publishing the result.
func (b *PhotoBridge) finish(p capture.Photo, err error) {
	if b.result.isResolved() {
		return
	}
	b.progress.Publish(capture.Idle())
	b.progress.Close()
	if !b.result.resolve(p, err) {
		return
	}
	if err != nil {
		b.logger.Debug("photo capture failed", "id", b.id, "error", err)
	}
	b.mu.Lock()
	done := b.onDone
	b.mu.Unlock()
	if done != nil {
		done()
	}
}

// Wait blocks for the result. If ctx ends first the capture is resolved
// with ctx's error.
func (b *PhotoBridge) Wait(ctx context.Context) (capture.Photo, error) {
	select {
	case <-b.result.done:
	case <-ctx.Done():
		b.finish(capture.Photo{}, ctx.Err())
	}
	return b.result.result()
}

// MovieBridge does for recordings what PhotoBridge does for stills.
type MovieBridge struct {
	id     string
	logger *slog.Logger

	progress *stream.Latest[capture.Activity]
	result   *promise[capture.Video]

	mu     sync.Mutex
	onDone func()
}

// Recording is what a finished recording produced.
type Recording struct {
	Path      string
	AudioPath string
	Thumbnail []byte
	Frames    int
	Duration  time.Duration
	Started   time.Time
}

func newMovieBridge(id string, logger *slog.Logger) *MovieBridge {
	return &MovieBridge{
		id:       id,
		logger:   logger,
		progress: stream.NewLatest[capture.Activity](),
		result:   newPromise[capture.Video](),
	}
}

// NewMovieBridge creates a bridge for a recording driven by external
// callbacks.
func NewMovieBridge(id string, logger *slog.Logger) *MovieBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return newMovieBridge(id, logger)
}

// ID returns the recording identifier.
func (b *MovieBridge) ID() string { return b.id }

// Progress yields video activity ticks, then idle, then closes.
func (b *MovieBridge) Progress() <-chan capture.Activity { return b.progress.C() }

// Resolved reports whether the result is final.
func (b *MovieBridge) Resolved() bool { return b.result.isResolved() }

// DidStartRecording publishes the zero-duration tick.
func (b *MovieBridge) DidStartRecording() {
	b.progress.Publish(capture.VideoActivity(0))
}

// DidRecord publishes the elapsed duration.
func (b *MovieBridge) DidRecord(elapsed time.Duration) {
	b.progress.Publish(capture.VideoActivity(elapsed))
}

// DidFinishRecording resolves the recording. A recording without a file or
// frames yields capture.ErrNoVideoData.
func (b *MovieBridge) DidFinishRecording(rec Recording, err error) {
	switch {
	case err != nil:
		b.finish(capture.Video{}, err)
	case rec.Path == "" || rec.Frames == 0:
		b.finish(capture.Video{}, capture.ErrNoVideoData)
	default:
		b.finish(capture.Video{
			ID:        b.id,
			Path:      rec.Path,
			Timestamp: rec.Started,
			Duration:  rec.Duration,
			Frames:    rec.Frames,
			AudioPath: rec.AudioPath,
			Thumbnail: rec.Thumbnail,
		}, nil)
	}
}

func (b *MovieBridge) finish(v capture.Video, err error) {
	if b.result.isResolved() {
		return
	}
	b.progress.Publish(capture.Idle())
	b.progress.Close()
	if !b.result.resolve(v, err) {
		return
	}
	if err != nil {
		b.logger.Debug("recording failed", "id", b.id, "error", err)
	}
	b.mu.Lock()
	done := b.onDone
	b.mu.Unlock()
	if done != nil {
		done()
	}
}

// Wait blocks for the result. If ctx ends first the recording is resolved
// with ctx's error.
func (b *MovieBridge) Wait(ctx context.Context) (capture.Video, error) {
	select {
	case <-b.result.done:
	case <-ctx.Done():
		b.finish(capture.Video{}, ctx.Err())
	}
	return b.result.result()
}

package output

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"os"
)

// Encoder writes the frames of one recording.
type Encoder interface {
	WriteFrame(img image.Image) error
	Close() error
}

// EncoderFactory opens an Encoder once the first frame fixes the size.
type EncoderFactory func(path string, width, height int, fps float64) (Encoder, error)

// mjpegEncoder writes a raw Motion-JPEG stream: JPEG images back to back.
type mjpegEncoder struct {
	f       *os.File
	w       *bufio.Writer
	quality int
}

func newMJPEGEncoder(path string, quality int) (*mjpegEncoder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &mjpegEncoder{f: f, w: bufio.NewWriterSize(f, 256<<10), quality: quality}, nil
}

func (e *mjpegEncoder) WriteFrame(img image.Image) error {
	return jpeg.Encode(e.w, img, &jpeg.Options{Quality: e.quality})
}

func (e *mjpegEncoder) Close() error {
	flushErr := e.w.Flush()
	closeErr := e.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// MJPEGFactory returns a factory for raw Motion-JPEG files.
func MJPEGFactory(quality int) EncoderFactory {
	return func(path string, _, _ int, _ float64) (Encoder, error) {
		return newMJPEGEncoder(path, quality)
	}
}

//go:build gocv

package output

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const movieExt = ".avi"

// aviEncoder writes an AVI container with the MJPG codec through OpenCV.
type aviEncoder struct {
	vw *gocv.VideoWriter
}

func (e *aviEncoder) WriteFrame(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	return e.vw.Write(mat)
}

func (e *aviEncoder) Close() error { return e.vw.Close() }

func defaultEncoder(int) EncoderFactory {
	return func(path string, width, height int, fps float64) (Encoder, error) {
		vw, err := gocv.VideoWriterFile(path, "MJPG", fps, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("open video writer %s: %w", path, err)
		}
		return &aviEncoder{vw: vw}, nil
	}
}

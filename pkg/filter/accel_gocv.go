//go:build gocv

package filter

import (
	"image"

	"golang.org/x/image/draw"
	"gocv.io/x/gocv"
)

// Accelerated reports whether colour-matrix kernels run through OpenCV.
func Accelerated() bool { return true }

// transformRGBA runs m through cv::transform. OpenCV mats are BGR.
func transformRGBA(img *image.RGBA, m matrix) (*image.RGBA, bool) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, false
	}
	defer src.Close()

	kernel := gocv.NewMatWithSize(3, 4, gocv.MatTypeCV32F)
	defer kernel.Close()
	bgr := m.bgr()
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			kernel.SetFloatAt(r, c, float32(bgr[r][c]))
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Transform(src, &dst, kernel)

	out, err := dst.ToImage()
	if err != nil {
		return nil, false
	}
	if rgba, ok := out.(*image.RGBA); ok {
		return rgba, true
	}
	rgba := image.NewRGBA(out.Bounds())
	draw.Draw(rgba, rgba.Bounds(), out, out.Bounds().Min, draw.Src)
	return rgba, true
}

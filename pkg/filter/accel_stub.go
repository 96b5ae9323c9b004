//go:build !gocv

package filter

import "image"

// Accelerated reports whether colour-matrix kernels run through OpenCV.
func Accelerated() bool { return false }

func transformRGBA(*image.RGBA, matrix) (*image.RGBA, bool) { return nil, false }

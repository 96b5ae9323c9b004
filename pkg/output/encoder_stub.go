//go:build !gocv

package output

const movieExt = ".mjpeg"

func defaultEncoder(quality int) EncoderFactory { return MJPEGFactory(quality) }

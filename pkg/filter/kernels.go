package filter

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// matrix maps [r g b 1] to [r' g' b'] in 0..255 space.
type matrix [3][4]float64

var identity = matrix{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// mix blends a toward b by t.
func (a matrix) mix(b matrix, t float64) matrix {
	var out matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = a[r][c]*(1-t) + b[r][c]*t
		}
	}
	return out
}

// then returns the matrix applying a first and b second.
func (a matrix) then(b matrix) matrix {
	var out matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			v := b[r][0]*a[0][c] + b[r][1]*a[1][c] + b[r][2]*a[2][c]
			if c == 3 {
				v += b[r][3]
			}
			out[r][c] = v
		}
	}
	return out
}

// bgr permutes rows and columns for BGR channel order.
func (a matrix) bgr() matrix {
	idx := [3]int{2, 1, 0}
	var out matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = a[idx[r]][idx[c]]
		}
		out[r][3] = a[idx[r]][3]
	}
	return out
}

const lumaR, lumaG, lumaB = 0.2125, 0.7154, 0.0721

func sepiaMatrix(intensity float64) matrix {
	sepia := matrix{
		{0.3588, 0.7044, 0.1368, 0},
		{0.2990, 0.5870, 0.1140, 0},
		{0.2392, 0.4696, 0.0912, 0},
	}
	return identity.mix(sepia, intensity)
}

func monochromeMatrix(intensity float64) matrix {
	mono := matrix{
		{lumaR, lumaG, lumaB, 0},
		{lumaR, lumaG, lumaB, 0},
		{lumaR, lumaG, lumaB, 0},
	}
	return identity.mix(mono, intensity)
}

func colorControlsMatrix(brightness, contrast, saturation float64) matrix {
	s := saturation
	sat := matrix{
		{lumaR*(1-s) + s, lumaG * (1 - s), lumaB * (1 - s), 0},
		{lumaR * (1 - s), lumaG*(1-s) + s, lumaB * (1 - s), 0},
		{lumaR * (1 - s), lumaG * (1 - s), lumaB*(1-s) + s, 0},
	}
	off := 128*(1-contrast) + brightness*255
	con := matrix{
		{contrast, 0, 0, off},
		{0, contrast, 0, off},
		{0, 0, contrast, off},
	}
	return sat.then(con)
}

// toRGBA copies src into a fresh RGBA image anchored at the origin.
func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func applyMatrix(src image.Image, m matrix) image.Image {
	img := toRGBA(src)
	if out, ok := transformRGBA(img, m); ok {
		return out
	}

	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
		img.Pix[i] = clamp8(m[0][0]*r + m[0][1]*g + m[0][2]*b + m[0][3])
		img.Pix[i+1] = clamp8(m[1][0]*r + m[1][1]*g + m[1][2]*b + m[1][3])
		img.Pix[i+2] = clamp8(m[2][0]*r + m[2][1]*g + m[2][2]*b + m[2][3])
	}
	return img
}

// applyHaze removes (positive distance) or adds (negative) a white haze
// whose strength varies linearly with the row.
func applyHaze(src image.Image, distance, slope float64) image.Image {
	img := toRGBA(src)
	h := img.Bounds().Dy()
	w := img.Bounds().Dx()
	for y := 0; y < h; y++ {
		d := float64(y)/float64(max(h-1, 1))*slope + distance
		if d > 0.95 {
			d = 0.95
		}
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i+3 < len(row); i += 4 {
			for c := 0; c < 3; c++ {
				v := float64(row[i+c])
				row[i+c] = clamp8((v - d*255) / (1 - d))
			}
		}
	}
	return img
}

func applyLookup(src image.Image, t *lut, intensity float64) image.Image {
	img := toRGBA(src)
	if t == nil {
		return img
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c])
			img.Pix[i+c] = clamp8(v*(1-intensity) + float64(t[c][img.Pix[i+c]])*intensity)
		}
	}
	return img
}

func applyVignette(src image.Image, intensity, radius float64) image.Image {
	img := toRGBA(src)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	cx, cy := float64(w)/2, float64(h)/2
	maxDist := math.Hypot(cx, cy)
	if maxDist == 0 {
		return img
	}
	inner := radius * 0.5

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) / maxDist
			k := 1 - intensity*smoothstep(inner, radius, d)
			i := y*img.Stride + x*4
			for c := 0; c < 3; c++ {
				img.Pix[i+c] = clamp8(float64(img.Pix[i+c]) * k)
			}
		}
	}
	return img
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

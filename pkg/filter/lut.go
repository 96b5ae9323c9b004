package filter

import (
	"math"
	"sort"
)

// lut is a per-channel 1D lookup table.
type lut [3][256]uint8

var tables = map[string]*lut{
	"warm":     curveLUT(func(v float64) float64 { return math.Pow(v, 0.9) }, identityCurve, func(v float64) float64 { return math.Pow(v, 1.15) }),
	"cool":     curveLUT(func(v float64) float64 { return math.Pow(v, 1.15) }, identityCurve, func(v float64) float64 { return math.Pow(v, 0.9) }),
	"fade":     curveLUT(fadeCurve, fadeCurve, fadeCurve),
	"contrast": curveLUT(sCurve, sCurve, sCurve),
}

// Tables returns the names of the available lookup tables.
func Tables() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func identityCurve(v float64) float64 { return v }

// fadeCurve lifts blacks and lowers whites.
func fadeCurve(v float64) float64 { return 0.08 + v*0.84 }

func sCurve(v float64) float64 {
	return v * v * (3 - 2*v)
}

func curveLUT(r, g, b func(float64) float64) *lut {
	var t lut
	curves := [3]func(float64) float64{r, g, b}
	for c, fn := range curves {
		for i := 0; i < 256; i++ {
			t[c][i] = clamp8(fn(float64(i)/255) * 255)
		}
	}
	return &t
}

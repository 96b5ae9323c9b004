package filter

import (
	"fmt"
	"image"
	"sync"
)

// Node is a live instance of a Filter. Apply may run concurrently with
// parameter changes.
type Node interface {
	Kind() Kind
	// Apply returns the transformed image. src is never modified.
	Apply(src image.Image) image.Image
	Params() map[string]float64
	Param(name string) (float64, bool)
	SetParam(name string, v float64) error
	// Snapshot returns the originating filter carrying the current
	// parameter values, suitable for persisting.
	Snapshot() Filter
}

type node struct {
	kind   Kind
	filter Filter
	specs  []ParamSpec
	table  *lut

	mu     sync.RWMutex
	params map[string]float64
}

func (n *node) Kind() Kind { return n.kind }

func (n *node) Params() map[string]float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]float64, len(n.params))
	for k, v := range n.params {
		out[k] = v
	}
	return out
}

func (n *node) Param(name string) (float64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.params[name]
	return v, ok
}

func (n *node) SetParam(name string, v float64) error {
	for _, s := range n.specs {
		if s.Name == name {
			n.mu.Lock()
			n.params[name] = clamp(v, s.Min, s.Max)
			n.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no %q", ErrUnknownParam, n.kind, name)
}

func (n *node) Snapshot() Filter {
	f := n.filter
	f.Params = n.Params()
	return f
}

func (n *node) Apply(src image.Image) image.Image {
	if n.kind == KindPassthrough || src == nil {
		return src
	}
	p := n.Params()

	switch n.kind {
	case KindSepia:
		return applyMatrix(src, sepiaMatrix(p["intensity"]))
	case KindMonochrome:
		return applyMatrix(src, monochromeMatrix(p["intensity"]))
	case KindColorControls:
		return applyMatrix(src, colorControlsMatrix(p["brightness"], p["contrast"], p["saturation"]))
	case KindHaze:
		return applyHaze(src, p["distance"], p["slope"])
	case KindLookup:
		return applyLookup(src, n.table, p["intensity"])
	case KindVignette:
		return applyVignette(src, p["intensity"], p["radius"])
	default:
		return src
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package filter describes image transforms and instantiates live nodes.
//
// A Filter is plain data: a stable ID, a kind and parameter values. It can be
// loaded from configuration or a caller's store, compared and used as a map
// key by ID. NewNode turns it into a Node, the mutable instance wired into a
// preview graph. Only this package knows which parameters a kind has.
package filter

import (
	"errors"
	"fmt"
	"sort"
)

// ID orders filters and keys them in graphs.
type ID int

// Kind selects the transform.
type Kind string

const (
	KindPassthrough   Kind = "passthrough"
	KindSepia         Kind = "sepia"
	KindMonochrome    Kind = "monochrome"
	KindHaze          Kind = "haze"
	KindLookup        Kind = "lookup"
	KindVignette      Kind = "vignette"
	KindColorControls Kind = "color_controls"
)

// ErrUnknownKind is returned for a filter kind this package cannot build.
var ErrUnknownKind = errors.New("filter: unknown kind")

// ErrUnknownParam is returned when a parameter does not exist on a kind.
var ErrUnknownParam = errors.New("filter: unknown parameter")

// ErrUnknownTable is returned for a lookup filter naming a missing table.
var ErrUnknownTable = errors.New("filter: unknown lookup table")

// ParamSpec describes one numeric parameter.
type ParamSpec struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

var specs = map[Kind][]ParamSpec{
	KindPassthrough: nil,
	KindSepia:       {{Name: "intensity", Default: 1, Min: 0, Max: 1}},
	KindMonochrome:  {{Name: "intensity", Default: 1, Min: 0, Max: 1}},
	KindHaze: {
		{Name: "distance", Default: 0.2, Min: -0.3, Max: 0.3},
		{Name: "slope", Default: 0, Min: -0.3, Max: 0.3},
	},
	KindLookup: {{Name: "intensity", Default: 1, Min: 0, Max: 1}},
	KindVignette: {
		{Name: "intensity", Default: 0.6, Min: 0, Max: 1},
		{Name: "radius", Default: 0.75, Min: 0.1, Max: 1.5},
	},
	KindColorControls: {
		{Name: "brightness", Default: 0, Min: -1, Max: 1},
		{Name: "contrast", Default: 1, Min: 0, Max: 4},
		{Name: "saturation", Default: 1, Min: 0, Max: 2},
	},
}

// Specs returns the parameter specs of kind.
func Specs(kind Kind) ([]ParamSpec, error) {
	s, ok := specs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return append([]ParamSpec(nil), s...), nil
}

// Filter is a named, parameterized transform.
type Filter struct {
	ID     ID                 `yaml:"id" json:"id"`
	Name   string             `yaml:"name" json:"name"`
	Kind   Kind               `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	// Table names the lookup table for KindLookup.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

// Passthrough is the identity filter.
var Passthrough = Filter{ID: 0, Name: "Original", Kind: KindPassthrough}

// Less orders filters by ID.
func (f Filter) Less(o Filter) bool { return f.ID < o.ID }

func (f Filter) String() string {
	return fmt.Sprintf("%s(#%d %s)", f.Kind, f.ID, f.Name)
}

// Validate checks kind, parameter names and the lookup table.
func (f Filter) Validate() error {
	kindSpecs, ok := specs[f.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	for name := range f.Params {
		if !hasSpec(kindSpecs, name) {
			return fmt.Errorf("%w: %s has no %q", ErrUnknownParam, f.Kind, name)
		}
	}
	if f.Kind == KindLookup {
		if _, ok := tables[f.Table]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTable, f.Table)
		}
	}
	return nil
}

func hasSpec(s []ParamSpec, name string) bool {
	for _, p := range s {
		if p.Name == name {
			return true
		}
	}
	return false
}

// NewNode instantiates a live node. Parameters missing from f take their
// defaults; out-of-range values are clamped.
func (f Filter) NewNode() (Node, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	n := &node{
		kind:   f.Kind,
		filter: f,
		specs:  specs[f.Kind],
		params: make(map[string]float64, len(specs[f.Kind])),
	}
	for _, s := range n.specs {
		v, ok := f.Params[s.Name]
		if !ok {
			v = s.Default
		}
		n.params[s.Name] = clamp(v, s.Min, s.Max)
	}
	if f.Kind == KindLookup {
		n.table = tables[f.Table]
	}
	return n, nil
}

// Sort orders filters by ID in place.
func Sort(fs []Filter) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Less(fs[j]) })
}

// Builtins returns the stock catalogue. IDs are stable.
func Builtins() []Filter {
	return []Filter{
		Passthrough,
		{ID: 1, Name: "Sepia", Kind: KindSepia},
		{ID: 2, Name: "Mono", Kind: KindMonochrome},
		{ID: 3, Name: "Haze", Kind: KindHaze},
		{ID: 4, Name: "Warm", Kind: KindLookup, Table: "warm"},
		{ID: 5, Name: "Cool", Kind: KindLookup, Table: "cool"},
		{ID: 6, Name: "Fade", Kind: KindLookup, Table: "fade"},
		{ID: 7, Name: "Vignette", Kind: KindVignette},
		{ID: 8, Name: "Vivid", Kind: KindColorControls, Params: map[string]float64{"saturation": 1.4, "contrast": 1.1}},
	}
}

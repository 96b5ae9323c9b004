// Package graph holds the live preview graph.
//
// Nodes live in an arena and are referenced by handle. Edges only point
// downstream; a node never refers back to its container. Removing a node
// detaches every edge touching it before the entry is freed, so frames in
// flight after the removal cannot reach it or its sinks.
//
// Chain is a linear pipeline ending in a retargetable relay. Stack fans one
// relay out to an independent filter branch per Filter. Both receive frames
// from a Source, which the session feeds.
package graph

import (
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/hw"
)

// Sink is a terminal consumer of graph frames.
type Sink interface {
	Name() string
	ConsumeFrame(capture.Frame)
}

// SessionBinder is implemented by sinks that need the hardware session when
// they are connected.
type SessionBinder interface {
	BindSession(hw.Session)
}

// Handle identifies a node within one arena.
type Handle uint32

type entry struct {
	// op is nil for relay nodes.
	op    filter.Node
	next  []Handle
	sinks []Sink
}

type arena struct {
	last  Handle
	nodes map[Handle]*entry
}

func newArena() *arena {
	return &arena{nodes: make(map[Handle]*entry)}
}

func (a *arena) add(op filter.Node) Handle {
	a.last++
	a.nodes[a.last] = &entry{op: op}
	return a.last
}

func (a *arena) get(h Handle) (*entry, bool) {
	e, ok := a.nodes[h]
	return e, ok
}

func (a *arena) link(from, to Handle) {
	if e, ok := a.nodes[from]; ok {
		e.next = append(e.next, to)
	}
}

func (a *arena) attach(h Handle, s Sink) {
	if e, ok := a.nodes[h]; ok {
		e.sinks = append(e.sinks, s)
	}
}

// detachSink removes s from h's sinks and reports whether it was attached.
func (a *arena) detachSink(h Handle, s Sink) bool {
	e, ok := a.nodes[h]
	if !ok {
		return false
	}
	for i, cur := range e.sinks {
		if cur == s {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// detach drops every edge into and out of h.
func (a *arena) detach(h Handle) {
	for id, e := range a.nodes {
		if id == h {
			e.next = nil
			e.sinks = nil
			continue
		}
		kept := e.next[:0]
		for _, n := range e.next {
			if n != h {
				kept = append(kept, n)
			}
		}
		e.next = kept
	}
}

func (a *arena) free(h Handle) {
	a.detach(h)
	delete(a.nodes, h)
}

// edges counts h's downstream nodes and sinks.
func (a *arena) edges(h Handle) int {
	e, ok := a.nodes[h]
	if !ok {
		return 0
	}
	return len(e.next) + len(e.sinks)
}

func (a *arena) len() int { return len(a.nodes) }

// push runs frame through h and everything downstream of it.
func (a *arena) push(h Handle, frame capture.Frame) {
	e, ok := a.nodes[h]
	if !ok {
		return
	}
	if e.op != nil {
		frame.Image = e.op.Apply(frame.Image)
	}
	for _, s := range e.sinks {
		s.ConsumeFrame(frame)
	}
	for _, n := range e.next {
		a.push(n, frame)
	}
}

package graph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/filter"
)

// Chain is a linear pipeline: input -> filter nodes -> relay -> sink.
// The relay can be retargeted without touching the upstream nodes.
type Chain struct {
	logger *slog.Logger
	source *Source

	mu      sync.RWMutex
	arena   *arena
	input   Handle
	stages  []Handle
	relay   Handle
	filters []filter.Filter
	sink    Sink
}

// NewChain builds a chain and attaches it to src.
func NewChain(src *Source, logger *slog.Logger, filters ...filter.Filter) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{
		logger: logger.With("component", "filter-chain"),
		source: src,
		arena:  newArena(),
	}
	c.input = c.arena.add(nil)
	c.relay = c.arena.add(nil)

	stages, err := c.build(filters)
	if err != nil {
		return nil, err
	}
	c.wire(stages, filters)

	if src != nil {
		src.attach(c)
	}
	return c, nil
}

// build instantiates nodes for filters without touching the topology.
func (c *Chain) build(filters []filter.Filter) ([]filter.Node, error) {
	nodes := make([]filter.Node, 0, len(filters))
	for _, f := range filters {
		n, err := f.NewNode()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", f, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// wire links input -> nodes -> relay. Called with mu held or before publish.
func (c *Chain) wire(nodes []filter.Node, filters []filter.Filter) {
	prev := c.input
	c.stages = c.stages[:0]
	for _, n := range nodes {
		h := c.arena.add(n)
		c.arena.link(prev, h)
		c.stages = append(c.stages, h)
		prev = h
	}
	c.arena.link(prev, c.relay)
	c.filters = append([]filter.Filter(nil), filters...)
}

// Consume runs a frame through the chain.
func (c *Chain) Consume(f capture.Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.arena.push(c.input, f)
}

// Connect points the relay at sink, detaching the previous sink. A nil sink
// only detaches. Sinks implementing SessionBinder receive the source's
// session.
func (c *Chain) Connect(sink Sink) {
	// The session is read before taking mu: delivery holds the source lock
	// while waiting for mu.
	sess := sessionOf(c.source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink != nil {
		c.arena.detachSink(c.relay, c.sink)
	}
	c.sink = sink
	if sink == nil {
		return
	}
	c.arena.attach(c.relay, sink)
	bindSession(sink, sess)
}

// Sink returns the connected sink.
func (c *Chain) Sink() Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sink
}

// Reset rebuilds every filter node. The relay, its sink and any taps are
// kept. On error the chain is unchanged.
func (c *Chain) Reset(filters []filter.Filter) error {
	nodes, err := c.build(filters)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.stages {
		c.arena.free(h)
	}
	c.arena.detach(c.input)
	c.wire(nodes, filters)

	c.logger.Debug("chain reset", "filters", len(filters))
	return nil
}

// AttachTap delivers filtered frames to sink alongside the connected sink.
func (c *Chain) AttachTap(sink Sink) {
	sess := sessionOf(c.source)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.arena.get(c.relay); ok {
		for _, s := range e.sinks {
			if s == sink {
				return
			}
		}
	}
	c.arena.attach(c.relay, sink)
	bindSession(sink, sess)
}

// DetachTap removes a tap added with AttachTap.
func (c *Chain) DetachTap(sink Sink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sink == c.sink {
		return false
	}
	return c.arena.detachSink(c.relay, sink)
}

// Filters returns the filters the chain was last built from.
func (c *Chain) Filters() []filter.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]filter.Filter(nil), c.filters...)
}

// Node returns the live node at position i.
func (c *Chain) Node(i int) (filter.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.stages) {
		return nil, false
	}
	e, ok := c.arena.get(c.stages[i])
	if !ok {
		return nil, false
	}
	return e.op, true
}

// Snapshot returns the chain's filters with their live parameter values.
func (c *Chain) Snapshot() []filter.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]filter.Filter, 0, len(c.stages))
	for _, h := range c.stages {
		if e, ok := c.arena.get(h); ok {
			out = append(out, e.op.Snapshot())
		}
	}
	return out
}

// Close detaches the chain from its source.
func (c *Chain) Close() {
	if c.source != nil {
		c.source.detach(c)
	}
}

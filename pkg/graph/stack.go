package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/filter"
)

// ErrNoSuchTarget is returned when a filter has no branch in a Stack.
var ErrNoSuchTarget = errors.New("graph: no such target")

// Target pairs a filter with the sink rendering it.
type Target struct {
	Filter filter.Filter
	Sink   Sink
}

type branch struct {
	filter filter.Filter
	node   Handle
	sink   Sink
}

// Stack fans one relay out to a filter branch per Filter, keyed by ID.
type Stack struct {
	logger *slog.Logger
	source *Source

	mu       sync.RWMutex
	arena    *arena
	relay    Handle
	branches map[filter.ID]*branch
	selected *filter.ID
}

// NewStack builds a stack and attaches it to src.
func NewStack(src *Source, logger *slog.Logger, targets ...Target) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{
		logger:   logger.With("component", "filter-stack"),
		source:   src,
		arena:    newArena(),
		branches: make(map[filter.ID]*branch),
	}
	s.relay = s.arena.add(nil)

	for _, t := range targets {
		if err := s.AddTarget(t.Sink, t.Filter); err != nil {
			return nil, err
		}
	}
	if src != nil {
		src.attach(s)
	}
	return s, nil
}

// Consume fans a frame out to every branch.
func (s *Stack) Consume(f capture.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.arena.push(s.relay, f)
}

// AddTarget wires relay -> node(f) -> sink. An existing branch for f is
// removed first.
func (s *Stack) AddTarget(sink Sink, f filter.Filter) error {
	n, err := f.NewNode()
	if err != nil {
		return fmt.Errorf("build %s: %w", f, err)
	}

	sess := sessionOf(s.source)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.branches[f.ID]; ok {
		s.arena.free(old.node)
		delete(s.branches, f.ID)
	}
	s.addLocked(sink, f, n)
	bindSession(sink, sess)
	return nil
}

func (s *Stack) addLocked(sink Sink, f filter.Filter, n filter.Node) {
	h := s.arena.add(n)
	s.arena.link(s.relay, h)
	if sink != nil {
		s.arena.attach(h, sink)
	}
	s.branches[f.ID] = &branch{filter: f, node: h, sink: sink}
}

// RemoveTarget detaches f's branch and drops it. It is a no-op if f has no
// branch. Removing the selected branch falls back to the passthrough
// filter, rendering into the removed sink.
func (s *Stack) RemoveTarget(f filter.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[f.ID]
	if !ok {
		return
	}
	s.arena.free(b.node)
	delete(s.branches, f.ID)

	if s.selected == nil || *s.selected != f.ID {
		return
	}

	if f.ID == filter.Passthrough.ID {
		s.selected = nil
		s.logger.Warn("selected passthrough target removed, no render target selected")
		return
	}
	if _, ok := s.branches[filter.Passthrough.ID]; !ok {
		n, err := filter.Passthrough.NewNode()
		if err != nil {
			s.selected = nil
			return
		}
		s.addLocked(b.sink, filter.Passthrough, n)
	}
	id := filter.Passthrough.ID
	s.selected = &id
	s.logger.Warn("selected target removed, falling back to passthrough", "filter", f.String())
}

// Operation returns the live node for f so callers can bind its parameters.
func (s *Stack) Operation(f filter.Filter) (filter.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[f.ID]
	if !ok {
		return nil, false
	}
	e, ok := s.arena.get(b.node)
	if !ok {
		return nil, false
	}
	return e.op, true
}

// Sink returns the sink of f's branch.
func (s *Stack) Sink(f filter.Filter) (Sink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[f.ID]
	if !ok {
		return nil, false
	}
	return b.sink, true
}

// Filters returns the filters with a branch, ordered by ID.
func (s *Stack) Filters() []filter.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]filter.Filter, 0, len(s.branches))
	for _, b := range s.branches {
		out = append(out, b.filter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Select marks f's branch as the render target.
func (s *Stack) Select(f filter.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[f.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTarget, f)
	}
	id := f.ID
	s.selected = &id
	return nil
}

// Selected returns the render-selected filter.
func (s *Stack) Selected() (filter.Filter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return filter.Filter{}, false
	}
	b, ok := s.branches[*s.selected]
	if !ok {
		return filter.Filter{}, false
	}
	return b.filter, true
}

// Close detaches the stack from its source.
func (s *Stack) Close() {
	if s.source != nil {
		s.source.detach(s)
	}
}

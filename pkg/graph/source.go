package graph

import (
	"sync"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/hw"
)

// Receiver is a graph shape fed by a Source.
type Receiver interface {
	Consume(capture.Frame)
}

// Source is the session output at the root of the preview graph. Raw taps
// see unfiltered frames; receivers run their own filter topology.
type Source struct {
	name string

	mu        sync.RWMutex
	receivers []Receiver
	taps      []Sink
	session   hw.Session
}

// NewSource creates an unattached source.
func NewSource(name string) *Source {
	return &Source{name: name}
}

// Name implements hw.Output.
func (s *Source) Name() string { return s.name }

// ConsumeFrame implements hw.FrameConsumer.
func (s *Source) ConsumeFrame(f capture.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.taps {
		t.ConsumeFrame(f)
	}
	for _, r := range s.receivers {
		r.Consume(f)
	}
}

// BindSession records the session this source is attached to.
func (s *Source) BindSession(sess hw.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// Session returns the bound session, nil if none.
func (s *Source) Session() hw.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Source) attach(r Receiver) {
	s.mu.Lock()
	s.receivers = append(s.receivers, r)
	s.mu.Unlock()
}

func (s *Source) detach(r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.receivers {
		if cur == r {
			s.receivers = append(s.receivers[:i], s.receivers[i+1:]...)
			return
		}
	}
}

// AttachTap delivers raw frames to sink. Attaching twice is a no-op.
func (s *Source) AttachTap(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.taps {
		if t == sink {
			return
		}
	}
	s.taps = append(s.taps, sink)
	bindSession(sink, s.session)
}

// DetachTap stops raw delivery to sink and reports whether it was attached.
func (s *Source) DetachTap(sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.taps {
		if t == sink {
			s.taps = append(s.taps[:i], s.taps[i+1:]...)
			return true
		}
	}
	return false
}

var _ hw.FrameConsumer = (*Source)(nil)

func sessionOf(src *Source) hw.Session {
	if src == nil {
		return nil
	}
	return src.Session()
}

func bindSession(sink Sink, sess hw.Session) {
	if sink == nil || sess == nil {
		return
	}
	if b, ok := sink.(SessionBinder); ok {
		b.BindSession(sess)
	}
}

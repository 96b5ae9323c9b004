package stream

import (
	"sync"
	"testing"
	"time"
)

func TestLatest_KeepsNewest(t *testing.T) {
	l := NewLatest[int]()

	for i := 1; i <= 5; i++ {
		if !l.Publish(i) {
			t.Fatalf("Publish(%d) returned false on open stream", i)
		}
	}

	select {
	case v := <-l.C():
		if v != 5 {
			t.Errorf("expected newest value 5, got %d", v)
		}
	default:
		t.Fatal("expected a pending value")
	}

	if l.Dropped() != 4 {
		t.Errorf("expected 4 dropped values, got %d", l.Dropped())
	}

	if v, ok := l.Value(); !ok || v != 5 {
		t.Errorf("Value() = %d, %v; want 5, true", v, ok)
	}
}

func TestLatest_CloseDeliversPending(t *testing.T) {
	l := NewLatest[string]()
	l.Publish("idle")
	l.Close()
	l.Close()

	if l.Publish("late") {
		t.Error("Publish after Close should return false")
	}

	v, ok := <-l.C()
	if !ok || v != "idle" {
		t.Errorf("expected pending value before close, got %q ok=%v", v, ok)
	}
	if _, ok := <-l.C(); ok {
		t.Error("expected channel closed")
	}
}

func TestLatest_NeverRegresses(t *testing.T) {
	l := NewLatest[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			l.Publish(i)
		}
		l.Close()
	}()

	last := 0
	for v := range l.C() {
		if v <= last {
			t.Fatalf("observed regression: %d after %d", v, last)
		}
		last = v
	}
	wg.Wait()

	if last != 1000 {
		t.Errorf("expected final value 1000, got %d", last)
	}
}

func TestFanout_SubscribeGetsCurrent(t *testing.T) {
	f := NewFanout("idle")
	f.Publish("photo")

	ch, cancel := f.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		if v != "photo" {
			t.Errorf("expected current value photo, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for primed value")
	}

	f.Publish("video")
	if v := <-ch; v != "video" {
		t.Errorf("expected video, got %q", v)
	}

	if f.Current() != "video" {
		t.Errorf("Current() = %q, want video", f.Current())
	}
}

func TestFanout_CancelAndClose(t *testing.T) {
	f := NewFanout(0)
	ch1, cancel1 := f.Subscribe()
	ch2, _ := f.Subscribe()

	<-ch1
	<-ch2

	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("expected cancelled subscription to be closed")
	}

	f.Close()
	if _, ok := <-ch2; ok {
		t.Error("expected subscription closed by Fanout.Close")
	}

	ch3, cancel3 := f.Subscribe()
	defer cancel3()
	if _, ok := <-ch3; ok {
		t.Error("expected subscription on closed fanout to be closed")
	}
}

package hub

import (
	"context"
	"testing"
	"time"
)

func newTestClient(h *Hub, buf int) *Client {
	return &Client{hub: h, send: make(chan Message, buf)}
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastAndLeave(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a, b := newTestClient(h, 4), newTestClient(h, 4)
	if !h.join(a) || !h.join(b) {
		t.Fatal("join failed on running hub")
	}
	waitClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]string{"state": "running"}); err != nil {
		t.Fatalf("BroadcastJSON failed: %v", err)
	}
	for _, c := range []*Client{a, b} {
		select {
		case m := <-c.send:
			if m.Type != JSONMessage || string(m.Data) != `{"state":"running"}` {
				t.Errorf("message = %v %q", m.Type, m.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	h.leave(a)
	waitClients(t, h, 1)
	if _, ok := <-a.send; ok {
		t.Error("send channel open after leave")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := newTestClient(h, 1)
	h.join(slow)
	waitClients(t, h, 1)

	h.BroadcastBinary([]byte{1})
	h.BroadcastBinary([]byte{2})
	waitClients(t, h, 0)

	if m := <-slow.send; m.Type != BinaryMessage || m.Data[0] != 1 {
		t.Errorf("first message = %+v", m)
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client channel not closed")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := newTestClient(h, 1)
	h.join(c)
	waitClients(t, h, 1)

	cancel()
	<-h.Done()
	if h.IsRunning() {
		t.Error("IsRunning after stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel open after stop")
	}
	if h.join(newTestClient(h, 1)) {
		t.Error("join succeeded on stopped hub")
	}
	h.leave(c)
}

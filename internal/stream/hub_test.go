package stream

import (
	"sync"
	"testing"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	h.Broadcast(7)

	if got := <-a.C(); got != 7 {
		t.Errorf("Expected 7 on first subscriber, got %d", got)
	}
	if got := <-b.C(); got != 7 {
		t.Errorf("Expected 7 on second subscriber, got %d", got)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)

	h.Broadcast(1)
	h.Broadcast(2)
	h.Broadcast(3)

	if got := <-sub.C(); got != 1 {
		t.Errorf("Expected the first message to survive, got %d", got)
	}
	select {
	case v := <-sub.C():
		t.Errorf("Expected overflow messages dropped, got %d", v)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)

	if h.Count() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", h.Count())
	}
	h.Unsubscribe(sub)
	if h.Count() != 0 {
		t.Fatalf("Expected 0 subscribers, got %d", h.Count())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("Expected channel closed after unsubscribe")
	}

	// A second unsubscribe must not panic on the closed channel.
	h.Unsubscribe(sub)
}

func TestHubBroadcastAfterUnsubscribe(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe(1)
	h.Unsubscribe(sub)

	h.Broadcast(42)

	if h.Count() != 0 {
		t.Errorf("Expected no subscribers, got %d", h.Count())
	}
}

func TestHubConcurrentUse(t *testing.T) {
	h := NewHub[int]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := h.Subscribe(16)
			for range [4]int{} {
				h.Broadcast(1)
			}
			h.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	if h.Count() != 0 {
		t.Errorf("Expected all subscribers gone, got %d", h.Count())
	}
}

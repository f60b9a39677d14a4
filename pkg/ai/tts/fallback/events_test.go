package fallback

import (
	"sync"
	"testing"
	"time"
)

func TestEventBusDeliversToSubscribers(t *testing.T) {
	bus := newEventBus(nil)

	var mu sync.Mutex
	var got []AvailabilityChangedEvent
	sub := bus.On(func(ev AvailabilityChangedEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	b := newFakeBackend("a", 16000, false)
	bus.emit(AvailabilityChangedEvent{Backend: b, Available: false})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Available != false || got[0].Backend != b {
		t.Fatalf("got %v, want one event for backend down", got)
	}

	sub.Unsubscribe()
	bus.emit(AvailabilityChangedEvent{Backend: b, Available: true})
	if len(got) != 1 {
		t.Fatalf("expected no further delivery after Unsubscribe, got %v", got)
	}
}

func TestEventBusRecoversFromPanickingListener(t *testing.T) {
	bus := newEventBus(nil)
	bus.On(func(AvailabilityChangedEvent) { panic("boom") })

	done := make(chan struct{})
	go func() {
		bus.emit(AvailabilityChangedEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit did not return after a panicking listener")
	}
}

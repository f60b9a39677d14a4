package fallback

import "testing"

func TestHealthRegistryOrder(t *testing.T) {
	a := newFakeBackend("a", 16000, false)
	b := newFakeBackend("b", 16000, false)
	c := newFakeBackend("c", 16000, false)
	backends := []Backend{a, b, c}

	h := newHealthRegistry(backends, nil)
	h.markUnavailable(b)

	got := h.order(backends)
	want := []Backend{a, c, b}
	if len(got) != len(want) {
		t.Fatalf("order length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHealthRegistryTransitionsAreIdempotent(t *testing.T) {
	a := newFakeBackend("a", 16000, false)
	backends := []Backend{a}

	var transitions []bool
	h := newHealthRegistry(backends, func(_ Backend, available bool) {
		transitions = append(transitions, available)
	})

	h.markUnavailable(a)
	h.markUnavailable(a) // no-op: already down
	h.markAvailable(a)
	h.markAvailable(a) // no-op: already up

	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2: %v", len(transitions), transitions)
	}
	if transitions[0] != false || transitions[1] != true {
		t.Fatalf("unexpected transition sequence: %v", transitions)
	}
}

func TestHealthRegistryUnavailableBackends(t *testing.T) {
	a := newFakeBackend("a", 16000, false)
	b := newFakeBackend("b", 16000, false)
	backends := []Backend{a, b}

	h := newHealthRegistry(backends, nil)
	h.markUnavailable(b)

	got := h.unavailableBackends(backends)
	if len(got) != 1 || got[0] != b {
		t.Fatalf("unavailableBackends = %v, want [b]", got)
	}
}

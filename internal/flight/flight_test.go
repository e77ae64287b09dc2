package flight

import (
	"testing"
	"time"
)

// The first Begin for a key owns the flight; later calls observe it.
func TestGroup_BeginDedup(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	f1, owned := g.Begin("k", 1)
	if !owned {
		t.Fatal("first Begin must own the flight")
	}
	f2, owned := g.Begin("k", 2)
	if owned {
		t.Fatal("second Begin must not own")
	}
	if f1 != f2 {
		t.Fatal("duplicate Begin must return the live flight")
	}
	if f2.Val != 1 {
		t.Fatalf("duplicate Begin must not overwrite Val, got %d", f2.Val)
	}
	if g.Len() != 1 {
		t.Fatalf("want 1 live flight, got %d", g.Len())
	}
}

// Remove wakes waiters and frees the key for a fresh flight.
func TestGroup_RemoveWakesWaiters(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	f, _ := g.Begin("k", 7)

	woke := make(chan struct{})
	go func() {
		<-f.Done()
		close(woke)
	}()

	if _, ok := g.Remove("k"); !ok {
		t.Fatal("Remove must report the live flight")
	}
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter must wake on Remove")
	}

	if _, owned := g.Begin("k", 8); !owned {
		t.Fatal("key must be reusable after Remove")
	}
}

// Drain removes everything at once.
func TestGroup_Drain(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	g.Begin("a", 1)
	g.Begin("b", 2)
	fs := g.Drain()
	if len(fs) != 2 || g.Len() != 0 {
		t.Fatalf("Drain must empty the group, got %d returned / %d live", len(fs), g.Len())
	}
	for _, f := range fs {
		select {
		case <-f.Done():
		default:
			t.Fatal("drained flights must be done")
		}
	}
}

// Remove on an absent key is a safe no-op.
func TestGroup_RemoveAbsent(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	if _, ok := g.Remove("nope"); ok {
		t.Fatal("Remove of absent key must report false")
	}
}

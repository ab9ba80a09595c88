package registry

import (
	"sync"
	"testing"

	"github.com/panelflow/panelflow/pkg/stream"
)

func TestRegistry_PutOverwrites(t *testing.T) {
	r := New()
	first := &stream.Continuation{CorrelationID: "c1"}
	second := &stream.Continuation{CorrelationID: "c2"}

	r.Put("conn-1", first)
	r.Put("conn-1", second)

	got, ok := r.Take("conn-1")
	if !ok {
		t.Fatal("continuation missing")
	}
	if got.CorrelationID != "c2" {
		t.Errorf("got %q, want the replacement", got.CorrelationID)
	}
	if r.Len() != 0 {
		t.Errorf("len = %d after take", r.Len())
	}
}

func TestRegistry_TakeConsumesExactlyOnce(t *testing.T) {
	r := New()
	r.Put("conn-1", &stream.Continuation{CorrelationID: "c1"})

	if _, ok := r.Take("conn-1"); !ok {
		t.Fatal("first take failed")
	}
	if _, ok := r.Take("conn-1"); ok {
		t.Fatal("second take should find nothing")
	}
}

func TestRegistry_TakeConcurrent(t *testing.T) {
	r := New()
	r.Put("conn-1", &stream.Continuation{CorrelationID: "c1"})

	var won int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Take("conn-1"); ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d goroutines took the continuation, want exactly 1", won)
	}
}

func TestRegistry_PeekDoesNotConsume(t *testing.T) {
	r := New()
	r.Put("conn-1", &stream.Continuation{CorrelationID: "c1"})

	if _, ok := r.Peek("conn-1"); !ok {
		t.Fatal("peek failed")
	}
	if _, ok := r.Take("conn-1"); !ok {
		t.Fatal("take after peek should succeed")
	}
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := New()
	r.Put("conn-1", &stream.Continuation{})

	r.Remove("conn-1")
	r.Remove("conn-1") // absent entry, still fine
	r.Remove("never-existed")

	if _, ok := r.Take("conn-1"); ok {
		t.Error("removed continuation still present")
	}
}

func TestRegistry_ConnectionsAreIndependent(t *testing.T) {
	r := New()
	r.Put("a", &stream.Continuation{CorrelationID: "ca"})
	r.Put("b", &stream.Continuation{CorrelationID: "cb"})

	r.Remove("a")
	got, ok := r.Take("b")
	if !ok || got.CorrelationID != "cb" {
		t.Errorf("b's continuation affected by a's removal")
	}
}

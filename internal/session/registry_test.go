package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestOpenAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Open("S1", Context{RemoteAddress: "1.2.3.4", Agent: "UA1"})

	ctx, ok := r.Lookup("S1")
	if !ok {
		t.Fatal("expected session S1 to be found")
	}
	if ctx.RemoteAddress != "1.2.3.4" {
		t.Errorf("expected remote address %q, got %q", "1.2.3.4", ctx.RemoteAddress)
	}
	if ctx.Agent != "UA1" {
		t.Errorf("expected agent %q, got %q", "UA1", ctx.Agent)
	}
}

func TestCloseRemovesSession(t *testing.T) {
	r := NewRegistry()

	r.Open("S1", Context{RemoteAddress: "1.2.3.4", Agent: "UA1"})
	r.Close("S1")

	if _, ok := r.Lookup("S1"); ok {
		t.Fatal("expected S1 to be gone after Close")
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 sessions, got %d", r.Len())
	}
}

func TestCloseUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Open("S1", Context{RemoteAddress: "1.2.3.4", Agent: "UA1"})

	// Should not panic.
	r.Close("never-opened")
	r.Close("never-opened")

	if r.Len() != 1 {
		t.Fatalf("expected registry unchanged with 1 session, got %d", r.Len())
	}
	if _, ok := r.Lookup("S1"); !ok {
		t.Fatal("expected S1 to survive an unrelated close")
	}
}

func TestOpenOverwrites(t *testing.T) {
	r := NewRegistry()

	r.Open("S1", Context{RemoteAddress: "1.1.1.1", Agent: "old"})
	r.Open("S1", Context{RemoteAddress: "2.2.2.2", Agent: "new"})

	ctx, _ := r.Lookup("S1")
	if ctx.RemoteAddress != "2.2.2.2" || ctx.Agent != "new" {
		t.Errorf("expected last writer to win, got %+v", ctx)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	r := NewRegistry()
	attrs := map[string]string{"lang": "en"}
	r.Open("S1", Context{RemoteAddress: "1.2.3.4", Agent: "UA1", Attributes: attrs})

	// Mutating the caller's map or a lookup result must not leak back.
	attrs["lang"] = "fr"
	ctx, _ := r.Lookup("S1")
	ctx.Attributes["lang"] = "de"

	again, _ := r.Lookup("S1")
	if again.Attributes["lang"] != "en" {
		t.Errorf("expected stored attribute %q, got %q", "en", again.Attributes["lang"])
	}
}

func TestConcurrentOpenLookup(t *testing.T) {
	r := NewRegistry()
	n := 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r.Open(fmt.Sprintf("s-%d", i), Context{
				RemoteAddress: fmt.Sprintf("10.0.0.%d", i),
				Agent:         fmt.Sprintf("agent-%d", i),
			})
		}(i)
	}
	wg.Wait()

	errs := make(chan string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ctx, ok := r.Lookup(fmt.Sprintf("s-%d", i))
			if !ok {
				errs <- fmt.Sprintf("s-%d: not found", i)
				return
			}
			if ctx.RemoteAddress != fmt.Sprintf("10.0.0.%d", i) || ctx.Agent != fmt.Sprintf("agent-%d", i) {
				errs <- fmt.Sprintf("s-%d: torn read %+v", i, ctx)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	if r.Len() != n {
		t.Fatalf("expected %d sessions, got %d", n, r.Len())
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	r := NewRegistry()
	goroutines := 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			// Interleave operations on shared and private IDs.
			for i := 0; i < 50; i++ {
				shared := fmt.Sprintf("shared-%d", i%5)
				private := fmt.Sprintf("g%d-%d", g, i)
				r.Open(shared, Context{RemoteAddress: "x", Agent: "y"})
				r.Open(private, Context{RemoteAddress: "a", Agent: "b"})
				_, _ = r.Lookup(shared)
				r.Close(shared)
				r.Close(private)
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d sessions", r.Len())
	}
}

package cpu

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestParallelForCoversRange(t *testing.T) {
	p := newPool(4)
	defer p.close()

	n := 1000
	results := make([]int, n)
	err := p.parallelFor(n, 16, func(start, end int) {
		for i := start; i < end; i++ {
			results[i] += i * 2
		}
	})
	if err != nil {
		t.Fatalf("parallelFor: %v", err)
	}
	for i := range n {
		if results[i] != i*2 {
			t.Fatalf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestParallelForSmallJobRunsOnce(t *testing.T) {
	p := newPool(8)
	defer p.close()

	var calls atomic.Int32
	_ = p.parallelFor(10, 1024, func(start, end int) {
		calls.Add(1)
		if start != 0 || end != 10 {
			t.Errorf("got chunk [%d, %d), want [0, 10)", start, end)
		}
	})
	if calls.Load() != 1 {
		t.Errorf("expected a single chunk, got %d", calls.Load())
	}
}

func TestParallelForEmpty(t *testing.T) {
	p := newPool(2)
	defer p.close()

	called := false
	if err := p.parallelFor(0, 1, func(int, int) { called = true }); err != nil {
		t.Fatalf("parallelFor: %v", err)
	}
	if called {
		t.Error("fn should not run for an empty range")
	}
}

func TestParallelForRecoversPanic(t *testing.T) {
	p := newPool(4)
	defer p.close()

	var ran atomic.Int32
	err := p.parallelFor(100, 1, func(start, end int) {
		ran.Add(1)
		if start == 0 {
			panic("bad element")
		}
	})
	if err == nil {
		t.Fatal("expected an error from a panicking chunk")
	}
	if !strings.Contains(err.Error(), "bad element") {
		t.Errorf("error %q should carry the panic value", err)
	}
	if ran.Load() != 100 {
		t.Errorf("all batches should run, got %d", ran.Load())
	}
}

func TestParallelForBatchesAreGrainSized(t *testing.T) {
	p := newPool(3)
	defer p.close()

	var mu sync.Mutex
	chunks := map[int]int{}
	err := p.parallelFor(103, 10, func(start, end int) {
		mu.Lock()
		chunks[start] = end
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("parallelFor: %v", err)
	}
	if len(chunks) != 11 {
		t.Fatalf("got %d batches, want 11", len(chunks))
	}
	for start, end := range chunks {
		want := min(start+10, 103)
		if start%10 != 0 || end != want {
			t.Errorf("got batch [%d, %d), want [%d, %d)", start, end, start, want)
		}
	}
}

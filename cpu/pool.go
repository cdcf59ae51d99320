package cpu

import (
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

// pool is a persistent set of helper goroutines shared by every job the
// executor runs. A job is cut into grain-sized batches that the submitting
// goroutine and the helpers claim from a shared cursor until none are left.
type pool struct {
	helpers int
	tasks   chan *task
}

// task is one parallelFor call in flight.
type task struct {
	n, grain int
	fn       func(start, end int)

	cursor atomic.Int64
	fault  atomic.Pointer[error]
	done   sync.WaitGroup
}

func newPool(helpers int) *pool {
	p := &pool{
		helpers: helpers,
		tasks:   make(chan *task, helpers),
	}
	for range helpers {
		go p.help()
	}
	return p
}

func (p *pool) help() {
	for t := range p.tasks {
		t.drain()
		t.done.Done()
	}
}

// close stops the helpers. The caller guarantees no parallelFor is running.
func (p *pool) close() {
	close(p.tasks)
}

// parallelFor calls fn over [0, n) in contiguous batches of grain indices
// and blocks until every batch has run. A panic inside fn is recovered and
// returned as the job error; the remaining batches still run.
func (p *pool) parallelFor(n, grain int, fn func(start, end int)) error {
	if n <= 0 {
		return nil
	}
	if grain < 1 {
		grain = 1
	}

	t := &task{n: n, grain: grain, fn: fn}
	batches := (n + grain - 1) / grain

	// The caller drains alongside the helpers, so one batch needs nobody.
	enlist := min(p.helpers, batches-1)
	t.done.Add(enlist)
	for range enlist {
		p.tasks <- t
	}
	t.drain()
	t.done.Wait()

	if errp := t.fault.Load(); errp != nil {
		return *errp
	}
	return nil
}

func (t *task) drain() {
	for {
		start := int(t.cursor.Add(int64(t.grain))) - t.grain
		if start >= t.n {
			return
		}
		t.run(start, min(start+t.grain, t.n))
	}
}

func (t *task) run(start, end int) {
	defer func() {
		if r := recover(); r != nil {
			err := xerrors.Errorf("kernel fault in [%d, %d): %v", start, end, r)
			t.fault.CompareAndSwap(nil, &err)
		}
	}()
	t.fn(start, end)
}

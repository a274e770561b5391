package crawler

import "sync"

type visit struct {
	group string
	path  *Path
}

// worklist is an unbounded FIFO shared by the crawl workers. pending counts
// visits that were pushed and not yet marked done; the crawl is finished when
// it reaches zero.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []visit
	pending int
	stopped bool
}

func newWorklist() *worklist {
	w := &worklist{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// push returns false once the worklist has been stopped.
func (w *worklist) push(v visit) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.items = append(w.items, v)
	w.pending++
	w.cond.Signal()
	return true
}

// pop blocks until a visit is available. It returns false when all work is
// done or the worklist was stopped.
func (w *worklist) pop() (visit, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.items) == 0 && w.pending > 0 && !w.stopped {
		w.cond.Wait()
	}
	if w.stopped || len(w.items) == 0 {
		return visit{}, false
	}
	v := w.items[0]
	w.items[0] = visit{}
	w.items = w.items[1:]
	return v, true
}

func (w *worklist) done() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending--
	if w.pending == 0 {
		w.cond.Broadcast()
	}
}

// stop refuses further pushes and wakes idle workers. Queued visits that
// have not started are dropped.
func (w *worklist) stop() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	dropped := len(w.items)
	w.items = nil
	w.cond.Broadcast()
	return dropped
}

package promise

import "sync"

// trampoline runs continuations one at a time in FIFO order. Whichever
// goroutine finds the loop idle becomes the runner and drains the queue, so
// long chains execute iteratively instead of recursing.
type trampoline struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

var loop trampoline

func (t *trampoline) schedule(fn func()) {
	t.mu.Lock()
	t.queue = append(t.queue, fn)
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		next := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()

		next()
	}
}

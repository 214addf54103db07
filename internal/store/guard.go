package store

import "sync"

// guard is the single writer lock shared by every sub-store of a Provider.
// Stores created inside WithTx run with the lock already held.
type guard struct {
	mu   *sync.RWMutex
	held bool
}

func (g guard) write() func() {
	if g.held {
		return func() {}
	}
	g.mu.Lock()
	return g.mu.Unlock
}

func (g guard) read() func() {
	if g.held {
		return func() {}
	}
	g.mu.RLock()
	return g.mu.RUnlock
}

package domain

import (
	"sync"

	m "github.com/mouse-blink/autocov/internal/model"
)

// LockRegistry hands out one mutex per project root. Every coverage run
// against a root holds its lock.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[m.Path]*sync.Mutex
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[m.Path]*sync.Mutex)}
}

// For returns the mutex of root, creating it on first use.
func (r *LockRegistry) For(root m.Path) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[root]
	if !ok {
		l = &sync.Mutex{}
		r.locks[root] = l
	}

	return l
}

// Package keylock provides mutual exclusion per string key.
//
// Locks are created on first use and dropped once nobody holds or waits for
// them, so the map only ever contains keys with live traffic. Waiters on the
// same key are queued on a channel and served in arrival order.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("timed out waiting for key lock")

type entry struct {
	sem  chan struct{}
	refs int
}

type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until key is free, timeout elapses or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (m *Map) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	e := m.acquireRef(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.releaseRef(key, e)
			})
		}, nil
	case <-timer.C:
		m.releaseRef(key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		m.releaseRef(key, e)
		return nil, ctx.Err()
	}
}

// Len reports how many keys currently have a holder or a waiter.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquireRef(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) releaseRef(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

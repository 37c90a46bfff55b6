package kasirclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultWindow is how long a successful read is served without a new call.
const DefaultWindow = 800 * time.Millisecond

// Result is a governed read. Stale is set when the fetch failed and the
// last good value was returned instead.
type Result struct {
	Value any
	Stale bool
}

type entry struct {
	value     any
	fetchedAt time.Time
	// valid is false once the entry is invalidated. The value is still
	// usable as a stale fallback.
	valid bool
}

// Governor coalesces identical reads and throttles polling.
type Governor struct {
	window time.Duration
	now    func() time.Time
	// fallback decides which fetch errors may be answered with the last
	// known value. nil allows all.
	fallback func(error) bool

	sfg singleflight.Group // one in-flight fetch per key

	mu          sync.Mutex
	entries     map[string]*entry
	generations map[string]uint64
}

func NewGovernor(window time.Duration) *Governor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{
		window:      window,
		now:         time.Now,
		entries:     make(map[string]*entry),
		generations: make(map[string]uint64),
	}
}

// Do returns the value for key. Callers that arrive while a fetch for key is
// running wait for that fetch. A value younger than the window is returned
// without calling fetch.
func (g *Governor) Do(ctx context.Context, key string, fetch func(context.Context) (any, error)) (Result, error) {
	if v, ok := g.fresh(key); ok {
		return Result{Value: v}, nil
	}

	gen := g.generation(key)
	ch := g.sfg.DoChan(key, func() (interface{}, error) {
		// shared by every waiter, so one caller leaving must not cancel it
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		g.store(key, gen, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return Result{Value: res.Val}, nil
		}
		if g.fallback != nil && !g.fallback(res.Err) {
			return Result{}, res.Err
		}
		if v, ok := g.lastKnown(key); ok {
			return Result{Value: v, Stale: true}, nil
		}
		return Result{}, res.Err
	}
}

// Invalidate forces the next Do for key to fetch. A fetch already running
// still answers its waiters but its result is not cached.
func (g *Governor) Invalidate(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.generations[key]++
	if e, ok := g.entries[key]; ok {
		e.valid = false
	}
	g.sfg.Forget(key)
}

func (g *Governor) fresh(key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok || !e.valid || g.now().Sub(e.fetchedAt) >= g.window {
		return nil, false
	}
	return e.value, true
}

func (g *Governor) lastKnown(key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (g *Governor) generation(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generations[key]
}

func (g *Governor) store(key string, gen uint64, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.generations[key] != gen {
		// invalidated mid-flight; keep it only as a fallback
		if _, ok := g.entries[key]; !ok {
			g.entries[key] = &entry{value: v, fetchedAt: g.now()}
		}
		return
	}
	g.entries[key] = &entry{value: v, fetchedAt: g.now(), valid: true}
}

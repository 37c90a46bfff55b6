package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/cache"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/keylock"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// SessionManager owns the one open cart per (user, store). Every read and
// write of a session goes through the per-key lock so that the cache never
// holds a snapshot older than the stored one.
type SessionManager struct {
	store       store.SessionStore
	cache       cache.SessionCache
	locks       *keylock.Map
	lockTimeout time.Duration
	broadcaster Broadcaster
	sfg         singleflight.Group // Prevents cache stampede
	now         func() time.Time
}

type SessionOption func(*SessionManager)

func WithSessionCache(c cache.SessionCache) SessionOption {
	return func(m *SessionManager) { m.cache = c }
}

func WithLockTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

func WithBroadcaster(b Broadcaster) SessionOption {
	return func(m *SessionManager) {
		if b != nil {
			m.broadcaster = b
		}
	}
}

func NewSessionManager(s store.SessionStore, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:       s,
		locks:       keylock.New(),
		lockTimeout: DefaultLockTimeout,
		broadcaster: noopBroadcaster{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the open session for the scope, creating an empty one
// on first use. It never reports "not found".
func (m *SessionManager) GetOrCreate(ctx context.Context, scope domain.Scope) (*domain.Session, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	key := scope.Key()

	// Use singleflight to prevent multiple concurrent cache misses for same key
	ch := m.sfg.DoChan(key.String(), func() (interface{}, error) {
		// shared by every waiter, so the first caller leaving must not fail the rest
		ctx := context.WithoutCancel(ctx)
		if m.cache != nil {
			session, err := m.cache.Get(ctx, key)
			if err == nil {
				return session, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				log.Printf("cache get error: %v", err) // log cache error but continue
			}
		}

		unlock, err := m.lock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer unlock()

		session, created, err := m.load(ctx, scope)
		if err != nil {
			return nil, err
		}
		m.cacheSet(ctx, session)
		if created {
			m.publish(domain.EventSessionUpdated, session)
		}
		return session, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Session).Clone(), nil
	}
}

// mutate applies fn to the session under its lock, bumps the version, saves
// and broadcasts the result. fn may return ErrInsufficientStock as a warning:
// the change is still applied and the warning is returned with the snapshot.
func (m *SessionManager) mutate(ctx context.Context, scope domain.Scope, event domain.EventType, fn func(*domain.Session) error) (*domain.Session, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	key := scope.Key()

	unlock, err := m.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, _, err := m.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	var warning error
	if err := fn(next); err != nil {
		if !errors.Is(err, ErrInsufficientStock) {
			return nil, err
		}
		warning = err
	}

	next.Recalculate()
	next.Version = current.Version + 1
	next.UpdatedAt = m.now().UTC()
	if err := m.store.SaveSession(ctx, next); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.invalidate(key)
	m.publish(event, next)

	return next.Clone(), warning
}

// load returns the stored session or stores a fresh empty one.
func (m *SessionManager) load(ctx context.Context, scope domain.Scope) (*domain.Session, bool, error) {
	now := m.now().UTC()
	fresh := &domain.Session{
		ID:          uuid.New().String(),
		UserID:      scope.UserID,
		StoreID:     scope.StoreID,
		TenantID:    scope.TenantID,
		Items:       []domain.CartLine{},
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	session, err := m.store.GetOrCreateSession(ctx, fresh)
	if err != nil {
		return nil, false, fmt.Errorf("get or create session: %w", err)
	}
	if session.Items == nil {
		session.Items = []domain.CartLine{}
	}
	return session, session.ID == fresh.ID, nil
}

func (m *SessionManager) lock(ctx context.Context, key domain.SessionKey) (func(), error) {
	unlock, err := m.locks.Lock(ctx, key.String(), m.lockTimeout)
	if errors.Is(err, keylock.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

func (m *SessionManager) cacheSet(ctx context.Context, session *domain.Session) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, session); err != nil {
		log.Printf("cache set error: %v", err)
	}
}

func (m *SessionManager) invalidate(key domain.SessionKey) {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.cache.Delete(ctx, key); err != nil {
		log.Printf("cache invalidate error: %v", err)
	}
}

func (m *SessionManager) publish(event domain.EventType, session *domain.Session) {
	room := domain.StoreRoom(session.StoreID)
	m.broadcaster.Broadcast(room, domain.Event{
		Type:      event,
		Room:      room,
		Key:       session.Key().String(),
		SessionID: session.ID,
		Version:   session.Version,
		Payload:   session.Clone(),
		SentAt:    m.now().UTC(),
	})
}

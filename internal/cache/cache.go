package cache

import (
	"context"
	"errors"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
)

type SessionCache interface {
	Get(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
	Set(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, key domain.SessionKey) error
}

var ErrCacheMiss = errors.New("cache miss")

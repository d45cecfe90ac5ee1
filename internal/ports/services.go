package ports

import (
	"context"
	"errors"
	"time"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache is the shared key/value store used for intent and speech results,
// token revocation and rate-limit buckets. Get returns ErrCacheMiss for
// absent or expired keys.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type AuthService interface {
	ValidateToken(ctx context.Context, token string) (*domain.Principal, error)
}

// UserStore returns domain.ErrNotFound for unknown users.
type UserStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, userID string, fields map[string]string) (*domain.Profile, error)
}

type SearchService interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// EventPublisher never blocks the caller and never reports delivery failures.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}

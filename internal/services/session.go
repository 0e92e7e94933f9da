package services

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/cache"
)

// Session identifies the account every call acts for. Handlers build it
// from the bearer token; background jobs build it from the row they process.
type Session struct {
	OwnerID uuid.UUID
}

func NewSession(owner uuid.UUID) Session { return Session{OwnerID: owner} }

func (s Session) valid() error {
	if s.OwnerID == uuid.Nil {
		return ErrNoSession
	}
	return nil
}

// OutboxSignal wakes the sync dispatcher after new outbox rows commit.
type OutboxSignal interface {
	Notify()
}

func notify(sig OutboxSignal) {
	if sig != nil {
		sig.Notify()
	}
}

func invalidate(c *cache.Cache, kind cache.Kind, owner uuid.UUID) {
	if c != nil {
		c.Invalidate(kind, owner)
	}
}

func loadCached[T any](c *cache.Cache, key cache.Key, load func() (T, error)) (T, error) {
	if c == nil {
		return load()
	}
	return cache.Load(c, key, load)
}

func utcNow() time.Time { return time.Now().UTC() }

func nopLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

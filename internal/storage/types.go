package storage

import (
	"context"
	"errors"
	"time"

	"stoerbot/internal/disruption"
)

var (
	// ErrCorrupt marks a state document that exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt state")
	ErrClosed  = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document on disk (default)
//   - "sqlite": SQLite database file
//   - "redis": JSON document under a single Redis key
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisURL string
	RedisKey string
}

// Store persists the set of currently known notices.
type Store interface {
	// Load returns the persisted state. A store that was never written
	// returns an empty state and no error.
	Load(ctx context.Context) (*disruption.KnownState, error)
	Save(ctx context.Context, k *disruption.KnownState) error
	Driver() string
	Close() error
}

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetJSON when no value is stored under the key.
var ErrNotFound = errors.New("memory entry not found")

// Session tracks the turns of one conversation.
type Session struct {
	ID    string
	Turns int
}

// Store keeps values keyed by (owner, key, session). An empty session stores
// a durable long-term value; a non-empty session scopes the value to that
// session (short-term). Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, owner, key, session string) ([]byte, bool, error)
	Set(ctx context.Context, owner, key, session string, value []byte) error
	Delete(ctx context.Context, owner, key, session string) error
	// NextTurn increments and returns the session's turn counter.
	NextTurn(ctx context.Context, sessionID string) (Session, error)
}

// Purger removes session-scoped values not written since before.
type Purger interface {
	PurgeShortTerm(ctx context.Context, before time.Time) (int64, error)
}

// GetJSON decodes the value stored under the key into T.
func GetJSON[T any](ctx context.Context, s Store, owner, key, session string) (T, error) {
	var out T
	raw, ok, err := s.Get(ctx, owner, key, session)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, ErrNotFound
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode memory entry %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes value and stores it under the key.
func SetJSON(ctx context.Context, s Store, owner, key, session string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memory entry %s: %w", key, err)
	}
	return s.Set(ctx, owner, key, session, raw)
}

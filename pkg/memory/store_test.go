package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStore interface {
	Store
	Purger
}

func stores(t *testing.T) map[string]testStore {
	sqliteStore, err := NewSQLiteStore(SQLiteConfig{
		Path:   filepath.Join(t.TempDir(), "memory.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]testStore{
		"inmemory": NewInMemoryStore(),
		"sqlite":   sqliteStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("should report missing values", func(t *testing.T) {
				_, ok, err := store.Get(ctx, "user", "missing", "")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("should keep session and long-term values apart", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "user", "k", "", []byte("durable")))
				require.NoError(t, store.Set(ctx, "user", "k", "s1", []byte("one")))
				require.NoError(t, store.Set(ctx, "user", "k", "s2", []byte("two")))

				for session, want := range map[string]string{"": "durable", "s1": "one", "s2": "two"} {
					got, ok, err := store.Get(ctx, "user", "k", session)
					require.NoError(t, err)
					require.True(t, ok)
					assert.Equal(t, want, string(got))
				}
			})

			t.Run("should overwrite and delete", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "user", "x", "s", []byte("a")))
				require.NoError(t, store.Set(ctx, "user", "x", "s", []byte("b")))
				got, _, _ := store.Get(ctx, "user", "x", "s")
				assert.Equal(t, "b", string(got))

				require.NoError(t, store.Delete(ctx, "user", "x", "s"))
				_, ok, _ := store.Get(ctx, "user", "x", "s")
				assert.False(t, ok)
			})

			t.Run("should count turns per session", func(t *testing.T) {
				s, err := store.NextTurn(ctx, "conv-a")
				require.NoError(t, err)
				assert.Equal(t, 1, s.Turns)
				s, _ = store.NextTurn(ctx, "conv-a")
				assert.Equal(t, 2, s.Turns)
				s, _ = store.NextTurn(ctx, "conv-b")
				assert.Equal(t, 1, s.Turns)
			})

			t.Run("should round trip JSON", func(t *testing.T) {
				type progress struct {
					Steps []string `json:"steps"`
				}
				require.NoError(t, SetJSON(ctx, store, "flow", "p", "s", progress{Steps: []string{"a", "b"}}))
				got, err := GetJSON[progress](ctx, store, "flow", "p", "s")
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b"}, got.Steps)

				_, err = GetJSON[progress](ctx, store, "flow", "none", "s")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("should purge only stale session values", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "purge", "short", "s", []byte("x")))
				require.NoError(t, store.Set(ctx, "purge", "long", "", []byte("y")))

				n, err := store.PurgeShortTerm(ctx, time.Now().Add(time.Minute))
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, int64(1))

				_, ok, _ := store.Get(ctx, "purge", "short", "s")
				assert.False(t, ok)
				_, ok, _ = store.Get(ctx, "purge", "long", "")
				assert.True(t, ok)
			})
		})
	}
}

func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.NextTurn(ctx, "shared")
			_ = store.Set(ctx, "o", "k", "shared", []byte("v"))
		}()
	}
	wg.Wait()

	s, err := store.NextTurn(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 21, s.Turns)
}

func TestJanitor(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "o", "k", "s", []byte("v")))

	t.Run("should reject invalid schedules", func(t *testing.T) {
		_, err := NewJanitor(store, "not a schedule", time.Hour, zerolog.Nop())
		assert.Error(t, err)
		_, err = NewJanitor(store, "@hourly", 0, zerolog.Nop())
		assert.Error(t, err)
	})

	j, err := NewJanitor(store, "@hourly", time.Hour, zerolog.Nop())
	require.NoError(t, err)
	j.Start()
	defer j.Stop()

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	store.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, store.Set(ctx, "o", "old", "s", []byte("v")))

	n, err = j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

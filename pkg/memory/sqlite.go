package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harun/agentflow/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS memory_entries (
		owner TEXT NOT NULL,
		key TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (owner, key, session)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_session ON memory_entries(session, updated_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		turns INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// SQLiteStore is a durable Store shared by every engine instance using the same database file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// SQLiteConfig holds SQLite store configuration
type SQLiteConfig struct {
	Path   string
	Logger zerolog.Logger
}

// NewSQLiteStore opens (and migrates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cfg.Logger.Info().Str("path", cfg.Path).Msg("Memory store initialized")
	return &SQLiteStore{db: db, logger: cfg.Logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, owner, key, session string) ([]byte, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "memory.get", attribute.String("memory.key", key))
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM memory_entries WHERE owner = ? AND key = ? AND session = ?`,
		owner, key, session,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndSpan(span, nil)
		return nil, false, nil
	}
	if err != nil {
		err = fmt.Errorf("failed to read memory entry: %w", err)
		tracing.EndSpan(span, err)
		return nil, false, err
	}
	tracing.EndSpan(span, nil)
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, owner, key, session string, value []byte) error {
	ctx, span := tracing.StartSpan(ctx, "memory.set", attribute.String("memory.key", key))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (owner, key, session, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, key, session) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		owner, key, session, value, time.Now().UnixMilli(),
	)
	if err != nil {
		err = fmt.Errorf("failed to write memory entry: %w", err)
	}
	tracing.EndSpan(span, err)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, owner, key, session string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE owner = ? AND key = ? AND session = ?`,
		owner, key, session,
	)
	if err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) NextTurn(ctx context.Context, sessionID string) (Session, error) {
	var turns int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, turns, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET turns = turns + 1, updated_at = excluded.updated_at
		RETURNING turns`,
		sessionID, time.Now().UnixMilli(),
	).Scan(&turns)
	if err != nil {
		return Session{}, fmt.Errorf("failed to advance session turn: %w", err)
	}
	return Session{ID: sessionID, Turns: turns}, nil
}

// PurgeShortTerm implements Purger.
func (s *SQLiteStore) PurgeShortTerm(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE session != '' AND updated_at < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge session entries: %w", err)
	}
	return res.RowsAffected()
}

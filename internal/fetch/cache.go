package fetch

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tapedeck-io/tapedeck/internal/assemble"
	"github.com/tapedeck-io/tapedeck/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Cache wraps a fetcher with a SQLite-backed chunk cache so repeated
// assembles of the same session skip the network. Recording chunks are
// immutable once uploaded, so entries never expire.
type Cache struct {
	inner assemble.Fetcher
	db    *sql.DB
}

// OpenCache creates or opens the cache database at path and wraps the
// inner fetcher.
//
// The database is configured with WAL mode, NORMAL synchronous mode,
// and a 5-second busy timeout, with a single-connection pool since
// SQLite supports one writer at a time.
func OpenCache(path string, inner assemble.Fetcher) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect cache database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	return &Cache{inner: inner, db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ListSources serves the locator list from the cache when present,
// falling back to the inner fetcher and recording the result. Locator
// order is preserved via an explicit position column.
func (c *Cache) ListSources(ctx context.Context, sessionID string) ([]assemble.Locator, error) {
	cached, err := c.readSources(ctx, sessionID)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil {
		slog.Warn("cache source read failed, falling through", "session", sessionID, "error", err)
	}

	locators, err := c.inner.ListSources(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.writeSources(ctx, sessionID, locators); err != nil {
		slog.Warn("cache source write failed", "session", sessionID, "error", err)
	}
	return locators, nil
}

// FetchChunk serves the payload from the cache when present, fetching
// and storing on a miss. Cache failures degrade to a plain fetch.
func (c *Cache) FetchChunk(ctx context.Context, loc assemble.Locator) ([]byte, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT payload FROM chunks WHERE locator = ?", loc.Key(),
	).Scan(&payload)
	if err == nil {
		metrics.ChunkCacheHits.Inc()
		return payload, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("cache read failed, falling through", "locator", loc.Key(), "error", err)
	}

	payload, err = c.inner.FetchChunk(ctx, loc)
	if err != nil {
		return nil, err
	}

	if _, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO chunks (locator, payload, fetched_at) VALUES (?, ?, ?)",
		loc.Key(), payload, time.Now().UnixMilli(),
	); err != nil {
		slog.Warn("cache write failed", "locator", loc.Key(), "error", err)
	}
	return payload, nil
}

func (c *Cache) readSources(ctx context.Context, sessionID string) ([]assemble.Locator, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT start_key, end_key FROM sources WHERE session_id = ? ORDER BY position ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locators []assemble.Locator
	for rows.Next() {
		var loc assemble.Locator
		if err := rows.Scan(&loc.Start, &loc.End); err != nil {
			return nil, err
		}
		locators = append(locators, loc)
	}
	return locators, rows.Err()
}

func (c *Cache) writeSources(ctx context.Context, sessionID string, locators []assemble.Locator) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sources WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	for i, loc := range locators {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sources (session_id, position, start_key, end_key) VALUES (?, ?, ?, ?)",
			sessionID, i, loc.Start, loc.End,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// busyTimeoutMS keeps concurrent readers from failing while a session's
// append transaction holds the write lock.
const busyTimeoutMS = 10_000

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	seed     TEXT    NOT NULL UNIQUE,
	score    INTEGER NOT NULL,
	found_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_score ON matches(score DESC);
`

// SQLiteStore implements [Store] over a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the store at path with WAL journaling
// and a busy timeout, then applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		_, err = db.Exec(pragma)
		if err != nil {
			db.Close()

			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	_, err = db.Exec(schema)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("apply result store schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Append implements [Store.Append]. The insert is an upsert on seed so
// redelivered batches never duplicate rows; a higher score wins.
func (s *SQLiteStore) Append(ctx context.Context, matches []Match) error {
	if len(matches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matches (seed, score, found_at) VALUES (?, ?, ?)
		ON CONFLICT(seed) DO UPDATE SET score = MAX(score, excluded.score)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, m := range matches {
		foundAt := m.FoundAt
		if foundAt.IsZero() {
			foundAt = time.Now().UTC()
		}

		_, err = stmt.ExecContext(ctx, m.Seed, m.Score, foundAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("append match %s: %w", m.Seed, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	return nil
}

// Count implements [Store.Count].
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}

	return count, nil
}

// Page implements [Store.Page].
func (s *SQLiteStore) Page(ctx context.Context, offset, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, score, found_at FROM matches
		ORDER BY score DESC, seed ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("page matches: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// PageAfter implements [Store.PageAfter].
func (s *SQLiteStore) PageAfter(ctx context.Context, afterID int64, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, score, found_at FROM matches
		WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("page matches after %d: %w", afterID, err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// HasNewSince implements [Store.HasNewSince].
func (s *SQLiteStore) HasNewSince(ctx context.Context, lastAck int64) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM matches WHERE id > ? LIMIT 1", lastAck).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("check new matches: %w", err)
	}

	return true, nil
}

// Seeds implements [Store.Seeds].
func (s *SQLiteStore) Seeds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT seed FROM matches ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("read seeds: %w", err)
	}
	defer rows.Close()

	var seeds []string

	for rows.Next() {
		var seed string

		err = rows.Scan(&seed)
		if err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}

		seeds = append(seeds, seed)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("read seeds: %w", err)
	}

	return seeds, nil
}

// Delete implements [Store.Delete]. WAL sidecar files are removed with the
// main database file.
func (s *SQLiteStore) Delete() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close result store: %w", err)
	}

	for _, path := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		err = os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete result store file: %w", err)
		}
	}

	return nil
}

// Close implements [Store.Close].
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close result store: %w", err)
	}

	return nil
}

// Path returns the backing database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	var matches []Match

	for rows.Next() {
		var (
			m       Match
			foundAt string
		)

		err := rows.Scan(&m.ID, &m.Seed, &m.Score, &foundAt)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}

		m.FoundAt, _ = time.Parse(time.RFC3339Nano, foundAt)
		matches = append(matches, m)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("scan matches: %w", err)
	}

	return matches, nil
}

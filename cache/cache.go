// Package cache persists per-page extraction results in SQLite so an
// interrupted job resumes where it stopped instead of re-extracting every
// page. Results are stored as JSON keyed by (job, page); a hit skips the
// whole extract-retry cycle for that page.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/docconv/dbopen"
	"github.com/hazyhaar/docconv/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS page_results (
	job_id     TEXT    NOT NULL,
	page       INTEGER NOT NULL,
	result     TEXT    NOT NULL,
	created_at TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, page)
);
`

// Store is a per-job page-result cache backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the cache database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an already-open database. The schema must exist; tests
// pass dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema())).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Schema returns the cache table DDL, for tests opening their own database.
func Schema() string { return schema }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores one page's result, replacing any previous entry.
func (s *Store) Put(ctx context.Context, jobID string, page int, result *model.PageResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: marshal page %d: %w", page, err)
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT OR REPLACE INTO page_results (job_id, page, result) VALUES (?, ?, ?)`,
		jobID, page, string(data))
	if err != nil {
		return fmt.Errorf("cache: put page %d: %w", page, err)
	}
	return nil
}

// Get returns the cached result for a page, or ok=false on a miss.
func (s *Store) Get(ctx context.Context, jobID string, page int) (*model.PageResult, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM page_results WHERE job_id = ? AND page = ?`,
		jobID, page).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get page %d: %w", page, err)
	}

	var result model.PageResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		// A corrupt entry is a miss, not a failure: the page just gets
		// re-extracted.
		s.logger.Warn("corrupt cache entry", "job", jobID, "page", page, "error", err)
		return nil, false, nil
	}
	return &result, true, nil
}

// Pages returns the set of pages already cached for a job, used to seed
// resumption accounting at job start.
func (s *Store) Pages(ctx context.Context, jobID string) (map[int]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page FROM page_results WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("cache: list pages: %w", err)
	}
	defer rows.Close()

	pages := make(map[int]struct{})
	for rows.Next() {
		var page int
		if err := rows.Scan(&page); err != nil {
			return nil, fmt.Errorf("cache: scan page: %w", err)
		}
		pages[page] = struct{}{}
	}
	return pages, rows.Err()
}

// Purge removes every entry for a job, typically after successful
// consolidation.
func (s *Store) Purge(ctx context.Context, jobID string) error {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM page_results WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("cache: purge %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("cache purged", "job", jobID, "entries", n)
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// IndexEntry is one exported thread in the catalog.
type IndexEntry struct {
	ID          string
	ThreadID    string
	URL         string
	Title       string
	Status      string
	Entries     int
	Placeholder bool
	RunID       string
	ExportedAt  time.Time
}

// Index is the SQLite catalog of exports, used by the history command.
// A thread re-exported later replaces its earlier row.
type Index struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// OpenIndex creates or opens the index database at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	idx := &Index{db: db, dbPath: dbPath}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// Close closes the database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

// Path returns the database file path.
func (i *Index) Path() string {
	return i.dbPath
}

func (i *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT,
		status TEXT NOT NULL,
		entries INTEGER NOT NULL DEFAULT 0,
		placeholder INTEGER NOT NULL DEFAULT 0,
		run_id TEXT,
		exported_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exports_exported_at ON exports(exported_at);
	CREATE INDEX IF NOT EXISTS idx_exports_run ON exports(run_id);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Record inserts or replaces the row for e.ThreadID.
func (i *Index) Record(e IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExportedAt.IsZero() {
		e.ExportedAt = time.Now()
	}

	_, err := i.db.Exec(`
		INSERT INTO exports (id, thread_id, url, title, status, entries, placeholder, run_id, exported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			status = excluded.status,
			entries = excluded.entries,
			placeholder = excluded.placeholder,
			run_id = excluded.run_id,
			exported_at = excluded.exported_at
	`, e.ID, e.ThreadID, e.URL, e.Title, e.Status, e.Entries, e.Placeholder, e.RunID, e.ExportedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record export %s: %w", e.ThreadID, err)
	}
	return nil
}

// List returns the most recent exports first. limit <= 0 means no limit.
// placeholdersOnly narrows the list to degraded exports worth retrying.
func (i *Index) List(limit int, placeholdersOnly bool) ([]IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, thread_id, url, title, status, entries, placeholder, run_id, exported_at
		FROM exports`
	if placeholdersOnly {
		query += ` WHERE placeholder = 1`
	}
	query += ` ORDER BY exported_at DESC, thread_id LIMIT ?`

	rows, err := i.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var title, runID sql.NullString
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.URL, &title, &e.Status, &e.Entries,
			&e.Placeholder, &runID, &e.ExportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		e.Title = title.String
		e.RunID = runID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of indexed exports.
func (i *Index) Count() (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var n int
	if err := i.db.QueryRow(`SELECT COUNT(*) FROM exports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exports: %w", err)
	}
	return n, nil
}

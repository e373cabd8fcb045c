// Package store implements the durable chat store on SQLite.
//
// Each chat is persisted as one full JSON record addressed by the composite
// key (project_id, branch_id, chat_number); writes replace the whole row, so
// readers never observe a partially written record. Chat-number counters
// live in a separate table scoped to (project_id, branch_id).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cedar/internal/chat"
	"cedar/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// ChatStore is the SQLite-backed durable store for chats.
type ChatStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewChatStore initializes the SQLite database at the given path.
// Use ":memory:" for an ephemeral store in tests.
func NewChatStore(path string) (*ChatStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewChatStore")
	defer timer.Stop()

	logging.Store("Initializing ChatStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("storage: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &ChatStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("ChatStore initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *ChatStore) initialize() error {
	chatsTable := `
	CREATE TABLE IF NOT EXISTS chats (
		project_id INTEGER NOT NULL,
		branch_id INTEGER NOT NULL,
		chat_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		record TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, branch_id, chat_number)
	);
	CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at);
	CREATE INDEX IF NOT EXISTS idx_chats_status ON chats(status);
	`

	countersTable := `
	CREATE TABLE IF NOT EXISTS chat_counters (
		project_id INTEGER NOT NULL,
		branch_id INTEGER NOT NULL,
		next_number INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, branch_id)
	);
	`

	for _, table := range []string{chatsTable, countersTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("storage: failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *ChatStore) Close() error {
	logging.Store("Closing ChatStore database connection")
	return s.db.Close()
}

// Path returns the database file path.
func (s *ChatStore) Path() string {
	return s.dbPath
}

// Write persists the full chat record, overwriting any prior record at that
// key. The row replace is atomic, so concurrent readers of the same key see
// either the old record or the new one, never a mix.
func (s *ChatStore) Write(ctx context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("storage: failed to encode chat %s: %w", c.Key(), err)
	}

	logging.StoreDebug("Writing chat %s: status=%s messages=%d results=%d",
		c.Key(), c.Status, len(c.Messages), len(c.AgentResults))

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chats (project_id, branch_id, chat_number, status, record, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.BranchID, c.Number, string(c.Status), string(record), c.UpdatedAt.UTC(),
	)
	if err != nil {
		logging.StoreError("Failed to write chat %s: %v", c.Key(), err)
		return fmt.Errorf("storage: failed to write chat %s: %w", c.Key(), err)
	}
	return nil
}

// Read returns the full current record for the key, or chat.ErrNotFound if
// no chat exists there. Storage failures are reported as distinct errors,
// never folded into not-found.
func (s *ChatStore) Read(ctx context.Context, key chat.Key) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM chats WHERE project_id = ? AND branch_id = ? AND chat_number = ?`,
		key.ProjectID, key.BranchID, key.Number,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat %s: %w", key, chat.ErrNotFound)
	}
	if err != nil {
		logging.StoreError("Failed to read chat %s: %v", key, err)
		return nil, fmt.Errorf("storage: failed to read chat %s: %w", key, err)
	}

	var c chat.Chat
	if err := json.Unmarshal([]byte(record), &c); err != nil {
		return nil, fmt.Errorf("storage: corrupt record for chat %s: %w", key, err)
	}
	return &c, nil
}

// Enumerate returns the chat numbers present in the scope, ascending.
func (s *ChatStore) Enumerate(ctx context.Context, scope chat.Scope) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_number FROM chats WHERE project_id = ? AND branch_id = ? ORDER BY chat_number`,
		scope.ProjectID, scope.BranchID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to enumerate chats for %s: %w", scope, err)
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("storage: failed to scan chat number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: failed to enumerate chats for %s: %w", scope, err)
	}
	return numbers, nil
}

// NextNumber reads then increments the scope's counter in one transaction
// and returns the allocated number. The session manager serializes calls
// per scope; the transaction additionally guards against other processes
// sharing the database file.
func (s *ChatStore) NextNumber(ctx context.Context, scope chat.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to begin counter transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT next_number FROM chat_counters WHERE project_id = ? AND branch_id = ?`,
		scope.ProjectID, scope.BranchID,
	).Scan(&next)
	switch {
	case err == sql.ErrNoRows:
		next = 1
	case err != nil:
		return 0, fmt.Errorf("storage: failed to read counter for %s: %w", scope, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_counters (project_id, branch_id, next_number, updated_at)
		 VALUES (?, ?, ?, ?)`,
		scope.ProjectID, scope.BranchID, next+1, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to advance counter for %s: %w", scope, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: failed to commit counter for %s: %w", scope, err)
	}

	logging.StoreDebug("Allocated chat number %d for %s", next, scope)
	return next, nil
}

// Keys returns the keys of all stored chats, ordered by key. Used by
// retention sweeps, which then read each chat individually so a single bad
// record cannot abort the sweep.
func (s *ChatStore) Keys(ctx context.Context) ([]chat.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, branch_id, chat_number FROM chats
		 ORDER BY project_id, branch_id, chat_number`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list chat keys: %w", err)
	}
	defer rows.Close()

	var keys []chat.Key
	for rows.Next() {
		var k chat.Key
		if err := rows.Scan(&k.ProjectID, &k.BranchID, &k.Number); err != nil {
			return nil, fmt.Errorf("storage: failed to scan chat key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: failed to list chat keys: %w", err)
	}
	return keys, nil
}

// UpdatedAt returns the stored updated_at column for the key without
// decoding the full record.
func (s *ChatStore) UpdatedAt(ctx context.Context, key chat.Key) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var updated time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM chats WHERE project_id = ? AND branch_id = ? AND chat_number = ?`,
		key.ProjectID, key.BranchID, key.Number,
	).Scan(&updated)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("chat %s: %w", key, chat.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: failed to read updated_at for %s: %w", key, err)
	}
	return updated, nil
}

// Delete removes the chat at key. Deleting an absent key is not an error.
func (s *ChatStore) Delete(ctx context.Context, key chat.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE project_id = ? AND branch_id = ? AND chat_number = ?`,
		key.ProjectID, key.BranchID, key.Number,
	)
	if err != nil {
		return fmt.Errorf("storage: failed to delete chat %s: %w", key, err)
	}
	logging.StoreDebug("Deleted chat %s", key)
	return nil
}

// DeleteProject removes all chats and counters for a project across all
// branches. Returns the number of chats removed.
func (s *ChatStore) DeleteProject(ctx context.Context, projectID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to delete chats for project %d: %w", projectID, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		removed = 0
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_counters WHERE project_id = ?`, projectID); err != nil {
		// Chats are already gone; report the counter failure so the caller
		// knows numbering state may linger.
		return int(removed), fmt.Errorf("storage: failed to delete counters for project %d: %w", projectID, err)
	}

	logging.Store("Deleted project %d: %d chats removed", projectID, removed)
	return int(removed), nil
}

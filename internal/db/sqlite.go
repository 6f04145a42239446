// Package db implements the SQLite-backed history journal: a
// write-only audit trail of peer sessions, room lifecycles and
// operation counters fed from observer events. Live server state is
// never read back from it.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// store is the journal's single-connection SQLite handle. Observer
// callbacks fire concurrently, so every statement that mutates the
// journal is serialized through mu; reads go straight to the pool.
type store struct {
	mu sync.Mutex
	db *sql.DB
}

// openStore opens or creates the journal database. Pragmas are set
// through the DSN so they apply before the first statement: WAL journal
// mode (with the pool held to one connection, a read still waits for
// any statement in flight), NORMAL sync, which is enough for an audit
// trail, and a busy timeout that covers WAL checkpoints.
func openStore(dbPath string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", dbPath, err)
	}

	// One connection total: SQLite allows a single writer, and the
	// journal's read volume does not justify a reader pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal ping failed: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("journal store opened")
	return &store{db: db}, nil
}

// write executes a mutating statement under the writer lock.
func (s *store) write(query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Exec(query, args...)
}

// read executes a SELECT returning rows.
func (s *store) read(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

// readRow executes a SELECT returning at most one row.
func (s *store) readRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// Close closes the underlying connection.
func (s *store) Close() error {
	return s.db.Close()
}

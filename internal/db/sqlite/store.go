// Package sqlite provides the local SQLite session archive for zetacoach.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Store wraps the archive database connection with a prepared statement cache.
type Store struct {
	db        *sql.DB
	stmtCache map[string]*sql.Stmt
	stmtMu    sync.RWMutex
}

// Config holds database configuration.
type Config struct {
	Path     string // Path to SQLite database file
	MaxConns int    // Maximum number of open connections (default: 1)
}

// dsn builds a modernc connection string with WAL mode, foreign keys and a
// busy timeout applied to every connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return path + "?" + q.Encode()
}

// NewStore opens the database at cfg.Path and applies pending migrations.
func NewStore(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newStoreFromDB(db), nil
}

func newStoreFromDB(db *sql.DB) *Store {
	return &Store{
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}
}

// GetStmt returns a cached prepared statement, preparing it on first use.
func (s *Store) GetStmt(query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

// ExecContext executes a query using a cached statement.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs a query using a cached statement.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a single-row query using a cached statement.
// Preparation errors surface from Scan.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// BeginTx starts a transaction on the underlying connection.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases cached statements and closes the connection.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for q, stmt := range s.stmtCache {
		_ = stmt.Close()
		delete(s.stmtCache, q)
	}
	s.stmtMu.Unlock()
	return s.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// testStore opens a migrated archive in a temporary directory.
func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	store, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "archive.db")})
	require.NoError(t, err)

	return store, func() { _ = store.Close() }
}

// seedSession inserts a bare session row.
func seedSession(t *testing.T, db *sql.DB, sessionID, gameKey string, epoch int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO game_sessions (session_id, game_key, score, finalized_at, finalized_at_epoch)
		VALUES (?, ?, 0, datetime('now'), ?)`,
		sessionID, gameKey, epoch,
	)
	require.NoError(t, err)
}

// StoreSuite is a test suite for Store operations.
type StoreSuite struct {
	suite.Suite
	db      *sql.DB
	store   *Store
	cleanup func()
}

// SetupTest creates a fresh database before each test.
func (s *StoreSuite) SetupTest() {
	s.store, s.cleanup = testStore(s.T())
	s.db = s.store.DB()
}

// TearDownTest cleans up after each test.
func (s *StoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

// TestMigrationsApplied tests the schema and migration bookkeeping.
func (s *StoreSuite) TestMigrationsApplied() {
	var count int
	s.Require().NoError(s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	s.Equal(len(migrations), count)

	for _, table := range []string{"game_sessions", "game_problems"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		s.NoError(err, table)
	}
}

// TestMigrationsIdempotent tests reopening an existing archive.
func (s *StoreSuite) TestMigrationsIdempotent() {
	path := filepath.Join(s.T().TempDir(), "reopen.db")

	first, err := NewStore(Config{Path: path})
	s.Require().NoError(err)
	seedSession(s.T(), first.DB(), "kept", "default", 1)
	s.Require().NoError(first.Close())

	second, err := NewStore(Config{Path: path})
	s.Require().NoError(err)
	defer second.Close()

	var count int
	s.Require().NoError(second.DB().QueryRow(`SELECT COUNT(*) FROM game_sessions`).Scan(&count))
	s.Equal(1, count)
}

// TestGetStmt tests prepared statement caching.
func (s *StoreSuite) TestGetStmt() {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{
			name:    "valid simple query",
			query:   "SELECT 1",
			wantErr: false,
		},
		{
			name:    "valid query with parameter",
			query:   "SELECT * FROM game_sessions WHERE id = ?",
			wantErr: false,
		},
		{
			name:    "invalid query syntax",
			query:   "SELECT * FROM nonexistent_table WHERE",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			stmt, err := s.store.GetStmt(tt.query)
			if tt.wantErr {
				s.Error(err)
				s.Nil(stmt)
			} else {
				s.NoError(err)
				s.NotNil(stmt)

				// Second call should return cached statement
				stmt2, err := s.store.GetStmt(tt.query)
				s.NoError(err)
				s.Same(stmt, stmt2)
			}
		})
	}
}

// TestExecContext tests query execution.
func (s *StoreSuite) TestExecContext() {
	ctx := context.Background()

	tests := []struct {
		name         string
		query        string
		args         []any
		wantErr      bool
		wantAffected int64
	}{
		{
			name: "insert session",
			query: `INSERT INTO game_sessions (session_id, game_key, score, finalized_at, finalized_at_epoch)
				VALUES (?, ?, 3, datetime('now'), 1)`,
			args:         []any{"s-1", "default"},
			wantAffected: 1,
		},
		{
			name:    "check constraint",
			query:   `UPDATE game_sessions SET delivery_status = ? WHERE session_id = ?`,
			args:    []any{"lost", "s-1"},
			wantErr: true,
		},
		{
			name:    "invalid query",
			query:   "INSERT INTO nonexistent_table VALUES (?)",
			args:    []any{"test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			result, err := s.store.ExecContext(ctx, tt.query, tt.args...)
			if tt.wantErr {
				s.Error(err)
				return
			}
			s.NoError(err)
			affected, _ := result.RowsAffected()
			s.Equal(tt.wantAffected, affected)
		})
	}
}

// TestQueryContext tests query execution that returns rows.
func (s *StoreSuite) TestQueryContext() {
	ctx := context.Background()
	seedSession(s.T(), s.db, "s-1", "abc", 100)

	tests := []struct {
		name     string
		query    string
		args     []any
		wantRows int
	}{
		{
			name:     "query existing session",
			query:    "SELECT id, game_key FROM game_sessions WHERE session_id = ?",
			args:     []any{"s-1"},
			wantRows: 1,
		},
		{
			name:     "query non-existent session",
			query:    "SELECT id, game_key FROM game_sessions WHERE session_id = ?",
			args:     []any{"nonexistent"},
			wantRows: 0,
		},
		{
			name:     "query all sessions",
			query:    "SELECT id, game_key FROM game_sessions",
			wantRows: 1,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			rows, err := s.store.QueryContext(ctx, tt.query, tt.args...)
			s.Require().NoError(err)
			defer rows.Close()

			count := 0
			for rows.Next() {
				count++
			}
			s.Equal(tt.wantRows, count)
		})
	}
}

// TestQueryRowContext tests single row query execution.
func (s *StoreSuite) TestQueryRowContext() {
	ctx := context.Background()
	seedSession(s.T(), s.db, "s-1", "abc", 100)

	var id int64
	s.NoError(s.store.QueryRowContext(ctx, "SELECT id FROM game_sessions WHERE session_id = ?", "s-1").Scan(&id))
	s.Greater(id, int64(0))

	err := s.store.QueryRowContext(ctx, "SELECT id FROM game_sessions WHERE session_id = ?", "missing").Scan(&id)
	s.ErrorIs(err, sql.ErrNoRows)

	err = s.store.QueryRowContext(ctx, "SELECT id FROM nowhere").Scan(&id)
	s.Error(err)
}

// TestPing tests database connection health check.
func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping())
}

// TestClose tests closing the store.
func (s *StoreSuite) TestClose() {
	store, err := NewStore(Config{Path: filepath.Join(s.T().TempDir(), "close.db")})
	s.Require().NoError(err)

	_, err = store.GetStmt("SELECT 1")
	s.NoError(err)

	s.NoError(store.Close())
	s.Error(store.Ping())
}

// TestConcurrentStmtCache tests concurrent access to statement cache.
func (s *StoreSuite) TestConcurrentStmtCache() {
	ctx := context.Background()
	queries := []string{
		"SELECT 1",
		"SELECT 2",
		"SELECT id FROM game_sessions",
		"SELECT game_key FROM game_sessions",
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			query := queries[i%len(queries)]
			_, _ = s.store.GetStmt(query)
			_, _ = s.store.ExecContext(ctx, "SELECT 1")
			done <- struct{}{}
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// HelpersSuite tests helper functions.
type HelpersSuite struct {
	suite.Suite
}

func TestHelpersSuite(t *testing.T) {
	suite.Run(t, new(HelpersSuite))
}

func (s *HelpersSuite) TestNullString() {
	tests := []struct {
		name     string
		input    string
		wantBool bool
	}{
		{name: "empty string", input: "", wantBool: false},
		{name: "non-empty string", input: "test", wantBool: true},
		{name: "whitespace string", input: "  ", wantBool: true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			result := nullString(tt.input)
			s.Equal(tt.input, result.String)
			s.Equal(tt.wantBool, result.Valid)
		})
	}
}

func (s *HelpersSuite) TestNullInt() {
	tests := []struct {
		name     string
		input    int
		wantBool bool
	}{
		{name: "zero", input: 0, wantBool: false},
		{name: "negative", input: -1, wantBool: false},
		{name: "positive", input: 502, wantBool: true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			result := nullInt(tt.input)
			s.Equal(int64(tt.input), result.Int64)
			s.Equal(tt.wantBool, result.Valid)
		})
	}
}

func (s *HelpersSuite) TestParseLimitParam() {
	tests := []struct {
		name     string
		url      string
		expected int
	}{
		{name: "missing", url: "/api/sessions", expected: 20},
		{name: "valid", url: "/api/sessions?limit=5", expected: 5},
		{name: "zero", url: "/api/sessions?limit=0", expected: 20},
		{name: "garbage", url: "/api/sessions?limit=abc", expected: 20},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			r := httptest.NewRequest("GET", tt.url, nil)
			s.Equal(tt.expected, ParseLimitParam(r, 20))
		})
	}
}

package sqlite

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/thebtf/zetacoach/pkg/models"
)

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt converts an int to sql.NullInt64.
func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i > 0}
}

// boolInt stores a bool as SQLite's 0/1.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ParseLimitParam parses a limit query parameter with a default value.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

// scanStoredSession scans a single session row from a row scanner.
func scanStoredSession(scanner interface{ Scan(...any) error }) (*models.StoredSession, error) {
	var s models.StoredSession
	if err := scanner.Scan(
		&s.ID, &s.SessionID, &s.UserID, &s.GameKey, &s.PageURL,
		&s.Score, &s.DurationSeconds, &s.PlaceholderCount,
		&s.FinalizedAt, &s.FinalizedAtEpoch,
		&s.DeliveryStatus, &s.DeliveryHTTP, &s.DeliveryError, &s.DeliveredAtEpoch,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// scanStoredSessionRows scans multiple sessions from rows.
func scanStoredSessionRows(rows *sql.Rows) ([]*models.StoredSession, error) {
	var sessions []*models.StoredSession
	for rows.Next() {
		s, err := scanStoredSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

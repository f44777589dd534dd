package gorm

import "database/sql"

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// sqlNullInt creates a sql.NullInt64 from a positive int.
func sqlNullInt(i int) sql.NullInt64 {
	if i <= 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

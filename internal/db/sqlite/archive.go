package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thebtf/zetacoach/pkg/models"
)

// ErrSessionNotFound is returned when no archived session has the given id.
var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `
	id, session_id, user_id, game_key, page_url,
	score, duration_seconds, placeholder_count,
	finalized_at, finalized_at_epoch,
	delivery_status, delivery_http_status, delivery_error, delivered_at_epoch`

// ArchiveStore records finalized sessions and their delivery outcome.
// It is a history for analysis, not a retry queue.
type ArchiveStore struct {
	store *Store
}

// NewArchiveStore creates a new archive store.
func NewArchiveStore(store *Store) *ArchiveStore {
	return &ArchiveStore{store: store}
}

// SaveSession stores s and its problems. Saving the same session id twice
// is a no-op.
func (a *ArchiveStore) SaveSession(ctx context.Context, s *models.FinalizedSession, userID string) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	finalizedAt := s.Timestamp
	if finalizedAt.IsZero() {
		finalizedAt = time.Now()
	}

	const insertSession = `
		INSERT OR IGNORE INTO game_sessions
		(session_id, user_id, game_key, page_url, score, duration_seconds,
		 placeholder_count, finalized_at, finalized_at_epoch, delivery_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertSession,
		s.SessionID, userID, models.GameKeyFromURL(s.PageURL), s.PageURL,
		s.Score, s.DurationSeconds, models.CountPlaceholders(s.Problems),
		finalizedAt.UTC().Format(time.RFC3339Nano), finalizedAt.UnixMilli(),
		models.DeliveryPending,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil
	}

	const insertProblem = `
		INSERT INTO game_problems
		(session_id, position, question, answer, latency_ms, operation_type, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i, p := range s.Problems {
		if _, err := tx.ExecContext(ctx, insertProblem,
			s.SessionID, i, p.Question, p.Answer, p.LatencyMs, string(p.OperationType), boolInt(p.IsPlaceholder()),
		); err != nil {
			return fmt.Errorf("insert problem %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// RecordDelivery stores the relay outcome for an archived session.
func (a *ArchiveStore) RecordDelivery(ctx context.Context, sessionID string, d models.Delivery) error {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}

	var deliveredAt sql.NullInt64
	if d.Status == models.DeliveryDelivered {
		deliveredAt = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
	}

	const query = `
		UPDATE game_sessions
		SET delivery_status = ?, delivery_http_status = ?, delivery_error = ?, delivered_at_epoch = ?
		WHERE session_id = ?
	`
	result, err := a.store.ExecContext(ctx, query,
		d.Status, nullInt(d.HTTPStatus), nullString(d.Error), deliveredAt, sessionID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListRecent returns the most recently finalized sessions without their
// problems, newest first.
func (a *ArchiveStore) ListRecent(ctx context.Context, limit int) ([]*models.StoredSession, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT` + sessionColumns + `
		FROM game_sessions
		ORDER BY finalized_at_epoch DESC, id DESC
		LIMIT ?
	`
	rows, err := a.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStoredSessionRows(rows)
}

// GetSession returns one archived session with its problems in solve order.
func (a *ArchiveStore) GetSession(ctx context.Context, sessionID string) (*models.StoredSession, error) {
	query := `SELECT` + sessionColumns + `
		FROM game_sessions
		WHERE session_id = ?
		LIMIT 1
	`
	s, err := scanStoredSession(a.store.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	const problemsQuery = `
		SELECT question, answer, latency_ms, operation_type
		FROM game_problems
		WHERE session_id = ?
		ORDER BY position ASC
	`
	rows, err := a.store.QueryContext(ctx, problemsQuery, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.Problems = make([]models.ProblemRecord, 0, s.Score)
	for rows.Next() {
		var p models.ProblemRecord
		if err := rows.Scan(&p.Question, &p.Answer, &p.LatencyMs, &p.OperationType); err != nil {
			return nil, err
		}
		s.Problems = append(s.Problems, p)
	}
	return s, rows.Err()
}

// OperationStats aggregates archived problems per operation type.
// Synthetic records count toward totals but not the latency average.
func (a *ArchiveStore) OperationStats(ctx context.Context) ([]models.OperationStat, error) {
	const query = `
		SELECT operation_type,
		       COUNT(*),
		       COALESCE(SUM(synthetic), 0),
		       AVG(CASE WHEN synthetic = 0 THEN latency_ms END)
		FROM game_problems
		GROUP BY operation_type
		ORDER BY operation_type ASC
	`
	rows, err := a.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.OperationStat
	for rows.Next() {
		var (
			st  models.OperationStat
			avg sql.NullFloat64
		)
		if err := rows.Scan(&st.OperationType, &st.Count, &st.SyntheticCount, &avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			st.AverageLatencyMs = avg.Float64
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/zetacoach/pkg/models"
)

// ErrSessionNotFound is returned when no archived session has the given id.
var ErrSessionNotFound = errors.New("session not found")

// ArchiveStore records finalized sessions in PostgreSQL.
type ArchiveStore struct {
	db *gorm.DB
}

// NewArchiveStore creates a new archive store.
func NewArchiveStore(store *Store) *ArchiveStore {
	return &ArchiveStore{db: store.DB}
}

// SaveSession stores s and its problems. Saving the same session id twice
// is a no-op.
func (a *ArchiveStore) SaveSession(ctx context.Context, s *models.FinalizedSession, userID string) error {
	row := newGameSession(s, userID)
	problems := row.Problems
	row.Problems = nil

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).Omit("Problems").Create(row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 || len(problems) == 0 {
			return nil
		}
		return tx.CreateInBatches(problems, 100).Error
	})
}

// RecordDelivery stores the relay outcome for an archived session.
func (a *ArchiveStore) RecordDelivery(ctx context.Context, sessionID string, d models.Delivery) error {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	updates := map[string]any{
		"delivery_status":      d.Status,
		"delivery_http_status": sqlNullInt(d.HTTPStatus),
		"delivery_error":       sqlNullString(d.Error),
		"delivered_at_epoch":   nil,
	}
	if d.Status == models.DeliveryDelivered {
		updates["delivered_at_epoch"] = at.UnixMilli()
	}

	result := a.db.WithContext(ctx).
		Model(&GameSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
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
	var rows []GameSession
	err := a.db.WithContext(ctx).
		Order("finalized_at_epoch DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*models.StoredSession, len(rows))
	for i := range rows {
		out[i] = rows[i].toStored()
	}
	return out, nil
}

// GetSession returns one archived session with its problems in solve order.
func (a *ArchiveStore) GetSession(ctx context.Context, sessionID string) (*models.StoredSession, error) {
	var row GameSession
	err := a.db.WithContext(ctx).
		Preload("Problems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("session_id = ?", sessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.Problems == nil {
		row.Problems = []GameProblem{}
	}
	return row.toStored(), nil
}

// OperationStats aggregates archived problems per operation type.
// Synthetic records count toward totals but not the latency average.
func (a *ArchiveStore) OperationStats(ctx context.Context) ([]models.OperationStat, error) {
	var stats []models.OperationStat
	err := a.db.WithContext(ctx).
		Model(&GameProblem{}).
		Select(`operation_type,
			COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN synthetic THEN 1 ELSE 0 END), 0) AS synthetic_count,
			COALESCE(AVG(CASE WHEN NOT synthetic THEN latency_ms END), 0) AS average_latency_ms`).
		Group("operation_type").
		Order("operation_type ASC").
		Scan(&stats).Error
	return stats, err
}

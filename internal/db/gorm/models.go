package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/zetacoach/pkg/models"
)

// GameSession is an archived finalized game.
type GameSession struct {
	ID                 int64                 `gorm:"primaryKey;autoIncrement"`
	SessionID          string                `gorm:"uniqueIndex;not null"`
	UserID             string                `gorm:"index;not null;default:''"`
	GameKey            string                `gorm:"index;not null"`
	PageURL            string                `gorm:"not null;default:''"`
	Score              int                   `gorm:"not null"`
	DurationSeconds    int                   `gorm:"not null;default:0"`
	PlaceholderCount   int                   `gorm:"not null;default:0"`
	FinalizedAt        string                `gorm:"not null"`
	FinalizedAtEpoch   int64                 `gorm:"index:idx_game_sessions_finalized,sort:desc;not null"`
	DeliveryStatus     models.DeliveryStatus `gorm:"type:text;check:delivery_status IN ('pending', 'delivered', 'failed', 'dropped');default:'pending';index"`
	DeliveryHTTPStatus sql.NullInt64
	DeliveryError      sql.NullString
	DeliveredAtEpoch   sql.NullInt64
	Problems           []GameProblem `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE"`
}

func (GameSession) TableName() string { return "game_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *GameSession) BeforeCreate(tx *gorm.DB) error {
	if s.FinalizedAtEpoch == 0 {
		now := time.Now()
		s.FinalizedAtEpoch = now.UnixMilli()
		s.FinalizedAt = now.UTC().Format(time.RFC3339Nano)
	}
	if s.DeliveryStatus == "" {
		s.DeliveryStatus = models.DeliveryPending
	}
	return nil
}

// GameProblem is one problem record of an archived game.
type GameProblem struct {
	ID            int64                `gorm:"primaryKey;autoIncrement"`
	SessionID     string               `gorm:"uniqueIndex:idx_game_problems_position,priority:1;not null"`
	Position      int                  `gorm:"uniqueIndex:idx_game_problems_position,priority:2;not null"`
	Question      string               `gorm:"type:text;not null"`
	Answer        string               `gorm:"type:text;not null"`
	LatencyMs     int64                `gorm:"not null;default:0"`
	OperationType models.OperationType `gorm:"type:text;index;not null"`
	Synthetic     bool                 `gorm:"not null;default:false"`
}

func (GameProblem) TableName() string { return "game_problems" }

// newGameSession converts a finalized session into its archive row.
func newGameSession(s *models.FinalizedSession, userID string) *GameSession {
	at := s.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	row := &GameSession{
		SessionID:        s.SessionID,
		UserID:           userID,
		GameKey:          models.GameKeyFromURL(s.PageURL),
		PageURL:          s.PageURL,
		Score:            s.Score,
		DurationSeconds:  s.DurationSeconds,
		PlaceholderCount: models.CountPlaceholders(s.Problems),
		FinalizedAt:      at.UTC().Format(time.RFC3339Nano),
		FinalizedAtEpoch: at.UnixMilli(),
		DeliveryStatus:   models.DeliveryPending,
		Problems:         make([]GameProblem, len(s.Problems)),
	}
	for i, p := range s.Problems {
		row.Problems[i] = GameProblem{
			SessionID:     s.SessionID,
			Position:      i,
			Question:      p.Question,
			Answer:        p.Answer,
			LatencyMs:     p.LatencyMs,
			OperationType: p.OperationType,
			Synthetic:     p.IsPlaceholder(),
		}
	}
	return row
}

// toStored converts an archive row to the shared model. Problems are
// included only when they were loaded.
func (s *GameSession) toStored() *models.StoredSession {
	out := &models.StoredSession{
		ID:               s.ID,
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		GameKey:          s.GameKey,
		PageURL:          s.PageURL,
		Score:            s.Score,
		DurationSeconds:  s.DurationSeconds,
		PlaceholderCount: s.PlaceholderCount,
		FinalizedAt:      s.FinalizedAt,
		FinalizedAtEpoch: s.FinalizedAtEpoch,
		DeliveryStatus:   s.DeliveryStatus,
		DeliveryHTTP:     s.DeliveryHTTPStatus,
		DeliveryError:    s.DeliveryError,
		DeliveredAtEpoch: s.DeliveredAtEpoch,
	}
	if s.Problems != nil {
		out.Problems = make([]models.ProblemRecord, len(s.Problems))
		for i, p := range s.Problems {
			out.Problems[i] = models.ProblemRecord{
				Question:      p.Question,
				Answer:        p.Answer,
				LatencyMs:     p.LatencyMs,
				OperationType: p.OperationType,
			}
		}
	}
	return out
}

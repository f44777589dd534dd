// Package models contains domain models for zetacoach.
package models

import (
	"database/sql"
	"encoding/json"
	"net/url"
	"time"
)

// DefaultGameKey labels sessions played on a page without a key parameter.
const DefaultGameKey = "default"

// FinalizedSession is the immutable record of one completed game.
type FinalizedSession struct {
	SessionID       string          `json:"sessionId"`
	Score           int             `json:"score"`
	Problems        []ProblemRecord `json:"problems"`
	PageURL         string          `json:"pageUrl"`
	DurationSeconds int             `json:"durationSeconds"`
	Timestamp       time.Time       `json:"timestamp"`
}

// GameKeyFromURL returns the "key" query parameter of a game page URL,
// or DefaultGameKey when it is absent or the URL does not parse.
func GameKeyFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return DefaultGameKey
	}
	if key := u.Query().Get("key"); key != "" {
		return key
	}
	return DefaultGameKey
}

// SubmitPayload is the body posted to the relay.
type SubmitPayload struct {
	SessionID       string          `json:"sessionId"`
	UserID          string          `json:"userId"`
	Score           int             `json:"score"`
	Timestamp       string          `json:"timestamp"`
	PageURL         string          `json:"pageUrl"`
	GameKey         string          `json:"gameKey"`
	DurationSeconds int             `json:"durationSeconds"`
	Problems        []ProblemRecord `json:"problems"`
}

// NewSubmitPayload builds the relay payload for a finalized session.
func NewSubmitPayload(s *FinalizedSession, userID string) *SubmitPayload {
	problems := make([]ProblemRecord, len(s.Problems))
	copy(problems, s.Problems)
	return &SubmitPayload{
		SessionID:       s.SessionID,
		UserID:          userID,
		Score:           s.Score,
		Timestamp:       s.Timestamp.UTC().Format(time.RFC3339Nano),
		PageURL:         s.PageURL,
		GameKey:         GameKeyFromURL(s.PageURL),
		DurationSeconds: s.DurationSeconds,
		Problems:        problems,
	}
}

// DeliveryStatus is the relay outcome recorded for an archived session.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDropped   DeliveryStatus = "dropped"
)

// Delivery describes one relay attempt.
type Delivery struct {
	Status     DeliveryStatus
	HTTPStatus int
	Error      string
	At         time.Time
}

// StoredSession is an archived session row.
type StoredSession struct {
	ID               int64           `db:"id"`
	SessionID        string          `db:"session_id"`
	UserID           string          `db:"user_id"`
	GameKey          string          `db:"game_key"`
	PageURL          string          `db:"page_url"`
	Score            int             `db:"score"`
	DurationSeconds  int             `db:"duration_seconds"`
	PlaceholderCount int             `db:"placeholder_count"`
	FinalizedAt      string          `db:"finalized_at"`
	FinalizedAtEpoch int64           `db:"finalized_at_epoch"`
	DeliveryStatus   DeliveryStatus  `db:"delivery_status"`
	DeliveryHTTP     sql.NullInt64   `db:"delivery_http_status"`
	DeliveryError    sql.NullString  `db:"delivery_error"`
	DeliveredAtEpoch sql.NullInt64   `db:"delivered_at_epoch"`
	Problems         []ProblemRecord `db:"-"`
}

// StoredSessionJSON is a JSON-friendly representation of StoredSession.
type StoredSessionJSON struct {
	SessionID        string          `json:"sessionId"`
	UserID           string          `json:"userId"`
	GameKey          string          `json:"gameKey"`
	PageURL          string          `json:"pageUrl"`
	FinalizedAt      string          `json:"finalizedAt"`
	DeliveryStatus   DeliveryStatus  `json:"deliveryStatus"`
	DeliveryError    string          `json:"deliveryError,omitempty"`
	Problems         []ProblemRecord `json:"problems,omitempty"`
	ID               int64           `json:"id"`
	Score            int             `json:"score"`
	DurationSeconds  int             `json:"durationSeconds"`
	PlaceholderCount int             `json:"placeholderCount"`
	DeliveryHTTP     int64           `json:"deliveryHttpStatus,omitempty"`
	FinalizedAtEpoch int64           `json:"finalizedAtEpoch"`
	DeliveredAtEpoch int64           `json:"deliveredAtEpoch,omitempty"`
}

// MarshalJSON implements json.Marshaler for StoredSession.
// Converts sql.Null* fields to plain values.
func (s *StoredSession) MarshalJSON() ([]byte, error) {
	j := StoredSessionJSON{
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
		Problems:         s.Problems,
	}
	if s.DeliveryHTTP.Valid {
		j.DeliveryHTTP = s.DeliveryHTTP.Int64
	}
	if s.DeliveryError.Valid {
		j.DeliveryError = s.DeliveryError.String
	}
	if s.DeliveredAtEpoch.Valid {
		j.DeliveredAtEpoch = s.DeliveredAtEpoch.Int64
	}
	return json.Marshal(j)
}

// OperationStat aggregates archived problems of one operation type.
type OperationStat struct {
	OperationType    OperationType `json:"operationType"`
	Count            int64         `json:"count"`
	SyntheticCount   int64         `json:"syntheticCount"`
	AverageLatencyMs float64       `json:"averageLatencyMs"`
}

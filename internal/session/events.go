package session

import (
	"time"

	"github.com/thebtf/zetacoach/pkg/models"
)

// EventType names a machine transition.
type EventType string

const (
	EventGameStarted          EventType = "game_started"
	EventProblemLogged        EventType = "problem_logged"
	EventPlaceholdersInferred EventType = "placeholders_inferred"
	EventGameEnding           EventType = "game_ending"
	EventRecordsTruncated     EventType = "records_truncated"
	EventSessionFinalized     EventType = "session_finalized"
)

// Event describes one transition. Listeners receive events after the tick
// that produced them has released the machine.
type Event struct {
	Type      EventType             `json:"type"`
	At        time.Time             `json:"at"`
	Problem   *models.ProblemRecord `json:"problem,omitempty"`
	SessionID string                `json:"sessionId,omitempty"`
	Count     int                   `json:"count,omitempty"`
	Score     int                   `json:"score,omitempty"`
}

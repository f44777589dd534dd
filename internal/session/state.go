package session

import (
	"time"

	"github.com/thebtf/zetacoach/pkg/models"
)

// Phase is the coarse state of the machine.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseActive Phase = "active"
	PhaseEnding Phase = "ending"
)

// State is the live context of the game currently being observed.
// An empty CurrentProblem or zero ProblemStartedAt means "none".
type State struct {
	Active                  bool
	CurrentProblem          string
	ProblemStartedAt        time.Time
	Log                     []models.ProblemRecord
	PendingAnswer           string
	LastReconciledScore     int
	LatestScore             int
	MaxTimeRemainingSeen    int
	InferredDurationSeconds *int
	Finalized               bool
	PageURL                 string
	StartedAt               time.Time
	EndedAt                 time.Time

	// lastInput is the last observed input value, empty values included,
	// and lastInputAt is when it was read.
	lastInput   string
	lastInputAt time.Time
	// owedPlaceholders are inferred solves that came after CurrentProblem;
	// they are logged right behind it.
	owedPlaceholders int
}

// freshState is the Idle state: no game, ready to start the next one.
func freshState(pageURL string) State {
	return State{
		Finalized: true,
		PageURL:   pageURL,
	}
}

// Reset discards the current game and returns to Idle.
func (s *State) Reset() {
	*s = freshState(s.PageURL)
}

// StateView is a read-only copy of State for reporting.
type StateView struct {
	Phase                   Phase                  `json:"phase"`
	Active                  bool                   `json:"active"`
	Finalized               bool                   `json:"finalized"`
	CurrentProblem          *string                `json:"currentProblem"`
	ProblemStartedAt        *time.Time             `json:"problemStartedAt"`
	PendingAnswer           string                 `json:"pendingAnswer"`
	LastReconciledScore     int                    `json:"lastReconciledScore"`
	MaxTimeRemainingSeen    int                    `json:"maxTimeRemainingSeen"`
	InferredDurationSeconds *int                   `json:"inferredDurationSeconds"`
	PageURL                 string                 `json:"pageUrl,omitempty"`
	Log                     []models.ProblemRecord `json:"log"`
}

func (s *State) view(phase Phase) StateView {
	v := StateView{
		Phase:                phase,
		Active:               s.Active,
		Finalized:            s.Finalized,
		PendingAnswer:        s.PendingAnswer,
		LastReconciledScore:  s.LastReconciledScore,
		MaxTimeRemainingSeen: s.MaxTimeRemainingSeen,
		PageURL:              s.PageURL,
		Log:                  make([]models.ProblemRecord, len(s.Log)),
	}
	copy(v.Log, s.Log)
	if s.CurrentProblem != "" {
		p := s.CurrentProblem
		v.CurrentProblem = &p
	}
	if !s.ProblemStartedAt.IsZero() {
		t := s.ProblemStartedAt
		v.ProblemStartedAt = &t
	}
	if s.InferredDurationSeconds != nil {
		d := *s.InferredDurationSeconds
		v.InferredDurationSeconds = &d
	}
	return v
}

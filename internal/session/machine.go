// Package session infers timed game sessions from a stream of page readings.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/telemetry"
	"github.com/thebtf/zetacoach/pkg/models"
)

// DefaultFinalizeDelay lets the page render its final score before the
// session is closed.
const DefaultFinalizeDelay = time.Second

// Sink receives each finalized session exactly once.
type Sink interface {
	Emit(ctx context.Context, s *models.FinalizedSession) error
}

// Observation is one scheduler tick. Reading is nil when the tick only
// re-read the answer input; Input overrides the answer found in Reading.
type Observation struct {
	At      time.Time
	PageURL string
	Reading *extract.Reading
	Input   *string
}

// ReadingObservation wraps an extracted snapshot.
func ReadingObservation(pageURL string, r extract.Reading) Observation {
	return Observation{PageURL: pageURL, Reading: &r}
}

// InputObservation wraps a raw input-change event.
func InputObservation(value string) Observation {
	return Observation{Input: &value}
}

// Config configures a Machine.
type Config struct {
	FinalizeDelay time.Duration
	Clock         Clock
	NewID         func() string
	Metrics       *telemetry.Metrics
}

// Machine is the session-inference state machine. Every call to Process is
// one tick: it runs to completion under the machine's lock and never blocks
// on I/O. Finalized sessions and events are delivered after the lock is
// released.
type Machine struct {
	mu         sync.Mutex
	cfg        Config
	sink       Sink
	state      State
	phase      Phase
	pending    Timer
	generation uint64
	listener   func(Event)

	// buffered for delivery once the current tick releases the lock
	events    []Event
	finalized []*models.FinalizedSession
}

// New creates a Machine that hands finalized sessions to sink.
func New(sink Sink, cfg Config) *Machine {
	if cfg.FinalizeDelay <= 0 {
		cfg.FinalizeDelay = DefaultFinalizeDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{
		cfg:   cfg,
		sink:  sink,
		state: freshState(""),
		phase: PhaseIdle,
	}
}

// SetListener registers a callback for machine events.
func (m *Machine) SetListener(fn func(Event)) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// State returns a copy of the live state.
func (m *Machine) State() StateView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.view(m.phase)
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Process runs one tick for obs.
func (m *Machine) Process(obs Observation) {
	m.mu.Lock()
	now := obs.At
	if now.IsZero() {
		now = m.cfg.Clock.Now()
	}
	if obs.PageURL != "" {
		m.state.PageURL = obs.PageURL
	}

	r := obs.Reading
	transitioned := false
	if r != nil {
		transitioned = m.applyReading(now, r)
	}

	switch {
	case obs.Input != nil:
		m.captureAnswer(now, *obs.Input)
	case r != nil && r.HasAnswerInput:
		m.captureAnswer(now, r.Answer)
	}

	if r != nil && m.state.Active {
		m.reconcileScore(now, r.Score, transitioned)
	}
	m.release()
}

// Flush finalizes a game whose deferred finalize has not fired yet.
// It is meant for shutdown.
func (m *Machine) Flush() {
	m.mu.Lock()
	if m.phase == PhaseEnding {
		m.stopPending()
		at := m.finalizeDue()
		if now := m.cfg.Clock.Now(); now.Before(at) {
			at = now
		}
		m.finalize(at)
	}
	m.release()
}

// Reset discards any game in progress without emitting it.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.stopPending()
	m.generation++
	m.state.Reset()
	m.phase = PhaseIdle
	m.mu.Unlock()
}

// applyReading evaluates the timer, lifecycle and problem rules in order.
// It reports whether the problem text changed.
func (m *Machine) applyReading(now time.Time, r *extract.Reading) bool {
	s := &m.state

	// Timer ceiling: the timer only counts down within one game.
	if r.HasTimeRemaining && r.TimeRemaining > s.MaxTimeRemainingSeen {
		s.MaxTimeRemainingSeen = r.TimeRemaining
	}

	if s.Active && s.InferredDurationSeconds == nil {
		if d, ok := InferDuration(s.MaxTimeRemainingSeen); ok {
			s.InferredDurationSeconds = &d
		}
	}

	if r.HasTimeRemaining && r.TimeRemaining == 0 && s.Active && !s.Finalized {
		m.beginEnding(now)
	}

	if r.HasTimeRemaining && r.TimeRemaining > 0 && s.Finalized {
		if m.phase == PhaseEnding {
			// A new game started before the previous one was closed.
			m.stopPending()
			m.finalize(now)
		}
		m.startGame(now, r.TimeRemaining)
	}

	if s.Active && r.Problem != "" && r.Problem != s.CurrentProblem {
		m.transition(now, r.Problem)
		return true
	}
	return false
}

func (m *Machine) startGame(now time.Time, timeRemaining int) {
	m.state = freshState(m.state.PageURL)
	m.state.Active = true
	m.state.Finalized = false
	m.state.MaxTimeRemainingSeen = timeRemaining
	m.state.StartedAt = now
	m.phase = PhaseActive

	log.Info().
		Int("timeRemaining", timeRemaining).
		Str("pageUrl", m.state.PageURL).
		Msg("Game started")
	m.events = append(m.events, Event{Type: EventGameStarted, At: now})
}

// beginEnding marks the game finalized immediately so no later tick can
// re-enter end-of-game handling, then defers the actual finalize.
func (m *Machine) beginEnding(now time.Time) {
	m.state.Finalized = true
	m.state.EndedAt = now
	m.phase = PhaseEnding
	m.generation++
	gen := m.generation
	m.pending = m.cfg.Clock.AfterFunc(m.cfg.FinalizeDelay, func() {
		m.finalizeDeferred(gen)
	})

	log.Debug().
		Dur("delay", m.cfg.FinalizeDelay).
		Int("logged", len(m.state.Log)).
		Msg("Timer reached zero, finalize scheduled")
	m.events = append(m.events, Event{Type: EventGameEnding, At: now, Score: m.state.LatestScore})
}

func (m *Machine) finalizeDeferred(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.phase != PhaseEnding {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.finalize(m.finalizeDue())
	m.release()
}

// finalizeDue is when the deferred finalize of the ending game is due,
// measured on the observation timeline rather than the wall clock.
func (m *Machine) finalizeDue() time.Time {
	if m.state.EndedAt.IsZero() {
		return m.cfg.Clock.Now()
	}
	return m.state.EndedAt.Add(m.cfg.FinalizeDelay)
}

func (m *Machine) stopPending() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

func (m *Machine) transition(now time.Time, problem string) {
	s := &m.state
	if s.CurrentProblem != "" {
		m.appendObserved(now, now.Sub(s.ProblemStartedAt))
	}
	s.CurrentProblem = problem
	s.ProblemStartedAt = now
	s.PendingAnswer = ""
}

// appendObserved logs the current problem with the best captured answer.
func (m *Machine) appendObserved(now time.Time, latency time.Duration) {
	s := &m.state
	rec := models.NewProblemRecord(s.CurrentProblem, s.PendingAnswer, latency.Milliseconds())
	s.Log = append(s.Log, rec)
	m.cfg.Metrics.ProblemLatency(context.Background(), rec.LatencyMs, string(rec.OperationType))

	log.Debug().
		Str("question", rec.Question).
		Str("answer", rec.Answer).
		Int64("latencyMs", rec.LatencyMs).
		Int("logged", len(s.Log)).
		Msg("Problem logged")
	m.events = append(m.events, Event{Type: EventProblemLogged, At: now, Problem: &rec})

	if owed := s.owedPlaceholders; owed > 0 {
		s.owedPlaceholders = 0
		m.appendPlaceholders(now, owed, s.LastReconciledScore)
	}
}

// captureAnswer records an input value read at the given time. A value
// read before the last one seen is stale and ignored.
func (m *Machine) captureAnswer(at time.Time, value string) {
	s := &m.state
	if at.Before(s.lastInputAt) {
		return
	}
	s.lastInputAt = at
	if value == s.lastInput {
		return
	}
	s.lastInput = value
	if value != "" {
		s.PendingAnswer = value
	}
}

// reconcileScore keeps the log length tracking the authoritative score.
// Scores are treated as monotonic within a game; decreases are ignored.
func (m *Machine) reconcileScore(now time.Time, score int, transitioned bool) {
	s := &m.state
	if score > s.LatestScore {
		s.LatestScore = score
	}
	if score <= s.LastReconciledScore {
		return
	}

	missed := missedSolves(s.LastReconciledScore, score, len(s.Log)+s.owedPlaceholders)
	s.LastReconciledScore = score
	if missed == 0 {
		return
	}

	// The score moved before the problem text did: the current problem was
	// solved first, so the unseen solves are logged after it.
	if !transitioned && s.CurrentProblem != "" {
		s.owedPlaceholders += missed
		log.Debug().
			Int("missed", missed).
			Int("score", score).
			Msg("Score moved ahead of problem text, placeholders deferred")
		return
	}
	m.appendPlaceholders(now, missed, score)
}

func (m *Machine) appendPlaceholders(now time.Time, n, score int) {
	s := &m.state
	for i := 0; i < n; i++ {
		s.Log = append(s.Log, models.NewPlaceholderRecord())
	}
	m.cfg.Metrics.PlaceholdersInferred(context.Background(), n)
	log.Debug().
		Int("missed", n).
		Int("score", score).
		Msg("Score jumped past observed problems, placeholders inferred")
	m.events = append(m.events, Event{Type: EventPlaceholdersInferred, At: now, Count: n, Score: score})
}

// finalize closes the current game, queues it for emission and returns to
// Idle. Callers hold the lock.
func (m *Machine) finalize(now time.Time) {
	s := &m.state

	if s.CurrentProblem != "" {
		end := s.EndedAt
		if end.IsZero() {
			end = now
		}
		m.appendObserved(now, end.Sub(s.ProblemStartedAt))
	}

	score := s.LastReconciledScore
	if s.LatestScore > score {
		score = s.LatestScore
	}

	problems, added, removed := fitToScore(s.Log, score)
	if added > 0 {
		m.cfg.Metrics.PlaceholdersInferred(context.Background(), added)
		m.events = append(m.events, Event{Type: EventPlaceholdersInferred, At: now, Count: added, Score: score})
	}
	if removed > 0 {
		m.cfg.Metrics.RecordsTruncated(context.Background(), removed)
		m.events = append(m.events, Event{Type: EventRecordsTruncated, At: now, Count: removed, Score: score})
	}

	duration := 0
	if s.InferredDurationSeconds != nil {
		duration = *s.InferredDurationSeconds
	} else if d, ok := InferDuration(s.MaxTimeRemainingSeen); ok {
		duration = d
	}

	out := make([]models.ProblemRecord, len(problems))
	copy(out, problems)
	session := &models.FinalizedSession{
		SessionID:       m.cfg.NewID(),
		Score:           score,
		Problems:        out,
		PageURL:         s.PageURL,
		DurationSeconds: duration,
		Timestamp:       now,
	}
	m.cfg.Metrics.SessionFinalized(context.Background(), models.GameKeyFromURL(session.PageURL))

	log.Info().
		Str("sessionId", session.SessionID).
		Int("score", session.Score).
		Int("durationSeconds", session.DurationSeconds).
		Int("placeholders", models.CountPlaceholders(out)).
		Int("truncated", removed).
		Msg("Session finalized")

	m.finalized = append(m.finalized, session)
	m.events = append(m.events, Event{Type: EventSessionFinalized, At: now, SessionID: session.SessionID, Score: score})

	s.Reset()
	m.phase = PhaseIdle
}

// release unlocks the machine and delivers what the tick produced.
func (m *Machine) release() {
	events := m.events
	finalized := m.finalized
	listener := m.listener
	m.events = nil
	m.finalized = nil
	m.mu.Unlock()

	for _, session := range finalized {
		if m.sink == nil {
			continue
		}
		if err := m.sink.Emit(context.Background(), session); err != nil {
			log.Warn().Err(err).Str("sessionId", session.SessionID).Msg("Session emit failed")
		}
	}
	if listener != nil {
		for _, ev := range events {
			listener(ev)
		}
	}
}

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/pkg/models"
)

// fakeClock fires AfterFunc callbacks only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// recordingSink captures emitted sessions.
type recordingSink struct {
	mu       sync.Mutex
	sessions []*models.FinalizedSession
}

func (r *recordingSink) Emit(_ context.Context, s *models.FinalizedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *recordingSink) Sessions() []*models.FinalizedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FinalizedSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func problem(i int) string {
	return fmt.Sprintf("%d + %d =", i, i)
}

// MachineSuite is a test suite for Machine transitions.
type MachineSuite struct {
	suite.Suite
	clock   *fakeClock
	sink    *recordingSink
	machine *Machine
	ids     int
}

func (s *MachineSuite) SetupTest() {
	s.clock = newFakeClock()
	s.sink = &recordingSink{}
	s.ids = 0
	s.machine = New(s.sink, Config{
		FinalizeDelay: time.Second,
		Clock:         s.clock,
		NewID: func() string {
			s.ids++
			return fmt.Sprintf("session-%d", s.ids)
		},
	})
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

// tick feeds one reading at the fake clock's current time.
func (s *MachineSuite) tick(problem string, score, timeRemaining int) {
	s.machine.Process(Observation{
		At:      s.clock.Now(),
		PageURL: "https://arithmetic.zetamac.com/game?key=abc",
		Reading: &extract.Reading{
			Problem:          problem,
			Score:            score,
			TimeRemaining:    timeRemaining,
			HasTimeRemaining: true,
		},
	})
}

func (s *MachineSuite) input(value string) {
	v := value
	s.machine.Process(Observation{At: s.clock.Now(), Input: &v})
}

// TestFreshMachineIsIdle tests the initial state.
func (s *MachineSuite) TestFreshMachineIsIdle() {
	st := s.machine.State()
	s.Equal(PhaseIdle, st.Phase)
	s.False(st.Active)
	s.True(st.Finalized)
	s.Nil(st.CurrentProblem)
	s.Nil(st.InferredDurationSeconds)
}

// TestStartsOnPositiveTimer tests Idle -> Active.
func (s *MachineSuite) TestStartsOnPositiveTimer() {
	s.tick(problem(1), 0, 120)

	st := s.machine.State()
	s.Equal(PhaseActive, st.Phase)
	s.True(st.Active)
	s.False(st.Finalized)
	s.Equal(120, st.MaxTimeRemainingSeen)
	s.Require().NotNil(st.CurrentProblem)
	s.Equal(problem(1), *st.CurrentProblem)
	s.Empty(st.Log)
}

// TestNoStartWithoutTimer tests that problem text alone never starts a game.
func (s *MachineSuite) TestNoStartWithoutTimer() {
	s.machine.Process(Observation{Reading: &extract.Reading{Problem: problem(1)}})
	s.tick("", 0, 0)

	st := s.machine.State()
	s.Equal(PhaseIdle, st.Phase)
	s.Nil(st.CurrentProblem)
	s.Empty(s.sink.Sessions())
}

// TestProblemTransitionLogsPrevious tests rule 5 with a captured answer.
func (s *MachineSuite) TestProblemTransitionLogsPrevious() {
	s.tick(problem(1), 0, 120)
	s.clock.Advance(300 * time.Millisecond)
	s.input("1")
	s.clock.Advance(200 * time.Millisecond)
	s.input("2")
	s.clock.Advance(300 * time.Millisecond)
	s.tick(problem(2), 1, 119)

	st := s.machine.State()
	s.Require().Len(st.Log, 1)
	rec := st.Log[0]
	s.Equal(problem(1), rec.Question)
	s.Equal("2", rec.Answer)
	s.Equal(int64(800), rec.LatencyMs)
	s.Equal(models.OpAddition, rec.OperationType)

	s.Equal(problem(2), *st.CurrentProblem)
	s.Empty(st.PendingAnswer)
}

// TestTransitionWithoutAnswer tests the unknown-answer sentinel.
func (s *MachineSuite) TestTransitionWithoutAnswer() {
	s.tick(problem(1), 0, 120)
	s.clock.Advance(100 * time.Millisecond)
	s.tick(problem(2), 1, 120)

	st := s.machine.State()
	s.Require().Len(st.Log, 1)
	s.Equal(models.AnswerUnknown, st.Log[0].Answer)
}

// TestAnswerCapture tests that empty and repeated values do not clobber
// the pending answer.
func (s *MachineSuite) TestAnswerCapture() {
	s.tick(problem(1), 0, 120)

	s.input("4")
	s.Equal("4", s.machine.State().PendingAnswer)

	s.input("")
	s.Equal("4", s.machine.State().PendingAnswer, "empty input keeps the last answer")

	s.input("42")
	s.input("42")
	s.Equal("42", s.machine.State().PendingAnswer)
}

// TestAnswerFromReading tests answer capture from a full snapshot.
func (s *MachineSuite) TestAnswerFromReading() {
	s.tick(problem(1), 0, 120)
	s.machine.Process(Observation{
		At: s.clock.Now(),
		Reading: &extract.Reading{
			Problem:          problem(1),
			TimeRemaining:    119,
			HasTimeRemaining: true,
			Answer:           "2",
			HasAnswerInput:   true,
		},
	})
	s.Equal("2", s.machine.State().PendingAnswer)
}

// TestIdempotentReplay tests that an unchanged snapshot changes nothing.
func (s *MachineSuite) TestIdempotentReplay() {
	s.tick(problem(1), 0, 120)
	s.tick(problem(2), 1, 118)
	before := s.machine.State()

	s.tick(problem(2), 1, 118)
	s.tick(problem(2), 1, 118)

	after := s.machine.State()
	s.Equal(before, after)
	s.Len(after.Log, 1)
}

// TestDurationInferred tests duration locking from the timer ceiling.
func (s *MachineSuite) TestDurationInferred() {
	s.tick(problem(1), 0, 95)
	s.tick(problem(1), 0, 94)

	st := s.machine.State()
	s.Require().NotNil(st.InferredDurationSeconds)
	s.Equal(120, *st.InferredDurationSeconds)
}

// TestFastRunUnderDetection tests score jumps that outpace problem text.
func (s *MachineSuite) TestFastRunUnderDetection() {
	s.tick(problem(1), 0, 120)
	s.clock.Advance(time.Second)
	s.tick(problem(2), 1, 119)
	s.clock.Advance(time.Second)
	s.tick(problem(3), 2, 118)
	s.clock.Advance(time.Second)
	// Three quick solves collapse into one observed transition.
	s.tick(problem(6), 5, 117)

	st := s.machine.State()
	s.Len(st.Log, 5)
	s.Equal(5, st.LastReconciledScore)

	s.clock.Advance(time.Second)
	s.tick("", 5, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	out := sessions[0]
	s.Equal(5, out.Score)
	s.Len(out.Problems, 5)
	s.Equal(2, models.CountPlaceholders(out.Problems))
	s.Equal(problem(1), out.Problems[0].Question)
	s.Equal(problem(3), out.Problems[2].Question)
	s.Equal(models.AnswerUltraFast, out.Problems[3].Answer)
	s.Equal(int64(0), out.Problems[4].LatencyMs)
	s.Equal(120, out.DurationSeconds)
}

// TestScoreBeforeText tests a score update observed one tick before the
// problem text changes.
func (s *MachineSuite) TestScoreBeforeText() {
	s.tick(problem(1), 0, 120)
	s.tick(problem(1), 1, 119)
	s.Empty(s.machine.State().Log, "the visible transition is still expected")

	s.tick(problem(2), 1, 119)
	st := s.machine.State()
	s.Require().Len(st.Log, 1)
	s.Equal(problem(1), st.Log[0].Question)
}

// TestScoreJumpBeforeText tests a multi-solve score jump seen before the
// problem text changes: the visible problem stays ahead of the inferred ones.
func (s *MachineSuite) TestScoreJumpBeforeText() {
	s.tick(problem(1), 0, 120)
	s.clock.Advance(time.Second)
	s.tick(problem(1), 2, 119)
	s.Empty(s.machine.State().Log)

	s.tick(problem(3), 2, 118)
	st := s.machine.State()
	s.Require().Len(st.Log, 2)
	s.Equal(problem(1), st.Log[0].Question)
	s.Equal(int64(1000), st.Log[0].LatencyMs)
	s.Equal(models.PlaceholderQuestion, st.Log[1].Question)
	s.Equal(models.AnswerUltraFast, st.Log[1].Answer)
	s.Equal(2, st.LastReconciledScore)
}

// TestScoreJumpBeforeTextAtEnd tests deferred placeholders when the game
// ends before the problem text changes.
func (s *MachineSuite) TestScoreJumpBeforeTextAtEnd() {
	s.tick(problem(1), 0, 60)
	s.tick(problem(1), 3, 59)
	s.tick("", 3, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	out := sessions[0].Problems
	s.Require().Len(out, 3)
	s.Equal(problem(1), out[0].Question)
	s.Equal(models.PlaceholderQuestion, out[1].Question)
	s.Equal(models.PlaceholderQuestion, out[2].Question)
}

// TestStaleSnapshotAnswerIgnored tests that a snapshot read before the
// latest input poll cannot overwrite the newer value.
func (s *MachineSuite) TestStaleSnapshotAnswerIgnored() {
	s.tick(problem(1), 0, 120)
	captured := s.clock.Now().Add(100 * time.Millisecond)
	s.clock.Advance(200 * time.Millisecond)
	s.input("42")

	s.machine.Process(Observation{
		At: captured,
		Reading: &extract.Reading{
			Problem:          problem(1),
			TimeRemaining:    119,
			HasTimeRemaining: true,
			Answer:           "4",
			HasAnswerInput:   true,
		},
	})
	s.Equal("42", s.machine.State().PendingAnswer)

	s.tick(problem(2), 1, 118)
	st := s.machine.State()
	s.Require().Len(st.Log, 1)
	s.Equal("42", st.Log[0].Answer)
}

// TestOverDetectionTruncated tests that spurious transitions are trimmed
// to the authoritative score, earliest records first.
func (s *MachineSuite) TestOverDetectionTruncated() {
	steps := []struct {
		problem string
		score   int
	}{
		{problem(1), 0},
		{problem(2), 1},
		{problem(1), 1}, // flicker
		{problem(2), 2},
		{problem(3), 3},
		{problem(4), 3},
		{problem(5), 4},
		{problem(6), 5},
	}
	for i, st := range steps {
		s.clock.Advance(500 * time.Millisecond)
		s.tick(st.problem, st.score, 120-i)
	}
	s.Len(s.machine.State().Log, 7)

	s.tick("", 5, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	out := sessions[0]
	s.Equal(5, out.Score)
	s.Require().Len(out.Problems, 5)
	expected := []string{problem(1), problem(2), problem(1), problem(2), problem(3)}
	for i, q := range expected {
		s.Equal(q, out.Problems[i].Question)
	}
	s.Zero(models.CountPlaceholders(out.Problems))
}

// TestFinalScorePadded tests padding when the log is short at the end.
func (s *MachineSuite) TestFinalScorePadded() {
	s.tick(problem(1), 0, 60)
	s.tick(problem(2), 1, 59)
	// Same problem shown twice in a row: the second solve has no visible transition.
	s.tick(problem(2), 2, 58)
	s.tick("", 3, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal(3, sessions[0].Score)
	s.Len(sessions[0].Problems, 3)
	s.Equal(60, sessions[0].DurationSeconds)
}

// TestFinalizeDeferred tests that the late final score is used.
func (s *MachineSuite) TestFinalizeDeferred() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 10)
	s.tick("", 1, 0)

	s.Equal(PhaseEnding, s.machine.Phase())
	s.True(s.machine.State().Finalized)
	s.Empty(s.sink.Sessions(), "finalize waits for the delay")

	// The page renders the true final score during the delay.
	s.clock.Advance(500 * time.Millisecond)
	s.tick("", 2, 0)
	s.Empty(s.sink.Sessions())

	s.clock.Advance(500 * time.Millisecond)
	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal(2, sessions[0].Score)
	s.Len(sessions[0].Problems, 2)
	s.Equal(problem(2), sessions[0].Problems[1].Question)
	s.Equal(PhaseIdle, s.machine.Phase())
}

// TestFinalizeOnce tests that repeated zero readings finalize once.
func (s *MachineSuite) TestFinalizeOnce() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 1)
	for i := 0; i < 5; i++ {
		s.tick("", 1, 0)
		s.clock.Advance(300 * time.Millisecond)
	}
	s.clock.Advance(5 * time.Second)
	s.tick("", 1, 0)
	s.clock.Advance(5 * time.Second)

	s.Len(s.sink.Sessions(), 1)
	s.Equal(PhaseIdle, s.machine.Phase())
}

// TestNextGameAfterFinalize tests a clean second game.
func (s *MachineSuite) TestNextGameAfterFinalize() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 20)
	s.tick("", 1, 0)
	s.clock.Advance(time.Second)

	s.tick(problem(7), 0, 120)
	st := s.machine.State()
	s.Equal(PhaseActive, st.Phase)
	s.Empty(st.Log)
	s.Equal(0, st.LastReconciledScore)
	s.Equal(120, st.MaxTimeRemainingSeen)
	s.Nil(st.InferredDurationSeconds)

	s.tick(problem(8), 1, 119)
	s.tick("", 1, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 2)
	s.Equal("session-1", sessions[0].SessionID)
	s.Equal("session-2", sessions[1].SessionID)
	s.Equal(30, sessions[0].DurationSeconds)
	s.Equal(120, sessions[1].DurationSeconds)
	s.Equal(problem(7), sessions[1].Problems[0].Question)
}

// TestRestartDuringEnding tests that a new game flushes the pending one.
func (s *MachineSuite) TestRestartDuringEnding() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 10)
	s.tick("", 1, 0)
	s.Equal(PhaseEnding, s.machine.Phase())

	s.clock.Advance(200 * time.Millisecond)
	s.tick(problem(9), 0, 60)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1, "previous game finalized immediately")
	s.Equal(1, sessions[0].Score)
	s.Equal(PhaseActive, s.machine.Phase())

	// The stale deferred finalize must not close the new game.
	s.clock.Advance(2 * time.Second)
	s.Len(s.sink.Sessions(), 1)
	s.Equal(PhaseActive, s.machine.Phase())
}

// TestScoreDecreaseIgnored tests the monotonic score assumption.
func (s *MachineSuite) TestScoreDecreaseIgnored() {
	s.tick(problem(1), 0, 120)
	s.tick(problem(2), 1, 119)
	s.tick(problem(3), 2, 118)
	s.tick(problem(3), 0, 117)

	st := s.machine.State()
	s.Equal(2, st.LastReconciledScore)
	s.Len(st.Log, 2)
}

// tickAt feeds one reading stamped with at instead of the clock.
func (s *MachineSuite) tickAt(at time.Time, problem string, score, timeRemaining int) {
	s.machine.Process(Observation{
		At: at,
		Reading: &extract.Reading{
			Problem:          problem,
			Score:            score,
			TimeRemaining:    timeRemaining,
			HasTimeRemaining: true,
		},
	})
}

// TestFinalizeTimestampFollowsObservations tests that recorded observation
// times, not the wall clock, stamp the finalized session.
func (s *MachineSuite) TestFinalizeTimestampFollowsObservations() {
	tests := []struct {
		name  string
		close func()
	}{
		{"deferred", func() { s.clock.Advance(time.Second) }},
		{"flush", func() { s.machine.Flush() }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			base := s.clock.Now().Add(-time.Hour)
			s.tickAt(base, problem(1), 0, 30)
			s.tickAt(base.Add(time.Second), problem(2), 1, 20)
			s.tickAt(base.Add(2*time.Second), "", 1, 0)

			tt.close()

			sessions := s.sink.Sessions()
			s.Require().Len(sessions, 1)
			s.True(sessions[0].Timestamp.Equal(base.Add(3*time.Second)), sessions[0].Timestamp)
		})
	}
}

// TestFlush tests shutdown finalization.
func (s *MachineSuite) TestFlush() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 5)
	s.tick("", 1, 0)

	s.machine.Flush()
	s.Len(s.sink.Sessions(), 1)

	s.clock.Advance(time.Second)
	s.Len(s.sink.Sessions(), 1)

	// Flush while idle is a no-op.
	s.machine.Flush()
	s.Len(s.sink.Sessions(), 1)
}

// TestReset tests discarding a game.
func (s *MachineSuite) TestReset() {
	s.tick(problem(1), 0, 30)
	s.tick(problem(2), 1, 20)
	s.tick("", 1, 0)

	s.machine.Reset()
	s.clock.Advance(time.Second)

	s.Empty(s.sink.Sessions())
	st := s.machine.State()
	s.Equal(PhaseIdle, st.Phase)
	s.True(st.Finalized)
	s.Empty(st.Log)
}

// TestListenerReceivesEvents tests event delivery order.
func (s *MachineSuite) TestListenerReceivesEvents() {
	var (
		mu     sync.Mutex
		events []EventType
	)
	s.machine.SetListener(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	s.tick(problem(1), 0, 120)
	s.tick(problem(4), 3, 119)
	s.tick("", 3, 0)
	s.clock.Advance(time.Second)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]EventType{
		EventGameStarted,
		EventProblemLogged,
		EventPlaceholdersInferred,
		EventGameEnding,
		EventProblemLogged,
		EventRecordsTruncated,
		EventSessionFinalized,
	}, events)
}

// TestPageURLCarried tests that the session keeps the page it came from.
func (s *MachineSuite) TestPageURLCarried() {
	s.tick(problem(1), 0, 30)
	s.tick("", 0, 0)
	s.clock.Advance(time.Second)

	sessions := s.sink.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal("https://arithmetic.zetamac.com/game?key=abc", sessions[0].PageURL)
	s.Equal(0, sessions[0].Score)
	s.Empty(sessions[0].Problems)
	assert.NotNil(s.T(), sessions[0].Problems)
}

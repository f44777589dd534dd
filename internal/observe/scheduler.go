package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/session"
)

// Default scheduler cadence.
const (
	DefaultDrainInterval     = 100 * time.Millisecond
	DefaultInputPoll         = 25 * time.Millisecond
	DefaultHeartbeat         = time.Second
	DefaultCapturesPerSecond = 20
)

// Config configures a Scheduler.
type Config struct {
	DrainInterval     time.Duration
	InputPoll         time.Duration
	Heartbeat         time.Duration
	CapturesPerSecond float64
	Recorder          *Recorder
}

// Scheduler turns page activity into observations. Two producers run
// concurrently: one drains the mutation counter and captures when the
// page changed or the heartbeat is due, the other polls the answer input.
// Both feed the same Processor, which serializes them.
type Scheduler struct {
	page      Page
	extractor *extract.Extractor
	proc      Processor
	cfg       Config
	limiter   *rate.Limiter

	mu          sync.Mutex
	lastCapture time.Time
	lastInput   string
	haveInput   bool
}

// NewScheduler creates a Scheduler. Zero config fields take defaults.
func NewScheduler(page Page, ex *extract.Extractor, proc Processor, cfg Config) *Scheduler {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.InputPoll <= 0 {
		cfg.InputPoll = DefaultInputPoll
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.CapturesPerSecond <= 0 {
		cfg.CapturesPerSecond = DefaultCapturesPerSecond
	}
	return &Scheduler{
		page:      page,
		extractor: ex,
		proc:      proc,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.CapturesPerSecond), 1),
	}
}

// Run observes until ctx is cancelled or the page fails permanently.
// Cancellation is not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.captureLoop(ctx) })
	g.Go(func() error { return s.inputLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) captureLoop(ctx context.Context) error {
	// Initial capture so a game already in progress is seen.
	dirty := true

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		if n, err := s.page.DrainMutations(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("Mutation drain failed")
		} else if n > 0 {
			dirty = true
		}

		if dirty || s.heartbeatDue() {
			if s.limiter.Allow() {
				dirty = false
				if err := s.CaptureOnce(ctx); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.Debug().Err(err).Msg("Capture failed")
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) heartbeatDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastCapture) >= s.cfg.Heartbeat
}

// CaptureOnce takes one snapshot and processes it.
func (s *Scheduler) CaptureOnce(ctx context.Context) error {
	snap, err := s.page.Capture(ctx)
	if err != nil {
		return err
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}

	s.mu.Lock()
	s.lastCapture = snap.CapturedAt
	s.mu.Unlock()

	if err := s.cfg.Recorder.RecordSnapshot(snap); err != nil {
		log.Warn().Err(err).Msg("Failed to record snapshot")
	}

	obs, err := ObservationFromSnapshot(s.extractor, snap)
	if err != nil {
		return err
	}
	s.proc.Process(obs)
	return nil
}

func (s *Scheduler) inputLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.InputPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		value, ok, err := s.page.ReadInput(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("Input read failed")
			continue
		}
		if !ok || !s.inputChanged(value) {
			continue
		}

		now := time.Now()
		if err := s.cfg.Recorder.RecordInput(now, value); err != nil {
			log.Warn().Err(err).Msg("Failed to record input")
		}
		obs := session.InputObservation(value)
		obs.At = now
		s.proc.Process(obs)
	}
}

// inputChanged reports whether value differs from the last polled value.
func (s *Scheduler) inputChanged(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveInput && value == s.lastInput {
		return false
	}
	s.lastInput = value
	s.haveInput = true
	return true
}

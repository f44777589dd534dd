// Package emitter hands finalized sessions to the archive and the relay.
package emitter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/privacy"
	"github.com/thebtf/zetacoach/internal/relay"
	"github.com/thebtf/zetacoach/internal/telemetry"
	"github.com/thebtf/zetacoach/pkg/models"
)

// ErrRelayNotConfigured is returned by Emit when no relay URL is set.
// The session is archived as dropped and never submitted.
var ErrRelayNotConfigured = errors.New("relay URL not configured")

// Settings is the relay configuration. It can be swapped at runtime.
type Settings struct {
	URL     string
	Token   string
	UserID  string
	Timeout time.Duration
}

// Archive records sessions and their delivery outcome.
type Archive interface {
	SaveSession(ctx context.Context, s *models.FinalizedSession, userID string) error
	RecordDelivery(ctx context.Context, sessionID string, d models.Delivery) error
}

// Outcome is reported to the notifier once per emitted session.
type Outcome struct {
	SessionID  string                `json:"sessionId"`
	Score      int                   `json:"score"`
	Status     models.DeliveryStatus `json:"status"`
	HTTPStatus int                   `json:"httpStatus,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Notifier surfaces delivery outcomes to the user.
type Notifier interface {
	DeliveryResult(o Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(o Outcome)

// DeliveryResult implements Notifier.
func (f NotifierFunc) DeliveryResult(o Outcome) { f(o) }

type relaySettings struct {
	Settings
	client *relay.Client
}

// Emitter implements session.Sink with a two-phase emit: the payload is
// built and archived synchronously, then submitted in the background.
// Failed submissions are reported and never retried.
type Emitter struct {
	settings atomic.Pointer[relaySettings]
	archive  Archive
	notifier Notifier
	metrics  *telemetry.Metrics
	wg       sync.WaitGroup
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithArchive records every session in a.
func WithArchive(a Archive) Option {
	return func(e *Emitter) { e.archive = a }
}

// WithNotifier reports delivery outcomes to n.
func WithNotifier(n Notifier) Option {
	return func(e *Emitter) { e.notifier = n }
}

// WithMetrics records relay outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// New creates an Emitter.
func New(settings Settings, opts ...Option) *Emitter {
	e := &Emitter{}
	for _, opt := range opts {
		opt(e)
	}
	e.UpdateSettings(settings)
	return e
}

// UpdateSettings swaps the relay configuration. Submissions already in
// flight keep the settings they started with.
func (e *Emitter) UpdateSettings(s Settings) {
	s.URL = strings.TrimSpace(s.URL)
	e.settings.Store(&relaySettings{
		Settings: s,
		client:   relay.NewClient(relay.WithToken(s.Token), relay.WithTimeout(s.Timeout)),
	})
	log.Debug().
		Str("url", privacy.RedactURL(s.URL)).
		Str("token", privacy.RedactToken(s.Token)).
		Str("userId", s.UserID).
		Msg("Relay settings updated")
}

// Settings returns the current relay configuration.
func (e *Emitter) Settings() Settings {
	return e.settings.Load().Settings
}

// Emit archives s and starts its submission. It returns
// ErrRelayNotConfigured when no relay URL is set; submission failures are
// only reported to the notifier and the log.
func (e *Emitter) Emit(ctx context.Context, s *models.FinalizedSession) error {
	rs := e.settings.Load()
	payload := models.NewSubmitPayload(s, rs.UserID)

	if e.archive != nil {
		if err := e.archive.SaveSession(ctx, s, rs.UserID); err != nil {
			log.Warn().Err(err).Str("sessionId", s.SessionID).Msg("Failed to archive session")
		}
	}

	if rs.URL == "" {
		e.complete(ctx, s, models.Delivery{
			Status: models.DeliveryDropped,
			Error:  ErrRelayNotConfigured.Error(),
			At:     time.Now(),
		})
		return ErrRelayNotConfigured
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.submit(context.WithoutCancel(ctx), rs, s, payload)
	}()
	return nil
}

// Wait blocks until every in-flight submission has completed.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

func (e *Emitter) submit(ctx context.Context, rs *relaySettings, s *models.FinalizedSession, payload *models.SubmitPayload) {
	res := rs.client.Submit(ctx, rs.URL, payload)

	d := models.Delivery{Status: models.DeliveryDelivered, HTTPStatus: res.Status, At: time.Now()}
	if !res.OK {
		d.Status = models.DeliveryFailed
		d.Error = privacy.Clean(res.Error)
		log.Warn().
			Str("sessionId", s.SessionID).
			Str("url", privacy.RedactURL(rs.URL)).
			Int("status", res.Status).
			Str("error", d.Error).
			Msg("Relay rejected session, not retrying")
	} else {
		log.Info().
			Str("sessionId", s.SessionID).
			Int("score", s.Score).
			Int("status", res.Status).
			Msg("Session delivered")
	}
	e.complete(ctx, s, d)
}

// complete records a final delivery outcome everywhere it is tracked.
func (e *Emitter) complete(ctx context.Context, s *models.FinalizedSession, d models.Delivery) {
	if e.archive != nil {
		if err := e.archive.RecordDelivery(ctx, s.SessionID, d); err != nil {
			log.Warn().Err(err).Str("sessionId", s.SessionID).Msg("Failed to record delivery")
		}
	}
	e.metrics.RelayResult(ctx, string(d.Status))
	if e.notifier != nil {
		e.notifier.DeliveryResult(Outcome{
			SessionID:  s.SessionID,
			Score:      s.Score,
			Status:     d.Status,
			HTTPStatus: d.HTTPStatus,
			Error:      d.Error,
		})
	}
}

// Package worker provides the HTTP service that exposes the live session,
// the local archive and the event stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/config"
	"github.com/thebtf/zetacoach/internal/emitter"
	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/session"
	"github.com/thebtf/zetacoach/internal/worker/sse"
	"github.com/thebtf/zetacoach/pkg/models"
)

// Archive is the read side of the session archive.
type Archive interface {
	ListRecent(ctx context.Context, limit int) ([]*models.StoredSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.StoredSession, error)
	OperationStats(ctx context.Context) ([]models.OperationStat, error)
}

// Machine is the live session machine.
type Machine interface {
	Process(obs session.Observation)
	State() session.StateView
}

// Deps are the collaborators a Service serves.
type Deps struct {
	Machine   Machine
	Extractor *extract.Extractor
	Archive   Archive
	// ErrNotFound is the archive's missing-session error.
	ErrNotFound error
}

// Service is the worker HTTP service.
type Service struct {
	version        string
	config         *config.Config
	machine        Machine
	extractor      *extract.Extractor
	archive        Archive
	errNotFound    error
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	server         *http.Server
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time
	ready          atomic.Bool
}

// NewService creates a Service. It is not ready until Start succeeds.
func NewService(version string, cfg *config.Config, deps Deps) *Service {
	if deps.Extractor == nil {
		deps.Extractor = extract.New(extract.DefaultProfile())
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		config:         cfg,
		machine:        deps.Machine,
		extractor:      deps.Extractor,
		archive:        deps.Archive,
		errNotFound:    deps.ErrNotFound,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Get("/", serveIndex)
	s.router.Get("/assets/*", serveAssets)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/events", s.sseBroadcaster.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Get("/api/state", s.handleState)
		r.Post("/api/snapshots", s.handleSnapshot)
		r.Post("/api/input", s.handleInput)
		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/{sessionId}", s.handleGetSession)
		})
		r.Get("/api/stats", s.handleStats)
	})
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background.
func (s *Service) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.ready.Store(true)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Worker server stopped")
		}
	}()

	log.Info().Str("addr", addr).Str("version", s.version).Msg("Worker listening")
	return nil
}

// Shutdown stops accepting requests, closes event streams and waits for
// in-flight requests.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// PublishEvent forwards a machine event to stream clients. It is meant to
// be registered with session.Machine.SetListener.
func (s *Service) PublishEvent(ev session.Event) {
	s.sseBroadcaster.Publish(string(ev.Type), ev)
}

// DeliveryResult implements emitter.Notifier. A failed or dropped relay
// is the user-visible warning.
func (s *Service) DeliveryResult(o emitter.Outcome) {
	switch o.Status {
	case models.DeliveryFailed:
		log.Warn().Str("sessionId", o.SessionID).Int("status", o.HTTPStatus).Str("error", o.Error).
			Msg("Session relay failed")
		s.sseBroadcaster.Publish("relay_failed", o)
	case models.DeliveryDropped:
		s.sseBroadcaster.Publish("relay_failed", o)
	default:
		s.sseBroadcaster.Publish("relay_delivered", o)
	}
}

var _ emitter.Notifier = (*Service)(nil)

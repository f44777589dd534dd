// Package main provides the worker entry point: it watches the game page,
// infers sessions, relays them and serves the local API.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/zetacoach/internal/browser"
	"github.com/thebtf/zetacoach/internal/config"
	gormdb "github.com/thebtf/zetacoach/internal/db/gorm"
	"github.com/thebtf/zetacoach/internal/db/sqlite"
	"github.com/thebtf/zetacoach/internal/emitter"
	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/observe"
	"github.com/thebtf/zetacoach/internal/session"
	"github.com/thebtf/zetacoach/internal/telemetry"
	"github.com/thebtf/zetacoach/internal/watcher"
	"github.com/thebtf/zetacoach/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

// shutdownTimeout bounds the HTTP drain on exit.
const shutdownTimeout = 5 * time.Second

// archive is what both archive backends provide.
type archive interface {
	emitter.Archive
	worker.Archive
	io.Closer
	ErrNotFound() error
}

type sqliteArchive struct {
	*sqlite.ArchiveStore
	store *sqlite.Store
}

func (a sqliteArchive) Close() error       { return a.store.Close() }
func (a sqliteArchive) ErrNotFound() error { return sqlite.ErrSessionNotFound }

type gormArchive struct {
	*gormdb.ArchiveStore
	store *gormdb.Store
}

func (a gormArchive) Close() error       { return a.store.Close() }
func (a gormArchive) ErrNotFound() error { return gormdb.ErrSessionNotFound }

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "Serve the API only; snapshots arrive via POST /api/snapshots")
	record := flag.String("record", "", "Append observations to this JSONL file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	setLogLevel(cfg.LogLevel, *debug)
	if *record != "" {
		cfg.RecordPath = *record
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openArchive(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session archive")
	}
	defer store.Close()

	profile, err := extract.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.ProfilePath).Msg("Failed to load page profile, using defaults")
		profile = extract.DefaultProfile()
	}
	extractor := extract.New(profile)
	metrics := telemetry.Default()

	// The service is the notifier but needs the machine, which needs the
	// emitter; the closure breaks the cycle.
	var svc *worker.Service
	em := emitter.New(relaySettings(cfg),
		emitter.WithArchive(store),
		emitter.WithMetrics(metrics),
		emitter.WithNotifier(emitter.NotifierFunc(func(o emitter.Outcome) {
			if svc != nil {
				svc.DeliveryResult(o)
			}
		})),
	)

	machine := session.New(em, session.Config{
		FinalizeDelay: cfg.FinalizeDelay(),
		Metrics:       metrics,
	})

	svc = worker.NewService(Version, cfg, worker.Deps{
		Machine:     machine,
		Extractor:   extractor,
		Archive:     store,
		ErrNotFound: store.ErrNotFound(),
	})
	machine.SetListener(svc.PublishEvent)

	settingsWatcher := watchSettings(em)
	if settingsWatcher != nil {
		defer func() { _ = settingsWatcher.Stop() }()
	}

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}

	observeDone := make(chan struct{})
	if *noBrowser {
		close(observeDone)
	} else {
		go func() {
			defer close(observeDone)
			if err := runObserver(ctx, cfg, extractor, profile, machine); err != nil {
				log.Error().Err(err).Msg("Page observer stopped")
			}
		}()
	}

	log.Info().Str("version", Version).Bool("browser", !*noBrowser).Msg("zetacoach worker started")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	<-observeDone
	machine.Flush()
	em.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Worker shutdown incomplete")
	}
}

func setLogLevel(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func relaySettings(cfg *config.Config) emitter.Settings {
	return emitter.Settings{
		URL:     cfg.RelayURL,
		Token:   cfg.RelayToken,
		UserID:  cfg.UserID,
		Timeout: cfg.RelayTimeout(),
	}
}

// openArchive selects postgres when a DSN is configured and SQLite otherwise.
func openArchive(cfg *config.Config) (archive, error) {
	if cfg.ArchiveDSN != "" {
		store, err := gormdb.NewStore(gormdb.Config{
			DSN:      cfg.ArchiveDSN,
			MaxConns: cfg.MaxConns,
			LogLevel: gormlogger.Silent,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Session archive: postgres")
		return gormArchive{gormdb.NewArchiveStore(store), store}, nil
	}

	store, err := sqlite.NewStore(sqlite.Config{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.DBPath).Msg("Session archive: sqlite")
	return sqliteArchive{sqlite.NewArchiveStore(store), store}, nil
}

// watchSettings reloads relay settings when settings.json changes.
func watchSettings(em *emitter.Emitter) *watcher.Watcher {
	path := config.SettingsPath()
	w, err := watcher.New(path, watcher.Handlers{
		OnChange: func() {
			cfg, err := config.Load()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to reload settings, keeping current relay settings")
				return
			}
			em.UpdateSettings(relaySettings(cfg))
		},
		OnDelete: func() {
			log.Warn().Str("path", path).Msg("Settings file deleted, keeping current relay settings")
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
		return nil
	}
	log.Info().Str("path", path).Msg("Settings watcher started")
	return w
}

// runObserver drives the machine from a browser tab until ctx ends.
func runObserver(ctx context.Context, cfg *config.Config, ex *extract.Extractor, profile extract.Profile, proc observe.Processor) error {
	page, err := browser.Open(ctx, browser.Config{
		ControlURL:      cfg.BrowserControlURL,
		Bin:             cfg.BrowserBin,
		Headless:        cfg.Headless,
		PageURL:         cfg.PageURL,
		AnswerSelectors: profile.AnswerSelectors,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Msg("Browser close failed")
		}
	}()

	var recorder *observe.Recorder
	if cfg.RecordPath != "" {
		recorder, err = observe.NewRecorder(cfg.RecordPath)
		if err != nil {
			return err
		}
		defer recorder.Close()
		log.Info().Str("path", cfg.RecordPath).Msg("Recording observations")
	}

	sched := observe.NewScheduler(page, ex, proc, observe.Config{
		DrainInterval:     cfg.DrainInterval(),
		InputPoll:         cfg.InputPollInterval(),
		Heartbeat:         cfg.HeartbeatInterval(),
		CapturesPerSecond: cfg.CapturesPerSecond,
		Recorder:          recorder,
	})
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

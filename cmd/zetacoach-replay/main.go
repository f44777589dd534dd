// Package main replays a recorded observation stream, either into a running
// worker or through a local session machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/zetacoach/internal/config"
	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/observe"
	"github.com/thebtf/zetacoach/internal/session"
	"github.com/thebtf/zetacoach/pkg/client"
	"github.com/thebtf/zetacoach/pkg/models"
)

// maxPause caps one paced gap so a recording left open overnight replays.
const maxPause = 5 * time.Second

func main() {
	file := flag.String("file", "", "JSONL recording to replay (required)")
	port := flag.Int("port", config.GetWorkerPort(), "Worker port")
	pace := flag.Bool("pace", false, "Preserve the recorded timing between entries")
	speed := flag.Float64("speed", 1, "Pacing multiplier when -pace is set")
	offline := flag.Bool("offline", false, "Replay through a local session machine and print finalized sessions")
	profilePath := flag.String("profile", "", "Page profile YAML (offline mode)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if *file == "" {
		log.Fatal().Msg("--file is required")
	}
	if *speed <= 0 {
		*speed = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		target replayTarget
		err    error
	)
	if *offline {
		target, err = newLocalTarget(*profilePath)
	} else {
		target, err = newWorkerTarget(ctx, *port)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare replay target")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open recording")
	}
	defer f.Close()

	var (
		last  time.Time
		count int
	)
	err = observe.ReadRecording(f, func(e observe.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if *pace && !last.IsZero() && e.At.After(last) {
			pause := time.Duration(float64(e.At.Sub(last)) / *speed)
			if pause > maxPause {
				pause = maxPause
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
		last = e.At
		count++
		return target.Send(ctx, e)
	})
	if err != nil {
		log.Error().Err(err).Int("replayed", count).Msg("Replay stopped")
	}

	if err := target.Finish(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to finish replay")
	}
	log.Info().Int("entries", count).Msg("Replay complete")
}

// replayTarget consumes recorded entries.
type replayTarget interface {
	Send(ctx context.Context, e observe.Entry) error
	Finish(ctx context.Context) error
}

// workerTarget posts entries to a running worker.
type workerTarget struct {
	c *client.Client
}

func newWorkerTarget(ctx context.Context, port int) (*workerTarget, error) {
	c := client.NewLocal(port)
	if !c.IsRunning(ctx) {
		return nil, fmt.Errorf("no worker answering on port %d", port)
	}
	return &workerTarget{c: c}, nil
}

func (t *workerTarget) Send(ctx context.Context, e observe.Entry) error {
	var err error
	switch e.Kind {
	case observe.EntrySnapshot:
		_, err = t.c.PostSnapshot(ctx, client.Snapshot{HTML: e.HTML, URL: e.URL, CapturedAt: e.At})
	case observe.EntryInput:
		_, err = t.c.PostInput(ctx, e.Value, e.At)
	default:
		log.Debug().Str("kind", string(e.Kind)).Msg("Skipping unknown entry")
	}
	return err
}

func (t *workerTarget) Finish(ctx context.Context) error {
	state, err := t.c.GetState(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("phase", string(state.Phase)).
		Int("logged", len(state.Log)).
		Int("score", state.LastReconciledScore).
		Msg("Worker state after replay")
	return nil
}

// localTarget runs entries through an in-process machine and prints each
// finalized session as one JSON line on stdout.
type localTarget struct {
	machine   *session.Machine
	extractor *extract.Extractor
}

type stdoutSink struct{}

func (stdoutSink) Emit(_ context.Context, s *models.FinalizedSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func newLocalTarget(profilePath string) (*localTarget, error) {
	profile, err := extract.LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	return &localTarget{
		machine:   session.New(stdoutSink{}, session.Config{}),
		extractor: extract.New(profile),
	}, nil
}

func (t *localTarget) Send(_ context.Context, e observe.Entry) error {
	switch e.Kind {
	case observe.EntrySnapshot:
		obs, err := observe.ObservationFromSnapshot(t.extractor, e.Snapshot())
		if err != nil {
			log.Debug().Err(err).Msg("Skipping unreadable snapshot")
			return nil
		}
		t.machine.Process(obs)
	case observe.EntryInput:
		obs := session.InputObservation(e.Value)
		obs.At = e.At
		t.machine.Process(obs)
	}
	return nil
}

func (t *localTarget) Finish(context.Context) error {
	t.machine.Flush()
	return nil
}

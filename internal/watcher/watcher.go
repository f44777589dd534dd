// Package watcher reports changes to a single file, such as the settings
// document, so the worker can reload it without restarting.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events one editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Handlers are called from the watcher goroutine after events settle.
type Handlers struct {
	OnChange func() // target written or (re)created
	OnDelete func() // target removed or renamed away
}

// Watcher monitors one file. It watches the parent directory since
// fsnotify cannot watch a file that does not exist yet, and editors often
// replace files by rename.
type Watcher struct {
	targetPath string
	parentPath string
	handlers   Handlers
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	running    bool
	done       chan struct{}
	debounce   time.Duration
}

// New creates a Watcher for targetPath.
func New(targetPath string, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	target := filepath.Clean(targetPath)

	return &Watcher{
		targetPath: target,
		parentPath: filepath.Dir(target),
		handlers:   handlers,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		debounce:   DefaultDebounce,
	}, nil
}

// SetDebounce changes the settle delay. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching. A missing parent directory is logged; call
// Start again after creating it.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

// addWatch adds the parent directory to the watch list.
func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

type pending int

const (
	pendingNone pending = iota
	pendingChange
	pendingDelete
)

// watchLoop is the main event loop. The last event kind within the
// debounce window wins.
func (w *Watcher) watchLoop() {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		current = pendingNone
	)
	schedule := func(p pending) {
		current = p
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-timerC:
			timerC = nil
			p := current
			current = pendingNone
			w.fire(p)

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.targetPath {
				continue
			}

			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				log.Debug().Str("path", w.targetPath).Msg("Watched file removed")
				schedule(pendingDelete)
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				schedule(pendingChange)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire(p pending) {
	switch p {
	case pendingChange:
		log.Info().Str("path", w.targetPath).Msg("Watched file changed")
		if w.handlers.OnChange != nil {
			w.handlers.OnChange()
		}
	case pendingDelete:
		log.Info().Str("path", w.targetPath).Msg("Watched file deleted")
		if w.handlers.OnDelete != nil {
			w.handlers.OnDelete()
		}
	}
}

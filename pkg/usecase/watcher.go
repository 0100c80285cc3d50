package usecase

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads a Library when use case files in its directory change.
type Watcher struct {
	fs       *fsnotify.Watcher
	library  *Library
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Watch starts watching the library's directory.
func Watch(library *Library, logger zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(library.Dir()); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		library:  library,
		logger:   logger,
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
		<-w.done

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isUseCaseFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Use case file changed")
				w.scheduleReload()
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Use case watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.library.Reload(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload use cases, keeping previous set")
		}
	})
}

func isUseCaseFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md")
}

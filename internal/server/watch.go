package server

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// configWatcher calls onChange after the config file settles.
type configWatcher struct {
	watcher  *fsnotify.Watcher
	file     string
	onChange func()
	logger   zerolog.Logger
	done     chan struct{}
}

// watchConfig watches the directory holding file so that editors replacing
// the file by rename are still seen.
func watchConfig(file string, onChange func(), logger zerolog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &configWatcher{
		watcher:  watcher,
		file:     abs,
		onChange: onChange,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		done:     make(chan struct{}),
	}
	go w.loop()

	w.logger.Info().Str("file", abs).Msg("watching config for identity changes")
	return w, nil
}

func (w *configWatcher) loop() {
	defer close(w.done)

	var mu sync.Mutex
	var timer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.onChange)
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// Close stops watching.
func (w *configWatcher) Close() {
	w.watcher.Close()
	<-w.done
}

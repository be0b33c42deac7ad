package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/oa2a/oa2a/internal/logging"
)

// debounceWindow absorbs the write bursts editors produce when saving.
const debounceWindow = 250 * time.Millisecond

// Store holds the live settings and notifies subscribers on reload.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	onChange []func(Settings)
}

// NewStore wraps an initial settings value.
func NewStore(initial Settings) *Store {
	return &Store{current: initial}
}

// Current returns a copy of the live settings.
func (st *Store) Current() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// OnChange registers a callback invoked after each successful reload.
// Must be called before Watch starts.
func (st *Store) OnChange(fn func(Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onChange = append(st.onChange, fn)
}

func (st *Store) replace(s Settings) {
	st.mu.Lock()
	st.current = s
	callbacks := st.onChange
	st.mu.Unlock()
	for _, fn := range callbacks {
		fn(s)
	}
}

// Watch reloads the config file when it changes, until ctx is done. The
// config directory is watched rather than the file so renames and
// atomic-save editors are picked up.
func (st *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(Dir()); err != nil {
		return err
	}
	log.Debugf("watching %s for config changes", Dir())

	var timer *time.Timer
	reload := func() {
		s, err := Load()
		if err != nil {
			log.Warnf("config reload failed, keeping previous settings: %v", err)
			return
		}
		st.replace(s)
		log.Infof("config reloaded from %s", Path())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != Path() {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

// Package recipeopts persists per-model load options (context size, backend
// flags) across process restarts, as a single JSON document guarded by its
// own mutex and written with a temp-then-rename discipline.
package recipeopts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
)

var log = logging.Component("recipeopts")

// Options is the effective recipe-options record for one loaded model.
// LlamaCppArgs is kept as the raw free-form string the client supplied (e.g.
// "--flash-attn --n-gpu-layers 99"); it is shellwords-split into argv only at
// spawn time, by pkg/wrapped/llamacpp, so round-tripping through this store
// stays byte-equivalent to what the client sent.
type Options struct {
	CtxSize         int    `json:"ctx_size,omitempty"`
	LlamaCppBackend string `json:"llamacpp_backend,omitempty"`
	LlamaCppArgs    string `json:"llamacpp_args,omitempty"`
}

// Store is the recipe_options.json-backed map from model name to Options.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]Options

	watcher *fsnotify.Watcher
}

// Open loads path (starting with no entries if it doesn't exist yet; the
// file is first written by Save) and
// starts an fsnotify watch so externally-edited files are picked up without
// a restart.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Options)}

	if err := s.reloadLocked(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warnln("unable to start recipe options watcher, external edits will not be picked up")
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).Warnln("unable to watch recipe options directory")
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()

	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.mu.Lock()
			if err := s.reloadLocked(); err != nil {
				log.WithError(err).Warnln("unable to reload recipe options after external edit")
			}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warnln("recipe options watcher error")
		}
	}
}

// Close stops the background watcher, if one was started.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) reloadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to read recipe options: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var entries map[string]Options
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unable to parse recipe options: %w", err)
	}
	s.entries = entries
	return nil
}

// Get returns the persisted options for name, if any.
func (s *Store) Get(name string) (Options, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts, ok := s.entries[name]
	return opts, ok
}

// Save merges opts into the persisted document for name and writes it to
// disk atomically (temp file in the same directory, then rename).
func (s *Store) Save(name string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[name] = opts
	return s.persistLocked()
}

// Delete removes name's persisted options, if present.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; !ok {
		return nil
	}
	delete(s.entries, name)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal recipe options: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".recipe_options-*.json")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to rename temp file into place: %w", err)
	}
	return nil
}

// Package workflow serves named workflow templates from a directory and
// hot-reloads them on file changes.
package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when no template with the given name is loaded.
var ErrNotFound = fmt.Errorf("workflow template not found")

// Store holds workflow templates keyed by file name without the .json
// extension. A watcher goroutine keeps the set in sync with the directory.
type Store struct {
	dir string
	log *slog.Logger

	mu        sync.RWMutex
	templates map[string]json.RawMessage

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStore loads every *.json template under dir and starts watching for
// changes. Files that fail validation are skipped with a warning.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	s := &Store{
		dir:       dir,
		log:       log,
		templates: make(map[string]json.RawMessage),
		done:      make(chan struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s.loadFile(filepath.Join(dir, entry.Name()))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch template dir: %w", err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// Get returns the template with the given name, or ErrNotFound.
func (s *Store) Get(name string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tpl, nil
}

// Names returns the loaded template names, unordered.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

// Close stops the watcher goroutine.
func (s *Store) Close() error {
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Store) watch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("template watcher error", "error", err)
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		s.loadFile(event.Name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		name := templateName(event.Name)
		s.mu.Lock()
		delete(s.templates, name)
		s.mu.Unlock()
		s.log.Info("workflow template removed", "template", name)
	}
}

// loadFile reads and validates one template file. Invalid content leaves
// any previously loaded version in place.
func (s *Store) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("reading workflow template failed", "path", path, "error", err)
		return
	}
	if err := validateTemplate(data); err != nil {
		s.log.Warn("skipping invalid workflow template", "path", path, "error", err)
		return
	}

	name := templateName(path)
	s.mu.Lock()
	s.templates[name] = json.RawMessage(data)
	s.mu.Unlock()
	s.log.Info("workflow template loaded", "template", name, "bytes", len(data))
}

// validateTemplate checks the top-level shape: a non-empty JSON object
// whose values are node objects.
func validateTemplate(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("not valid json")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return fmt.Errorf("top level must be an object")
	}

	count := 0
	var shapeErr error
	parsed.ForEach(func(key, node gjson.Result) bool {
		count++
		if !node.IsObject() {
			shapeErr = fmt.Errorf("node %s is not an object", key.String())
			return false
		}
		return true
	})
	if shapeErr != nil {
		return shapeErr
	}
	if count == 0 {
		return fmt.Errorf("template has no nodes")
	}
	return nil
}

func templateName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

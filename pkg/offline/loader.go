package offline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader serves lookups from the built-in table extended by answers read
// from a YAML file or a directory of YAML files. Entries from disk are
// checked before the built-in ones.
type Loader struct {
	path string

	mu    sync.RWMutex
	table *Table
}

// NewLoader creates a loader for path. An empty path serves only the
// built-in table.
func NewLoader(path string) *Loader {
	return &Loader{path: path, table: Default()}
}

// Load reads the configured path and swaps in the merged table. On error
// the previous table stays active.
func (l *Loader) Load() (*Table, error) {
	merged := &Table{}
	if l.path != "" {
		files, err := l.files()
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			t, err := loadFile(path)
			if err != nil {
				return nil, fmt.Errorf("load %q: %w", path, err)
			}
			merged.Entries = append(merged.Entries, t.Entries...)
		}
	}
	merged.Entries = append(merged.Entries, Default().Entries...)

	l.mu.Lock()
	l.table = merged
	l.mu.Unlock()

	return merged, nil
}

// Lookup searches the active table.
func (l *Loader) Lookup(text string) (string, error) {
	return l.Table().Lookup(text)
}

// Table returns the active table.
func (l *Loader) Table() *Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table
}

func (l *Loader) files() ([]string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat answers path %q: %w", l.path, err)
	}
	if !info.IsDir() {
		return []string{l.path}, nil
	}

	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, fmt.Errorf("read answers dir %q: %w", l.path, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.path, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func loadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// WatchAndReload watches the configured path and reloads on every write
// or create of a YAML file. It blocks until done is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	if l.path == "" {
		<-done
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := l.path
	if info, err := os.Stat(l.path); err == nil && !info.IsDir() {
		// Editors often replace files, so watch the parent directory.
		dir = filepath.Dir(l.path)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isYAML(event.Name) {
				continue
			}
			if dir != l.path && filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			t, err := l.Load()
			if err != nil {
				slog.Warn("offline: reload failed", slog.String("path", event.Name), slog.String("error", err.Error()))
				continue
			}
			slog.Info("offline: answers reloaded", slog.Int("entries", t.Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

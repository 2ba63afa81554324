// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Workspace creates a small project tree and replays edits against it.
type Workspace struct {
	Root string
}

// NewWorkspace creates a new workspace generator rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root}
}

// Create lays out a minimal Python project.
func (w *Workspace) Create() error {
	files := map[string]string{
		"src/app.py":        "print('app')\n",
		"src/util.py":       "def helper():\n    pass\n",
		"tests/test_app.py": "def test_app():\n    assert True\n",
		"docs/README.md":    "# project\n",
		".git/HEAD":         "ref: refs/heads/main\n",
	}
	for rel, content := range files {
		if err := w.Write(rel, content); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the absolute path of rel.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.Root, rel)
}

// Write creates or replaces rel with content.
func (w *Workspace) Write(rel, content string) error {
	path := w.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// CreateMany writes n numbered files into dir and returns their paths.
func (w *Workspace) CreateMany(dir string, n int) ([]string, error) {
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rel := filepath.Join(dir, fmt.Sprintf("gen_%03d.txt", i))
		if err := w.Write(rel, fmt.Sprintf("file %d\n", i)); err != nil {
			return nil, err
		}
		paths = append(paths, w.Path(rel))
	}
	return paths, nil
}

// Events builds a timed event sequence for rel, one event per kind, step apart.
func (w *Workspace) Events(rel string, start time.Time, step time.Duration, kinds ...domain.EventKind) []domain.Event {
	events := make([]domain.Event, len(kinds))
	for i, kind := range kinds {
		events[i] = domain.Event{
			Path:      w.Path(rel),
			Kind:      kind,
			Timestamp: start.Add(time.Duration(i) * step),
		}
	}
	return events
}

// Fillers returns n created events for distinct paths under dir.
func (w *Workspace) Fillers(dir string, n int, start time.Time) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = domain.Event{
			Path:      w.Path(filepath.Join(dir, fmt.Sprintf("filler_%d.txt", i))),
			Kind:      domain.KindCreated,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return events
}

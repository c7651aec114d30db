// Package history records compare, update and migrate runs as JSON files.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
)

// Operation names the recorded command.
type Operation string

const (
	OpCompare Operation = "compare"
	OpUpdate  Operation = "update"
	OpMigrate Operation = "migrate"
)

// Entry is one recorded run.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Root      string    `json:"root"`

	// ProcessID links the run to its stored process state.
	ProcessID string `json:"process_id,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Counts *manifest.Counts `json:"counts,omitempty"`
	// Fixes lists the schema difference ids applied.
	Fixes []string `json:"fixes,omitempty"`

	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// History manages entries in one directory.
type History struct {
	dir string
	mu  sync.Mutex
}

// New returns a history rooted at dir. The directory is created on the
// first Record.
func New(dir string) (*History, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &History{dir: dir}, nil
}

// Dir returns the history directory.
func (h *History) Dir() string {
	return h.dir
}

// Record assigns e an id and timestamp and persists it.
func (h *History) Record(e *Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	e.Timestamp = time.Now().UTC()
	e.ID = fmt.Sprintf("%s-%s-%s", e.Operation, e.Timestamp.Format("2006-01-02T15-04-05"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12])

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	path := filepath.Join(h.dir, e.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns entries newest first. A limit of zero or less returns all.
func (h *History) List(limit int) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	files, err := h.files()
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for _, name := range files {
		e, err := h.read(name)
		if err != nil {
			continue
		}
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry with id.
func (h *History) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.read(id + ".json")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("entry not found: %s", id)
		}
		return nil, err
	}
	return e, nil
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed. Non-positive retention keeps everything.
func (h *History) Cleanup(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	files, err := h.files()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, name := range files {
		path := filepath.Join(h.dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(path) == nil {
			removed++
		}
	}
	return removed, nil
}

func (h *History) files() ([]string, error) {
	dirents, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}
	var names []string
	for _, d := range dirents {
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

func (h *History) read(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, name))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", name, err)
	}
	return &e, nil
}

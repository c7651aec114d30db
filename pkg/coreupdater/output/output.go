// Package output renders command reports in the selectable formats
// (pretty, plain, json, yaml).
//
// The package uses a registry so commands select a formatter by name:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/schema"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/updater"
)

// Difference is the printable form of a schema difference.
type Difference struct {
	ID          string `json:"id" yaml:"id"`
	Kind        string `json:"kind" yaml:"kind"`
	Table       string `json:"table" yaml:"table"`
	Severity    string `json:"severity" yaml:"severity"`
	Destructive bool   `json:"destructive" yaml:"destructive"`
	AutoFix     bool   `json:"auto_fix" yaml:"auto_fix"`
	Description string `json:"description" yaml:"description"`
}

// Differences converts schema differences for output.
func Differences(diffs []schema.Difference) []Difference {
	out := make([]Difference, len(diffs))
	for i, d := range diffs {
		out[i] = Difference{
			ID:          d.ID(),
			Kind:        d.Kind.String(),
			Table:       d.Table,
			Severity:    d.Severity().String(),
			Destructive: d.Destructive(),
			AutoFix:     d.Kind.AutoFix(),
			Description: d.Describe(),
		}
	}
	return out
}

// Process summarizes a stored process.
type Process struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Status    string    `json:"status" yaml:"status"`
	Step      int       `json:"step" yaml:"step"`
	Steps     int       `json:"steps" yaml:"steps"`
	Current   string    `json:"current,omitempty" yaml:"current,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	Details   string    `json:"details,omitempty" yaml:"details,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// FromState summarizes st; current describes the step at the cursor.
func FromState(st *process.State, current string) Process {
	return Process{
		ID:        st.ID,
		Name:      st.Process,
		Status:    string(st.Status),
		Step:      st.Cursor,
		Steps:     len(st.Steps),
		Current:   current,
		Error:     st.Error,
		Details:   st.Details,
		UpdatedAt: st.UpdatedAt,
	}
}

// Report is everything a command may print. Sections left empty are not
// rendered.
type Report struct {
	Command string `json:"command" yaml:"command"`
	Root    string `json:"root,omitempty" yaml:"root,omitempty"`

	// Installed is the recorded release of the installation.
	Installed *api.Release `json:"installed,omitempty" yaml:"installed,omitempty"`
	// Target is the release being converged to.
	Target *api.Release `json:"target,omitempty" yaml:"target,omitempty"`

	ChangeSet   *manifest.ChangeSet `json:"change_set,omitempty" yaml:"change_set,omitempty"`
	Differences []Difference        `json:"differences,omitempty" yaml:"differences,omitempty"`
	Releases    []api.Release       `json:"releases,omitempty" yaml:"releases,omitempty"`
	Update      *updater.Result     `json:"update,omitempty" yaml:"update,omitempty"`
	Processes   []Process           `json:"processes,omitempty" yaml:"processes,omitempty"`

	Duration time.Duration `json:"-" yaml:"-"`
	Warnings []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/filter"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/scanner"
)

// ProcessName identifies comparison processes in storage.
const ProcessName = "compare"

// Source provides remote release manifests.
type Source interface {
	ListRevision(ctx context.Context, revision string) (map[string]string, error)
}

// Settings start a comparison.
type Settings struct {
	Root           string `json:"root"`
	TargetVersion  string `json:"target_version"`
	TargetRevision string `json:"target_revision"`

	// OriginRevision overrides the revision recorded in the installation.
	OriginRevision string `json:"origin_revision,omitempty"`
}

// Result is the outcome of a completed comparison.
type Result struct {
	TargetVersion  string    `json:"target_version"`
	TargetRevision string    `json:"target_revision"`
	OriginRevision string    `json:"origin_revision,omitempty"`
	ChangeSet      ChangeSet `json:"change_set"`

	// Target is the filtered target manifest, needed to verify downloads.
	Target Manifest `json:"target"`
}

// FetchTarget downloads the target manifest.
type FetchTarget struct {
	Revision string `json:"revision"`
}

func (FetchTarget) Kind() string { return "fetch_target" }

// FetchOrigin downloads the manifest of the installed release.
type FetchOrigin struct {
	Revision string `json:"revision"`
}

func (FetchOrigin) Kind() string { return "fetch_origin" }

// ScanChunk hashes one chunk of the installed tree.
type ScanChunk struct {
	Chunk scanner.Chunk `json:"chunk"`
}

func (ScanChunk) Kind() string { return "scan_chunk" }

// Compare computes the change set from the collected manifests.
type Compare struct {
	OriginRevision string   `json:"origin_revision,omitempty"`
	Chunks         []string `json:"chunks"`
}

func (Compare) Kind() string { return "compare" }

const (
	dataTarget = "target"
	dataOrigin = "origin"
)

func chunkKey(dir string) string {
	return "installed:" + dir
}

// Comparator is the process handler producing a ChangeSet.
type Comparator struct {
	source  Source
	filters filter.Set
	workers int
	logger  *logging.Logger
}

// NewComparator creates a comparison handler. workers bounds concurrent
// hashing while scanning.
func NewComparator(source Source, filters filter.Set, workers int) *Comparator {
	return &Comparator{
		source:  source,
		filters: filters,
		workers: workers,
		logger:  logging.Get("compare"),
	}
}

// Name implements process.Handler.
func (c *Comparator) Name() string { return ProcessName }

// StepTypes implements process.Handler.
func (c *Comparator) StepTypes() []process.Step {
	return []process.Step{FetchTarget{}, FetchOrigin{}, ScanChunk{}, Compare{}}
}

// Plan implements process.Handler.
func (c *Comparator) Plan(_ context.Context, id string, s Settings) ([]process.Step, error) {
	if s.TargetRevision == "" {
		return nil, errors.New("target revision is required")
	}
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, fmt.Errorf("installation root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("installation root %s is not a directory", s.Root)
	}

	origin := s.OriginRevision
	if origin == "" {
		installed, err := install.Read(s.Root)
		switch {
		case err == nil:
			origin = installed.Revision
		case errors.Is(err, install.ErrUnknownVersion):
			c.logger.Warn("installed revision unknown, local edits cannot be detected", "id", id)
		default:
			return nil, err
		}
	}

	chunks, err := c.scanner(s.Root).Chunks()
	if err != nil {
		return nil, err
	}

	steps := []process.Step{FetchTarget{Revision: s.TargetRevision}}
	if origin != "" {
		steps = append(steps, FetchOrigin{Revision: origin})
	}
	dirs := make([]string, len(chunks))
	for i, ch := range chunks {
		steps = append(steps, ScanChunk{Chunk: ch})
		dirs[i] = ch.Dir
	}
	steps = append(steps, Compare{OriginRevision: origin, Chunks: dirs})
	return steps, nil
}

func (c *Comparator) scanner(root string) *scanner.Scanner {
	return scanner.New(scanner.Options{Root: root, Filters: c.filters, Workers: c.workers})
}

// Execute implements process.Handler.
func (c *Comparator) Execute(ctx context.Context, run *process.StepRun[Settings], step process.Step) process.Result {
	switch s := step.(type) {
	case FetchTarget:
		return c.fetch(ctx, run, dataTarget, s.Revision)
	case FetchOrigin:
		return c.fetch(ctx, run, dataOrigin, s.Revision)
	case ScanChunk:
		return c.scan(ctx, run, s)
	case Compare:
		return c.compare(run, s)
	default:
		return process.Failedf("unexpected step %s", step.Kind())
	}
}

func (c *Comparator) fetch(ctx context.Context, run *process.StepRun[Settings], key, revision string) process.Result {
	files, err := c.source.ListRevision(ctx, revision)
	if err != nil {
		return process.Failed(fmt.Sprintf("Failed to fetch file list for revision %s", revision), err.Error())
	}
	filtered := Manifest(c.filters.Apply(files))
	if err := run.Set(key, filtered); err != nil {
		return process.FailedErr(err, "")
	}
	c.logger.Debug("manifest fetched", "revision", revision, "files", len(files), "retained", len(filtered))
	return process.Done()
}

func (c *Comparator) scan(ctx context.Context, run *process.StepRun[Settings], s ScanChunk) process.Result {
	hashes, err := c.scanner(run.Settings.Root).Scan(ctx, s.Chunk)
	if err != nil {
		return process.Failed(fmt.Sprintf("Failed to scan %s", s.Chunk), err.Error())
	}
	if err := run.Set(chunkKey(s.Chunk.Dir), Manifest(hashes)); err != nil {
		return process.FailedErr(err, "")
	}
	return process.Done()
}

func (c *Comparator) compare(run *process.StepRun[Settings], s Compare) process.Result {
	var target, origin Manifest
	if ok, err := run.Get(dataTarget, &target); err != nil || !ok {
		return process.Failed("Target file list is missing", fmt.Sprint(err))
	}
	if s.OriginRevision != "" {
		if ok, err := run.Get(dataOrigin, &origin); err != nil || !ok {
			return process.Failed("Origin file list is missing", fmt.Sprint(err))
		}
	}

	installed := Manifest{}
	for _, dir := range s.Chunks {
		var chunk Manifest
		if ok, err := run.Get(chunkKey(dir), &chunk); err != nil || !ok {
			return process.Failed("Scan results are missing for "+dir, fmt.Sprint(err))
		}
		installed.Merge(chunk)
	}

	cs := Diff(origin, target, installed)
	result := Result{
		TargetVersion:  run.Settings.TargetVersion,
		TargetRevision: run.Settings.TargetRevision,
		OriginRevision: s.OriginRevision,
		ChangeSet:      cs,
		Target:         target,
	}
	if err := run.SetResult(result); err != nil {
		return process.FailedErr(err, "")
	}

	counts := cs.Counts()
	c.logger.Info("comparison finished",
		"target", run.Settings.TargetRevision,
		"change", counts.Change, "add", counts.Add, "remove", counts.Remove,
		"obsolete", counts.Obsolete, "manual_edits", counts.ManualEdits)
	return process.Done()
}

// Describe implements process.Handler.
func (c *Comparator) Describe(step process.Step) string {
	switch s := step.(type) {
	case FetchTarget:
		return "Downloading file list for target revision " + short(s.Revision)
	case FetchOrigin:
		return "Downloading file list for installed revision " + short(s.Revision)
	case ScanChunk:
		return "Scanning " + s.Chunk.String()
	case Compare:
		return "Comparing file lists"
	default:
		return step.Kind()
	}
}

func short(revision string) string {
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

var _ process.Handler[Settings] = (*Comparator)(nil)

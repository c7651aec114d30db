// Package manifest compares content-addressed file inventories.
//
// Three manifests take part in every comparison: origin (the release the
// installation was built from), target (the release to converge to) and
// installed (what is on disk). Diff classifies every differing path into a
// ChangeSet; Comparator computes the same thing as a resumable process,
// fetching the remote manifests and hashing the installed tree in chunks.
package manifest

import (
	"sort"
)

// Manifest maps forward-slash relative paths to git blob hashes.
type Manifest map[string]string

// Paths returns the manifest paths in sorted order.
func (m Manifest) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Subset returns the entries for paths. Paths missing from m are skipped.
func (m Manifest) Subset(paths []string) Manifest {
	out := make(Manifest, len(paths))
	for _, p := range paths {
		if h, ok := m[p]; ok {
			out[p] = h
		}
	}
	return out
}

// Merge copies the entries of other into m.
func (m Manifest) Merge(other Manifest) {
	for p, h := range other {
		m[p] = h
	}
}

// ChangeSet classifies differing paths. Each bucket maps a path to its
// manual edit flag: true when the installed file differs from the origin
// release, so that overwriting or removing it would lose local changes.
// The buckets are disjoint.
type ChangeSet struct {
	// Change holds paths present in target and installed with different hashes.
	Change map[string]bool `json:"change" yaml:"change"`

	// Add holds target paths absent from the installation.
	Add map[string]bool `json:"add" yaml:"add"`

	// Remove holds installed paths that origin shipped and target dropped.
	Remove map[string]bool `json:"remove" yaml:"remove"`

	// Obsolete holds installed paths unknown to both releases. They are
	// reported only and never removed.
	Obsolete map[string]bool `json:"obsolete" yaml:"obsolete"`
}

// NewChangeSet returns a change set with empty buckets.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Change:   map[string]bool{},
		Add:      map[string]bool{},
		Remove:   map[string]bool{},
		Obsolete: map[string]bool{},
	}
}

// Diff computes the change set converging installed to target. Paths with
// identical hashes in installed and target are already correct and appear
// in no bucket.
func Diff(origin, target, installed Manifest) ChangeSet {
	cs := NewChangeSet()

	for path, targetHash := range target {
		installedHash, ok := installed[path]
		if !ok {
			cs.Add[path] = false
			continue
		}
		if installedHash == targetHash {
			continue
		}
		originHash, inOrigin := origin[path]
		cs.Change[path] = inOrigin && installedHash != originHash
	}

	for path, installedHash := range installed {
		if _, ok := target[path]; ok {
			continue
		}
		if originHash, ok := origin[path]; ok {
			cs.Remove[path] = installedHash != originHash
		} else {
			cs.Obsolete[path] = true
		}
	}

	return cs
}

// Empty reports whether nothing needs to change. Obsolete paths do not
// count since they are never acted on.
func (cs ChangeSet) Empty() bool {
	return len(cs.Change) == 0 && len(cs.Add) == 0 && len(cs.Remove) == 0
}

// Downloads returns the sorted paths that must be fetched from the target
// release.
func (cs ChangeSet) Downloads() []string {
	return sortedKeys(cs.Change, cs.Add)
}

// Removals returns the sorted paths to delete.
func (cs ChangeSet) Removals() []string {
	return sortedKeys(cs.Remove)
}

// ManualEdits returns the sorted paths with local modifications that the
// update overwrites or deletes.
func (cs ChangeSet) ManualEdits() []string {
	var out []string
	for _, bucket := range []map[string]bool{cs.Change, cs.Remove} {
		for p, edited := range bucket {
			if edited {
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Counts summarizes the bucket sizes.
type Counts struct {
	Change      int `json:"change" yaml:"change"`
	Add         int `json:"add" yaml:"add"`
	Remove      int `json:"remove" yaml:"remove"`
	Obsolete    int `json:"obsolete" yaml:"obsolete"`
	ManualEdits int `json:"manual_edits" yaml:"manual_edits"`
}

// Counts returns bucket sizes.
func (cs ChangeSet) Counts() Counts {
	return Counts{
		Change:      len(cs.Change),
		Add:         len(cs.Add),
		Remove:      len(cs.Remove),
		Obsolete:    len(cs.Obsolete),
		ManualEdits: len(cs.ManualEdits()),
	}
}

func sortedKeys(buckets ...map[string]bool) []string {
	var out []string
	for _, b := range buckets {
		for p := range b {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

package output

import (
	"sort"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
)

// Change set row statuses.
const (
	StatusChange   = "change"
	StatusAdd      = "add"
	StatusRemove   = "remove"
	StatusObsolete = "obsolete"
)

// ChangeRow is one path of a change set.
type ChangeRow struct {
	Status string
	Path   string
	// Modified marks local edits the update discards.
	Modified bool
}

// ChangeRows flattens cs in bucket order, sorted by path within a bucket.
func ChangeRows(cs *manifest.ChangeSet) []ChangeRow {
	if cs == nil {
		return nil
	}
	var rows []ChangeRow
	for _, b := range []struct {
		status string
		paths  map[string]bool
	}{
		{StatusChange, cs.Change},
		{StatusAdd, cs.Add},
		{StatusRemove, cs.Remove},
		{StatusObsolete, cs.Obsolete},
	} {
		paths := make([]string, 0, len(b.paths))
		for p := range b.paths {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			rows = append(rows, ChangeRow{Status: b.status, Path: p, Modified: b.paths[p] && b.status != StatusObsolete})
		}
	}
	return rows
}

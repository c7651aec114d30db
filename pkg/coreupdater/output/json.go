package output

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
)

// document is the structure shared by the json and yaml formatters.
type document struct {
	Report   `yaml:",inline"`
	Counts   *manifest.Counts `json:"counts,omitempty" yaml:"counts,omitempty"`
	Elapsed  string           `json:"duration,omitempty" yaml:"duration,omitempty"`
	Complete bool             `json:"complete" yaml:"complete"`
}

func newDocument(r *Report) document {
	doc := document{Report: *r, Elapsed: formatDurationString(r.Duration), Complete: true}
	if r.ChangeSet != nil {
		c := r.ChangeSet.Counts()
		doc.Counts = &c
		doc.Complete = r.ChangeSet.Empty()
	}
	return doc
}

// JSONFormatter formats output as indented JSON.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newDocument(r))
}

// formatDurationString formats a duration for machine readable output.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

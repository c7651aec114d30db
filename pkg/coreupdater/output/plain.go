package output

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// PlainFormatter writes tab aligned tables without styling, one table per
// non-empty report section.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	var sections [][][]string

	if r.Installed != nil || r.Target != nil {
		rows := [][]string{{"RELEASE", "NAME", "REVISION", "TYPE"}}
		if r.Installed != nil {
			rows = append(rows, []string{"installed", r.Installed.Name, r.Installed.Revision, r.Installed.Type})
		}
		if r.Target != nil {
			rows = append(rows, []string{"target", r.Target.Name, r.Target.Revision, r.Target.Type})
		}
		sections = append(sections, rows)
	}

	if len(r.Releases) > 0 {
		rows := [][]string{{"NAME", "REVISION", "TYPE"}}
		for _, rel := range r.Releases {
			rows = append(rows, []string{rel.Name, rel.Revision, rel.Type})
		}
		sections = append(sections, rows)
	}

	if r.ChangeSet != nil {
		rows := [][]string{{"STATUS", "PATH", "MODIFIED"}}
		for _, row := range ChangeRows(r.ChangeSet) {
			modified := ""
			if row.Modified {
				modified = "yes"
			}
			rows = append(rows, []string{row.Status, row.Path, modified})
		}
		sections = append(sections, rows)
	}

	if len(r.Differences) > 0 {
		rows := [][]string{{"ID", "SEVERITY", "DESCRIPTION"}}
		for _, d := range r.Differences {
			rows = append(rows, []string{d.ID, d.Severity, firstLine(d.Description)})
		}
		sections = append(sections, rows)
	}

	if len(r.Processes) > 0 {
		rows := [][]string{{"ID", "NAME", "STATUS", "STEP", "CURRENT"}}
		for _, p := range r.Processes {
			rows = append(rows, []string{p.ID, p.Name, p.Status,
				strconv.Itoa(p.Step) + "/" + strconv.Itoa(p.Steps), p.Current})
		}
		sections = append(sections, rows)
	}

	if u := r.Update; u != nil {
		rows := [][]string{
			{"version", u.VersionName},
			{"type", u.VersionType},
		}
		if u.BackupDir != "" {
			rows = append(rows, []string{"backup", u.BackupDir})
		}
		for _, fail := range u.BackupFailures {
			rows = append(rows, []string{"backup failed", fail.Path + ": " + fail.Error})
		}
		sections = append(sections, rows)
	}

	for i, rows := range sections {
		if i > 0 {
			w.WriteByte('\n')
		}
		if err := writeTable(w, rows); err != nil {
			return err
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

func writeTable(w *bytes.Buffer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, row := range rows {
		if _, err := tw.Write([]byte(strings.Join(row, "\t") + "\n")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)

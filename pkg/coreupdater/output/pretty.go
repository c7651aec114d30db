package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
)

// PrettyFormatter formats output with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	if r.Installed != nil || r.Target != nil {
		w.WriteString(f.formatHeader(r))
		w.WriteString("\n")
	}

	if len(r.Releases) > 0 {
		w.WriteString(f.formatReleases(r.Releases))
	}

	if r.ChangeSet != nil {
		w.WriteString(f.formatChangeSet(r))
	}

	if r.Differences != nil {
		w.WriteString(f.formatDifferences(r.Differences))
	}

	if len(r.Processes) > 0 {
		w.WriteString(f.formatProcesses(r.Processes))
	}

	if r.Update != nil {
		w.WriteString(f.formatUpdate(r))
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string
	if r.Root != "" {
		lines = append(lines, LabelStyle.Render("Root:")+" "+PathStyle.Render(r.Root))
	}
	if r.Installed != nil {
		lines = append(lines, LabelStyle.Render("Installed:")+" "+releaseLabel(*r.Installed))
	}
	if r.Target != nil {
		lines = append(lines, LabelStyle.Render("Target:")+"    "+releaseLabel(*r.Target))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func releaseLabel(rel api.Release) string {
	s := ValueStyle.Render(rel.Name)
	if rel.Revision != "" {
		rev := rel.Revision
		if len(rev) > 10 {
			rev = rev[:10]
		}
		s += " " + MutedStyle.Render("("+rev+")")
	}
	return s
}

func (f *PrettyFormatter) formatReleases(releases []api.Release) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Releases") + "\n")
	for _, rel := range releases {
		kind := MutedStyle.Render(padRight(rel.Type, 7))
		if rel.Stable() {
			kind = SuccessStyle.Render(padRight("stable", 7))
		}
		sb.WriteString(fmt.Sprintf("  %s  %s\n", kind, releaseLabel(rel)))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatChangeSet(r *Report) string {
	rows := ChangeRows(r.ChangeSet)
	if r.ChangeSet.Empty() && len(rows) == 0 {
		return SuccessStyle.Render("  Installation matches the target release") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s%s\n", TableHeaderStyle.Render(padRight("STATUS", 9)), TableHeaderStyle.Render("PATH")))
	for _, row := range rows {
		path := PathStyle.Render(row.Path)
		if row.Modified {
			path += " " + WarningStyle.Render("(modified)")
		}
		sb.WriteString(fmt.Sprintf("  %s  %s\n", statusStyle(row.Status).Render(padRight(row.Status, 9)), path))
	}

	c := r.ChangeSet.Counts()
	parts := []string{
		LabelStyle.Render("Change:") + " " + ValueStyle.Render(humanize.Comma(int64(c.Change))),
		LabelStyle.Render("Add:") + " " + ValueStyle.Render(humanize.Comma(int64(c.Add))),
		LabelStyle.Render("Remove:") + " " + ValueStyle.Render(humanize.Comma(int64(c.Remove))),
	}
	if c.Obsolete > 0 {
		parts = append(parts, LabelStyle.Render("Obsolete:")+" "+MutedStyle.Render(humanize.Comma(int64(c.Obsolete))))
	}
	if r.Duration > 0 {
		parts = append(parts, MutedStyle.Render("in "+formatDuration(r.Duration)))
	}
	sb.WriteString(FooterBox.Render(strings.Join(parts, "  ")))
	sb.WriteString("\n")

	if c.ManualEdits > 0 {
		sb.WriteString(WarningStyle.Render(fmt.Sprintf("%s with local modifications will be overwritten",
			plural(c.ManualEdits, "file"))) + "\n")
	}
	if c.Obsolete > 0 {
		sb.WriteString(MutedStyle.Render(fmt.Sprintf("%s unknown to both releases will be kept",
			plural(c.Obsolete, "obsolete file"))) + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatDifferences(diffs []Difference) string {
	if len(diffs) == 0 {
		return SuccessStyle.Render("  Database schema matches") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Database differences") + "\n")
	for _, d := range diffs {
		marker := statusStyle(d.Severity).Render(padRight(d.Severity, 8))
		sb.WriteString(fmt.Sprintf("  %s  %s\n", marker, d.Description))
		var notes []string
		if d.Destructive {
			notes = append(notes, ErrorStyle.Render("destructive"))
		}
		if d.AutoFix {
			notes = append(notes, SuccessStyle.Render("auto fix"))
		}
		notes = append(notes, MutedStyle.Render(d.ID))
		sb.WriteString("            " + strings.Join(notes, " ") + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatProcesses(procs []Process) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Processes") + "\n")
	for _, p := range procs {
		line := fmt.Sprintf("  %s  %s  %s  %s",
			ValueStyle.Render(p.ID),
			LabelStyle.Render(p.Name),
			processStatus(p.Status),
			MutedStyle.Render(fmt.Sprintf("step %d/%d", p.Step, p.Steps)))
		if p.Current != "" {
			line += " " + MutedStyle.Render(p.Current)
		}
		if !p.UpdatedAt.IsZero() {
			line += " " + MutedStyle.Render(humanize.RelTime(p.UpdatedAt, time.Now(), "ago", "from now"))
		}
		sb.WriteString(line + "\n")
		if p.Error != "" {
			sb.WriteString("    " + ErrorStyle.Render(p.Error) + "\n")
		}
	}
	return sb.String()
}

func processStatus(status string) string {
	switch status {
	case "done":
		return SuccessStyle.Render(status)
	case "failed":
		return ErrorStyle.Render(status)
	case "in_progress":
		return WarningStyle.Render(status)
	default:
		return MutedStyle.Render(status)
	}
}

func (f *PrettyFormatter) formatUpdate(r *Report) string {
	u := r.Update
	lines := []string{
		SuccessStyle.Render("Updated to") + " " + ValueStyle.Render(u.VersionName) + " " + MutedStyle.Render("("+u.VersionType+")"),
	}
	if u.BackupDir != "" {
		lines = append(lines, LabelStyle.Render("Backup:")+" "+PathStyle.Render(u.BackupDir))
	}
	content := strings.Join(lines, "\n")
	if len(u.BackupFailures) == 0 {
		return FooterBox.Render(content) + "\n"
	}

	var sb strings.Builder
	sb.WriteString(FooterBox.Render(content) + "\n")
	var failures []string
	for _, fail := range u.BackupFailures {
		failures = append(failures, PathStyle.Render(fail.Path)+" "+ErrorStyle.Render(fail.Error))
	}
	sb.WriteString(ErrorBox.Render(ErrorStyle.Bold(true).Render("Backup failed for")+"\n"+strings.Join(failures, "\n")) + "\n")
	return sb.String()
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)

package main

import (
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List available releases",
	Long: `List the releases the server offers, stable releases newest first.

The release selected by update_mode is shown as the target.`,
	Args: cobra.NoArgs,
	RunE: runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func runVersions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	releases, err := a.client.Versions(ctx)
	if err != nil {
		return err
	}
	api.SortReleases(releases)

	report := &output.Report{
		Command:   "versions",
		Root:      a.cfg.Root,
		Installed: installedRelease(a.cfg.Root),
		Releases:  releases,
	}
	mode, err := api.ParseMode(a.cfg.UpdateMode)
	if err != nil {
		return err
	}
	if latest, ok := api.Latest(releases, mode); ok {
		report.Target = &latest
		if report.Installed != nil && api.Newer(latest.Name, report.Installed.Name) {
			report.Warnings = append(report.Warnings, "a newer release is available: "+latest.Name)
		}
	}
	report.Duration = time.Since(start)
	return render(report)
}

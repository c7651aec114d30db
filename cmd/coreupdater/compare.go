package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesainslie/coreupdater/cmd/coreupdater/tui"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Show what an update would change",
	Long: `Compare the installation with a release.

The installed files are hashed and compared with the release's file list.
Files are reported as changed, added or removed; files that were edited
locally since the installed release are marked as modified. Obsolete files,
unknown to both releases, are listed but never touched.`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

var compareOpts comparisonOptions

// comparisonOptions select the release to compare with.
type comparisonOptions struct {
	version string
	origin  string
	resume  string
}

func (o *comparisonOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.version, "version", "", "target release name or revision (default: newest for update_mode)")
	cmd.Flags().StringVar(&o.origin, "origin", "", "revision the installation was installed from (default: recorded)")
	cmd.Flags().StringVar(&o.resume, "resume", "", "continue the comparison with this process id")
}

func init() {
	compareOpts.bind(compareCmd)
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	res, target, id, err := compareInstallation(ctx, a, compareOpts)
	entry := &history.Entry{Operation: history.OpCompare, ProcessID: id, To: target.Name, Duration: time.Since(start)}
	if err != nil {
		entry.Error = err.Error()
		record(a, entry)
		return err
	}

	counts := res.ChangeSet.Counts()
	entry.Counts = &counts
	entry.Success = true
	installed := installedRelease(a.cfg.Root)
	if installed != nil {
		entry.From = installed.Name
	}
	record(a, entry)

	return render(&output.Report{
		Command:   "compare",
		Root:      a.cfg.Root,
		Installed: installed,
		Target:    &target,
		ChangeSet: &res.ChangeSet,
		Duration:  time.Since(start),
	})
}

// compareInstallation starts or resumes a comparison and drives it to
// completion.
func compareInstallation(ctx context.Context, a *app, opts comparisonOptions) (*manifest.Result, api.Release, string, error) {
	var (
		target api.Release
		id     = opts.resume
	)

	if id != "" {
		st, err := a.compare.Load(id)
		if err != nil {
			return nil, target, id, err
		}
		var s manifest.Settings
		if err := json.Unmarshal(st.Settings, &s); err != nil {
			return nil, target, id, fmt.Errorf("decoding settings of %s: %w", id, err)
		}
		target = api.Release{Name: s.TargetVersion, Revision: s.TargetRevision}
		printVerbose("Resuming comparison %s at step %d/%d", id, st.Cursor, len(st.Steps))
	} else {
		var err error
		if target, err = resolveTarget(ctx, a, opts.version); err != nil {
			return nil, target, "", err
		}
		id, err = a.compare.Start(ctx, manifest.Settings{
			Root:           a.cfg.Root,
			TargetVersion:  target.Name,
			TargetRevision: target.Revision,
			OriginRevision: opts.origin,
		})
		if err != nil {
			return nil, target, "", err
		}
		printVerbose("Started comparison %s with %s (%s)", id, target.Name, target.Revision)
	}

	title := fmt.Sprintf("Comparing %s with %s", a.cfg.Root, target.Name)
	err := withProgress(ctx, title, func(ctx context.Context, report func(tui.Progress)) error {
		st, err := drive(ctx, a.profile.Budget, a.compare, id, report)
		if err != nil {
			return fmt.Errorf("%w (resume with 'coreupdater compare --resume %s')", err, id)
		}
		if st.Status == process.StatusFailed {
			return failure(st)
		}
		return nil
	})
	if err != nil {
		return nil, target, id, err
	}

	var res manifest.Result
	if err := a.compare.Result(id, &res); err != nil {
		return nil, target, id, err
	}
	if target.Type == "" {
		target.Type = typeOf(ctx, a, target)
	}
	return &res, target, id, nil
}

// typeOf looks up the type of a release restored from stored settings.
func typeOf(ctx context.Context, a *app, rel api.Release) string {
	releases, err := a.client.Versions(ctx)
	if err != nil {
		return ""
	}
	if found, ok := api.Find(releases, rel.Revision); ok {
		return found.Type
	}
	return ""
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jamesainslie/coreupdater/cmd/coreupdater/tui"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/requirements"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/updater"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the installation to a release",
	Long: `Update the installation to a release.

The installation is compared with the release first. Changed and added
files are then downloaded in chunks, verified against the release's hashes
and staged; locally modified files are backed up. A generated shell script
moves the staged files into place and removes files the release dropped.
Finally the version is recorded, caches are cleared and the database schema
is migrated.

With --manual the update script is not run; coreupdater prints how to run
it and waits until it has finished.`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

var (
	updateCompare comparisonOptions
	updateResume  string
	updateManual  bool
)

func init() {
	updateCmd.Flags().StringVar(&updateCompare.version, "version", "", "target release name or revision (default: newest for update_mode)")
	updateCmd.Flags().StringVar(&updateCompare.origin, "origin", "", "revision the installation was installed from (default: recorded)")
	updateCmd.Flags().StringVar(&updateResume, "resume", "", "continue the update with this process id")
	updateCmd.Flags().BoolVar(&updateManual, "manual", false, "run the update script yourself; wait for it to finish")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	installed := installedRelease(a.cfg.Root)
	entry := &history.Entry{Operation: history.OpUpdate}
	if installed != nil {
		entry.From = installed.Name
	}

	report, err := update(ctx, a, installed, entry)
	entry.Duration = time.Since(start)
	if err != nil {
		entry.Error = err.Error()
		record(a, entry)
		return err
	}
	entry.Success = true
	record(a, entry)

	report.Duration = time.Since(start)
	return render(report)
}

func update(ctx context.Context, a *app, installed *api.Release, entry *history.Entry) (*output.Report, error) {
	report := &output.Report{Command: "update", Root: a.cfg.Root, Installed: installed}

	if err := checkRequirements(a); err != nil {
		return nil, err
	}
	report.Warnings = append(report.Warnings, checkClientVersion(ctx, a)...)

	id := updateResume
	if id == "" {
		res, target, compareID, err := compareInstallation(ctx, a, updateCompare)
		if err != nil {
			return nil, err
		}
		report.Target = &target
		report.ChangeSet = &res.ChangeSet
		entry.To = target.Name
		counts := res.ChangeSet.Counts()
		entry.Counts = &counts

		if res.ChangeSet.Empty() && installed != nil && installed.Revision == target.Revision {
			report.Warnings = append(report.Warnings, "installation is already at "+target.Name)
			return report, nil
		}

		id, err = a.update.Start(ctx, updater.Settings{
			Root:           a.cfg.Root,
			AdminDir:       a.cfg.AdminDir,
			TargetVersion:  target.Name,
			TargetRevision: target.Revision,
			VersionType:    target.Type,
			VersionName:    target.Name,
			ChangeSet:      res.ChangeSet,
			TargetFiles:    res.Target,
		})
		if err != nil {
			return nil, err
		}
		// the update carries its own copy of the change set
		_ = a.compare.Delete(compareID)
	} else {
		st, err := a.update.Load(id)
		if err != nil {
			return nil, err
		}
		var s updater.Settings
		if err := json.Unmarshal(st.Settings, &s); err != nil {
			return nil, fmt.Errorf("decoding settings of %s: %w", id, err)
		}
		report.Target = &api.Release{Name: s.VersionName, Revision: s.TargetRevision, Type: s.VersionType}
		report.ChangeSet = &s.ChangeSet
		entry.To = s.VersionName
		counts := s.ChangeSet.Counts()
		entry.Counts = &counts
	}
	entry.ProcessID = id

	title := fmt.Sprintf("Updating %s to %s", a.cfg.Root, report.Target.Name)
	run := func(ctx context.Context, progress func(tui.Progress)) error {
		return runUpdateProcess(ctx, a, id, progress)
	}
	var err error
	if updateManual {
		err = run(ctx, nil)
	} else {
		err = withProgress(ctx, title, run)
	}
	if err != nil {
		return nil, err
	}

	var res updater.Result
	if err := a.update.Result(id, &res); err != nil {
		return nil, err
	}
	report.Update = &res
	if n := len(res.BackupFailures); n > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d modified files could not be backed up", n))
	}
	return report, nil
}

// maxScriptAttempts bounds how often one update asks for its script.
const maxScriptAttempts = 2

// runUpdateProcess drives update id, performing the external actions it
// requests.
func runUpdateProcess(ctx context.Context, a *app, id string, report func(tui.Progress)) error {
	logger := logging.Get("updater")
	attempts := 0
	var lastErr error

	for {
		st, err := drive(ctx, a.profile.Budget, a.update, id, report)
		if err != nil {
			return fmt.Errorf("%w (resume with 'coreupdater update --resume %s')", err, id)
		}
		switch {
		case st.Status == process.StatusFailed:
			return failure(st)
		case st.Status == process.StatusDone:
			return nil
		}

		attempts++
		if attempts > maxScriptAttempts {
			if lastErr != nil {
				return fmt.Errorf("update script did not finish: %w", lastErr)
			}
			return errors.New("update script did not finish")
		}

		ext := *st.External
		if updateManual {
			printInfo("Run the update script as the owner of the installation:\n\n  sh %s %s\n", ext.Target, ext.Args["process_id"])
			printInfo("Waiting for the script to finish...")
			if err := updater.WaitForScript(ctx, ext.Target, ext.Args["response"]); err != nil {
				return fmt.Errorf("waiting for update script: %w (resume with 'coreupdater update --resume %s')", err, id)
			}
			continue
		}

		if _, lastErr = updater.RunExternal(ctx, ext); lastErr != nil {
			// the script records its failure in the response file, which
			// the next step reports
			logger.Warn("update script reported failure", "id", id, "error", lastErr)
		}
	}
}

// checkRequirements verifies the installation can take the update.
func checkRequirements(a *app) error {
	free, err := a.cfg.MinFreeSpaceBytes()
	if err != nil {
		return err
	}
	req := requirements.Requirements{
		Root:         a.cfg.Root,
		MinFreeSpace: free,
		Writable:     append([]string{a.cfg.AdminDir}, a.cfg.Cache.Dirs...),
	}
	return req.Err()
}

// checkClientVersion asks the server whether this client is still
// supported. Problems only produce warnings.
func checkClientVersion(ctx context.Context, a *app) []string {
	if version == "dev" {
		return nil
	}
	check, err := a.client.CheckModuleVersion(ctx, version)
	if err != nil {
		logging.Get("api").Warn("client version check failed", "error", err)
		return nil
	}
	if !check.Supported {
		return []string{fmt.Sprintf("coreupdater %s is no longer supported, please upgrade to %s", version, check.Latest)}
	}
	return nil
}

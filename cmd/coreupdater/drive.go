package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/coreupdater/cmd/coreupdater/tui"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/spf13/viper"
)

// stepper is a processor as seen by the drive loop.
type stepper interface {
	process.Stepper
	Describe(id string) (string, error)
}

// drive runs batches of steps within the tuned budget until the process is
// terminal or waits for an external action. State is persisted after every
// step, so an interrupted drive resumes from the last completed step.
func drive(ctx context.Context, budget process.Budget, p stepper, id string, report func(tui.Progress)) (*process.State, error) {
	observe := func(st *process.State) {
		if report == nil {
			return
		}
		desc, err := p.Describe(st.ID)
		if err != nil {
			desc = ""
		}
		report(tui.Progress{
			Process:     st.Process,
			Step:        st.Cursor,
			Steps:       len(st.Steps),
			Description: desc,
			Fraction:    st.Progress(),
		})
	}

	for {
		st, err := process.Run(ctx, p, id, budget, observe)
		if err != nil {
			return st, err
		}
		if st == nil {
			return nil, fmt.Errorf("process %s did not advance", id)
		}
		if st.Status.Terminal() || st.NeedsExternal() {
			return st, nil
		}
		logging.Get("progress").Debug("batch finished", "id", id, "cursor", st.Cursor, "steps", len(st.Steps))
	}
}

// withProgress runs work behind the progress view, or with plain progress
// lines on stderr when not interactive.
func withProgress(ctx context.Context, title string, work func(ctx context.Context, report func(tui.Progress)) error) error {
	if interactive() {
		return tui.Run(ctx, title, work)
	}

	printInfo("%s", title)
	last := ""
	return work(ctx, func(p tui.Progress) {
		line := fmt.Sprintf("[%d/%d] %s", p.Step, p.Steps, p.Description)
		if line != last {
			last = line
			printInfo("%s", line)
		}
	})
}

// failure formats a failed process as an error naming the id to inspect.
func failure(st *process.State) error {
	msg := fmt.Sprintf("%s %s failed: %s", st.Process, st.ID, st.Error)
	if st.Details != "" {
		msg += "\n" + st.Details
	}
	return errors.New(msg)
}

// resolveTarget picks the release named ref, or the newest release of the
// configured update mode.
func resolveTarget(ctx context.Context, a *app, ref string) (api.Release, error) {
	releases, err := a.client.Versions(ctx)
	if err != nil {
		return api.Release{}, err
	}
	if ref != "" {
		rel, ok := api.Find(releases, ref)
		if !ok {
			return api.Release{}, fmt.Errorf("release %q not found", ref)
		}
		return rel, nil
	}
	mode, err := api.ParseMode(a.cfg.UpdateMode)
	if err != nil {
		return api.Release{}, err
	}
	rel, ok := api.Latest(releases, mode)
	if !ok {
		return api.Release{}, fmt.Errorf("no release available for update mode %s", mode)
	}
	return rel, nil
}

// installedRelease returns the recorded release of root, or nil if none is
// recorded.
func installedRelease(root string) *api.Release {
	info, err := install.Read(root)
	if err != nil {
		if !errors.Is(err, install.ErrUnknownVersion) {
			logging.Get("process").Warn("reading installed version failed", "error", err)
		}
		return nil
	}
	return &api.Release{Name: info.Version, Revision: info.Revision, Type: info.Type}
}

// render writes r in the selected output format.
func render(r *output.Report) error {
	format := viper.GetString("output")
	if format == "" {
		format = "pretty"
	}
	formatter, err := output.Get(format)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", format, output.Available())
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return err
	}
	_, err = stdout.Write(buf.Bytes())
	return err
}

// record appends e to the history when enabled. Failures only warn.
func record(a *app, e *history.Entry) {
	if a.history == nil {
		return
	}
	e.Root = a.cfg.Root
	if err := a.history.Record(e); err != nil {
		logging.Get("process").Warn("recording history failed", "error", err)
		fmt.Fprintf(os.Stderr, "Warning: could not record history: %v\n", err)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/jamesainslie/coreupdater/cmd/coreupdater/tui"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countStep struct {
	N int `json:"n"`
}

func (countStep) Kind() string { return "count" }

type breakStep struct{}

func (breakStep) Kind() string { return "break" }

type waitStep struct{}

func (waitStep) Kind() string { return "wait" }

type jobSettings struct {
	Steps int  `json:"steps"`
	Break bool `json:"break"`
	Wait  bool `json:"wait"`
}

type jobHandler struct{}

func (jobHandler) Name() string { return "job" }

func (jobHandler) StepTypes() []process.Step {
	return []process.Step{countStep{}, breakStep{}, waitStep{}}
}

func (jobHandler) Plan(_ context.Context, _ string, s jobSettings) ([]process.Step, error) {
	var steps []process.Step
	for i := 1; i <= s.Steps; i++ {
		steps = append(steps, countStep{N: i})
	}
	if s.Wait {
		steps = append(steps, waitStep{})
	}
	if s.Break {
		steps = append(steps, breakStep{})
	}
	return steps, nil
}

func (jobHandler) Execute(_ context.Context, run *process.StepRun[jobSettings], step process.Step) process.Result {
	switch s := step.(type) {
	case countStep:
		if run.Index == run.Total-1 {
			_ = run.SetResult(s.N)
		}
		return process.Done()
	case waitStep:
		return process.Await(process.External{Action: "wait", Target: "somewhere"})
	default:
		return process.Failed("broken", "step "+step.Kind())
	}
}

func (jobHandler) Describe(step process.Step) string {
	return "Running " + step.Kind()
}

func newJobProcessor(t *testing.T) *process.Processor[jobSettings] {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })
	p, err := process.New[jobSettings](store, jobHandler{})
	require.NoError(t, err)
	return p
}

func TestDrive_RunsAllBatches(t *testing.T) {
	p := newJobProcessor(t)
	ctx := context.Background()
	id, err := p.Start(ctx, jobSettings{Steps: 5})
	require.NoError(t, err)

	var seen []tui.Progress
	st, err := drive(ctx, process.Budget{MaxSteps: 2}, p, id, func(pr tui.Progress) {
		seen = append(seen, pr)
	})
	require.NoError(t, err)
	assert.Equal(t, process.StatusDone, st.Status)
	require.Len(t, seen, 5)
	assert.Equal(t, "job", seen[0].Process)
	assert.Equal(t, 1, seen[0].Step)
	assert.Equal(t, 5, seen[4].Steps)

	var last int
	require.NoError(t, p.Result(id, &last))
	assert.Equal(t, 5, last)
}

func TestDrive_StopsForExternal(t *testing.T) {
	p := newJobProcessor(t)
	ctx := context.Background()
	id, err := p.Start(ctx, jobSettings{Steps: 2, Wait: true})
	require.NoError(t, err)

	st, err := drive(ctx, process.Budget{}, p, id, nil)
	require.NoError(t, err)
	assert.True(t, st.NeedsExternal())
	assert.Equal(t, "somewhere", st.External.Target)
	assert.False(t, st.Status.Terminal())
}

func TestDrive_Failure(t *testing.T) {
	p := newJobProcessor(t)
	ctx := context.Background()
	id, err := p.Start(ctx, jobSettings{Steps: 1, Break: true})
	require.NoError(t, err)

	st, err := drive(ctx, process.Budget{}, p, id, nil)
	require.NoError(t, err)
	require.Equal(t, process.StatusFailed, st.Status)

	err = failure(st)
	assert.EqualError(t, err, "job "+id+" failed: broken\nstep break")
}

func TestDrive_Cancelled(t *testing.T) {
	p := newJobProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	id, err := p.Start(ctx, jobSettings{Steps: 3})
	require.NoError(t, err)
	cancel()

	_, err = drive(ctx, process.Budget{}, p, id, nil)
	assert.ErrorIs(t, err, context.Canceled)

	// the process is untouched and resumes with a live context
	st, err := drive(context.Background(), process.Budget{}, p, id, nil)
	require.NoError(t, err)
	assert.Equal(t, process.StatusDone, st.Status)
}

func TestWithProgress_PlainLines(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("no_interactive", true)
	viper.Set("quiet", true)

	calls := 0
	err := withProgress(context.Background(), "title", func(_ context.Context, report func(tui.Progress)) error {
		report(tui.Progress{Step: 1, Steps: 2, Description: "one"})
		report(tui.Progress{Step: 1, Steps: 2, Description: "one"})
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRender_Formats(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })

	report := &output.Report{
		Command: "compare",
		Root:    "/srv/shop",
		Target:  &api.Release{Name: "1.5.0", Revision: "abc", Type: api.TypeRelease},
		ChangeSet: &manifest.ChangeSet{
			Add: map[string]bool{"classes/New.php": false},
		},
	}

	viper.Set("output", "json")
	require.NoError(t, render(report))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "compare", doc["command"])
	assert.Equal(t, false, doc["complete"])

	viper.Set("output", "xml")
	assert.ErrorContains(t, render(report), `unknown output format "xml"`)
}

func TestInstalledRelease(t *testing.T) {
	root := t.TempDir()
	assert.Nil(t, installedRelease(root))

	require.NoError(t, install.Write(root, install.Info{Version: "1.4.0", Revision: "r14", Type: api.TypeRelease}))
	rel := installedRelease(root)
	require.NotNil(t, rel)
	assert.Equal(t, api.Release{Name: "1.4.0", Revision: "r14", Type: api.TypeRelease}, *rel)
}

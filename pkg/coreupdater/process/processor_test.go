package process

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appendStep struct {
	Value string `json:"value"`
}

func (appendStep) Kind() string { return "append" }

type awaitStep struct {
	Flag string `json:"flag"`
}

func (awaitStep) Kind() string { return "await" }

type failStep struct {
	Reason string `json:"reason"`
}

func (failStep) Kind() string { return "fail" }

type testSettings struct {
	Values []string `json:"values"`
	Await  string   `json:"await,omitempty"`
	Fail   string   `json:"fail,omitempty"`
}

type testHandler struct {
	executed []string
	flags    map[string]bool
	planned  int
}

func newTestHandler() *testHandler {
	return &testHandler{flags: map[string]bool{}}
}

func (h *testHandler) Name() string { return "test" }

func (h *testHandler) StepTypes() []Step {
	return []Step{appendStep{}, awaitStep{}, failStep{}}
}

func (h *testHandler) Plan(_ context.Context, _ string, s testSettings) ([]Step, error) {
	h.planned++
	var steps []Step
	for _, v := range s.Values {
		steps = append(steps, appendStep{Value: v})
	}
	if s.Await != "" {
		steps = append(steps, awaitStep{Flag: s.Await})
	}
	if s.Fail != "" {
		steps = append(steps, failStep{Reason: s.Fail})
	}
	return steps, nil
}

func (h *testHandler) Execute(_ context.Context, run *StepRun[testSettings], step Step) Result {
	switch s := step.(type) {
	case appendStep:
		h.executed = append(h.executed, s.Value)
		var seen []string
		if _, err := run.Get("seen", &seen); err != nil {
			return FailedErr(err, "")
		}
		seen = append(seen, s.Value)
		if err := run.Set("seen", seen); err != nil {
			return FailedErr(err, "")
		}
		if run.Index == run.Total-1 {
			_ = run.SetResult(seen)
		}
		return Done()
	case awaitStep:
		if !h.flags[s.Flag] {
			return Await(External{Action: "set-flag", Target: s.Flag})
		}
		return Done()
	case failStep:
		_ = run.Set("partial", "kept")
		return Failed(s.Reason, "details for "+s.Reason)
	default:
		return Failedf("unexpected step %T", step)
	}
}

func (h *testHandler) Describe(step Step) string {
	switch s := step.(type) {
	case appendStep:
		return "Appending " + s.Value
	case awaitStep:
		return "Waiting for " + s.Flag
	default:
		return step.Kind()
	}
}

func newTestProcessor(t *testing.T, backend storage.Backend, h *testHandler) *Processor[testSettings] {
	t.Helper()
	p, err := New[testSettings](backend, h)
	require.NoError(t, err)
	return p
}

func TestProcessor_RunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()
	p := newTestProcessor(t, storage.NewMemory(), h)

	id, err := p.Start(ctx, testSettings{Values: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, h.planned)

	st, err := p.Load(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	assert.Len(t, st.Steps, 3)
	assert.Equal(t, 0.0, st.Progress())

	st, err = p.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st.Status)
	assert.Equal(t, 1, st.Cursor)
	assert.InDelta(t, 1.0/3.0, st.Progress(), 0.0001)

	for i := 0; i < 2; i++ {
		st, err = p.Process(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusDone, st.Status)
	assert.Equal(t, 1.0, st.Progress())
	assert.Equal(t, []string{"a", "b", "c"}, h.executed)

	var result []string
	require.NoError(t, p.Result(id, &result))
	assert.Equal(t, []string{"a", "b", "c"}, result)

	// Terminal processes do not execute again.
	st, err = p.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st.Status)
	assert.Len(t, h.executed, 3)
	assert.Equal(t, 1, h.planned, "steps are planned once per process")
}

func TestProcessor_ResumesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h := newTestHandler()
	values := []string{"1", "2", "3", "4", "5"}

	backend, err := storage.OpenBadger(dir)
	require.NoError(t, err)
	id, err := newTestProcessor(t, backend, h).Start(ctx, testSettings{Values: values})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	// Every call runs in a freshly opened store and processor, as if the
	// host process restarted between invocations.
	var st *State
	for range values {
		backend, err := storage.OpenBadger(dir)
		require.NoError(t, err)

		st, err = newTestProcessor(t, backend, h).Process(ctx, id)
		require.NoError(t, err)
		require.NoError(t, backend.Close())
	}

	assert.Equal(t, StatusDone, st.Status)
	assert.Equal(t, values, h.executed, "no step skipped or repeated")

	var seen []string
	ok, err := st.DataValue("seen", &seen)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, values, seen)
}

func TestProcessor_Failure(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()
	p := newTestProcessor(t, storage.NewMemory(), h)

	id, err := p.Start(ctx, testSettings{Values: []string{"a"}, Fail: "disk full"})
	require.NoError(t, err)

	_, err = p.Process(ctx, id)
	require.NoError(t, err)
	st, err := p.Process(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "disk full", st.Error)
	assert.Equal(t, "details for disk full", st.Details)
	assert.Equal(t, 1, st.Cursor, "cursor stays on the failed step")

	var partial string
	ok, err := st.DataValue("partial", &partial)
	require.NoError(t, err)
	assert.True(t, ok, "data recorded by a failing step is kept")
	assert.Equal(t, "kept", partial)

	again, err := p.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, again.Status)

	desc, err := p.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Failed: disk full", desc)

	assert.ErrorIs(t, p.Result(id, &partial), ErrNotDone)
}

func TestProcessor_AwaitExternal(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()
	p := newTestProcessor(t, storage.NewMemory(), h)

	id, err := p.Start(ctx, testSettings{Await: "script"})
	require.NoError(t, err)

	st, err := p.Process(ctx, id)
	require.NoError(t, err)
	require.True(t, st.NeedsExternal())
	assert.Equal(t, "set-flag", st.External.Action)
	assert.Equal(t, "script", st.External.Target)
	assert.Equal(t, 0, st.Cursor)
	assert.Equal(t, StatusInProgress, st.Status)

	// Still waiting: the step reports the same action again.
	st, err = p.Process(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.NeedsExternal())

	h.flags["script"] = true
	st, err = p.Process(ctx, id)
	require.NoError(t, err)
	assert.False(t, st.NeedsExternal())
	assert.Equal(t, StatusDone, st.Status)
}

func TestProcessor_EmptyPlan(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t, storage.NewMemory(), newTestHandler())

	id, err := p.Start(ctx, testSettings{})
	require.NoError(t, err)

	st, err := p.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st.Status)
}

func TestProcessor_Describe(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t, storage.NewMemory(), newTestHandler())

	id, err := p.Start(ctx, testSettings{Values: []string{"x"}, Await: "flag"})
	require.NoError(t, err)

	desc, err := p.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Appending x", desc)

	_, err = p.Process(ctx, id)
	require.NoError(t, err)

	desc, err = p.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Waiting for flag", desc)
}

func TestProcessor_UnknownAndDelete(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t, storage.NewMemory(), newTestHandler())

	_, err := p.Process(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownProcess)

	id, err := p.Start(ctx, testSettings{Values: []string{"a"}})
	require.NoError(t, err)

	ids, err := p.List()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	require.NoError(t, p.Delete(id))
	_, err = p.Load(id)
	assert.ErrorIs(t, err, ErrUnknownProcess)
}

func TestProcessor_Expiry(t *testing.T) {
	ctx := context.Background()
	p, err := New[testSettings](storage.NewMemory(), newTestHandler(), WithTTL(20*time.Millisecond))
	require.NoError(t, err)

	id, err := p.Start(ctx, testSettings{Values: []string{"a"}})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = p.Process(ctx, id)
	assert.ErrorIs(t, err, ErrUnknownProcess)
}

func TestNew_RejectsDuplicateKinds(t *testing.T) {
	_, err := newCodec([]Step{appendStep{}, dupStep{}})
	assert.Error(t, err)
}

type dupStep struct{}

func (dupStep) Kind() string { return "append" }

func TestRun_Budget(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()
	p := newTestProcessor(t, storage.NewMemory(), h)

	values := make([]string, 7)
	for i := range values {
		values[i] = fmt.Sprint(i)
	}
	id, err := p.Start(ctx, testSettings{Values: values})
	require.NoError(t, err)

	var observed int
	st, err := Run(ctx, p, id, Budget{MaxSteps: 3}, func(*State) { observed++ })
	require.NoError(t, err)
	assert.Equal(t, 3, observed)
	assert.Equal(t, 3, st.Cursor)

	st, err = Run(ctx, p, id, Budget{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st.Status)
	assert.Equal(t, values, h.executed)
}

func TestRun_StopsForExternal(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t, storage.NewMemory(), newTestHandler())

	id, err := p.Start(ctx, testSettings{Values: []string{"a"}, Await: "go"})
	require.NoError(t, err)

	st, err := Run(ctx, p, id, Budget{MaxSteps: 10}, nil)
	require.NoError(t, err)
	assert.True(t, st.NeedsExternal())
	assert.Equal(t, 1, st.Cursor)
}

func TestBudget_Exhausted(t *testing.T) {
	assert.False(t, Budget{}.Exhausted(1000, time.Hour))
	assert.True(t, Budget{MaxSteps: 2}.Exhausted(2, 0))
	assert.True(t, Budget{MaxDuration: time.Second}.Exhausted(0, 2*time.Second))
	assert.False(t, Budget{MaxSteps: 2, MaxDuration: time.Second}.Exhausted(1, 0))
}

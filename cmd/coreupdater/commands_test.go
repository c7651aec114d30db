package main

import (
	"context"
	"testing"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/config"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_ListAndFind(t *testing.T) {
	p := newJobProcessor(t)
	ctx := context.Background()

	done, err := p.Start(ctx, jobSettings{Steps: 1})
	require.NoError(t, err)
	_, err = drive(ctx, process.Budget{}, p, done, nil)
	require.NoError(t, err)

	pending, err := p.Start(ctx, jobSettings{Steps: 3})
	require.NoError(t, err)

	procs, err := listProcesses([]tracked{p})
	require.NoError(t, err)
	require.Len(t, procs, 2)

	byID := map[string]string{}
	for _, pr := range procs {
		byID[pr.ID] = pr.Current
	}
	assert.Equal(t, "Running count", byID[pending])
	assert.Empty(t, byID[done])

	owner, st, err := findProcess([]tracked{p}, pending)
	require.NoError(t, err)
	assert.Equal(t, "job", owner.Name())
	assert.Equal(t, pending, st.ID)

	_, _, err = findProcess([]tracked{p}, "nope")
	assert.ErrorContains(t, err, "process nope not found")
}

func TestClearProcesses(t *testing.T) {
	p := newJobProcessor(t)
	ctx := context.Background()

	done, err := p.Start(ctx, jobSettings{Steps: 1})
	require.NoError(t, err)
	_, err = drive(ctx, process.Budget{}, p, done, nil)
	require.NoError(t, err)
	pending, err := p.Start(ctx, jobSettings{Steps: 2})
	require.NoError(t, err)

	n, err := clearProcesses([]tracked{p}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ids, err := p.List()
	require.NoError(t, err)
	assert.Equal(t, []string{pending}, ids)

	n, err = clearProcesses([]tracked{p}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ids, err = p.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnvironmentOverrides(t *testing.T) {
	got := environmentOverrides([]string{
		"PATH=/usr/bin",
		"COREUPDATER_SERVER_PERFORMANCE=HIGH",
		"COREUPDATER_API_TOKEN=secret",
		"COREUPDATER_DATABASE_DSN=user:pass@/shop",
		"COREUPDATER_ROOT=",
	})
	assert.Equal(t, []string{
		"COREUPDATER_API_TOKEN=********",
		"COREUPDATER_DATABASE_DSN=********",
		"COREUPDATER_SERVER_PERFORMANCE=HIGH",
	}, got)
}

func TestConfigRows_MasksSecrets(t *testing.T) {
	c := &config.Config{Root: "/srv/shop"}
	c.API.Token = "secret"
	rows := configRows(c)

	values := map[string]string{}
	for _, r := range rows {
		values[r[0]] = r[1]
	}
	assert.Equal(t, "/srv/shop", values["root"])
	assert.Equal(t, "********", values["api.token"])
	assert.Equal(t, "", values["database.dsn"])
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name string
		in   history.Entry
		want string
	}{
		{"both", history.Entry{From: "1.4.0", To: "1.5.0"}, "1.4.0 -> 1.5.0"},
		{"target only", history.Entry{To: "1.5.0"}, "1.5.0"},
		{"origin only", history.Entry{From: "1.4.0"}, "1.4.0"},
		{"none", history.Entry{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transition(tt.in))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}

func TestRecord(t *testing.T) {
	h, err := history.New(t.TempDir())
	require.NoError(t, err)
	a := &app{cfg: &config.Config{Root: "/srv/shop"}, history: h}

	record(a, &history.Entry{Operation: history.OpCompare, Success: true, Duration: time.Second})
	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/srv/shop", entries[0].Root)

	// history disabled
	record(&app{cfg: a.cfg}, &history.Entry{Operation: history.OpCompare})
}

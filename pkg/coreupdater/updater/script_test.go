package updater

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(Shell); err != nil {
		t.Skip("no POSIX shell available")
	}
}

func TestScript_Golden(t *testing.T) {
	root := "/srv/shop"
	staging := "/srv/shop/cache/coreupdater/3f2a/chunk-0001"
	moves := []Move{
		{From: staging + "/admin1/it's.php", To: root + "/admin1/it's.php"},
		{From: staging + "/classes/New.php", To: root + "/classes/New.php"},
		{From: staging + "/index.php", To: root + "/index.php"},
	}
	s := NewScript("3f2a", root,
		"/srv/shop/.coreupdater/update-3f2a.sh", "/srv/shop/.coreupdater/update-3f2a.json",
		moves, []string{"classes/old/Legacy.php", "js/unused.js"}, []string{"cache/class_index.php"})

	body, err := s.Render()
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "update_script", body)
}

func TestNewScript_NoChanges(t *testing.T) {
	s := NewScript("id", "/r", "/r/s.sh", "/r/s.json", nil, nil, nil)
	assert.Empty(t, s.Dirs)
	assert.Empty(t, s.PruneDirs)

	body, err := s.Render()
	require.NoError(t, err)
	assert.Contains(t, string(body), "errors=0\n\n# Remove this script\n")
}

func TestScript_Converges(t *testing.T) {
	requireShell(t)

	root := t.TempDir()
	staging := filepath.Join(root, "cache", "coreupdater", "p1")
	writeFiles(t, root, map[string]string{
		"index.php":               "old index",
		"classes/gone/Old.php":    "old",
		"cache/class_index.php":   "index",
		"cache/coreupdater/p1/x":  "",
		"custom/notes.txt":        "kept",
	})
	writeFiles(t, staging, map[string]string{
		"index.php":         "new index",
		"deep/nested/a.php": "a",
	})

	s := NewScript("p1", root, ScriptPath(root, "p1"), ResponsePath(root, "p1"),
		[]Move{
			{From: filepath.Join(staging, "index.php"), To: filepath.Join(root, "index.php")},
			{From: filepath.Join(staging, "deep", "nested", "a.php"), To: filepath.Join(root, "deep", "nested", "a.php")},
		},
		[]string{"classes/gone/Old.php"},
		[]string{"cache/class_index.php"})
	_, err := s.Write()
	require.NoError(t, err)

	resp, err := RunExternal(context.Background(), scriptAction("p1", s.Path, s.Response))
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assertFile(t, filepath.Join(root, "index.php"), "new index")
	assertFile(t, filepath.Join(root, "deep", "nested", "a.php"), "a")
	assertFile(t, filepath.Join(root, "custom", "notes.txt"), "kept")
	assert.NoFileExists(t, filepath.Join(root, "classes", "gone", "Old.php"))
	assert.NoDirExists(t, filepath.Join(root, "classes"))
	assert.NoFileExists(t, filepath.Join(root, "cache", "class_index.php"))
	assert.NoFileExists(t, s.Path)

	recorded, err := os.ReadFile(s.Response)
	require.NoError(t, err)
	parsed, err := ParseResponse(recorded)
	require.NoError(t, err)
	assert.True(t, parsed.Success)
}

func TestScript_RejectsWrongProcessID(t *testing.T) {
	requireShell(t)

	root := t.TempDir()
	s := NewScript("right", root, ScriptPath(root, "right"), ResponsePath(root, "right"), nil, nil, nil)
	_, err := s.Write()
	require.NoError(t, err)

	resp, err := RunExternal(context.Background(), scriptAction("wrong", s.Path, s.Response))
	require.Error(t, err)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Invalid process ID", resp.Error.Message)
	assert.FileExists(t, s.Path)
}

func TestRunExternal_UnknownAction(t *testing.T) {
	_, err := RunExternal(context.Background(), process.External{Action: "reboot"})
	assert.Error(t, err)
}

func TestWaitForScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "update.sh")
	response := filepath.Join(dir, "update.json")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	done := make(chan error, 1)
	go func() { done <- WaitForScript(context.Background(), script, response) }()

	require.NoError(t, os.Remove(script))
	require.NoError(t, os.WriteFile(response, []byte(`{"success": true}`), 0o644))

	require.NoError(t, <-done)
}

func TestWaitForScript_Cancelled(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "update.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForScript(ctx, script, filepath.Join(dir, "update.json"))
	assert.ErrorIs(t, err, context.Canceled)
}

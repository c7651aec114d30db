package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/filter"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/githash"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	revisions map[string]map[string]string
	calls     []string
}

func (f *fakeSource) ListRevision(_ context.Context, revision string) (map[string]string, error) {
	f.calls = append(f.calls, revision)
	files, ok := f.revisions[revision]
	if !ok {
		return nil, errors.New("no such revision")
	}
	return files, nil
}

func hashes(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for p, c := range files {
		out[p] = githash.Sum([]byte(c))
	}
	return out
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newComparator(t *testing.T, src Source) *process.Processor[Settings] {
	t.Helper()
	filters, err := filter.NewSet(filter.Options{})
	require.NoError(t, err)
	p, err := process.New[Settings](storage.NewMemory(), NewComparator(src, filters, 2))
	require.NoError(t, err)
	return p
}

func TestComparator_FullRun(t *testing.T) {
	origin := map[string]string{
		"index.php":          "index v1",
		"classes/Tools.php":  "tools v1",
		"classes/Legacy.php": "legacy",
		"config/defines.php": "defines v1",
	}
	target := map[string]string{
		"index.php":          "index v2",
		"classes/Tools.php":  "tools v1",
		"classes/New.php":    "new",
		"config/defines.php": "defines v2",
		"install/index.php":  "installer",
	}
	installed := map[string]string{
		"index.php":          "index v1",
		"classes/Tools.php":  "tools v1",
		"classes/Legacy.php": "legacy",
		"config/defines.php": "defines edited",
		"classes/Custom.php": "mine",
	}

	root := t.TempDir()
	writeFiles(t, root, installed)
	require.NoError(t, install.Write(root, install.Info{Version: "1.6.0", Revision: "rev-origin"}))

	src := &fakeSource{revisions: map[string]map[string]string{
		"rev-origin": hashes(origin),
		"rev-target": hashes(target),
	}}
	p := newComparator(t, src)
	ctx := context.Background()

	id, err := p.Start(ctx, Settings{Root: root, TargetVersion: "1.7.0", TargetRevision: "rev-target"})
	require.NoError(t, err)

	st, err := process.Run(ctx, p, id, process.Budget{}, nil)
	require.NoError(t, err)
	require.Equal(t, process.StatusDone, st.Status, st.Error)

	var res Result
	require.NoError(t, p.Result(id, &res))

	assert.Equal(t, "1.7.0", res.TargetVersion)
	assert.Equal(t, "rev-origin", res.OriginRevision)
	assert.Equal(t, map[string]bool{"index.php": false, "config/defines.php": true}, res.ChangeSet.Change)
	assert.Equal(t, map[string]bool{"classes/New.php": false}, res.ChangeSet.Add)
	assert.Equal(t, map[string]bool{"classes/Legacy.php": false}, res.ChangeSet.Remove)
	assert.Equal(t, map[string]bool{"classes/Custom.php": true}, res.ChangeSet.Obsolete)
	assert.NotContains(t, res.Target, "install/index.php")
	assert.Equal(t, []string{"rev-target", "rev-origin"}, src.calls)
}

func TestComparator_UnknownOrigin(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.php": "old"})

	src := &fakeSource{revisions: map[string]map[string]string{
		"rev-target": hashes(map[string]string{"index.php": "new"}),
	}}
	p := newComparator(t, src)
	ctx := context.Background()

	id, err := p.Start(ctx, Settings{Root: root, TargetRevision: "rev-target"})
	require.NoError(t, err)
	st, err := process.Run(ctx, p, id, process.Budget{}, nil)
	require.NoError(t, err)
	require.Equal(t, process.StatusDone, st.Status)

	var res Result
	require.NoError(t, p.Result(id, &res))
	assert.Empty(t, res.OriginRevision)
	assert.Equal(t, map[string]bool{"index.php": false}, res.ChangeSet.Change)
	assert.Equal(t, []string{"rev-target"}, src.calls)
}

func TestComparator_FetchFailure(t *testing.T) {
	root := t.TempDir()
	p := newComparator(t, &fakeSource{})
	ctx := context.Background()

	id, err := p.Start(ctx, Settings{Root: root, TargetRevision: "missing"})
	require.NoError(t, err)
	st, err := process.Run(ctx, p, id, process.Budget{}, nil)
	require.NoError(t, err)

	assert.Equal(t, process.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "missing")
	assert.Equal(t, "no such revision", st.Details)
}

func TestComparator_PlanValidation(t *testing.T) {
	p := newComparator(t, &fakeSource{})
	ctx := context.Background()

	_, err := p.Start(ctx, Settings{Root: t.TempDir()})
	assert.Error(t, err)

	_, err = p.Start(ctx, Settings{Root: filepath.Join(t.TempDir(), "absent"), TargetRevision: "r"})
	assert.Error(t, err)
}

func TestComparator_OneStepPerCall(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.php": "x", "classes/A.php": "a"})
	src := &fakeSource{revisions: map[string]map[string]string{"t": {}}}
	p := newComparator(t, src)
	ctx := context.Background()

	id, err := p.Start(ctx, Settings{Root: root, TargetRevision: "t", OriginRevision: "t"})
	require.NoError(t, err)

	desc, err := p.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Downloading file list for target revision t", desc)

	// fetch target, fetch origin, root files, classes/, compare
	for i := 0; i < 4; i++ {
		st, err := p.Process(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, process.StatusInProgress, st.Status)
		assert.Equal(t, i+1, st.Cursor)
	}
	desc, err = p.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Comparing file lists", desc)

	st, err := p.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, process.StatusDone, st.Status)
}

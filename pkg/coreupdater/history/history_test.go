package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestRecordAndGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	h, err := New(dir)
	require.NoError(t, err)

	e := &Entry{
		Operation: OpUpdate,
		Root:      "/srv/shop",
		ProcessID: "p-1",
		From:      "1.6.0",
		To:        "1.7.0",
		Counts:    &manifest.Counts{Change: 3, Add: 1},
		Success:   true,
		Duration:  2 * time.Second,
	}
	require.NoError(t, h.Record(e))
	assert.Regexp(t, `^update-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-[0-9a-f]{12}$`, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	got, err := h.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.To, got.To)
	assert.Equal(t, 3, got.Counts.Change)
	assert.Equal(t, 2*time.Second, got.Duration)

	// no temp files remain
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, e.ID+".json", files[0].Name())

	_, err = h.Get("update-missing")
	assert.ErrorContains(t, err, "entry not found")
}

func TestList(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)

	empty, err := h.List(0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := &Entry{Operation: OpCompare, Success: true}
	require.NoError(t, h.Record(first))
	time.Sleep(10 * time.Millisecond)
	second := &Entry{Operation: OpMigrate, Fixes: []string{"MissingTable:tb_orders"}}
	require.NoError(t, h.Record(second))

	require.NoError(t, os.WriteFile(filepath.Join(h.Dir(), "broken.json"), []byte("{"), 0o644))

	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, first.ID, entries[1].ID)

	entries, err = h.List(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"MissingTable:tb_orders"}, entries[0].Fixes)
}

func TestCleanup(t *testing.T) {
	h, err := New(t.TempDir())
	require.NoError(t, err)

	old := &Entry{Operation: OpCompare}
	require.NoError(t, h.Record(old))
	recent := &Entry{Operation: OpCompare}
	require.NoError(t, h.Record(recent))

	past := time.Now().AddDate(0, 0, -100)
	require.NoError(t, os.Chtimes(filepath.Join(h.Dir(), old.ID+".json"), past, past))

	n, err := h.Cleanup(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.Cleanup(90)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recent.ID, entries[0].ID)
}

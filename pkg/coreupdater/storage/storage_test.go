package storage

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	disk, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	inMem, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = inMem.Close() })

	return map[string]Backend{
		"badger":           disk,
		"badger-in-memory": inMem,
		"memory":           NewMemory(),
	}
}

func TestBucket_SaveLoad(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBucket(backend, "process", time.Hour)

			require.NoError(t, b.Save("abc", record{Name: "compare", Count: 3}))

			var got record
			require.NoError(t, b.Load("abc", &got))
			assert.Equal(t, record{Name: "compare", Count: 3}, got)
		})
	}
}

func TestBucket_LoadMissing(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBucket(backend, "process", 0)

			var got record
			err := b.Load("nope", &got)
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
		})
	}
}

func TestBucket_Isolation(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := NewBucket(backend, "a", 0)
			b := NewBucket(backend, "b", 0)

			require.NoError(t, a.Save("k", record{Name: "from-a"}))
			require.NoError(t, b.Save("k", record{Name: "from-b"}))
			require.NoError(t, a.Save("other", record{Name: "x"}))

			keys, err := a.Keys()
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"k", "other"}, keys)

			require.NoError(t, a.Clear())

			keys, err = a.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)

			var got record
			require.NoError(t, b.Load("k", &got))
			assert.Equal(t, "from-b", got.Name)
		})
	}
}

func TestUpdate(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBucket(backend, "counter", 0)

			for i := 0; i < 3; i++ {
				err := Update(b, "c", func(r *record, exists bool) error {
					assert.Equal(t, i > 0, exists)
					r.Count++
					return nil
				})
				require.NoError(t, err)
			}

			var got record
			require.NoError(t, b.Load("c", &got))
			assert.Equal(t, 3, got.Count)
		})
	}
}

func TestUpdate_AbortKeepsValue(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBucket(backend, "counter", 0)
			require.NoError(t, b.Save("c", record{Count: 7}))

			boom := errors.New("boom")
			err := Update(b, "c", func(r *record, _ bool) error {
				r.Count = 100
				return boom
			})
			assert.ErrorIs(t, err, boom)

			var got record
			require.NoError(t, b.Load("c", &got))
			assert.Equal(t, 7, got.Count)
		})
	}
}

func TestBucket_Delete(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBucket(backend, "process", 0)
			require.NoError(t, b.Save("k", record{}))
			require.NoError(t, b.Delete("k"))
			require.NoError(t, b.Delete("k"))

			var got record
			assert.ErrorIs(t, b.Load("k", &got), ErrNotFound)
		})
	}
}

func TestMemory_Expiry(t *testing.T) {
	b := NewBucket(NewMemory(), "short", 20*time.Millisecond)
	require.NoError(t, b.Save("k", record{Name: "soon gone"}))

	time.Sleep(60 * time.Millisecond)

	var got record
	assert.ErrorIs(t, b.Load("k", &got), ErrNotFound)
}

func TestBadger_Reopen(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, NewBucket(first, "process", time.Hour).Save("id", record{Count: 2}))
	require.NoError(t, first.Close())

	second, err := OpenBadger(dir)
	require.NoError(t, err)
	defer second.Close()

	var got record
	require.NoError(t, NewBucket(second, "process", time.Hour).Load("id", &got))
	assert.Equal(t, 2, got.Count)
}

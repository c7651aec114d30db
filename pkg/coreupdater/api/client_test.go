package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/h2non/gock"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServer = "https://updates.example.test"

func formField(key, value string) gock.MatchFunc {
	return func(r *http.Request, _ *gock.Request) (bool, error) {
		if err := r.ParseForm(); err != nil {
			return false, err
		}
		return r.PostForm.Get(key) == value, nil
	}
}

func newTestClient(t *testing.T, cache storage.Backend) *Client {
	t.Helper()
	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.Off()
		gock.RestoreClient(hc)
	})
	return New(Options{
		Server:        testServer + "/",
		Token:         "secret",
		AdminDir:      "admin123",
		ClientVersion: "2.0.0",
		Cache:         cache,
		HTTPClient:    hc,
	})
}

func TestListRevision_MapsAdminAndCaches(t *testing.T) {
	c := newTestClient(t, storage.NewMemory())

	gock.New(testServer).
		Post(Path).
		AddMatcher(formField("action", ActionListRevision)).
		AddMatcher(formField("revision", "1.5.0")).
		AddMatcher(formField("token", "secret")).
		Reply(200).
		JSON(map[string]any{
			"success": true,
			"data": map[string]string{
				"index.php":       "aaa",
				"admin/index.php": "bbb",
			},
		})

	ctx := context.Background()
	files, err := c.ListRevision(ctx, "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"index.php": "aaa", "admin123/index.php": "bbb"}, files)
	assert.True(t, gock.IsDone())

	// served from cache; an unexpected request would fail to match
	again, err := c.ListRevision(ctx, "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, files, again)
}

func TestListRevision_CacheSharedAcrossAdminDirs(t *testing.T) {
	cache := storage.NewMemory()
	first := newTestClient(t, cache)

	gock.New(testServer).
		Post(Path).
		AddMatcher(formField("action", ActionListRevision)).
		AddMatcher(formField("revision", "1.5.0")).
		Reply(200).
		JSON(map[string]any{
			"success": true,
			"data":    map[string]string{"admin/index.php": "bbb"},
		})

	ctx := context.Background()
	files, err := first.ListRevision(ctx, "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"admin123/index.php": "bbb"}, files)
	assert.True(t, gock.IsDone())

	second := New(Options{
		Server:     testServer + "/",
		Token:      "secret",
		AdminDir:   "backoffice",
		Cache:      cache,
		HTTPClient: first.http,
	})
	files, err = second.ListRevision(ctx, "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"backoffice/index.php": "bbb"}, files)
}

func TestCall_ServerError(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New(testServer).
		Post(Path).
		Reply(200).
		JSON(map[string]any{
			"success": false,
			"error":   map[string]any{"code": "INVALID_REVISION", "message": "revision not found"},
		})

	_, err := c.ListRevision(context.Background(), "nope")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "revision not found")
	assert.Contains(t, apiErr.Message, "INVALID_REVISION")
	assert.Equal(t, "nope", apiErr.Request.Get("revision"))
	assert.Empty(t, apiErr.Request.Get("token"))
	assert.NotContains(t, apiErr.Details(), "secret")
}

func TestCall_UnexpectedResponse(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New(testServer).Post(Path).Reply(502).BodyString("<html>Bad Gateway</html>")

	_, err := c.Versions(context.Background())

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "unexpected response")
}

func TestCall_NotRetried(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New(testServer).Post(Path).Reply(200).BodyString("not json")
	gock.New(testServer).Post(Path).Reply(200).JSON(map[string]any{"success": true, "data": []Release{}})

	_, err := c.Versions(context.Background())
	require.Error(t, err)
	assert.Len(t, gock.Pending(), 1)
}

func TestVersions_Cached(t *testing.T) {
	c := newTestClient(t, storage.NewMemory())

	gock.New(testServer).
		Post(Path).
		AddMatcher(formField("action", ActionVersions)).
		Reply(200).
		JSON(map[string]any{
			"success": true,
			"data": []map[string]string{
				{"name": "1.5.1", "revision": "r151", "type": "release"},
				{"name": "develop", "revision": "rdev", "type": "branch"},
			},
		})

	ctx := context.Background()
	releases, err := c.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 2)

	again, err := c.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, releases, again)

	require.NoError(t, c.ClearCache())
	_, err = c.Versions(ctx)
	assert.Error(t, err)
}

func TestCheckModuleVersion(t *testing.T) {
	c := newTestClient(t, storage.NewMemory())
	ctx := context.Background()

	gock.New(testServer).
		Post(Path).
		AddMatcher(formField("version", "2.0.0")).
		Reply(200).
		JSON(map[string]any{"success": true, "data": map[string]any{"latest": "2.1.0", "supported": true}})

	res, err := c.CheckModuleVersion(ctx, "2.0.0")
	require.NoError(t, err)
	assert.True(t, res.Supported)
	assert.Equal(t, "2.1.0", res.Latest)

	cached, err := c.CheckModuleVersion(ctx, "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", cached.Latest)
}

func gzipPayload(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(bytes.Repeat([]byte("x"), size))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	for buf.Len() < MinArchiveSize {
		// pad with an empty member; gzip readers accept concatenated members
		zw = gzip.NewWriter(&buf)
		require.NoError(t, zw.Close())
	}
	return buf.Bytes()
}

func TestDownloadArchive(t *testing.T) {
	c := newTestClient(t, nil)
	payload := gzipPayload(t, 4096)

	gock.New(testServer).
		Post(Path).
		AddMatcher(formField("action", ActionDownloadArchive)).
		AddMatcher(func(r *http.Request, _ *gock.Request) (bool, error) {
			if err := r.ParseForm(); err != nil {
				return false, err
			}
			paths := r.PostForm["paths[]"]
			return len(paths) == 2 && paths[0] == "admin/a.php" && paths[1] == "b.php", nil
		}).
		Reply(200).
		Body(bytes.NewReader(payload))

	target := filepath.Join(t.TempDir(), "chunk-0001.tar.gz")
	err := c.DownloadArchive(context.Background(), "r1", []string{"admin123/a.php", "b.php"}, target)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadArchive_ErrorMessage(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New(testServer).Post(Path).Reply(200).BodyString("Invalid token")

	target := filepath.Join(t.TempDir(), "chunk.tar.gz")
	err := c.DownloadArchive(context.Background(), "r1", []string{"a.php"}, target)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid token", apiErr.Message)
	assert.NoFileExists(t, target)
}

func TestDownloadArchive_WrongMagic(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New(testServer).Post(Path).Reply(200).BodyString(strings.Repeat("z", 500))

	target := filepath.Join(t.TempDir(), "chunk.tar.gz")
	err := c.DownloadArchive(context.Background(), "r1", []string{"a.php"}, target)
	assert.Error(t, err)
	assert.NoFileExists(t, target)
}

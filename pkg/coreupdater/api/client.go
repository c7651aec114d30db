// Package api talks to the release server.
//
// Every call is a form POST to <server>/coreupdater/v2.php carrying an
// action. JSON responses use the envelope {success, data | error}; archive
// downloads return a gzip stream. Failed calls are never retried.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
)

// Path is the endpoint below the server URL.
const Path = "/coreupdater/v2.php"

// Actions understood by the server.
const (
	ActionListRevision       = "list-revision"
	ActionVersions           = "versions"
	ActionDownloadArchive    = "download-archive"
	ActionCheckModuleVersion = "check-module-version"
)

// Cache lifetimes.
const (
	StableFilesTTL   = 30 * 24 * time.Hour
	UnstableFilesTTL = time.Hour
	VersionsTTL      = 10 * time.Minute
	ModuleCheckTTL   = 10 * time.Minute
)

// MinArchiveSize is the smallest response accepted as an archive. Anything
// shorter, or not starting with the gzip magic, is an error message.
const MinArchiveSize = 100

var gzipMagic = []byte{0x1f, 0x8b}

// DefaultServer is the public release server.
const DefaultServer = "https://api.thirtybees.com"

// Options configures a Client.
type Options struct {
	Server  string
	Token   string
	Timeout time.Duration

	// AdminDir is the local name of the server's admin/ directory.
	AdminDir string

	// ClientVersion is reported to the server with every request.
	ClientVersion string

	// Cache stores file lists and version lists. Nil disables caching.
	Cache storage.Backend

	HTTPClient *http.Client
}

// Client is a release server client.
type Client struct {
	server   string
	token    string
	version  string
	admin    AdminDir
	http     *http.Client
	files    *storage.Bucket
	versions *storage.Bucket
	module   *storage.Bucket
	now      func() time.Time
	logger   *logging.Logger
}

// New creates a client.
func New(opts Options) *Client {
	server := opts.Server
	if server == "" {
		server = DefaultServer
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 20 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		server:  strings.TrimRight(server, "/"),
		token:   opts.Token,
		version: opts.ClientVersion,
		admin:   AdminDir(opts.AdminDir),
		http:    hc,
		now:     time.Now,
		logger:  logging.Get("api"),
	}
	if opts.Cache != nil {
		c.files = storage.NewBucket(opts.Cache, "api.files", UnstableFilesTTL)
		c.versions = storage.NewBucket(opts.Cache, "api.versions", VersionsTTL)
		c.module = storage.NewBucket(opts.Cache, "api.module", ModuleCheckTTL)
	}
	return c
}

// AdminDir returns the local admin directory mapping.
func (c *Client) AdminDir() AdminDir {
	return c.admin
}

// ListRevision returns the file manifest of revision with admin paths
// mapped to the local admin directory.
func (c *Client) ListRevision(ctx context.Context, revision string) (map[string]string, error) {
	// The cache holds server paths; the admin mapping belongs to this shop.
	key := "files-" + revision
	if c.files != nil {
		var cached map[string]string
		err := c.files.Load(key, &cached)
		if err == nil {
			c.logger.Debug("file list found in cache", "revision", revision)
			return c.toLocal(cached), nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("file list cache unreadable", "revision", revision, "error", err)
		}
	}

	var remote map[string]string
	if err := c.call(ctx, ActionListRevision, url.Values{"revision": {revision}}, &remote); err != nil {
		return nil, err
	}

	if c.files != nil {
		ttl := UnstableFilesTTL
		if IsStable(revision) {
			ttl = StableFilesTTL
		}
		if err := c.files.SaveTTL(key, remote, ttl); err != nil {
			c.logger.Warn("caching file list failed", "revision", revision, "error", err)
		}
	}
	return c.toLocal(remote), nil
}

func (c *Client) toLocal(remote map[string]string) map[string]string {
	files := make(map[string]string, len(remote))
	for p, h := range remote {
		files[c.admin.ToLocal(p)] = h
	}
	return files
}

// Versions returns the releases offered by the server.
func (c *Client) Versions(ctx context.Context) ([]Release, error) {
	const key = "versions"
	if c.versions != nil {
		var cached []Release
		if err := c.versions.Load(key, &cached); err == nil {
			c.logger.Debug("version list found in cache")
			return cached, nil
		}
	}

	c.logger.Info("resolving available versions")
	var releases []Release
	if err := c.call(ctx, ActionVersions, nil, &releases); err != nil {
		return nil, err
	}
	if c.versions != nil {
		if err := c.versions.Save(key, releases); err != nil {
			c.logger.Warn("caching version list failed", "error", err)
		}
	}
	return releases, nil
}

// ModuleCheck is the server's verdict on a client version.
type ModuleCheck struct {
	Latest    string    `json:"latest"`
	Supported bool      `json:"supported"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckModuleVersion asks whether version is still supported. A supported
// verdict is remembered for ModuleCheckTTL; unsupported ones are asked
// again on every call.
func (c *Client) CheckModuleVersion(ctx context.Context, version string) (ModuleCheck, error) {
	if c.module != nil {
		var cached ModuleCheck
		if err := c.module.Load(version, &cached); err == nil && cached.Supported {
			return cached, nil
		}
	}

	var res ModuleCheck
	if err := c.call(ctx, ActionCheckModuleVersion, url.Values{"version": {version}}, &res); err != nil {
		return ModuleCheck{}, err
	}
	res.CheckedAt = c.now()

	if c.module != nil {
		if res.Supported {
			if err := c.module.Save(version, res); err != nil {
				c.logger.Warn("caching module check failed", "error", err)
			}
		} else {
			_ = c.module.Delete(version)
		}
	}
	return res, nil
}

// DownloadArchive fetches a gzip archive of paths at revision into target.
// paths are local paths; they are mapped back to server paths. target is
// removed on any failure.
func (c *Client) DownloadArchive(ctx context.Context, revision string, paths []string, target string) (err error) {
	form := url.Values{"revision": {revision}}
	for _, p := range paths {
		form.Add("paths[]", c.admin.ToRemote(p))
	}
	form = c.form(ActionDownloadArchive, form)

	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	resp, err := c.post(ctx, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(target)
	if err != nil {
		return newError(form, err, "creating %s", target)
	}
	br := bufio.NewReader(resp.Body)
	peeked, _ := br.Peek(len(gzipMagic))
	head := append([]byte(nil), peeked...)
	n, copyErr := io.Copy(f, br)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return newError(form, copyErr, "transport exception")
	}

	if n < MinArchiveSize || !bytes.Equal(head, gzipMagic) {
		msg, _ := os.ReadFile(target)
		c.logger.Error("server responded with error message", "message", string(msg))
		return newError(form, nil, "%s", strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("downloaded archive", "target", target, "bytes", n, "files", len(paths))
	return nil
}

// ClearCache drops cached file and version lists.
func (c *Client) ClearCache() error {
	for _, b := range []*storage.Bucket{c.files, c.versions, c.module} {
		if b == nil {
			continue
		}
		if err := b.Clear(); err != nil {
			return fmt.Errorf("clearing %s: %w", b.Name(), err)
		}
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) form(action string, payload url.Values) url.Values {
	form := url.Values{}
	for k, v := range payload {
		form[k] = v
	}
	form.Set("action", action)
	if c.version != "" {
		form.Set("client", c.version)
	}
	if c.token != "" {
		form.Set("token", c.token)
	}
	return form
}

func (c *Client) call(ctx context.Context, action string, payload url.Values, out any) error {
	form := c.form(action, payload)
	c.logger.Debug("api request", "action", action)

	resp, err := c.post(ctx, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(form, err, "transport exception")
	}

	var env envelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		return newError(form, nil, "server returned unexpected response: %s", truncate(body))
	}
	if !env.Success {
		if env.Error != nil {
			return newError(form, nil, "server responded with error %v: %s", env.Error.Code, env.Error.Message)
		}
		return newError(form, nil, "server responded with unknown error")
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(form, err, "decoding %s response", action)
	}
	return nil
}

func (c *Client) post(ctx context.Context, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+Path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError(form, err, "building request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(form, err, "transport exception")
	}
	return resp, nil
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

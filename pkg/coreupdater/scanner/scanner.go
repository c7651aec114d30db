// Package scanner hashes the installed tree, one chunk at a time.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/filter"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/githash"
	"golang.org/x/sync/errgroup"
)

// SplitDirs are top-level directories large enough to be scanned one
// subdirectory per chunk.
var SplitDirs = []string{"vendor"}

// Chunk is one independently scannable part of the tree. An empty Dir with
// Recursive false is the set of files directly in the root.
type Chunk struct {
	Dir       string `json:"dir"`
	Recursive bool   `json:"recursive"`
}

func (c Chunk) String() string {
	switch {
	case c.Dir == "":
		return "root files"
	case c.Recursive:
		return c.Dir + "/"
	default:
		return c.Dir + "/ (files only)"
	}
}

// Options configures a Scanner.
type Options struct {
	Root    string
	Filters filter.Set

	// Workers is the number of files hashed concurrently. Values below one
	// hash sequentially.
	Workers int
}

// ScanError records a path that could not be hashed.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Scanner walks and hashes chunks of one installation root.
type Scanner struct {
	opts Options

	filesHashed atomic.Int64
}

// New creates a scanner.
func New(opts Options) *Scanner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scanner{opts: opts}
}

// FilesHashed returns the number of files hashed so far.
func (s *Scanner) FilesHashed() int64 {
	return s.filesHashed.Load()
}

// Chunks partitions the root into scan chunks, sorted by directory.
func (s *Scanner) Chunks() ([]Chunk, error) {
	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.opts.Root, err)
	}

	chunks := []Chunk{{Dir: ""}}
	for _, e := range entries {
		if !e.IsDir() || s.opts.Filters.RejectsDir(e.Name()) {
			continue
		}
		if !isSplitDir(e.Name()) {
			chunks = append(chunks, Chunk{Dir: e.Name(), Recursive: true})
			continue
		}

		chunks = append(chunks, Chunk{Dir: e.Name()})
		subs, err := os.ReadDir(filepath.Join(s.opts.Root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		for _, sub := range subs {
			dir := e.Name() + "/" + sub.Name()
			if sub.IsDir() && !s.opts.Filters.RejectsDir(dir) {
				chunks = append(chunks, Chunk{Dir: dir, Recursive: true})
			}
		}
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Dir < chunks[j].Dir })
	return chunks, nil
}

func isSplitDir(name string) bool {
	for _, d := range SplitDirs {
		if d == name {
			return true
		}
	}
	return false
}

// Scan hashes every retained regular file of chunk. The returned map uses
// forward-slash paths relative to the root. Any file that cannot be read
// fails the whole chunk: a silently skipped file would look deleted.
func (s *Scanner) Scan(ctx context.Context, chunk Chunk) (map[string]string, error) {
	paths, err := s.collect(ctx, chunk)
	if err != nil {
		return nil, err
	}
	return s.hash(ctx, paths)
}

func (s *Scanner) collect(ctx context.Context, chunk Chunk) ([]string, error) {
	dir := filepath.Join(s.opts.Root, filepath.FromSlash(chunk.Dir))

	if !chunk.Recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		var paths []string
		for _, e := range entries {
			rel := joinRel(chunk.Dir, e.Name())
			if e.Type().IsRegular() && !s.opts.Filters.Rejects(rel) {
				paths = append(paths, rel)
			}
		}
		return paths, nil
	}

	var (
		mu    sync.Mutex
		paths []string
		errs  []error
	)
	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := s.relative(path)
		if relErr != nil {
			return relErr
		}
		if err != nil {
			mu.Lock()
			errs = append(errs, &ScanError{Path: rel, Err: err})
			mu.Unlock()
			return nil
		}

		if d.IsDir() {
			if rel != chunk.Dir && s.opts.Filters.RejectsDir(rel) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.opts.Filters.Rejects(rel) {
			return nil
		}

		mu.Lock()
		paths = append(paths, rel)
		mu.Unlock()
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Strings(paths)
	return paths, nil
}

func (s *Scanner) hash(ctx context.Context, paths []string) (map[string]string, error) {
	hashes := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := githash.File(filepath.Join(s.opts.Root, filepath.FromSlash(rel)))
			if err != nil {
				return &ScanError{Path: rel, Err: err}
			}
			hashes[i] = h
			s.filesHashed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(paths))
	for i, rel := range paths {
		out[rel] = hashes[i]
	}
	return out, nil
}

func (s *Scanner) relative(path string) (string, error) {
	rel, err := filepath.Rel(s.opts.Root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

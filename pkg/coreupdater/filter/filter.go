// Package filter decides which repository paths take part in a comparison.
//
// Two filters apply to every manifest: the release filter drops paths that
// are not owned by the core release (installer, caches, media, themes that
// are not synchronized), and the keep filter drops paths the operator wants
// left untouched (branding, local server configuration). A path rejected by
// either filter never appears in a manifest and is never changed.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultTheme is the bundled theme synchronized when themes are enabled.
const DefaultTheme = "themes/community-theme-default"

// DefaultRelease lists paths excluded from the core release.
var DefaultRelease = []string{
	".git/**",
	".coreupdater/**",
	"install/**",
	"install-dev/**",
	"cache/**",
	"log/**",
	"download/**",
	"upload/**",
	"img/**",
	"modules/**",
	"themes/**",
	"translations/**",
	"config/settings.inc.php",
	"config/xml/**",
}

// DefaultKeep lists paths left untouched even though releases ship them.
var DefaultKeep = []string{
	".htaccess",
	"robots.txt",
	"img/logo*",
	"img/favicon*",
}

// Filter matches forward-slash relative paths against glob patterns.
// A path is rejected when it matches an exclude pattern and no include
// pattern. Include patterns only carve exceptions out of excludes.
type Filter struct {
	Exclude []string
	Include []string

	exclude []glob.Glob
	include []glob.Glob
}

// Option configures a Filter.
type Option func(*Filter)

// WithExclude appends exclude patterns.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Exclude = append(f.Exclude, patterns...)
	}
}

// WithInclude appends include exceptions.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Include = append(f.Include, patterns...)
	}
}

// WithTheme re-includes a synchronized theme directory.
func WithTheme(dir string) Option {
	return func(f *Filter) {
		dir = strings.Trim(dir, "/")
		f.Include = append(f.Include, dir+"/**")
	}
}

// New compiles a filter. Unlike a scan-time filter, an invalid pattern is
// an error: silently ignoring it could let protected files be overwritten.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}

	var err error
	if f.exclude, err = compile(f.Exclude); err != nil {
		return nil, err
	}
	if f.include, err = compile(f.Include); err != nil {
		return nil, err
	}
	return f, nil
}

// MustNew is New for static pattern sets.
func MustNew(opts ...Option) *Filter {
	f, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Rejects reports whether path is filtered out.
func (f *Filter) Rejects(path string) bool {
	if f == nil {
		return false
	}
	if !matchAny(f.exclude, path) {
		return false
	}
	return !matchAny(f.include, path)
}

// RejectsDir reports whether everything below dir is filtered out, which
// lets a walk skip the directory entirely.
func (f *Filter) RejectsDir(dir string) bool {
	if f == nil {
		return false
	}
	probe := strings.TrimSuffix(dir, "/") + "/\x00"
	if !matchAny(f.exclude, probe) {
		return false
	}
	// An include below dir may still re-admit part of it.
	for _, p := range f.Include {
		if strings.HasPrefix(p, dir+"/") || strings.HasPrefix(dir+"/", staticPrefix(p)) {
			return false
		}
	}
	return true
}

func staticPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?[{"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Set combines the release and keep filters.
type Set struct {
	Release *Filter
	Keep    *Filter
}

// Rejects reports whether either filter rejects path.
func (s Set) Rejects(path string) bool {
	return s.Release.Rejects(path) || s.Keep.Rejects(path)
}

// RejectsDir reports whether a walk can skip dir.
func (s Set) RejectsDir(dir string) bool {
	return s.Release.RejectsDir(dir) || s.Keep.RejectsDir(dir)
}

// Apply returns the subset of paths passing both filters.
func (s Set) Apply(paths map[string]string) map[string]string {
	out := make(map[string]string, len(paths))
	for p, h := range paths {
		if !s.Rejects(p) {
			out[p] = h
		}
	}
	return out
}

// Options configure the default filter set.
type Options struct {
	Release    []string
	Keep       []string
	SyncThemes bool
}

// NewSet builds the release and keep filters. Nil pattern lists fall back
// to the defaults.
func NewSet(o Options) (Set, error) {
	release := o.Release
	if release == nil {
		release = DefaultRelease
	}
	keep := o.Keep
	if keep == nil {
		keep = DefaultKeep
	}

	releaseOpts := []Option{WithExclude(release...)}
	if o.SyncThemes {
		releaseOpts = append(releaseOpts, WithTheme(DefaultTheme))
	}

	r, err := New(releaseOpts...)
	if err != nil {
		return Set{}, fmt.Errorf("release filter: %w", err)
	}
	k, err := New(WithExclude(keep...))
	if err != nil {
		return Set{}, fmt.Errorf("keep filter: %w", err)
	}
	return Set{Release: r, Keep: k}, nil
}

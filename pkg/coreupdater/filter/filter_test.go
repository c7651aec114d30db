package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Rejects(t *testing.T) {
	f, err := New(
		WithExclude("install/**", "cache/**", "config/settings.inc.php", "*.log"),
		WithInclude("cache/keep.txt"),
	)
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{path: "install/index.php", want: true},
		{path: "install/deep/nested/file.php", want: true},
		{path: "cache/class_index.php", want: true},
		{path: "cache/keep.txt", want: false},
		{path: "config/settings.inc.php", want: true},
		{path: "config/defines.inc.php", want: false},
		{path: "error.log", want: true},
		{path: "logs/error.log", want: false},
		{path: "index.php", want: false},
		{path: "installer.php", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Rejects(tt.path))
		})
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := New(WithExclude("[unclosed"))
	assert.Error(t, err)

	assert.Panics(t, func() { MustNew(WithInclude("[a-")) })
}

func TestFilter_Nil(t *testing.T) {
	var f *Filter
	assert.False(t, f.Rejects("anything"))
	assert.False(t, f.RejectsDir("anything"))
}

func TestFilter_RejectsDir(t *testing.T) {
	f, err := New(WithExclude("themes/**", "install/**", "config/settings.inc.php"), WithTheme("themes/community-theme-default/"))
	require.NoError(t, err)

	assert.True(t, f.RejectsDir("install"))
	assert.True(t, f.RejectsDir("themes/other-theme"))
	assert.False(t, f.RejectsDir("themes"), "a synchronized theme lives below")
	assert.False(t, f.RejectsDir("themes/community-theme-default"))
	assert.False(t, f.RejectsDir("themes/community-theme-default/css"))
	assert.False(t, f.RejectsDir("config"))
	assert.False(t, f.RejectsDir("classes"))
}

func TestNewSet_Defaults(t *testing.T) {
	s, err := NewSet(Options{})
	require.NoError(t, err)

	assert.True(t, s.Rejects("install/index.php"), "release filter")
	assert.True(t, s.Rejects(".htaccess"), "keep filter")
	assert.True(t, s.Rejects("robots.txt"), "keep filter")
	assert.True(t, s.Rejects("themes/community-theme-default/header.tpl"))
	assert.False(t, s.Rejects("classes/Tools.php"))
	assert.False(t, s.Rejects("vendor/autoload.php"))
}

func TestNewSet_SyncThemes(t *testing.T) {
	s, err := NewSet(Options{SyncThemes: true})
	require.NoError(t, err)

	assert.False(t, s.Rejects("themes/community-theme-default/header.tpl"))
	assert.True(t, s.Rejects("themes/custom/header.tpl"))
}

func TestNewSet_CustomPatterns(t *testing.T) {
	s, err := NewSet(Options{Release: []string{"docs/**"}, Keep: []string{"classes/Custom.php"}})
	require.NoError(t, err)

	assert.True(t, s.Rejects("docs/readme.md"))
	assert.True(t, s.Rejects("classes/Custom.php"))
	assert.False(t, s.Rejects("install/index.php"), "custom lists replace the defaults")

	_, err = NewSet(Options{Keep: []string{"[bad"}})
	assert.Error(t, err)
}

func TestSet_Apply(t *testing.T) {
	s, err := NewSet(Options{})
	require.NoError(t, err)

	got := s.Apply(map[string]string{
		"index.php":         "h1",
		"install/index.php": "h2",
		"robots.txt":        "h3",
	})
	assert.Equal(t, map[string]string{"index.php": "h1"}, got)
}

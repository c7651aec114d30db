package updater

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

// Move relocates one staged file into the installation.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Script is everything the update script does, as absolute paths. The
// rendered sections always run in the same order: create directories,
// move staged files, delete removed files, prune emptied directories,
// invalidate caches, delete the script, respond.
type Script struct {
	ProcessID  string   `json:"process_id"`
	Path       string   `json:"path"`
	Response   string   `json:"response"`
	Dirs       []string `json:"dirs,omitempty"`
	Moves      []Move   `json:"moves,omitempty"`
	Remove     []string `json:"remove,omitempty"`
	PruneDirs  []string `json:"prune_dirs,omitempty"`
	CacheFiles []string `json:"cache_files,omitempty"`
}

// pruneDepth bounds how many parent levels of a removed file are pruned.
const pruneDepth = 10

// NewScript derives the directory sections from moves and from remove,
// which holds paths relative to root.
func NewScript(id, root, scriptPath, responsePath string, moves []Move, remove, cacheFiles []string) Script {
	s := Script{
		ProcessID: id,
		Path:      scriptPath,
		Response:  responsePath,
		Moves:     moves,
	}

	dirs := map[string]bool{}
	for _, m := range moves {
		dirs[filepath.Dir(m.To)] = true
	}
	s.Dirs = sortedSet(dirs)

	prune := map[string]bool{}
	for _, rel := range remove {
		s.Remove = append(s.Remove, filepath.Join(root, filepath.FromSlash(rel)))
		dir := rel
		for i := 0; i < pruneDepth; i++ {
			dir = path.Dir(dir)
			if dir == "." || dir == "/" {
				break
			}
			prune[filepath.Join(root, filepath.FromSlash(dir))] = true
		}
	}
	s.PruneDirs = sortedSet(prune)
	sort.Sort(sort.Reverse(sort.StringSlice(s.PruneDirs)))

	for _, rel := range cacheFiles {
		s.CacheFiles = append(s.CacheFiles, filepath.Join(root, filepath.FromSlash(rel)))
	}
	return s
}

func sortedSet(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// shellQuote quotes s as a single POSIX shell word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var scriptTemplate = template.Must(template.New("update.sh").
	Funcs(template.FuncMap{"q": shellQuote}).
	Parse(`#!/bin/sh
# Update script for process {{.ProcessID}}. It removes itself when done.

if [ "$1" != {{q .ProcessID}} ]; then
  printf '%s\n' '{"success": false, "error": {"message": "Invalid process ID", "details": "Invalid process ID"}}'
  exit 1
fi

errors=0
{{- if .Dirs}}

# Create directories
{{- range .Dirs}}
mkdir -p -- {{q .}} || errors=$((errors + 1))
{{- end}}
{{- end}}
{{- if .Moves}}

# Move downloaded files from staging directory
{{- range .Moves}}
mv -f -- {{q .From}} {{q .To}} || errors=$((errors + 1))
{{- end}}
{{- end}}
{{- if .Remove}}

# Remove files dropped by the target release
{{- range .Remove}}
rm -f -- {{q .}} || errors=$((errors + 1))
{{- end}}
{{- end}}
{{- if .PruneDirs}}

# Remove directories left empty
{{- range .PruneDirs}}
rmdir -- {{q .}} 2>/dev/null
{{- end}}
{{- end}}
{{- if .CacheFiles}}

# Invalidate caches
{{- range .CacheFiles}}
rm -f -- {{q .}}
{{- end}}
{{- end}}

# Remove this script
rm -f -- {{q .Path}}

# Respond
if [ "$errors" -eq 0 ]; then
  response='{"success": true}'
else
  response='{"success": false, "error": {"message": "Update script failed", "details": "'"$errors"' operations failed"}}'
fi
printf '%s\n' "$response" > {{q .Response}}
printf '%s\n' "$response"
`))

// Render returns the script body.
func (s Script) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders the script to its path.
func (s Script) Write() ([]byte, error) {
	body, err := s.Render()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return body, err
	}
	_ = os.Remove(s.Response)
	return body, os.WriteFile(s.Path, body, 0o755)
}

// Response is what the script prints and records when it finishes.
type Response struct {
	Success bool `json:"success"`
	Error   *struct {
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error,omitempty"`
}

// ParseResponse decodes script output.
func ParseResponse(b []byte) (Response, error) {
	var r Response
	err := json.Unmarshal(bytes.TrimSpace(b), &r)
	return r, err
}

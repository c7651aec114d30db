// Package requirements checks that an installation can take an update.
package requirements

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Requirements describes what an update needs from the installation.
type Requirements struct {
	// Root is the installation directory.
	Root string

	// MinFreeSpace is the number of bytes that must be available on the
	// file system holding Root. Zero disables the check.
	MinFreeSpace uint64

	// Writable lists directories, relative to Root, that must be writable.
	// Root itself is always checked.
	Writable []string
}

// Check returns one message per unmet requirement; none means the
// installation is ready.
func (r Requirements) Check() []string {
	var problems []string

	info, err := os.Stat(r.Root)
	if err != nil {
		return []string{fmt.Sprintf("installation root %s is not accessible: %v", r.Root, err)}
	}
	if !info.IsDir() {
		return []string{fmt.Sprintf("installation root %s is not a directory", r.Root)}
	}

	if r.MinFreeSpace > 0 {
		free, err := freeSpace(r.Root)
		switch {
		case errors.Is(err, errUnsupported):
		case err != nil:
			problems = append(problems, fmt.Sprintf("cannot determine free space of %s: %v", r.Root, err))
		case free < r.MinFreeSpace:
			problems = append(problems, fmt.Sprintf("%s free on %s, at least %s required",
				humanize.Bytes(free), r.Root, humanize.Bytes(r.MinFreeSpace)))
		}
	}

	dirs := append([]string{"."}, r.Writable...)
	for _, rel := range dirs {
		dir := filepath.Join(r.Root, filepath.FromSlash(rel))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := writable(dir); err != nil {
			problems = append(problems, fmt.Sprintf("directory %s is not writable: %v", dir, err))
		}
	}
	return problems
}

// Err joins the problems Check reports into one error.
func (r Requirements) Err() error {
	problems := r.Check()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("requirements not met: %s", strings.Join(problems, "; "))
}

var errUnsupported = errors.New("not supported on this platform")

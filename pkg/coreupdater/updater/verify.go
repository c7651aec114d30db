package updater

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/githash"
)

// VerifyChunk checks that dir holds exactly files, each with its expected
// hash. The first problem found is returned as a *MissingFileError,
// *IntegrityError or *ExtraFileError.
func VerifyChunk(dir string, files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		calculated, err := githash.File(filepath.Join(dir, filepath.FromSlash(p)))
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingFileError{Path: p, Dir: dir}
		}
		if err != nil {
			return err
		}
		if calculated != files[p] {
			return &IntegrityError{Path: p, Expected: files[p], Calculated: calculated}
		}
	}

	present, err := listFiles(dir)
	if err != nil {
		return err
	}
	for _, p := range present {
		if _, ok := files[p]; !ok {
			return &ExtraFileError{Path: p}
		}
	}
	return nil
}

// listFiles returns every non-directory below dir, sorted.
func listFiles(dir string) ([]string, error) {
	var (
		mu  sync.Mutex
		out []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		mu.Lock()
		out = append(out, filepath.ToSlash(rel))
		mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

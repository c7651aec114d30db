package updater

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// BackupFailure records a file that could not be copied. Backups are best
// effort: failures are reported but never stop an update.
type BackupFailure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// backupFiles copies files, relative to root, below dir. Files that do not
// exist are skipped silently.
func backupFiles(root, dir string, files []string) []BackupFailure {
	var failures []BackupFailure
	if err := os.MkdirAll(dir, 0o755); err != nil {
		for _, f := range files {
			failures = append(failures, BackupFailure{Path: f, Error: err.Error()})
		}
		return failures
	}

	for _, rel := range files {
		src := filepath.Join(root, filepath.FromSlash(rel))
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := copyFile(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			failures = append(failures, BackupFailure{Path: rel, Error: err.Error()})
		}
	}
	return failures
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

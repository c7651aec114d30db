package updater

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForScript blocks until the update script at path has removed itself
// and its response file exists, or ctx is done. It is used when someone
// other than this process runs the script.
func WaitForScript(ctx context.Context, path, response string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// The script and its response live in the same directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		if finished(path, response) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return err
		}
	}
}

func finished(path, response string) bool {
	_, err := os.Stat(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	_, err = os.Stat(response)
	return err == nil
}

// Package install reads and records which release an installation runs.
package install

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Dir is the directory below the installation root holding updater files.
const Dir = ".coreupdater"

const (
	versionFile  = "version.json"
	previousFile = "version.old.json"
)

// ErrUnknownVersion is returned when no version has been recorded.
var ErrUnknownVersion = errors.New("installed version is unknown")

// Info identifies an installed release.
type Info struct {
	Version   string    `json:"version"`
	Revision  string    `json:"revision"`
	Type      string    `json:"type,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Path returns the version file location for root.
func Path(root string) string {
	return filepath.Join(root, Dir, versionFile)
}

// Read returns the recorded release of the installation at root.
func Read(root string) (Info, error) {
	return readFile(Path(root))
}

// ReadPrevious returns the release recorded before the last update.
func ReadPrevious(root string) (Info, error) {
	return readFile(filepath.Join(root, Dir, previousFile))
}

func readFile(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, ErrUnknownVersion
	}
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if info.Revision == "" {
		return Info{}, ErrUnknownVersion
	}
	return info, nil
}

// Write records info as the installed release. The previous record, if
// any, is kept alongside.
func Write(root string, info Info) error {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	current := filepath.Join(dir, versionFile)
	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, filepath.Join(dir, previousFile)); err != nil {
			return fmt.Errorf("keeping previous version: %w", err)
		}
	}

	tmp := current + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing version file: %w", err)
	}
	if err := os.Rename(tmp, current); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing version file: %w", err)
	}
	return nil
}

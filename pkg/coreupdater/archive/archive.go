// Package archive unpacks release archives into a staging directory.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Default extraction limits.
const (
	DefaultMaxFileSize  = 256 << 20
	DefaultMaxTotalSize = 2 << 30
)

// ErrUnsafePath is returned for entries that would land outside the
// destination.
var ErrUnsafePath = errors.New("unsafe path in archive")

// ErrTooLarge is returned when an entry or the whole archive exceeds its
// size limit.
var ErrTooLarge = errors.New("archive content too large")

// Limits bound what one archive may expand to. Zero fields use the
// defaults.
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultMaxTotalSize
	}
	return l
}

// Extract unpacks the gzip compressed tar at src below dest and returns
// the forward-slash paths of the extracted files, in archive order. Only
// regular files and directories are accepted.
func Extract(src, dest string, limits Limits) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("archive %s is invalid: %w", filepath.Base(src), err)
	}
	defer zr.Close()

	return extractTar(tar.NewReader(zr), dest, limits.withDefaults())
}

func extractTar(tr *tar.Reader, dest string, limits Limits) ([]string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	var (
		files []string
		total int64
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("reading archive: %w", err)
		}

		rel, err := CleanPath(hdr.Name)
		if err != nil {
			return files, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("creating directory: %w", err)
			}

		case tar.TypeReg:
			if hdr.Size > limits.MaxFileSize {
				return files, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, rel, hdr.Size)
			}
			total += hdr.Size
			if total > limits.MaxTotalSize {
				return files, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limits.MaxTotalSize)
			}
			if err := writeFile(target, tr, hdr); err != nil {
				return files, err
			}
			files = append(files, rel)

		default:
			return files, fmt.Errorf("%w: %s has unsupported type %q", ErrUnsafePath, rel, hdr.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent dir: %w", err)
	}
	mode := os.FileMode(hdr.Mode).Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, hdr.Size))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", hdr.Name, err)
	}
	if n != hdr.Size {
		return fmt.Errorf("writing %s: short entry (%d of %d bytes)", hdr.Name, n, hdr.Size)
	}
	return nil
}

// CleanPath normalizes an archive entry name. Absolute names and names
// escaping the destination are rejected.
func CleanPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute path %s", ErrUnsafePath, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path traversal %s", ErrUnsafePath, name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// Package githash computes git blob object ids, the content hash used by
// remote release manifests and by scans of the installed tree.
package githash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Size is the length of a hex encoded hash.
const Size = 40

// Sum returns the git blob hash of content as lowercase hex.
func Sum(content []byte) string {
	h := sha1.New()
	writeHeader(h, int64(len(content)))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// File hashes the file at path without loading it into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", path)
	}

	return Reader(f, info.Size())
}

// Reader hashes exactly size bytes read from r.
func Reader(r io.Reader, size int64) (string, error) {
	h := sha1.New()
	writeHeader(h, size)
	n, err := io.Copy(h, io.LimitReader(r, size))
	if err != nil {
		return "", err
	}
	if n != size {
		return "", fmt.Errorf("short read: got %d of %d bytes", n, size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeHeader(w io.Writer, size int64) {
	io.WriteString(w, "blob ")
	io.WriteString(w, strconv.FormatInt(size, 10))
	w.Write([]byte{0})
}

// Valid reports whether s looks like a hex encoded hash.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

//go:build !linux && !darwin

package requirements

import "os"

func freeSpace(string) (uint64, error) {
	return 0, errUnsupported
}

// writable probes with a temporary file.
func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".coreupdater-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

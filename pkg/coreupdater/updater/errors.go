package updater

import "fmt"

// IntegrityError reports a downloaded file whose content does not match
// the target manifest.
type IntegrityError struct {
	Path       string
	Expected   string
	Calculated string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("file %s has invalid fingerprint", e.Path)
}

// Details lists both hashes.
func (e *IntegrityError) Details() string {
	return fmt.Sprintf("Calculated hash = %s\nExpected hash = %s", e.Calculated, e.Expected)
}

// MissingFileError reports a requested file absent from its archive.
type MissingFileError struct {
	Path string
	Dir  string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file %s not downloaded", e.Path)
}

// Details names the staging directory.
func (e *MissingFileError) Details() string {
	return "File not found in " + e.Dir
}

// ExtraFileError reports an archive entry nobody asked for.
type ExtraFileError struct {
	Path string
}

func (e *ExtraFileError) Error() string {
	return fmt.Sprintf("there was extra file %s in archive", e.Path)
}

// Details explains the rejection.
func (e *ExtraFileError) Details() string {
	return "Downloaded archive contained extra file that was not requested: " + e.Path
}

// detailer is implemented by errors carrying a failure detail string.
type detailer interface {
	Details() string
}

package replay

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrDirNotFound is returned when a directory does not exist
	ErrDirNotFound = errors.New("directory does not exist")
	// ErrNotADir is returned when the path is a file
	ErrNotADir = errors.New("path is not a directory")
	// ErrDirNotReadable is returned when a directory cannot be listed
	ErrDirNotReadable = errors.New("directory is not readable")
	// ErrDirNotWritable is returned when files cannot be created in a directory
	ErrDirNotWritable = errors.New("directory is not writable")
)

// ValidateDir checks that dir exists and is readable, and writable when
// requested. Failures wrap one of the sentinel errors above.
func ValidateDir(dir string, needWrite bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return fmt.Errorf("%w: %s: %v", ErrDirNotReadable, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADir, dir)
	}
	if !canRead(dir) {
		return fmt.Errorf("%w: %s", ErrDirNotReadable, dir)
	}
	if needWrite && !canWrite(dir) {
		return fmt.Errorf("%w: %s", ErrDirNotWritable, dir)
	}
	return nil
}

package utils

import (
	"os"

	"github.com/pkg/errors"
)

// MakeDirectory creates a directory at the given path, including any missing parent directories. If the path already
// exists and refers to a directory, this is a no-op.
func MakeDirectory(dirToMake string) error {
	dirInfo, err := os.Stat(dirToMake)
	if err != nil {
		// Directory does not exist, as expected.
		if os.IsNotExist(err) {
			err = os.MkdirAll(dirToMake, 0755)
			if err != nil {
				return errors.WithStack(err)
			}
			return nil
		}
		return errors.WithStack(err)
	}

	// The path exists, make sure it is a directory.
	if !dirInfo.IsDir() {
		return errors.Errorf("could not create directory '%s' because a file exists at that path", dirToMake)
	}
	return nil
}

// FileExists returns true if a file (not a directory) exists at the given path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

package filesystem

import (
	"os"

	"github.com/spf13/afero"
)

// NewOS returns the real operating system filesystem
func NewOS() afero.Fs {
	return afero.NewOsFs()
}

// NewMemory returns an in-memory filesystem for tests and dry runs
func NewMemory() afero.Fs {
	return afero.NewMemMapFs()
}

// MkdirStaging creates a scratch directory on the real filesystem and
// returns a cleanup func. Archive extraction always stages on disk, then
// the result is copied into whatever afero.Fs the caller uses.
func MkdirStaging(pattern string) (string, func(), error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

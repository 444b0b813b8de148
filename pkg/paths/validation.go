package paths

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arthur-debert/modkit/pkg/errors"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateName ensures an installation name is usable as a file name.
// Names must start with a letter or digit and contain only letters,
// digits, dots, dashes and underscores.
func ValidateName(name string) error {
	if name == "" {
		return errors.New(errors.ErrInvalidInput, "installation name cannot be empty")
	}
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return errors.Newf(errors.ErrInvalidInput, "invalid installation name %q", name).
			WithDetail("name", name)
	}
	return nil
}

// ValidateRelative checks that a manifest-supplied relative path stays
// inside the directory it will be joined to.
func ValidateRelative(rel string) error {
	if rel == "" {
		return errors.New(errors.ErrInvalidInput, "path cannot be empty")
	}
	if strings.Contains(rel, "\x00") {
		return errors.New(errors.ErrInvalidInput, "path contains null bytes").WithDetail("path", rel)
	}
	slashed := filepath.ToSlash(rel)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return errors.New(errors.ErrInvalidInput, "path must be relative").WithDetail("path", rel)
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.New(errors.ErrInvalidInput, "path escapes its base directory").WithDetail("path", rel)
	}
	return nil
}

// SafeJoin joins rel onto base after ValidateRelative
func SafeJoin(base, rel string) (string, error) {
	if err := ValidateRelative(rel); err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(rel)), nil
}

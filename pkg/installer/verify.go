package installer

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/state"
)

// Problem kinds found by Verify
const (
	DriftMissing  = "missing"
	DriftModified = "modified"
)

// Drift is one placed file that no longer matches its record
type Drift struct {
	Component string
	Path      string
	Problem   string
}

// Verify compares dir with the recorded placements. Copied files are
// checked against their artifact digest; extracted files only for
// presence, since players are expected to edit configs.
func (i *Installer) Verify(dir string, placements map[string]state.Placement) ([]Drift, error) {
	ids := make([]string, 0, len(placements))
	for id := range placements {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var drift []Drift
	for _, id := range ids {
		p := placements[id]
		for _, rel := range p.Files {
			target, err := paths.SafeJoin(dir, rel)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrStateStore, "recorded path is unsafe").
					WithDetail("component", id).
					WithDetail("path", rel)
			}

			f, err := i.fs.Open(target)
			if err != nil {
				if os.IsNotExist(err) {
					drift = append(drift, Drift{Component: id, Path: rel, Problem: DriftMissing})
					continue
				}
				return nil, fsError(err, "reading placed file", target, id)
			}
			if p.Archive || p.Digest == "" {
				_ = f.Close()
				continue
			}
			digest, err := cache.DigestReader(f)
			_ = f.Close()
			if err != nil {
				return nil, fsError(err, "reading placed file", target, id)
			}
			if digest != p.Digest {
				drift = append(drift, Drift{Component: id, Path: rel, Problem: DriftModified})
			}
		}
	}
	return drift, nil
}

// RemovePlaced deletes the files recorded in placements and prunes the
// directories they leave empty. dir itself and anything else in it are
// kept.
func (i *Installer) RemovePlaced(dir string, placements map[string]state.Placement) error {
	ids := make([]string, 0, len(placements))
	for id := range placements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := i.removeFiles(dir, id, placements[id].Files, newClaims()); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes an installation directory
func (i *Installer) RemoveAll(dir string) error {
	clean := filepath.Clean(dir)
	if dir == "" || clean == string(filepath.Separator) || clean == "." {
		return errors.Newf(errors.ErrInvalidInput, "refusing to remove %q", dir).
			WithDetail("path", dir)
	}
	if err := i.fs.RemoveAll(clean); err != nil {
		return fsError(err, "removing installation directory", clean, "")
	}
	return nil
}

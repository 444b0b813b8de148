package state

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/paths"
)

const recordExt = ".toml"

// Store reads and writes installation records in one directory
type Store struct {
	fs  afero.Fs
	dir string
}

// New creates a store over dir
func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the record directory
func (s *Store) Dir() string { return s.dir }

// Path returns the record file of name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+recordExt)
}

// Read loads the record of name. A missing record is (nil, nil).
func (s *Store) Read(name string) (*Installation, error) {
	if err := paths.ValidateName(name); err != nil {
		return nil, err
	}
	path := s.Path(name)

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrStateStore, "reading installation %s", name).
			WithDetail("name", name).
			WithDetail("path", path)
	}

	var inst Installation
	if err := toml.Unmarshal(data, &inst); err != nil {
		return nil, errors.Wrapf(err, errors.ErrStateStore, "installation record %s is unreadable", name).
			WithDetail("name", name).
			WithDetail("path", path)
	}
	if inst.SchemaVersion > SchemaVersion {
		return nil, errors.Newf(errors.ErrStateStore, "installation record %s has schema %d, this build reads up to %d",
			name, inst.SchemaVersion, SchemaVersion).
			WithDetail("name", name).
			WithDetail("path", path)
	}

	// records written before the schema field existed
	if inst.SchemaVersion == 0 {
		inst.SchemaVersion = SchemaVersion
	}
	if inst.Name == "" {
		inst.Name = name
	}
	if inst.Components == nil {
		inst.Components = make(map[string]Placement)
	}
	return &inst, nil
}

// Write replaces the record of name with inst
func (s *Store) Write(name string, inst *Installation) error {
	if err := paths.ValidateName(name); err != nil {
		return err
	}
	path := s.Path(name)

	rec := *inst
	rec.SchemaVersion = SchemaVersion
	rec.Name = name
	rec.Toggles = append([]string(nil), inst.Toggles...)
	sort.Strings(rec.Toggles)

	data, err := toml.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, errors.ErrStateStore, "encoding installation %s", name).
			WithDetail("name", name)
	}
	if err := filesystem.AtomicWrite(s.fs, path, data, 0644); err != nil {
		return errors.Wrapf(err, errors.ErrStateStore, "writing installation %s", name).
			WithDetail("name", name).
			WithDetail("path", path)
	}

	log := logging.GetLogger("state")
	log.Debug().
		Str("name", name).
		Str("manifest_version", rec.ManifestVersion).
		Int("components", len(rec.Components)).
		Msg("Committed installation record")
	return nil
}

// Delete removes the record of name. Deleting a missing record is not
// an error.
func (s *Store) Delete(name string) error {
	if err := paths.ValidateName(name); err != nil {
		return err
	}
	if err := s.fs.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrStateStore, "deleting installation %s", name).
			WithDetail("name", name)
	}
	return nil
}

// List returns the names of every stored installation, sorted
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrStateStore, "listing installations").
			WithDetail("path", s.dir)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, recordExt) {
			continue
		}
		name := strings.TrimSuffix(n, recordExt)
		if paths.ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

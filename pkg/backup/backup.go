// Package backup keeps point-in-time snapshots of installations.
//
// A snapshot holds the files modkit placed, zipped, plus the
// installation record that describes them. Layout under the root:
//
//	<installation>/<id>/backup.zip       placed files, installation relative
//	<installation>/<id>/metadata.json    Metadata
//	<installation>/<id>/<installation>.toml  the record at snapshot time
//
// A snapshot is written under <id>.partial and renamed into place when
// complete, so List never sees half a snapshot.
package backup

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/state"
)

const (
	archiveName  = "backup.zip"
	metadataName = "metadata.json"
	partialExt   = ".partial"
	idLayout     = "20060102T150405Z"
)

// Kind records why a snapshot was taken
type Kind string

const (
	KindManual     Kind = "manual"
	KindPreUpdate  Kind = "pre-update"
	KindPreRestore Kind = "pre-restore"
)

// Metadata describes one snapshot
type Metadata struct {
	ID              string    `json:"id"`
	Installation    string    `json:"installation"`
	Kind            Kind      `json:"kind"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ManifestVersion string    `json:"manifest_version"`
	Toggles         []string  `json:"toggles"`
	Files           int       `json:"file_count"`
	Size            int64     `json:"size_bytes"`
}

// Store reads and writes snapshots below root
type Store struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. fs is also where installation files are read
// from when a snapshot is taken.
func New(fs afero.Fs, root string, opts ...Option) *Store {
	s := &Store{fs: fs, root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.root, name)
}

// Create snapshots the placed files of inst
func (s *Store) Create(ctx context.Context, inst *state.Installation, kind Kind, description string) (*Metadata, error) {
	log := logging.GetLogger("backup")
	if err := paths.ValidateName(inst.Name); err != nil {
		return nil, err
	}

	created := s.now().UTC()
	id, err := s.newID(inst.Name, created, kind)
	if err != nil {
		return nil, err
	}
	final := filepath.Join(s.dir(inst.Name), id)
	partial := final + partialExt
	if err := s.fs.MkdirAll(partial, 0755); err != nil {
		return nil, fsError(err, "creating snapshot directory", partial)
	}
	fail := func(err error) (*Metadata, error) {
		_ = s.fs.RemoveAll(partial)
		return nil, err
	}

	meta := &Metadata{
		ID:              id,
		Installation:    inst.Name,
		Kind:            kind,
		Description:     description,
		CreatedAt:       created,
		ManifestVersion: inst.ManifestVersion,
		Toggles:         append([]string(nil), inst.Toggles...),
	}
	if err := s.writeArchive(ctx, filepath.Join(partial, archiveName), inst, meta); err != nil {
		return fail(err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fail(errors.Wrap(err, errors.ErrInternal, "cannot encode snapshot metadata"))
	}
	if err := filesystem.AtomicWrite(s.fs, filepath.Join(partial, metadataName), data, 0644); err != nil {
		return fail(fsError(err, "writing snapshot metadata", partial))
	}
	if err := state.New(s.fs, partial).Write(inst.Name, inst); err != nil {
		return fail(err)
	}
	if err := s.fs.Rename(partial, final); err != nil {
		return fail(fsError(err, "finishing snapshot", final))
	}

	log.Info().
		Str("installation", inst.Name).
		Str("backup", id).
		Str("kind", string(kind)).
		Int("files", meta.Files).
		Int64("size", meta.Size).
		Msg("Snapshot created")
	return meta, nil
}

// newID derives a sortable id from the creation time, adding a counter
// when several snapshots land in the same second
func (s *Store) newID(name string, created time.Time, kind Kind) (string, error) {
	base := created.Format(idLayout) + "-" + string(kind)
	id := base
	for n := 2; ; n++ {
		taken, err := afero.Exists(s.fs, filepath.Join(s.dir(name), id))
		if err != nil {
			return "", fsError(err, "checking snapshot id", s.dir(name))
		}
		if !taken {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// writeArchive zips every placed file of inst. Files that are already
// gone are skipped; the record still lists them and restore leaves them
// for repair.
func (s *Store) writeArchive(ctx context.Context, target string, inst *state.Installation, meta *Metadata) error {
	out, err := s.fs.Create(target)
	if err != nil {
		return fsError(err, "creating snapshot archive", target)
	}
	zw := zip.NewWriter(out)

	for _, rel := range placedFiles(inst) {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return errors.Wrap(err, errors.ErrCancelled, "snapshot cancelled").
				WithDetail("installation", inst.Name)
		}
		n, err := s.addFile(zw, inst.Dir, rel)
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
		if n >= 0 {
			meta.Files++
			meta.Size += n
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fsError(err, "writing snapshot archive", target)
	}
	if err := out.Close(); err != nil {
		return fsError(err, "closing snapshot archive", target)
	}
	return nil
}

// addFile copies dir/rel into zw. It returns -1 when the file is missing.
func (s *Store) addFile(zw *zip.Writer, dir, rel string) (int64, error) {
	src, err := paths.SafeJoin(dir, rel)
	if err != nil {
		return -1, nil
	}
	f, err := s.fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return 0, fsError(err, "reading placed file", src)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fsError(err, "reading placed file", src)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fsError(err, "reading placed file", src)
	}
	header.Name = rel
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, fsError(err, "writing snapshot archive", rel)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return 0, fsError(err, "writing snapshot archive", rel)
	}
	return n, nil
}

func placedFiles(inst *state.Installation) []string {
	seen := make(map[string]bool)
	var files []string
	for _, id := range inst.ComponentIDs() {
		for _, f := range inst.Components[id].Files {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files
}

// List returns the snapshots of name, newest first. Unreadable
// snapshots are skipped.
func (s *Store) List(name string) ([]*Metadata, error) {
	if err := paths.ValidateName(name); err != nil {
		return nil, err
	}
	dir := s.dir(name)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fsError(err, "listing snapshots", dir)
	}

	var out []*Metadata
	for _, info := range infos {
		if !info.IsDir() || strings.HasSuffix(info.Name(), partialExt) {
			continue
		}
		meta, err := s.metadata(name, info.Name())
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) metadata(name, id string) (*Metadata, error) {
	path := filepath.Join(s.dir(name), id, metadataName)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Latest returns the newest snapshot of name that was not taken as a
// safety net for a restore, or nil when there is none
func (s *Store) Latest(name string) (*Metadata, error) {
	all, err := s.List(name)
	if err != nil {
		return nil, err
	}
	for _, meta := range all {
		if meta.Kind != KindPreRestore {
			return meta, nil
		}
	}
	return nil, nil
}

// Load returns the metadata and installation record of a snapshot
func (s *Store) Load(name, id string) (*Metadata, *state.Installation, error) {
	if err := paths.ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := paths.ValidateName(id); err != nil {
		return nil, nil, err
	}
	meta, err := s.metadata(name, id)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.ErrNotFound, "backup %s of %s not found", id, name).
			WithDetail("installation", name).
			WithDetail("backup", id)
	}
	rec, err := state.New(s.fs, filepath.Join(s.dir(name), id)).Read(name)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, errors.Newf(errors.ErrNotFound, "backup %s of %s has no record", id, name).
			WithDetail("installation", name).
			WithDetail("backup", id)
	}
	return meta, rec, nil
}

// Archive opens the zipped files of a snapshot
func (s *Store) Archive(name, id string) (afero.File, error) {
	path := filepath.Join(s.dir(name), id, archiveName)
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrNotFound, "backup %s of %s has no archive", id, name).
			WithDetail("path", path)
	}
	return f, nil
}

// Prune removes all but the keep newest snapshots of name and returns
// the removed ids. keep <= 0 keeps everything.
func (s *Store) Prune(name string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	all, err := s.List(name)
	if err != nil || len(all) <= keep {
		return nil, err
	}
	var removed []string
	for _, meta := range all[keep:] {
		dir := filepath.Join(s.dir(name), meta.ID)
		if err := s.fs.RemoveAll(dir); err != nil {
			return removed, fsError(err, "removing snapshot", dir)
		}
		removed = append(removed, meta.ID)
	}
	return removed, nil
}

// Delete removes every snapshot of name
func (s *Store) Delete(name string) error {
	if err := paths.ValidateName(name); err != nil {
		return err
	}
	if err := s.fs.RemoveAll(s.dir(name)); err != nil {
		return fsError(err, "removing snapshots", s.dir(name))
	}
	return nil
}

func fsError(err error, what, where string) error {
	return errors.Wrapf(err, errors.ErrFilesystem, "%s failed", what).
		WithDetail("path", where)
}

package installer

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/codeclysm/extract/v4"
	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/progress"
	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/arthur-debert/modkit/pkg/state"
)

// Blobs is the read side of the artifact cache
type Blobs interface {
	Lookup(key manifest.ArtifactKey) (*cache.Entry, bool)
	Open(key manifest.ArtifactKey) (afero.File, error)
}

// Report is what one Apply changed
type Report struct {
	// Placed holds the placement of every plan component, kept ones
	// included
	Placed map[string]state.Placement
	// Removed are the component ids whose files were deleted
	Removed []string
	// Written counts files written during this call
	Written int
	// Deleted are stale file paths removed, relative to the directory
	Deleted []string
}

// Installer applies plans to directories on fs
type Installer struct {
	fs       afero.Fs
	reporter progress.Reporter
}

// Option configures an Installer
type Option func(*Installer)

// WithReporter sends a progress event per component
func WithReporter(r progress.Reporter) Option {
	return func(i *Installer) {
		if r != nil {
			i.reporter = r
		}
	}
}

// New creates an installer
func New(fs afero.Fs, opts ...Option) *Installer {
	i := &Installer{fs: fs, reporter: progress.Nop}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// FS returns the filesystem the installer writes to
func (i *Installer) FS() afero.Fs { return i.fs }

// Apply makes dir match plan. prior is the committed record, nil for a
// fresh install; its placements tell which files are stale. Every
// artifact of the plan must already be in blobs.
func (i *Installer) Apply(ctx context.Context, dir string, plan *resolver.Plan, prior *state.Installation, blobs Blobs) (*Report, error) {
	log := logging.GetLogger("installer").With().Str("dir", dir).Logger()
	m := plan.Manifest()

	priorPlaced := map[string]state.Placement{}
	if prior != nil {
		priorPlaced = prior.Components
	}

	if err := i.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fsError(err, "creating installation directory", dir, "")
	}

	report := &Report{Placed: make(map[string]state.Placement, len(plan.Components))}
	claims := newClaims()
	total := len(plan.Components)

	for n, c := range plan.Components {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, errors.ErrCancelled, "install cancelled").
				WithDetail("component", c.ID)
		}

		if old, ok := priorPlaced[c.ID]; ok && plan.Kept(c.ID) {
			if err := claims.add(c.ID, old.Files); err != nil {
				return report, err
			}
			report.Placed[c.ID] = old
		} else {
			p, err := i.place(ctx, dir, m, c, blobs, claims)
			if err != nil {
				return report, err
			}
			report.Placed[c.ID] = p
			report.Written += len(p.Files)
		}

		i.reporter.Report(progress.Event{
			Step:  progress.StepApplying,
			Item:  c.ID,
			Done:  n + 1,
			Total: total,
		})
	}

	// files a component owned before but no longer produces
	for _, c := range plan.Components {
		old, ok := priorPlaced[c.ID]
		if !ok {
			continue
		}
		deleted, err := i.removeFiles(dir, c.ID, old.Files, claims)
		if err != nil {
			return report, err
		}
		report.Deleted = append(report.Deleted, deleted...)
	}

	for _, id := range plan.ToRemove {
		old, ok := priorPlaced[id]
		if !ok {
			continue
		}
		deleted, err := i.removeFiles(dir, id, old.Files, claims)
		if err != nil {
			return report, err
		}
		report.Deleted = append(report.Deleted, deleted...)
		report.Removed = append(report.Removed, id)
		i.reporter.Report(progress.Event{Step: progress.StepRemoving, Item: id})
	}
	sort.Strings(report.Deleted)

	log.Info().
		Int("components", len(report.Placed)).
		Int("written", report.Written).
		Int("removed", len(report.Removed)).
		Int("deleted", len(report.Deleted)).
		Msg("Applied plan")
	return report, nil
}

// place writes one component after claiming its paths, so a conflict is
// found before anything is overwritten
func (i *Installer) place(ctx context.Context, dir string, m *manifest.Manifest, c *manifest.Component, blobs Blobs, claims *claims) (state.Placement, error) {
	p := state.PlacementFor(c)
	key := c.Key()

	entry, ok := blobs.Lookup(key)
	if !ok {
		return p, errors.Newf(errors.ErrNotFound, "artifact %s is not cached", key).
			WithDetail("artifact", key.String()).
			WithDetail("component", c.ID)
	}
	p.Digest = entry.Digest

	blob, err := blobs.Open(key)
	if err != nil {
		return p, fsError(err, "opening cached artifact", entry.Path, c.ID)
	}
	defer func() { _ = blob.Close() }()

	if c.Kind.IsArchive() {
		files, err := i.extract(ctx, dir, m.TargetPath(c), c.ID, blob, claims)
		if err != nil {
			return p, err
		}
		p.Files = files
		p.Archive = true
		return p, nil
	}

	rel := m.TargetPath(c)
	target, err := paths.SafeJoin(dir, rel)
	if err != nil {
		return p, errors.Wrap(err, errors.ErrFilesystem, "unsafe target path").
			WithDetail("path", rel).
			WithDetail("component", c.ID)
	}
	if err := claims.add(c.ID, []string{rel}); err != nil {
		return p, err
	}
	if err := filesystem.AtomicWriteFrom(i.fs, target, blob, 0644); err != nil {
		return p, fsError(err, "writing component file", target, c.ID)
	}
	p.Files = []string{rel}
	return p, nil
}

// extract unpacks an archive into a staging directory on disk, then
// copies its regular files under base. id names the owner in errors and
// claims.
func (i *Installer) extract(ctx context.Context, dir, base, id string, archive io.Reader, claims *claims) ([]string, error) {
	staging, cleanup, err := filesystem.MkdirStaging("modkit-extract-")
	if err != nil {
		return nil, fsError(err, "creating staging directory", os.TempDir(), id)
	}
	defer cleanup()

	var rejected []string
	rename := func(name string) string {
		if paths.ValidateRelative(name) != nil {
			rejected = append(rejected, name)
			return path.Join("rejected", strconv.Itoa(len(rejected)))
		}
		return name
	}

	if err := extract.Archive(ctx, archive, staging, rename); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled, "install cancelled").
				WithDetail("component", id)
		}
		return nil, errors.Wrapf(err, errors.ErrFilesystem, "extracting %s", id).
			WithDetail("component", id).
			WithDetail("path", base)
	}
	if len(rejected) > 0 {
		return nil, errors.Newf(errors.ErrFilesystem, "archive %s has entries outside its directory", id).
			WithDetail("component", id).
			WithDetail("path", rejected[0])
	}

	// installation-relative path to staged file
	staged := map[string]string{}
	var files []string
	err = filepath.WalkDir(staging, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			// directories are recreated by the copy, links are not followed
			return nil
		}
		rel, err := filepath.Rel(staging, p)
		if err != nil {
			return err
		}
		rel = path.Join(base, filepath.ToSlash(rel))
		staged[rel] = p
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fsError(err, "reading extracted archive", base, id)
	}
	sort.Strings(files)

	if err := claims.add(id, files); err != nil {
		return nil, err
	}

	for _, rel := range files {
		target, err := paths.SafeJoin(dir, rel)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrFilesystem, "unsafe extracted path").
				WithDetail("path", rel).
				WithDetail("component", id)
		}
		if err := i.copyIn(staged[rel], target); err != nil {
			return nil, fsError(err, "writing extracted file", target, id)
		}
	}
	return files, nil
}

// Unpack extracts archive into dir, overwriting what is there, and
// returns the slash-separated paths it wrote
func (i *Installer) Unpack(ctx context.Context, dir string, archive io.Reader) ([]string, error) {
	if err := i.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fsError(err, "creating installation directory", dir, "")
	}
	return i.extract(ctx, dir, "", "backup", archive, newClaims())
}

// copyIn copies a file from the real filesystem into i.fs
func (i *Installer) copyIn(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	return filesystem.AtomicWriteFrom(i.fs, dst, in, 0644)
}

// removeFiles deletes the files of id that no live component claims and
// prunes the directories they leave empty
func (i *Installer) removeFiles(dir, id string, files []string, claims *claims) ([]string, error) {
	var deleted []string
	for _, rel := range files {
		if claims.owned(rel) {
			continue
		}
		target, err := paths.SafeJoin(dir, rel)
		if err != nil {
			// a tampered record never makes us delete outside dir
			continue
		}
		if err := i.fs.Remove(target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, fsError(err, "removing file", target, id)
		}
		deleted = append(deleted, rel)
		if err := filesystem.PruneEmptyDirs(i.fs, dir, filepath.Dir(target)); err != nil {
			return deleted, fsError(err, "pruning directories", filepath.Dir(target), id)
		}
	}
	return deleted, nil
}

// claims tracks which component owns each placed path. Paths compare
// case-insensitively, as they do on the filesystems players use.
type claims struct {
	owner map[string]string
}

func newClaims() *claims {
	return &claims{owner: make(map[string]string)}
}

func (c *claims) add(id string, files []string) error {
	for _, f := range files {
		k := strings.ToLower(f)
		if other, ok := c.owner[k]; ok && other != id {
			return errors.Newf(errors.ErrFilesystem, "%s and %s both place %s", other, id, f).
				WithDetail("path", f).
				WithDetail("component", id).
				WithDetail("owner", other)
		}
		c.owner[k] = id
	}
	return nil
}

func (c *claims) owned(file string) bool {
	_, ok := c.owner[strings.ToLower(file)]
	return ok
}

func fsError(err error, what, where, component string) error {
	e := errors.Wrap(err, errors.ErrFilesystem, what).WithDetail("path", where)
	if component != "" {
		e = e.WithDetail("component", component)
	}
	return e
}

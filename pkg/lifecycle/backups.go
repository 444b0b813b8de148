package lifecycle

import (
	"context"

	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/backup"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/state"
)

// Backups stores snapshots of installations
type Backups interface {
	Create(ctx context.Context, inst *state.Installation, kind backup.Kind, description string) (*backup.Metadata, error)
	List(name string) ([]*backup.Metadata, error)
	Latest(name string) (*backup.Metadata, error)
	Load(name, id string) (*backup.Metadata, *state.Installation, error)
	Archive(name, id string) (afero.File, error)
	Prune(name string, keep int) ([]string, error)
	Delete(name string) error
}

// WithBackups enables snapshots. keep bounds how many are retained per
// installation, 0 keeps all. preUpdate takes one before every update.
func WithBackups(b Backups, keep int, preUpdate bool) Option {
	return func(m *Manager) {
		m.backups = b
		m.keepBackups = keep
		m.preUpdate = preUpdate
	}
}

func (m *Manager) requireBackups() error {
	if m.backups == nil {
		return errors.New(errors.ErrInvalidInput, "backups are not configured")
	}
	return nil
}

// Backup snapshots the placed files and record of name. A dry run
// returns nil metadata.
func (m *Manager) Backup(ctx context.Context, name, description string) (*backup.Metadata, error) {
	if err := m.requireBackups(); err != nil {
		return nil, err
	}
	if err := paths.ValidateName(name); err != nil {
		return nil, err
	}
	_, unlock, err := m.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prior, err := m.records.Read(name)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, notFound(name)
	}
	if m.dryRun {
		return nil, nil
	}
	return m.snapshot(ctx, prior, backup.KindManual, description)
}

// Backups lists the snapshots of name, newest first
func (m *Manager) Backups(name string) ([]*backup.Metadata, error) {
	if err := m.requireBackups(); err != nil {
		return nil, err
	}
	return m.backups.List(name)
}

// PruneBackups keeps the keep newest snapshots of name
func (m *Manager) PruneBackups(ctx context.Context, name string, keep int) ([]string, error) {
	if err := m.requireBackups(); err != nil {
		return nil, err
	}
	if err := paths.ValidateName(name); err != nil {
		return nil, err
	}
	_, unlock, err := m.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if m.dryRun {
		return nil, nil
	}
	return m.backups.Prune(name, keep)
}

// snapshot takes a backup of inst and applies the retention limit
func (m *Manager) snapshot(ctx context.Context, inst *state.Installation, kind backup.Kind, description string) (*backup.Metadata, error) {
	meta, err := m.backups.Create(ctx, inst, kind, description)
	if err != nil {
		return nil, err
	}
	if _, err := m.backups.Prune(inst.Name, m.keepBackups); err != nil {
		log := logging.GetLogger("lifecycle")
		log.Warn().Err(err).Str("installation", inst.Name).Msg("Pruning old backups failed")
	}
	return meta, nil
}

// Restore puts name back to the snapshot id, or to the newest snapshot
// when id is empty. The current state is snapshotted first so the
// restore itself can be undone.
func (m *Manager) Restore(ctx context.Context, name, id string) (*Result, error) {
	if err := m.requireBackups(); err != nil {
		return nil, err
	}
	if err := paths.ValidateName(name); err != nil {
		return nil, err
	}
	s, unlock, err := m.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prior, err := m.records.Read(name)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, notFound(name)
	}
	if id == "" {
		latest, err := m.backups.Latest(name)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, errors.Newf(errors.ErrNotFound, "installation %s has no backups", name).
				WithDetail("installation", name)
		}
		id = latest.ID
	}
	meta, rec, err := m.backups.Load(name, id)
	if err != nil {
		return nil, err
	}

	// the snapshot goes back where the installation lives now
	rec.Name = name
	rec.Dir = prior.Dir
	rec.OwnsDir = prior.OwnsDir
	rec.SchemaVersion = state.SchemaVersion
	rec.ModifiedAt = m.now().UTC()
	if m.dryRun {
		return &Result{Installation: rec, DryRun: true}, nil
	}

	log := logging.GetLogger("lifecycle").With().
		Str("installation", name).
		Str("backup", id).
		Logger()

	safety, err := m.backups.Create(ctx, prior, backup.KindPreRestore, "before restoring "+id)
	if err != nil {
		return nil, err
	}

	m.enter(s, Applying, name)
	if err := m.applier.RemovePlaced(prior.Dir, prior.Components); err != nil {
		return nil, annotate(err, name, Applying)
	}
	if meta.Files > 0 {
		if err := m.unpack(ctx, name, id, rec.Dir); err != nil {
			log.Error().Err(err).Str("safety_backup", safety.ID).Msg("Restore failed, files can be recovered from the safety backup")
			return nil, annotate(err, name, Applying)
		}
	}

	m.enter(s, Committing, name)
	if err := m.records.Write(name, rec); err != nil {
		return nil, annotate(err, name, Committing)
	}
	if _, err := m.backups.Prune(name, m.keepBackups); err != nil {
		log.Warn().Err(err).Msg("Pruning old backups failed")
	}

	log.Info().
		Str("manifest_version", rec.ManifestVersion).
		Int("files", meta.Files).
		Msg("Restored installation")
	return &Result{Installation: rec}, nil
}

func (m *Manager) unpack(ctx context.Context, name, id, dir string) error {
	archive, err := m.backups.Archive(name, id)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()
	_, err = m.applier.Unpack(ctx, dir, archive)
	return err
}

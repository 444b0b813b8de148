package lifecycle

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/go-version"

	"github.com/arthur-debert/modkit/pkg/backup"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/installer"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/paths"
	"github.com/arthur-debert/modkit/pkg/preset"
	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/arthur-debert/modkit/pkg/state"
)

// Selection is what the user asked to enable. A preset is applied first
// and explicit toggles are added on top. Without a preset, Toggles
// replace the current set. Enable and Disable then adjust the result;
// Modify computes them against the record it holds the lock for.
type Selection struct {
	// Toggles are component ids; nil means none were given
	Toggles []string
	Enable  []string
	Disable []string
	Preset  *manifest.Preset
}

// IsZero reports whether nothing was selected
func (s Selection) IsZero() bool {
	return s.Toggles == nil && s.Preset == nil && len(s.Enable) == 0 && len(s.Disable) == 0
}

func (m *Manager) toggles(mf *manifest.Manifest, sel Selection, current resolver.ToggleSet) (resolver.ToggleSet, error) {
	t := current
	switch {
	case sel.Preset != nil:
		applied, err := preset.Apply(mf, sel.Preset, current, m.policy)
		if err != nil {
			return resolver.ToggleSet{}, err
		}
		t = applied.With(sel.Toggles...)
	case sel.Toggles != nil:
		t = resolver.NewToggleSet(sel.Toggles...)
	}
	return t.With(sel.Enable...).Without(sel.Disable...), nil
}

// applySettings records the preset choice and its recommendations
func applySettings(inst *state.Installation, sel Selection) {
	if sel.Preset == nil {
		if !sel.IsZero() {
			inst.PresetID = ""
		}
		return
	}
	inst.PresetID = sel.Preset.ID
	rec := preset.RecommendedSettings(sel.Preset)
	if rec.MemoryMB != nil {
		inst.MemoryMB = *rec.MemoryMB
	}
	if rec.JavaArgs != nil {
		inst.JavaArgs = *rec.JavaArgs
	}
}

// InstallRequest describes a new installation
type InstallRequest struct {
	Name     string
	Dir      string
	Manifest *manifest.Manifest
	Selection
	// MemoryMB and JavaArgs override the preset's recommendations
	MemoryMB int
	JavaArgs string
}

// Install creates a new installation. Without a selection the
// manifest's default_enabled components are used.
func (m *Manager) Install(ctx context.Context, req InstallRequest) (*Result, error) {
	if err := paths.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.Manifest == nil {
		return nil, errors.New(errors.ErrInvalidInput, "no manifest given")
	}

	s, unlock, err := m.lock(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prior, err := m.records.Read(req.Name)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return nil, errors.Newf(errors.ErrAlreadyExists, "installation %s already exists", req.Name).
			WithDetail("installation", req.Name).
			WithDetail("dir", prior.Dir)
	}

	sel := req.Selection
	if sel.IsZero() {
		sel.Toggles = req.Manifest.DefaultToggles()
	}
	toggles, err := m.toggles(req.Manifest, sel, resolver.NewToggleSet())
	if err != nil {
		return nil, err
	}

	dir := req.Dir
	if dir == "" {
		dir = m.DefaultDir(req.Name)
	}

	return m.run(ctx, s, job{
		op:       "install",
		name:     req.Name,
		dir:      dir,
		manifest: req.Manifest,
		toggles:  toggles,
		record: func(inst *state.Installation, _ *resolver.Plan) {
			applySettings(inst, sel)
			if req.MemoryMB > 0 {
				inst.MemoryMB = req.MemoryMB
			}
			if req.JavaArgs != "" {
				inst.JavaArgs = req.JavaArgs
			}
		},
	})
}

// Modify changes the toggles of an installation on the manifest version
// it already has
func (m *Manager) Modify(ctx context.Context, name string, mf *manifest.Manifest, sel Selection) (*Result, error) {
	if sel.IsZero() {
		return nil, errors.New(errors.ErrInvalidInput, "nothing to change: give toggles or a preset").
			WithDetail("installation", name)
	}

	s, unlock, prior, err := m.open(ctx, name, mf)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := sameVersion(prior, mf); err != nil {
		return nil, err
	}

	toggles, err := m.toggles(mf, sel, prior.ToggleSet())
	if err != nil {
		return nil, err
	}

	return m.run(ctx, s, job{
		op:       "modify",
		name:     name,
		dir:      prior.Dir,
		manifest: mf,
		prior:    prior,
		toggles:  toggles,
		keep:     Preserved(prior, mf),
		record: func(inst *state.Installation, _ *resolver.Plan) {
			applySettings(inst, sel)
		},
	})
}

// Repair re-fetches missing or corrupt artifacts and re-applies every
// component without changing version or toggles. Preserved components
// are only restored when some of their files are gone.
func (m *Manager) Repair(ctx context.Context, name string, mf *manifest.Manifest) (*Result, error) {
	s, unlock, prior, err := m.open(ctx, name, mf)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := sameVersion(prior, mf); err != nil {
		return nil, err
	}

	keep, err := m.intact(prior, Preserved(prior, mf))
	if err != nil {
		return nil, err
	}

	return m.run(ctx, s, job{
		op:       "repair",
		name:     name,
		dir:      prior.Dir,
		manifest: mf,
		prior:    prior,
		toggles:  prior.ToggleSet(),
		keep:     keep,
		verify:   true,
	})
}

// UpdateOptions tune Update
type UpdateOptions struct {
	AllowDowngrade bool
}

// Update moves an installation to the version of mf. Stored toggles
// still present are carried forward, removed components are deleted
// and new required components added. Running it on the installed
// version repairs the installation.
func (m *Manager) Update(ctx context.Context, name string, mf *manifest.Manifest, opts UpdateOptions) (*Result, error) {
	s, unlock, prior, err := m.open(ctx, name, mf)
	if err != nil {
		return nil, err
	}
	defer unlock()

	installed, err := version.NewVersion(prior.ManifestVersion)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStateStore, "installation %s records an invalid version %q", name, prior.ManifestVersion).
			WithDetail("installation", name)
	}
	target := mf.Version()
	if target.LessThan(installed) && !opts.AllowDowngrade {
		return nil, errors.Newf(errors.ErrDowngrade, "%s would go from %s down to %s", name, installed, target).
			WithDetail("installation", name).
			WithDetail("installed", prior.ManifestVersion).
			WithDetail("manifest", mf.ModpackVersion)
	}
	same := target.Equal(installed)

	toggles := CarryForward(prior, mf, m.enableNewOptional)
	dropped := prior.ToggleSet().Filter(func(id string) bool { return !mf.Has(id) })
	if dropped.Len() > 0 {
		log := logging.GetLogger("lifecycle")
		log.Info().
			Str("installation", name).
			Strs("dropped", dropped.Slice()).
			Msg("Components removed from the manifest will be uninstalled")
	}

	if m.backups != nil && m.preUpdate && !m.dryRun {
		if _, err := m.snapshot(ctx, prior, backup.KindPreUpdate, "before update to "+mf.ModpackVersion); err != nil {
			return nil, err
		}
	}

	return m.run(ctx, s, job{
		op:       "update",
		name:     name,
		dir:      prior.Dir,
		manifest: mf,
		prior:    prior,
		toggles:  toggles,
		keep:     Preserved(prior, mf),
		verify:   same,
	})
}

// Uninstall removes the installation's files, then its record and
// backups. A directory modkit does not own keeps everything it did not
// place.
func (m *Manager) Uninstall(ctx context.Context, name string) (*Result, error) {
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
	if m.dryRun {
		return &Result{DryRun: true}, nil
	}

	m.enter(s, Applying, name)
	remove := func() error { return m.applier.RemovePlaced(prior.Dir, prior.Components) }
	if m.ownsDir(name, prior) {
		remove = func() error { return m.applier.RemoveAll(prior.Dir) }
	}
	if err := remove(); err != nil {
		return nil, annotate(err, name, Applying)
	}
	m.enter(s, Committing, name)
	if err := m.records.Delete(name); err != nil {
		return nil, annotate(err, name, Committing)
	}

	log := logging.GetLogger("lifecycle")
	if m.backups != nil {
		if err := m.backups.Delete(name); err != nil {
			log.Warn().Err(err).Str("installation", name).Msg("Removing backups failed")
		}
	}
	log.Info().
		Str("installation", name).
		Str("dir", prior.Dir).
		Msg("Uninstalled")
	return &Result{}, nil
}

// ownsDir reports whether uninstalling name may delete its whole
// directory
func (m *Manager) ownsDir(name string, inst *state.Installation) bool {
	return inst.OwnsDir || filepath.Clean(inst.Dir) == filepath.Clean(m.DefaultDir(name))
}

// Status is the committed record of an installation and how its
// directory differs from it
type Status struct {
	Installation *state.Installation
	Drift        []installer.Drift
	Phase        Phase
}

// Status reads name and checks its directory for drift
func (m *Manager) Status(name string) (*Status, error) {
	inst, err := m.records.Read(name)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, notFound(name)
	}
	drift, err := m.applier.Verify(inst.Dir, inst.Components)
	if err != nil {
		return nil, err
	}
	return &Status{Installation: inst, Drift: drift, Phase: m.Phase(name)}, nil
}

// List returns every committed installation, by name
func (m *Manager) List() ([]*state.Installation, error) {
	names, err := m.records.List()
	if err != nil {
		return nil, err
	}
	out := make([]*state.Installation, 0, len(names))
	for _, n := range names {
		inst, err := m.records.Read(n)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out, nil
}

// open locks name and reads its record, which must exist and belong to
// the modpack mf describes
func (m *Manager) open(ctx context.Context, name string, mf *manifest.Manifest) (*slot, func(), *state.Installation, error) {
	if err := paths.ValidateName(name); err != nil {
		return nil, nil, nil, err
	}
	if mf == nil {
		return nil, nil, nil, errors.New(errors.ErrInvalidInput, "no manifest given")
	}

	s, unlock, err := m.lock(ctx, name)
	if err != nil {
		return nil, nil, nil, err
	}
	prior, err := m.records.Read(name)
	if err == nil && prior == nil {
		err = notFound(name)
	}
	if err == nil && prior.ModpackID != "" && mf.UUID != "" && prior.ModpackID != mf.UUID {
		err = errors.Newf(errors.ErrVersionMismatch, "installation %s is a different modpack", name).
			WithDetail("installation", name).
			WithDetail("installed", prior.ModpackID).
			WithDetail("manifest", mf.UUID)
	}
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return s, unlock, prior, nil
}

// intact returns the ids whose recorded files are all present
func (m *Manager) intact(prior *state.Installation, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	subset := make(map[string]state.Placement, len(ids))
	for _, id := range ids {
		subset[id] = prior.Components[id]
	}
	drift, err := m.applier.Verify(prior.Dir, subset)
	if err != nil {
		return nil, err
	}
	broken := map[string]bool{}
	for _, d := range drift {
		if d.Problem == installer.DriftMissing {
			broken[d.Component] = true
		}
	}
	var keep []string
	for _, id := range ids {
		if !broken[id] {
			keep = append(keep, id)
		}
	}
	return keep, nil
}

func sameVersion(prior *state.Installation, mf *manifest.Manifest) error {
	if prior.ManifestVersion == mf.ModpackVersion {
		return nil
	}
	return errors.Newf(errors.ErrVersionMismatch, "installation %s is at %s, manifest is %s",
		prior.Name, prior.ManifestVersion, mf.ModpackVersion).
		WithDetail("installation", prior.Name).
		WithDetail("installed", prior.ManifestVersion).
		WithDetail("manifest", mf.ModpackVersion)
}

func notFound(name string) error {
	return errors.Newf(errors.ErrNotFound, "installation %s does not exist", name).
		WithDetail("installation", name)
}

package lifecycle

import (
	"context"
	stderrors "errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/fetch"
	"github.com/arthur-debert/modkit/pkg/installer"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/preset"
	"github.com/arthur-debert/modkit/pkg/progress"
	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/arthur-debert/modkit/pkg/state"
)

// Records is the installation record store
type Records interface {
	Read(name string) (*state.Installation, error)
	Write(name string, inst *state.Installation) error
	Delete(name string) error
	List() ([]string, error)
}

// Cache is the artifact cache as the manager uses it
type Cache interface {
	installer.Blobs
	Has(key manifest.ArtifactKey) bool
	Check(key manifest.ArtifactKey) error
	Verify(key manifest.ArtifactKey) (*cache.Entry, error)
}

// Fetcher makes plan artifacts available in the cache
type Fetcher interface {
	FetchAll(ctx context.Context, plan *resolver.Plan) (*fetch.Report, error)
}

// Applier places plans into installation directories
type Applier interface {
	FS() afero.Fs
	Apply(ctx context.Context, dir string, plan *resolver.Plan, prior *state.Installation, blobs installer.Blobs) (*installer.Report, error)
	Verify(dir string, placements map[string]state.Placement) ([]installer.Drift, error)
	RemovePlaced(dir string, placements map[string]state.Placement) error
	RemoveAll(dir string) error
	Unpack(ctx context.Context, dir string, archive io.Reader) ([]string, error)
}

// Result is the outcome of one operation
type Result struct {
	// Installation is the committed record, or the one that would be
	// committed on a dry run. Nil after an uninstall.
	Installation  *state.Installation
	Plan          *resolver.Plan
	FetchReport   *fetch.Report
	InstallReport *installer.Report
	DryRun        bool
}

// slot serializes operations on one installation name
type slot struct {
	sem   chan struct{}
	phase atomic.Int32
}

// Manager runs lifecycle operations
type Manager struct {
	records Records
	cache   Cache
	fetcher Fetcher
	applier Applier
	backups Backups

	policy            preset.Policy
	enableNewOptional bool
	dryRun            bool
	installRoot       string
	keepBackups       int
	preUpdate         bool
	now               func() time.Time
	reporter          progress.Reporter
	tracer            trace.Tracer

	mu    sync.Mutex
	slots map[string]*slot
}

// Option configures a Manager
type Option func(*Manager)

// WithPresetPolicy decides how presets combine with current toggles
func WithPresetPolicy(p preset.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithEnableNewOptional turns on default_enabled components an update
// introduces
func WithEnableNewOptional(enable bool) Option {
	return func(m *Manager) { m.enableNewOptional = enable }
}

// WithDryRun stops every operation after resolution
func WithDryRun(dry bool) Option {
	return func(m *Manager) { m.dryRun = dry }
}

// WithInstallRoot sets where installations without an explicit
// directory are created
func WithInstallRoot(dir string) Option {
	return func(m *Manager) { m.installRoot = dir }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReporter receives a progress event per phase
func WithReporter(r progress.Reporter) Option {
	return func(m *Manager) {
		if r != nil {
			m.reporter = r
		}
	}
}

// New creates a manager
func New(records Records, c Cache, fetcher Fetcher, applier Applier, opts ...Option) *Manager {
	m := &Manager{
		records:  records,
		cache:    c,
		fetcher:  fetcher,
		applier:  applier,
		now:      time.Now,
		reporter: progress.Nop,
		tracer:   otel.Tracer("github.com/arthur-debert/modkit/pkg/lifecycle"),
		slots:    make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Phase returns the current phase of name
func (m *Manager) Phase(name string) Phase {
	m.mu.Lock()
	s, ok := m.slots[name]
	m.mu.Unlock()
	if !ok {
		return Stable
	}
	return Phase(s.phase.Load())
}

// lock waits for exclusive use of name. The returned func releases it
// and resets the phase to Stable.
func (m *Manager) lock(ctx context.Context, name string) (*slot, func(), error) {
	m.mu.Lock()
	s, ok := m.slots[name]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[name] = s
	}
	m.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, errors.Wrap(ctx.Err(), errors.ErrCancelled, "cancelled waiting for installation").
			WithDetail("installation", name)
	}
	return s, func() {
		s.phase.Store(int32(Stable))
		<-s.sem
	}, nil
}

func (m *Manager) enter(s *slot, p Phase, name string) {
	s.phase.Store(int32(p))
	step := map[Phase]progress.Step{
		Resolving:  progress.StepResolving,
		Fetching:   progress.StepFetching,
		Applying:   progress.StepApplying,
		Committing: progress.StepCommitting,
	}[p]
	m.reporter.Report(progress.Event{Step: step, Item: name})
}

// DefaultDir is where name is installed without an explicit directory
func (m *Manager) DefaultDir(name string) string {
	return filepath.Join(m.installRoot, name)
}

// job is one run of the pipeline
type job struct {
	op       string
	name     string
	dir      string
	manifest *manifest.Manifest
	prior    *state.Installation
	toggles  resolver.ToggleSet
	keep     []string
	// verify re-checks cached blobs before partitioning
	verify bool
	// record fills operation specific fields of the new record
	record func(inst *state.Installation, plan *resolver.Plan)
}

// run executes Resolve, Partition, FetchAll, Apply and Write for j
func (m *Manager) run(ctx context.Context, s *slot, j job) (res *Result, err error) {
	log := logging.GetLogger("lifecycle").With().
		Str("op", j.op).
		Str("installation", j.name).
		Str("manifest_version", j.manifest.ModpackVersion).
		Logger()
	defer logging.TimeOperation(log, j.op)()

	ctx, span := m.tracer.Start(ctx, "lifecycle."+j.op, trace.WithAttributes(
		attribute.String("modkit.installation", j.name),
		attribute.String("modkit.manifest_version", j.manifest.ModpackVersion),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	phase := Resolving
	defer func() {
		if err != nil {
			err = annotate(err, j.name, phase)
			log.Error().Err(err).Str("phase", phase.String()).Msg("Operation failed, previous record kept")
		}
	}()

	m.enter(s, Resolving, j.name)
	opts := []resolver.Option{resolver.WithKeep(j.keep...)}
	if j.prior != nil {
		opts = append(opts, resolver.WithPrior(j.prior.InstalledKeys()))
	}
	plan, err := resolver.Resolve(j.manifest, j.toggles, opts...)
	if err != nil {
		return nil, err
	}

	lookup := resolver.CacheLookup(m.cache)
	if j.verify {
		lookup = m.verifyCached(plan, log)
	}
	plan.Partition(lookup)

	next := m.nextRecord(j, plan)
	if m.dryRun {
		log.Info().
			Int("components", len(plan.Components)).
			Int("fetch", len(plan.ToFetch)).
			Int("remove", len(plan.ToRemove)).
			Msg("Dry run, nothing changed")
		return &Result{Installation: next, Plan: plan, DryRun: true}, nil
	}

	phase = Fetching
	m.enter(s, Fetching, j.name)
	fetchReport, err := m.fetcher.FetchAll(ctx, plan)
	if err != nil {
		return &Result{Plan: plan, FetchReport: fetchReport}, err
	}

	if err := ctx.Err(); err != nil {
		return &Result{Plan: plan, FetchReport: fetchReport},
			errors.Wrap(err, errors.ErrCancelled, "cancelled before apply")
	}

	phase = Applying
	m.enter(s, Applying, j.name)
	fresh := j.prior == nil && dirUnused(m.applier.FS(), j.dir)
	if fresh {
		next.OwnsDir = true
	}
	installReport, err := m.applier.Apply(ctx, j.dir, plan, j.prior, m.cache)
	if err != nil {
		if fresh {
			// nothing committed points at this directory yet
			if rerr := m.applier.RemoveAll(j.dir); rerr != nil {
				log.Warn().Err(rerr).Msg("Cleanup of partial installation failed")
			}
		}
		return &Result{Plan: plan, FetchReport: fetchReport, InstallReport: installReport}, err
	}

	phase = Committing
	m.enter(s, Committing, j.name)
	next.Components = installReport.Placed
	if err := m.records.Write(j.name, next); err != nil {
		return &Result{Plan: plan, FetchReport: fetchReport, InstallReport: installReport}, err
	}

	log.Info().
		Int("components", len(next.Components)).
		Int("fetched", len(fetchReport.Fetched)).
		Int("removed", len(installReport.Removed)).
		Msg("Committed installation")
	span.SetStatus(codes.Ok, "")
	return &Result{Installation: next, Plan: plan, FetchReport: fetchReport, InstallReport: installReport}, nil
}

// verifyCached re-checks every cached blob of plan. Corrupt blobs are
// evicted, except in a dry run where they are only reported as needing
// a fetch.
func (m *Manager) verifyCached(plan *resolver.Plan, log zerolog.Logger) resolver.CacheLookup {
	corrupt := make(map[manifest.ArtifactKey]bool)
	for _, a := range plan.Artifacts() {
		if !m.cache.Has(a.Key) {
			continue
		}
		var err error
		if m.dryRun {
			err = m.cache.Check(a.Key)
		} else {
			_, err = m.cache.Verify(a.Key)
		}
		if err != nil {
			corrupt[a.Key] = true
			log.Warn().Str("artifact", a.Key.String()).Msg("Cached artifact was corrupt, fetching again")
		}
	}
	return excluding{CacheLookup: m.cache, keys: corrupt}
}

// excluding reports keys as missing on top of the wrapped lookup
type excluding struct {
	resolver.CacheLookup
	keys map[manifest.ArtifactKey]bool
}

func (e excluding) Has(key manifest.ArtifactKey) bool {
	return !e.keys[key] && e.CacheLookup.Has(key)
}

// nextRecord builds the record the plan will commit
func (m *Manager) nextRecord(j job, plan *resolver.Plan) *state.Installation {
	now := m.now().UTC()
	var next *state.Installation
	if j.prior != nil {
		next = j.prior.Clone()
	} else {
		next = &state.Installation{CreatedAt: now}
	}
	next.SchemaVersion = state.SchemaVersion
	next.Name = j.name
	next.Dir = j.dir
	next.ModpackID = j.manifest.UUID
	next.ModpackName = j.manifest.Name
	next.ManifestVersion = j.manifest.ModpackVersion
	next.Toggles = plan.Toggles.Slice()
	next.Known = KnownIDs(j.manifest)
	next.ModifiedAt = now
	if j.record != nil {
		j.record(next, plan)
	}
	return next
}

// annotate adds the installation and phase to err, keeping its code
func annotate(err error, name string, phase Phase) error {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return errors.Wrapf(err, errors.ErrInternal, "%s failed", phase).
			WithDetail("installation", name).
			WithDetail("phase", phase.String())
	}
	e.WithDetail("installation", name).WithDetail("phase", phase.String())
	return err
}

// dirUnused reports whether dir is missing or empty
func dirUnused(fs afero.Fs, dir string) bool {
	if ok, _ := afero.Exists(fs, dir); !ok {
		return true
	}
	empty, err := afero.IsEmpty(fs, dir)
	return err == nil && empty
}

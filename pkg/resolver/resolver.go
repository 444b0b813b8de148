package resolver

import (
	"sort"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// Option configures Resolve
type Option func(*options)

type options struct {
	prior map[string]manifest.ArtifactKey
	keep  []string
}

// WithPrior supplies what is currently installed (component id to
// artifact key) so the plan can compute removals and changes.
func WithPrior(installed map[string]manifest.ArtifactKey) Option {
	return func(o *options) {
		o.prior = installed
	}
}

// WithKeep leaves the installed copies of ids untouched. Ids that are
// not installed, or not part of the closure, are ignored.
func WithKeep(ids ...string) Option {
	return func(o *options) {
		o.keep = append(o.keep, ids...)
	}
}

// Resolve computes the dependency closure of requested plus every
// non-optional component, rejecting unknown ids and incompatible pairs.
func Resolve(m *manifest.Manifest, requested ToggleSet, opts ...Option) (*Plan, error) {
	log := logging.GetLogger("resolver")

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var unknown []string
	for _, id := range requested.Slice() {
		if !m.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Newf(errors.ErrInvalidInput, "unknown components requested: %v", unknown).
			WithDetail("components", unknown).
			WithDetail("manifest_version", m.ModpackVersion)
	}

	toggles := requested.With(m.Required()...)
	roots := make([]int, 0, toggles.Len())
	for _, id := range toggles.Slice() {
		roots = append(roots, m.Component(id).Index)
	}
	closure := m.Graph().Closure(roots...)

	if a, b, ok := m.ConflictIn(closure); ok {
		return nil, errors.Newf(errors.ErrConflict, "components %q and %q are incompatible", a.ID, b.ID).
			WithDetail("a", a.ID).
			WithDetail("b", b.ID)
	}

	components := make([]*manifest.Component, len(closure))
	for i, idx := range closure {
		components[i] = m.At(idx)
	}
	sort.SliceStable(components, func(i, j int) bool {
		ri, rj := components[i].Kind.Rank(), components[j].Kind.Rank()
		if ri != rj {
			return ri < rj
		}
		return components[i].Index < components[j].Index
	})

	plan := &Plan{
		ManifestVersion: m.ModpackVersion,
		Requested:       requested,
		Toggles:         toggles,
		Components:      components,
		manifest:        m,
		index:           make(map[string]bool, len(components)),
		keep:            make(map[string]bool),
	}
	for _, c := range components {
		plan.index[c.ID] = true
	}

	for _, id := range o.keep {
		if _, installed := o.prior[id]; installed && plan.index[id] && !plan.keep[id] {
			plan.keep[id] = true
		}
	}
	for _, c := range components {
		if plan.keep[c.ID] {
			plan.Keep = append(plan.Keep, c.ID)
		}
	}

	for id, key := range o.prior {
		if !plan.index[id] {
			plan.ToRemove = append(plan.ToRemove, id)
			continue
		}
		if !plan.keep[id] && m.Component(id).Key() != key {
			plan.Changed = append(plan.Changed, id)
		}
	}
	sort.Strings(plan.ToRemove)
	sort.Strings(plan.Changed)

	log.Debug().
		Str("manifest_version", m.ModpackVersion).
		Int("requested", requested.Len()).
		Int("components", len(components)).
		Int("remove", len(plan.ToRemove)).
		Int("changed", len(plan.Changed)).
		Msg("Resolved plan")
	return plan, nil
}

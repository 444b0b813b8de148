package lifecycle

import (
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/arthur-debert/modkit/pkg/state"
)

// CarryForward computes the toggles an update resolves: the stored
// toggles still present in m. Required components are added by Resolve.
// With enableNewOptional, optional components m introduces that are
// default_enabled are turned on too; "introduced" means absent from the
// manifest the record was made from.
func CarryForward(prior *state.Installation, m *manifest.Manifest, enableNewOptional bool) resolver.ToggleSet {
	toggles := prior.ToggleSet().Filter(m.Has)
	if !enableNewOptional || len(prior.Known) == 0 {
		return toggles
	}

	known := resolver.NewToggleSet(prior.Known...)
	for _, c := range m.Components() {
		if c.Optional && c.DefaultEnabled && !known.Has(c.ID) {
			toggles = toggles.With(c.ID)
		}
	}
	return toggles
}

// Preserved returns the installed components marked ignore_update in m.
// Their files are left as they are.
func Preserved(prior *state.Installation, m *manifest.Manifest) []string {
	var ids []string
	for _, id := range prior.ComponentIDs() {
		if c := m.Component(id); c != nil && c.IgnoreUpdate {
			ids = append(ids, id)
		}
	}
	return ids
}

// KnownIDs lists every component id of m
func KnownIDs(m *manifest.Manifest) []string {
	ids := make([]string, 0, m.Len())
	for _, c := range m.Components() {
		ids = append(ids, c.ID)
	}
	return ids
}

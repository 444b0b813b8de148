// Package preset maps a named preset onto a toggle set.
package preset

import (
	"strings"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/resolver"
)

// Policy decides what happens to toggles the preset does not mention
type Policy int

const (
	// Replace drops every optional toggle the preset does not list
	Replace Policy = iota
	// Merge keeps the current toggles and adds the preset's
	Merge
)

// String returns the config spelling of p
func (p Policy) String() string {
	if p == Merge {
		return "merge"
	}
	return "replace"
}

// ParsePolicy reads policy.preset_mode. Empty means Replace.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replace":
		return Replace, nil
	case "merge":
		return Merge, nil
	default:
		return Replace, errors.Newf(errors.ErrConfigValid, "unknown preset mode %q", s).
			WithDetail("key", "policy.preset_mode")
	}
}

// Apply returns the toggle set to resolve after choosing p. The result
// is not dependency complete; Resolve completes it.
func Apply(m *manifest.Manifest, p *manifest.Preset, current resolver.ToggleSet, policy Policy) (resolver.ToggleSet, error) {
	if p == nil {
		return current, errors.New(errors.ErrInvalidInput, "no preset given")
	}

	var unknown []string
	for _, id := range p.EnabledFeatures {
		if !m.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return current, errors.Newf(errors.ErrPresetInvalid, "preset %q enables unknown components %v", p.ID, unknown).
			WithDetail("preset", p.ID).
			WithDetail("components", unknown)
	}

	next := resolver.NewToggleSet(p.EnabledFeatures...).With(m.Required()...)
	if policy == Merge {
		next = next.Union(current.Filter(m.Has))
	}
	return next, nil
}

// Matches reports whether toggles is exactly what applying p under
// Replace would produce
func Matches(m *manifest.Manifest, p *manifest.Preset, toggles resolver.ToggleSet) bool {
	want, err := Apply(m, p, resolver.NewToggleSet(), Replace)
	if err != nil {
		return false
	}
	return want.Equal(toggles.With(m.Required()...))
}

// Effective returns the first preset in doc that toggles still matches,
// or "" when the selection has been customized
func Effective(m *manifest.Manifest, doc *manifest.PresetDocument, toggles resolver.ToggleSet) string {
	if doc == nil {
		return ""
	}
	for _, p := range doc.Presets {
		if Matches(m, p, toggles) {
			return p.ID
		}
	}
	return ""
}

// Settings are the overrides a preset recommends
type Settings struct {
	MemoryMB *int
	JavaArgs *string
}

// RecommendedSettings returns p's recommended overrides
func RecommendedSettings(p *manifest.Preset) Settings {
	if p == nil {
		return Settings{}
	}
	return Settings{MemoryMB: p.RecommendedMemory, JavaArgs: p.RecommendedJavaArgs}
}

package manifest

import (
	"bytes"
	"encoding/json"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/modkit/pkg/errors"
)

// Preset is a curated selection of optional components with recommended
// settings. Its feature list does not need to be dependency complete.
type Preset struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Description         string   `json:"description" yaml:"description"`
	Author              string   `json:"author,omitempty" yaml:"author,omitempty"`
	Icon                string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	EnabledFeatures     []string `json:"enabled_features" yaml:"enabled_features"`
	RecommendedMemory   *int     `json:"recommended_memory,omitempty" yaml:"recommended_memory,omitempty"`
	RecommendedJavaArgs *string  `json:"recommended_java_args,omitempty" yaml:"recommended_java_args,omitempty"`

	// Display only
	Trending   bool   `json:"trending,omitempty" yaml:"trending,omitempty"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
	Color      string `json:"color,omitempty" yaml:"color,omitempty"`
}

// PresetDocument is a published set of presets
type PresetDocument struct {
	Version     string    `json:"version" yaml:"version"`
	LastUpdated string    `json:"last_updated" yaml:"last_updated"`
	Presets     []*Preset `json:"presets" yaml:"presets"`
}

// PresetIssue names a preset entry that references an unknown component
type PresetIssue struct {
	Preset    string
	Component string
}

// LoadPresetsFile reads a preset document from fs
func LoadPresetsFile(fs afero.Fs, path string) (*PresetDocument, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrNotFound, "cannot read presets %s", path).
			WithDetail("path", path)
	}
	return LoadPresets(data)
}

// LoadPresets parses a JSON or YAML preset document
func LoadPresets(data []byte) (*PresetDocument, error) {
	var doc PresetDocument

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrPresetInvalid, "malformed preset document")
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrPresetInvalid, "malformed preset document")
		}
	}

	seen := make(map[string]bool, len(doc.Presets))
	for i, p := range doc.Presets {
		if p == nil || p.ID == "" {
			return nil, errors.Newf(errors.ErrPresetInvalid, "preset %d has no id", i).
				WithDetail("index", i)
		}
		if seen[p.ID] {
			return nil, errors.Newf(errors.ErrPresetInvalid, "duplicate preset id %q", p.ID).
				WithDetail("preset", p.ID)
		}
		seen[p.ID] = true
		if p.RecommendedMemory != nil && *p.RecommendedMemory <= 0 {
			return nil, errors.Newf(errors.ErrPresetInvalid, "preset %q recommends %d MiB", p.ID, *p.RecommendedMemory).
				WithDetail("preset", p.ID)
		}
	}
	return &doc, nil
}

// Find returns the preset with id, or nil
func (d *PresetDocument) Find(id string) *Preset {
	if d == nil {
		return nil
	}
	for _, p := range d.Presets {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ValidatePresets reports every preset feature that m does not declare
func ValidatePresets(m *Manifest, doc *PresetDocument) []PresetIssue {
	var issues []PresetIssue
	for _, p := range doc.Presets {
		for _, id := range p.EnabledFeatures {
			if !m.Has(id) {
				issues = append(issues, PresetIssue{Preset: p.ID, Component: id})
			}
		}
	}
	return issues
}

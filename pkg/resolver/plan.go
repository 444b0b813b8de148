package resolver

import (
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// CacheLookup answers whether an artifact is already cached
type CacheLookup interface {
	Has(key manifest.ArtifactKey) bool
}

// Artifact is one fetchable blob and the components that need it
type Artifact struct {
	Key manifest.ArtifactKey
	// Component is the first component in plan order using Key
	Component *manifest.Component
	// Components lists every component id using Key
	Components []string
}

// Plan is the outcome of Resolve. It is built per operation and never
// persisted.
type Plan struct {
	// ManifestVersion is the modpack version the plan was resolved against
	ManifestVersion string
	// Requested is the toggle set as asked for
	Requested ToggleSet
	// Toggles is Requested plus every non-optional component. This is
	// what an installation record stores.
	Toggles ToggleSet
	// Components is the full closure, ordered by kind then declaration
	Components []*manifest.Component
	// ToFetch and Cached partition Artifacts once Partition has run
	ToFetch []Artifact
	Cached  []Artifact
	// ToRemove lists previously installed ids absent from the closure
	ToRemove []string
	// Changed lists ids installed before with a different artifact
	Changed []string
	// Keep lists ids whose installed copy is left untouched
	Keep []string

	manifest *manifest.Manifest
	index    map[string]bool
	keep     map[string]bool
}

// Manifest returns the manifest the plan was resolved against
func (p *Plan) Manifest() *manifest.Manifest {
	return p.manifest
}

// IDs returns component ids in plan order
func (p *Plan) IDs() []string {
	ids := make([]string, len(p.Components))
	for i, c := range p.Components {
		ids[i] = c.ID
	}
	return ids
}

// Contains reports whether id is part of the closure
func (p *Plan) Contains(id string) bool {
	return p.index[id]
}

// Kept reports whether id is in Keep
func (p *Plan) Kept(id string) bool {
	return p.keep[id]
}

// Artifacts returns one entry per distinct artifact key, in plan order.
// Kept components are not included; their blobs are not needed.
func (p *Plan) Artifacts() []Artifact {
	var out []Artifact
	pos := make(map[manifest.ArtifactKey]int)
	for _, c := range p.Components {
		if p.keep[c.ID] {
			continue
		}
		key := c.Key()
		if i, ok := pos[key]; ok {
			out[i].Components = append(out[i].Components, c.ID)
			continue
		}
		pos[key] = len(out)
		out = append(out, Artifact{Key: key, Component: c, Components: []string{c.ID}})
	}
	return out
}

// Partition splits Artifacts into ToFetch and Cached
func (p *Plan) Partition(lookup CacheLookup) {
	p.ToFetch, p.Cached = nil, nil
	for _, a := range p.Artifacts() {
		if lookup.Has(a.Key) {
			p.Cached = append(p.Cached, a)
		} else {
			p.ToFetch = append(p.ToFetch, a)
		}
	}
}

// Affected returns the plan components that need one of keys, plus
// every plan component depending on those, in plan order.
func (p *Plan) Affected(keys []manifest.ArtifactKey) []string {
	failed := make(map[manifest.ArtifactKey]bool, len(keys))
	for _, k := range keys {
		failed[k] = true
	}

	var roots []int
	for _, c := range p.Components {
		if failed[c.Key()] && !p.keep[c.ID] {
			roots = append(roots, c.Index)
		}
	}
	if len(roots) == 0 {
		return nil
	}

	hit := make(map[int]bool)
	for _, i := range p.manifest.Graph().ReverseClosure(roots...) {
		hit[i] = true
	}
	var out []string
	for _, c := range p.Components {
		if hit[c.Index] {
			out = append(out, c.ID)
		}
	}
	return out
}

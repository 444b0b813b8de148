package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/paths"
)

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

var hashLengths = map[string]int{
	HashSHA1:   40,
	HashSHA256: 64,
	HashSHA512: 128,
}

// document is the wire shape of a manifest
type document struct {
	ManifestVersion  int          `json:"manifest_version"`
	ModpackVersion   string       `json:"modpack_version"`
	MinecraftVersion string       `json:"minecraft_version"`
	Name             string       `json:"name"`
	Subtitle         string       `json:"subtitle"`
	Description      string       `json:"description"`
	UUID             string       `json:"uuid"`
	Loader           Loader       `json:"loader"`
	Mods             []*Component `json:"mods"`
	Shaderpacks      []*Component `json:"shaderpacks"`
	Resourcepacks    []*Component `json:"resourcepacks"`
	Include          []*Component `json:"include"`
	MaxMem           int          `json:"max_mem"`
	MinMem           int          `json:"min_mem"`
	JavaArgs         string       `json:"java_args"`
}

func invalid(field, component, format string, args ...interface{}) *errors.Error {
	err := errors.Newf(errors.ErrManifestInvalid, format, args...)
	if field != "" {
		err = err.WithDetail("field", field)
	}
	if component != "" {
		err = err.WithDetail("component", component)
	}
	return err
}

// LoadFile reads and validates the manifest at path
func LoadFile(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrNotFound, "cannot read manifest %s", path).
			WithDetail("path", path)
	}
	return Load(data)
}

// Load parses and validates a manifest document
func Load(data []byte) (*Manifest, error) {
	log := logging.GetLogger("manifest")

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrManifestInvalid, "malformed manifest")
	}

	if doc.ManifestVersion < MinManifestVersion || doc.ManifestVersion > CurrentManifestVersion {
		return nil, invalid("manifest_version", "", "unsupported manifest_version %d (supported %d to %d)",
			doc.ManifestVersion, MinManifestVersion, CurrentManifestVersion)
	}

	v, err := version.NewVersion(doc.ModpackVersion)
	if err != nil {
		return nil, invalid("modpack_version", "", "invalid modpack_version %q", doc.ModpackVersion)
	}

	if doc.MinMem < 0 || doc.MaxMem < 0 || (doc.MaxMem > 0 && doc.MinMem > doc.MaxMem) {
		return nil, invalid("min_mem", "", "memory bounds %d..%d are invalid", doc.MinMem, doc.MaxMem)
	}

	m := &Manifest{
		ManifestVersion:  doc.ManifestVersion,
		UUID:             doc.UUID,
		Name:             doc.Name,
		Subtitle:         doc.Subtitle,
		Description:      doc.Description,
		ModpackVersion:   doc.ModpackVersion,
		MinecraftVersion: doc.MinecraftVersion,
		Loader:           doc.Loader,
		MinMemory:        doc.MinMem,
		MaxMemory:        doc.MaxMem,
		JavaArgs:         doc.JavaArgs,
		version:          v,
		byID:             make(map[string]*Component),
	}

	collections := []struct {
		kind  Kind
		field string
		items []*Component
	}{
		{KindMod, "mods", doc.Mods},
		{KindShaderpack, "shaderpacks", doc.Shaderpacks},
		{KindResourcepack, "resourcepacks", doc.Resourcepacks},
		{KindInclude, "include", doc.Include},
	}
	for _, col := range collections {
		for i, c := range col.items {
			if c == nil {
				return nil, invalid(fmt.Sprintf("%s[%d]", col.field, i), "", "component entry is null")
			}
			c.Kind = col.kind
			c.Index = len(m.components)
			if err := checkComponent(c, fmt.Sprintf("%s[%d]", col.field, i)); err != nil {
				return nil, err
			}
			if _, dup := m.byID[c.ID]; dup {
				return nil, invalid("id", c.ID, "duplicate component id %q", c.ID)
			}
			m.byID[c.ID] = c
			m.components = append(m.components, c)
		}
	}

	if err := m.buildGraph(); err != nil {
		return nil, err
	}
	if err := m.checkPlacement(); err != nil {
		return nil, err
	}
	if err := m.checkSatisfiable(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("modpack", m.Name).
		Str("version", m.ModpackVersion).
		Int("components", len(m.components)).
		Msg("Manifest loaded")
	return m, nil
}

func checkComponent(c *Component, field string) error {
	if strings.TrimSpace(c.ID) == "" {
		return invalid(field+".id", "", "component id cannot be empty")
	}
	if c.Source == "" {
		return invalid("source", c.ID, "component %q has no source", c.ID)
	}
	if c.Location == "" {
		return invalid("location", c.ID, "component %q has no location", c.ID)
	}
	if c.Version == "" {
		return invalid("version", c.ID, "component %q has no version", c.ID)
	}

	if c.Hash != "" || c.HashType != "" {
		if c.HashType == "" {
			for name, n := range hashLengths {
				if len(c.Hash) == n {
					c.HashType = name
				}
			}
		}
		want, ok := hashLengths[c.HashType]
		if !ok {
			return invalid("hash_type", c.ID, "unknown hash_type %q", c.HashType)
		}
		if len(c.Hash) != want || !hexPattern.MatchString(c.Hash) {
			return invalid("hash", c.ID, "hash is not a %s hex digest", c.HashType)
		}
	}
	if c.Size < 0 {
		return invalid("size", c.ID, "size cannot be negative")
	}

	if c.Path != "" {
		if err := paths.ValidateRelative(c.Path); err != nil && !(c.Kind.IsArchive() && isRoot(c.Path)) {
			return invalid("path", c.ID, "unsafe path %q", c.Path)
		}
	}
	if c.Filename != "" {
		if strings.ContainsAny(c.Filename, `/\`) || c.Filename == "." || c.Filename == ".." {
			return invalid("filename", c.ID, "filename %q must be a bare file name", c.Filename)
		}
	}
	return nil
}

func isRoot(p string) bool {
	p = strings.Trim(p, "/")
	return p == "" || p == "."
}

func (m *Manifest) buildGraph() error {
	g := newGraph(len(m.components))

	for _, c := range m.components {
		for _, dep := range c.Dependencies {
			if dep == c.ID {
				return invalid("dependencies", c.ID, "component %q depends on itself", c.ID)
			}
			target, ok := m.byID[dep]
			if !ok {
				return invalid("dependencies", c.ID, "component %q depends on unknown component %q", c.ID, dep).
					WithDetail("reference", dep)
			}
			if cycle := g.addDependency(c.Index, target.Index); cycle != nil {
				ids := make([]string, len(cycle))
				for i, n := range cycle {
					ids[i] = m.components[n].ID
				}
				return invalid("dependencies", c.ID, "dependency cycle: %s", strings.Join(ids, " -> ")).
					WithDetail("cycle", ids)
			}
		}
		for _, other := range c.Incompatibilities {
			if other == c.ID {
				return invalid("incompatibilities", c.ID, "component %q is incompatible with itself", c.ID)
			}
			target, ok := m.byID[other]
			if !ok {
				return invalid("incompatibilities", c.ID, "component %q is incompatible with unknown component %q", c.ID, other).
					WithDetail("reference", other)
			}
			g.addIncompatibility(c.Index, target.Index)
		}
	}

	m.graph = g
	return nil
}

// checkPlacement rejects two single-file components that would be written
// to the same path, unless they can never be installed together.
func (m *Manifest) checkPlacement() error {
	owner := make(map[string]*Component)
	for _, c := range m.components {
		if c.Kind.IsArchive() {
			continue
		}
		target := strings.ToLower(m.TargetPath(c))
		if prev, ok := owner[target]; ok && !m.graph.Incompatible(prev.Index, c.Index) {
			return invalid("filename", c.ID, "components %q and %q are both placed at %s", prev.ID, c.ID, m.TargetPath(c)).
				WithDetail("path", m.TargetPath(c))
		}
		owner[target] = c
	}
	return nil
}

// checkSatisfiable rejects manifests where the required set, or a single
// component together with its dependencies, can never resolve.
func (m *Manifest) checkSatisfiable() error {
	var required []int
	for _, c := range m.components {
		if !c.Optional {
			required = append(required, c.Index)
		}
	}
	if a, b, ok := m.ConflictIn(m.graph.Closure(required...)); ok {
		return invalid("incompatibilities", a.ID, "required components %q and %q are incompatible", a.ID, b.ID).
			WithDetail("a", a.ID).
			WithDetail("b", b.ID)
	}

	for _, c := range m.components {
		if a, b, ok := m.ConflictIn(m.graph.Closure(c.Index)); ok {
			return invalid("incompatibilities", c.ID, "component %q pulls in incompatible %q and %q", c.ID, a.ID, b.ID).
				WithDetail("a", a.ID).
				WithDetail("b", b.ID)
		}
	}
	return nil
}

// ConflictIn returns the first incompatible pair, by declaration order,
// of a sorted index set
func (m *Manifest) ConflictIn(set []int) (*Component, *Component, bool) {
	for i, a := range set {
		for _, b := range set[i+1:] {
			if m.graph.Incompatible(a, b) {
				return m.components[a], m.components[b], true
			}
		}
	}
	return nil, nil, false
}

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-version"
)

// Schema versions of the manifest document this build understands
const (
	MinManifestVersion     = 1
	CurrentManifestVersion = 3
)

// Kind is the category of a component. It decides where the component
// is placed inside an installation and the order the resolver emits it.
type Kind string

const (
	KindMod          Kind = "mod"
	KindShaderpack   Kind = "shaderpack"
	KindResourcepack Kind = "resourcepack"
	KindInclude      Kind = "include"
)

// Kinds lists every kind in install order
var Kinds = []Kind{KindMod, KindShaderpack, KindResourcepack, KindInclude}

// Rank is the position of k in install order
func (k Kind) Rank() int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}

// Dir is the installation subdirectory for single-file kinds. Includes
// are extracted relative to the installation root.
func (k Kind) Dir() string {
	switch k {
	case KindMod:
		return "mods"
	case KindShaderpack:
		return "shaderpacks"
	case KindResourcepack:
		return "resourcepacks"
	default:
		return ""
	}
}

// IsArchive reports whether components of this kind are extracted
// rather than copied
func (k Kind) IsArchive() bool {
	return k == KindInclude
}

func (k Kind) defaultExt() string {
	if k == KindMod {
		return ".jar"
	}
	return ".zip"
}

// Hash types accepted in hash_type
const (
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
	HashSHA512 = "sha512"
)

// Author credits a component
type Author struct {
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// Loader names the mod loader and its version
type Loader struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// Component is one installable unit
type Component struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Group             string   `json:"category,omitempty"`
	Source            string   `json:"source"`
	Location          string   `json:"location"`
	Version           string   `json:"version"`
	Filename          string   `json:"filename,omitempty"`
	Path              string   `json:"path,omitempty"`
	Hash              string   `json:"hash,omitempty"`
	HashType          string   `json:"hash_type,omitempty"`
	Size              int64    `json:"size,omitempty"`
	Optional          bool     `json:"optional"`
	DefaultEnabled    bool     `json:"default_enabled"`
	IgnoreUpdate      bool     `json:"ignore_update"`
	Authors           []Author `json:"authors,omitempty"`
	Dependencies      []string `json:"dependencies,omitempty"`
	Incompatibilities []string `json:"incompatibilities,omitempty"`

	// Kind comes from the collection the component was declared in
	Kind Kind `json:"-"`
	// Index is the global declaration order across all collections
	Index int `json:"-"`
}

// Key returns the artifact identity of the component
func (c *Component) Key() ArtifactKey {
	return ArtifactKey{Source: c.Source, Location: c.Location, Version: c.Version}
}

// DisplayName returns Name, falling back to ID
func (c *Component) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ExpectedDigest returns the declared digest as "<type>:<hex>", or ""
func (c *Component) ExpectedDigest() string {
	if c.Hash == "" {
		return ""
	}
	return c.HashType + ":" + strings.ToLower(c.Hash)
}

// FileName is the name a single-file component is placed under
func (c *Component) FileName() string {
	if c.Filename != "" {
		return c.Filename
	}
	loc := c.Location
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	ext := path.Ext(loc)
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, "{}") {
		ext = c.Kind.defaultExt()
	}
	return fmt.Sprintf("%s-%s%s", c.ID, c.Version, ext)
}

// ArtifactKey identifies exactly one fetchable artifact
type ArtifactKey struct {
	Source   string `json:"source" toml:"source"`
	Location string `json:"location" toml:"location"`
	Version  string `json:"version" toml:"version"`
}

// String renders source:location@version
func (k ArtifactKey) String() string {
	return k.Source + ":" + k.Location + "@" + k.Version
}

// Digest is a stable file-name-safe hash of the key
func (k ArtifactKey) Digest() string {
	sum := sha256.Sum256([]byte(k.Source + "\x00" + k.Location + "\x00" + k.Version))
	return hex.EncodeToString(sum[:])
}

// IsZero reports whether the key is empty
func (k ArtifactKey) IsZero() bool {
	return k == ArtifactKey{}
}

// Manifest is one validated modpack release
type Manifest struct {
	ManifestVersion  int
	UUID             string
	Name             string
	Subtitle         string
	Description      string
	ModpackVersion   string
	MinecraftVersion string
	Loader           Loader
	MinMemory        int
	MaxMemory        int
	JavaArgs         string

	version    *version.Version
	components []*Component
	byID       map[string]*Component
	graph      *Graph
}

// Version returns the parsed modpack version
func (m *Manifest) Version() *version.Version {
	return m.version
}

// Components returns every component in declaration order. The slice is
// a copy; the components themselves must not be modified.
func (m *Manifest) Components() []*Component {
	out := make([]*Component, len(m.components))
	copy(out, m.components)
	return out
}

// Len returns the number of components
func (m *Manifest) Len() int {
	return len(m.components)
}

// Component returns the component with id, or nil
func (m *Manifest) Component(id string) *Component {
	return m.byID[id]
}

// At returns the component at declaration index i
func (m *Manifest) At(i int) *Component {
	return m.components[i]
}

// Has reports whether id is declared
func (m *Manifest) Has(id string) bool {
	_, ok := m.byID[id]
	return ok
}

// Graph returns the dependency and incompatibility relations
func (m *Manifest) Graph() *Graph {
	return m.graph
}

// Required returns the ids of non-optional components in declaration order
func (m *Manifest) Required() []string {
	var ids []string
	for _, c := range m.components {
		if !c.Optional {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// DefaultToggles returns the optional components enabled by default
func (m *Manifest) DefaultToggles() []string {
	var ids []string
	for _, c := range m.components {
		if c.Optional && c.DefaultEnabled {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// TargetPath is where a component lands, relative to the installation
// root and slash separated. For includes it is the extraction directory
// ("" for the root).
func (m *Manifest) TargetPath(c *Component) string {
	if c.Kind.IsArchive() {
		return path.Clean("/" + c.Path)[1:]
	}
	dir := c.Kind.Dir()
	if c.Path != "" {
		dir = c.Path
	}
	return path.Join(dir, c.FileName())
}

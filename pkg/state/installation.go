package state

import (
	"sort"
	"time"

	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/resolver"
)

// SchemaVersion is the record layout this binary writes
const SchemaVersion = 1

// Placement is what one component put into the installation directory
type Placement struct {
	Source   string `toml:"source"`
	Location string `toml:"location"`
	Version  string `toml:"version"`
	// Files are slash-separated paths relative to the installation dir
	Files []string `toml:"files"`
	// Digest is the cache digest of the artifact the files came from
	Digest string `toml:"digest,omitempty"`
	// Archive is set when Files were extracted rather than copied
	Archive bool `toml:"archive,omitempty"`
}

// Key returns the artifact the placement was made from
func (p Placement) Key() manifest.ArtifactKey {
	return manifest.ArtifactKey{Source: p.Source, Location: p.Location, Version: p.Version}
}

// PlacementFor starts a placement for c
func PlacementFor(c *manifest.Component) Placement {
	k := c.Key()
	return Placement{Source: k.Source, Location: k.Location, Version: k.Version}
}

// Installation is the committed record of one installation
type Installation struct {
	SchemaVersion   int                  `toml:"schema_version"`
	Name            string               `toml:"name"`
	Dir             string               `toml:"dir"`
	ModpackID       string               `toml:"modpack_id"`
	ModpackName     string               `toml:"modpack_name,omitempty"`
	ManifestVersion string               `toml:"manifest_version"`
	Toggles         []string             `toml:"toggles"`
	MemoryMB        int                  `toml:"memory_mb,omitempty"`
	JavaArgs        string               `toml:"java_args,omitempty"`
	PresetID        string               `toml:"preset,omitempty"`
	CreatedAt       time.Time            `toml:"created_at"`
	ModifiedAt      time.Time            `toml:"modified_at"`

	// OwnsDir is set when modkit created Dir, or found it empty. Only
	// then does uninstall delete the whole directory; otherwise it
	// removes just the placed files.
	OwnsDir bool `toml:"owns_dir,omitempty"`

	// Known lists every component id of the manifest the record was
	// made from, so an update can tell which components are new
	Known      []string             `toml:"known_components,omitempty"`
	Components map[string]Placement `toml:"components"`
}

// ToggleSet returns the stored toggles
func (i *Installation) ToggleSet() resolver.ToggleSet {
	return resolver.NewToggleSet(i.Toggles...)
}

// InstalledKeys maps every installed component to its artifact
func (i *Installation) InstalledKeys() map[string]manifest.ArtifactKey {
	keys := make(map[string]manifest.ArtifactKey, len(i.Components))
	for id, p := range i.Components {
		keys[id] = p.Key()
	}
	return keys
}

// ComponentIDs returns the installed component ids, sorted
func (i *Installation) ComponentIDs() []string {
	ids := make([]string, 0, len(i.Components))
	for id := range i.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EffectiveMemory is the memory override, or the manifest maximum
func (i *Installation) EffectiveMemory(m *manifest.Manifest) int {
	if i.MemoryMB > 0 {
		return i.MemoryMB
	}
	if m == nil {
		return 0
	}
	return m.MaxMemory
}

// EffectiveJavaArgs is the launch argument override, or the manifest's
func (i *Installation) EffectiveJavaArgs(m *manifest.Manifest) string {
	if i.JavaArgs != "" {
		return i.JavaArgs
	}
	if m == nil {
		return ""
	}
	return m.JavaArgs
}

// Clone returns a deep copy, so a pending change never aliases the
// committed record
func (i *Installation) Clone() *Installation {
	if i == nil {
		return nil
	}
	c := *i
	c.Toggles = append([]string(nil), i.Toggles...)
	c.Known = append([]string(nil), i.Known...)
	c.Components = make(map[string]Placement, len(i.Components))
	for id, p := range i.Components {
		p.Files = append([]string(nil), p.Files...)
		c.Components[id] = p
	}
	return &c
}

package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/modkit/pkg/manifest"
)

// ComponentOption customizes one component entry
type ComponentOption func(map[string]interface{})

// ManifestBuilder assembles manifest documents
type ManifestBuilder struct {
	doc map[string]interface{}
}

// NewManifest starts a manifest at the given modpack version. Components
// added to it are optional unless Required is passed.
func NewManifest(modpackVersion string) *ManifestBuilder {
	return &ManifestBuilder{
		doc: map[string]interface{}{
			"manifest_version":  manifest.CurrentManifestVersion,
			"modpack_version":   modpackVersion,
			"minecraft_version": "1.21.4",
			"name":              "Test Pack",
			"uuid":              "test-pack",
			"loader":            map[string]string{"type": "fabric", "version": "0.16.9"},
			"min_mem":           2048,
			"max_mem":           4096,
			"java_args":         "-XX:+UseG1GC",
			"mods":              []interface{}{},
			"shaderpacks":       []interface{}{},
			"resourcepacks":     []interface{}{},
			"include":           []interface{}{},
		},
	}
}

// Set overrides a top-level field
func (b *ManifestBuilder) Set(key string, value interface{}) *ManifestBuilder {
	b.doc[key] = value
	return b
}

// Mod adds a mod
func (b *ManifestBuilder) Mod(id string, opts ...ComponentOption) *ManifestBuilder {
	return b.add("mods", id, ".jar", opts)
}

// Shaderpack adds a shader pack
func (b *ManifestBuilder) Shaderpack(id string, opts ...ComponentOption) *ManifestBuilder {
	return b.add("shaderpacks", id, ".zip", opts)
}

// Resourcepack adds a resource pack
func (b *ManifestBuilder) Resourcepack(id string, opts ...ComponentOption) *ManifestBuilder {
	return b.add("resourcepacks", id, ".zip", opts)
}

// Include adds a config archive extracted under path
func (b *ManifestBuilder) Include(id, path string, opts ...ComponentOption) *ManifestBuilder {
	return b.add("include", id, ".zip", append([]ComponentOption{Path(path)}, opts...))
}

func (b *ManifestBuilder) add(collection, id, ext string, opts []ComponentOption) *ManifestBuilder {
	c := map[string]interface{}{
		"id":       id,
		"name":     id,
		"source":   "ddl",
		"location": fmt.Sprintf("https://cdn.example.test/%s/%s%s", collection, id, ext),
		"version":  "1.0",
		"optional": true,
	}
	for _, opt := range opts {
		opt(c)
	}
	b.doc[collection] = append(b.doc[collection].([]interface{}), c)
	return b
}

// JSON renders the document
func (b *ManifestBuilder) JSON() []byte {
	data, err := json.Marshal(b.doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Load renders and loads the document, failing the test on error
func (b *ManifestBuilder) Load(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(b.JSON())
	require.NoError(t, err)
	return m
}

// Required marks the component non-optional
func Required() ComponentOption {
	return func(c map[string]interface{}) { c["optional"] = false }
}

// DefaultOn sets default_enabled
func DefaultOn() ComponentOption {
	return func(c map[string]interface{}) { c["default_enabled"] = true }
}

// DependsOn adds dependencies
func DependsOn(ids ...string) ComponentOption {
	return func(c map[string]interface{}) { c["dependencies"] = ids }
}

// ConflictsWith adds incompatibilities
func ConflictsWith(ids ...string) ComponentOption {
	return func(c map[string]interface{}) { c["incompatibilities"] = ids }
}

// Version sets the artifact version
func Version(v string) ComponentOption {
	return func(c map[string]interface{}) { c["version"] = v }
}

// Source sets source and location
func Source(source, location string) ComponentOption {
	return func(c map[string]interface{}) {
		c["source"] = source
		c["location"] = location
	}
}

// Hash declares an expected digest
func Hash(hashType, hex string) ComponentOption {
	return func(c map[string]interface{}) {
		c["hash_type"] = hashType
		c["hash"] = hex
	}
}

// Size declares an expected size
func Size(n int64) ComponentOption {
	return func(c map[string]interface{}) { c["size"] = n }
}

// Filename sets the placement file name
func Filename(name string) ComponentOption {
	return func(c map[string]interface{}) { c["filename"] = name }
}

// Path sets the placement directory
func Path(p string) ComponentOption {
	return func(c map[string]interface{}) { c["path"] = p }
}

// IgnoreUpdate keeps an installed copy across updates
func IgnoreUpdate() ComponentOption {
	return func(c map[string]interface{}) { c["ignore_update"] = true }
}

// Field sets an arbitrary component field
func Field(key string, value interface{}) ComponentOption {
	return func(c map[string]interface{}) { c[key] = value }
}

package preset_test

import (
	"testing"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/preset"
	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/arthur-debert/modkit/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) (*manifest.Manifest, *manifest.PresetDocument) {
	t.Helper()
	m := testutil.NewManifest("1.0.0").
		Mod("fabric-api", testutil.Required()).
		Mod("sodium").
		Mod("lithium").
		Mod("iris", testutil.DependsOn("sodium")).
		Shaderpack("bsl", testutil.DependsOn("iris")).
		Load(t)

	mem := 6144
	args := "-XX:+UseZGC"
	doc := &manifest.PresetDocument{Presets: []*manifest.Preset{
		{ID: "performance", EnabledFeatures: []string{"sodium", "lithium"}},
		{ID: "shaders", EnabledFeatures: []string{"bsl"}, RecommendedMemory: &mem, RecommendedJavaArgs: &args},
	}}
	return m, doc
}

func TestApply_ReplaceDropsUnlisted(t *testing.T) {
	m, doc := fixture(t)

	got, err := preset.Apply(m, doc.Find("shaders"), resolver.NewToggleSet("lithium"), preset.Replace)
	require.NoError(t, err)
	assert.Equal(t, []string{"bsl", "fabric-api"}, got.Slice())

	plan, err := resolver.Resolve(m, got)
	require.NoError(t, err)
	assert.Equal(t, []string{"fabric-api", "sodium", "iris", "bsl"}, plan.IDs())
}

func TestApply_MergeKeepsCurrent(t *testing.T) {
	m, doc := fixture(t)

	got, err := preset.Apply(m, doc.Find("shaders"), resolver.NewToggleSet("lithium", "removed-upstream"), preset.Merge)
	require.NoError(t, err)
	assert.Equal(t, []string{"bsl", "fabric-api", "lithium"}, got.Slice())
}

func TestApply_UnknownComponent(t *testing.T) {
	m, _ := fixture(t)
	p := &manifest.Preset{ID: "broken", EnabledFeatures: []string{"sodium", "optifine"}}

	_, err := preset.Apply(m, p, resolver.NewToggleSet(), preset.Replace)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrPresetInvalid))
	assert.Equal(t, []string{"optifine"}, errors.GetDetail(err, "components"))
}

func TestMatchesAndEffective(t *testing.T) {
	m, doc := fixture(t)

	assert.True(t, preset.Matches(m, doc.Find("performance"), resolver.NewToggleSet("sodium", "lithium")))
	assert.True(t, preset.Matches(m, doc.Find("performance"), resolver.NewToggleSet("sodium", "lithium", "fabric-api")))
	assert.False(t, preset.Matches(m, doc.Find("performance"), resolver.NewToggleSet("sodium")))

	assert.Equal(t, "shaders", preset.Effective(m, doc, resolver.NewToggleSet("bsl")))
	assert.Equal(t, "", preset.Effective(m, doc, resolver.NewToggleSet("bsl", "lithium")))
	assert.Equal(t, "", preset.Effective(m, nil, resolver.NewToggleSet()))
}

func TestRecommendedSettings(t *testing.T) {
	_, doc := fixture(t)

	s := preset.RecommendedSettings(doc.Find("shaders"))
	require.NotNil(t, s.MemoryMB)
	assert.Equal(t, 6144, *s.MemoryMB)
	assert.Equal(t, "-XX:+UseZGC", *s.JavaArgs)

	empty := preset.RecommendedSettings(doc.Find("performance"))
	assert.Nil(t, empty.MemoryMB)
	assert.Nil(t, empty.JavaArgs)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]preset.Policy{"": preset.Replace, "replace": preset.Replace, "MERGE": preset.Merge} {
		got, err := preset.ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := preset.ParsePolicy("append")
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigValid))
	assert.Equal(t, "merge", preset.Merge.String())
}

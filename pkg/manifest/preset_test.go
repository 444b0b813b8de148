package manifest_test

import (
	"testing"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const presetsJSON = `{
  "version": "1.0",
  "last_updated": "2025-01-10",
  "presets": [
    {
      "id": "performance",
      "name": "Performance",
      "description": "Lean and fast",
      "enabled_features": ["sodium", "lithium"],
      "recommended_memory": 3072,
      "trending": true
    },
    {
      "id": "visuals",
      "name": "Visuals",
      "description": "Shaders on",
      "enabled_features": ["iris", "complementary"],
      "recommended_java_args": "-XX:+UseZGC"
    }
  ]
}`

const presetsYAML = `
version: "1.0"
last_updated: "2025-01-10"
presets:
  - id: performance
    name: Performance
    enabled_features: [sodium, lithium]
    recommended_memory: 3072
`

func TestLoadPresets_JSON(t *testing.T) {
	doc, err := manifest.LoadPresets([]byte(presetsJSON))
	require.NoError(t, err)

	require.Len(t, doc.Presets, 2)
	perf := doc.Find("performance")
	require.NotNil(t, perf)
	assert.Equal(t, []string{"sodium", "lithium"}, perf.EnabledFeatures)
	require.NotNil(t, perf.RecommendedMemory)
	assert.Equal(t, 3072, *perf.RecommendedMemory)
	assert.Nil(t, perf.RecommendedJavaArgs)
	assert.True(t, perf.Trending)

	vis := doc.Find("visuals")
	require.NotNil(t, vis.RecommendedJavaArgs)
	assert.Equal(t, "-XX:+UseZGC", *vis.RecommendedJavaArgs)
	assert.Nil(t, doc.Find("missing"))
}

func TestLoadPresets_YAML(t *testing.T) {
	doc, err := manifest.LoadPresets([]byte(presetsYAML))
	require.NoError(t, err)
	require.Len(t, doc.Presets, 1)
	assert.Equal(t, "2025-01-10", doc.LastUpdated)
	assert.Equal(t, 3072, *doc.Presets[0].RecommendedMemory)
}

func TestLoadPresets_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"presets": [`},
		{"empty id", `{"presets": [{"id": ""}]}`},
		{"duplicate id", `{"presets": [{"id": "a"}, {"id": "a"}]}`},
		{"bad memory", `{"presets": [{"id": "a", "recommended_memory": 0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.LoadPresets([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrPresetInvalid))
		})
	}
}

func TestValidatePresets(t *testing.T) {
	m := testutil.NewManifest("1.0.0").Mod("sodium").Mod("lithium").Mod("iris").Load(t)
	doc, err := manifest.LoadPresets([]byte(presetsJSON))
	require.NoError(t, err)

	issues := manifest.ValidatePresets(m, doc)
	assert.Equal(t, []manifest.PresetIssue{{Preset: "visuals", Component: "complementary"}}, issues)
}

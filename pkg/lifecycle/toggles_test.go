package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arthur-debert/modkit/pkg/lifecycle"
	"github.com/arthur-debert/modkit/pkg/state"
	"github.com/arthur-debert/modkit/pkg/testutil"
)

func TestCarryForward(t *testing.T) {
	m := testutil.NewManifest("2.0").
		Mod("A").
		Mod("C", testutil.Required()).
		Mod("D", testutil.DefaultOn()).
		Mod("E").
		Load(t)

	tests := []struct {
		name   string
		prior  *state.Installation
		policy bool
		want   []string
	}{
		{
			name:  "removed toggles are dropped",
			prior: &state.Installation{Toggles: []string{"A", "B"}, Known: []string{"A", "B"}},
			want:  []string{"A"},
		},
		{
			name:   "new default_enabled optional added by policy",
			prior:  &state.Installation{Toggles: []string{"A"}, Known: []string{"A", "B"}},
			policy: true,
			want:   []string{"A", "D"},
		},
		{
			name:   "known optional stays off",
			prior:  &state.Installation{Toggles: []string{"A"}, Known: []string{"A", "D"}},
			policy: true,
			want:   []string{"A"},
		},
		{
			name:   "records without known ids add nothing",
			prior:  &state.Installation{Toggles: []string{"A"}},
			policy: true,
			want:   []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lifecycle.CarryForward(tt.prior, m, tt.policy)
			assert.Equal(t, tt.want, got.Slice())
		})
	}
}

func TestPreserved(t *testing.T) {
	m := testutil.NewManifest("2.0").
		Mod("A").
		Include("options", "config", testutil.IgnoreUpdate()).
		Include("extras", "extras", testutil.IgnoreUpdate()).
		Load(t)

	prior := &state.Installation{Components: map[string]state.Placement{
		"A":       {},
		"options": {},
	}}

	assert.Equal(t, []string{"options"}, lifecycle.Preserved(prior, m))
	assert.Equal(t, []string{"A", "options", "extras"}, lifecycle.KnownIDs(m))
}

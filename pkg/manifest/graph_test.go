package manifest_test

import (
	"testing"

	"github.com/arthur-debert/modkit/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGraph_Closure(t *testing.T) {
	m := testutil.NewManifest("1.0.0").
		Mod("sodium").
		Mod("indium", testutil.DependsOn("sodium")).
		Mod("iris", testutil.DependsOn("sodium", "indium")).
		Mod("lithium").
		Load(t)

	g := m.Graph()
	iris := m.Component("iris").Index

	assert.Equal(t, []int{0, 1, 2}, g.Closure(iris))
	assert.Equal(t, []int{3}, g.Closure(3))
	assert.Equal(t, []int{0, 1, 2}, g.ReverseClosure(0))
	assert.Equal(t, []int{0}, g.Dependencies(1))
	assert.Equal(t, []int{1, 2}, g.Dependents(0))
}

func TestGraph_Incompatibility(t *testing.T) {
	m := testutil.NewManifest("1.0.0").
		Mod("sodium", testutil.ConflictsWith("optifine")).
		Mod("optifine").
		Load(t)

	g := m.Graph()
	assert.True(t, g.Incompatible(0, 1))
	assert.True(t, g.Incompatible(1, 0), "relation is symmetric")
	assert.Equal(t, []int{0}, g.IncompatibleWith(1))

	a, b, ok := m.ConflictIn([]int{0, 1})
	assert.True(t, ok)
	assert.Equal(t, "sodium", a.ID)
	assert.Equal(t, "optifine", b.ID)
}

package resolver_test

import (
	"testing"

	"github.com/arthur-debert/modkit/pkg/resolver"
	"github.com/stretchr/testify/assert"
)

func TestToggleSet(t *testing.T) {
	s := resolver.NewToggleSet("b", "a", "a")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, s.Slice())
	assert.Equal(t, "{a, b}", s.String())

	with := s.With("c")
	assert.True(t, with.Has("c"))
	assert.False(t, s.Has("c"), "With must not modify the receiver")

	without := with.Without("a")
	assert.Equal(t, []string{"b", "c"}, without.Slice())
	assert.True(t, with.Has("a"))

	assert.True(t, s.Union(resolver.NewToggleSet("c")).Equal(with))
	assert.False(t, s.Equal(with))

	odd := with.Filter(func(id string) bool { return id != "b" })
	assert.Equal(t, []string{"a", "c"}, odd.Slice())

	var zero resolver.ToggleSet
	assert.Equal(t, 0, zero.Len())
	assert.False(t, zero.Has("a"))
	assert.Equal(t, []string{"a"}, zero.With("a").Slice())
}

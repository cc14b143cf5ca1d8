package ecs_test

import (
	"testing"

	"github.com/plus3/ecscore/ecs"
	"github.com/stretchr/testify/assert"
)

func TestPairLayout(t *testing.T) {
	rel := ecs.Id(300)
	tgt := ecs.Id(400).WithGeneration(5)
	p := ecs.Pair(rel, tgt)

	assert.True(t, p.IsPair())
	assert.Equal(t, rel, p.First())
	assert.Equal(t, ecs.Id(400), p.Second(), "pairs do not keep generations")
	assert.False(t, p.IsWildcard())
	assert.Equal(t, "(#300,#400)", p.String())
}

func TestIdGeneration(t *testing.T) {
	e := ecs.Id(256).WithGeneration(3)
	assert.Equal(t, uint32(256), e.Index())
	assert.Equal(t, uint32(3), e.Generation())
	assert.Equal(t, ecs.Id(256), e.StripGeneration())
	assert.Equal(t, "#256@3", e.String())

	wrapped := e.WithGeneration(ecs.MaxGeneration + 1)
	assert.Equal(t, uint32(0), wrapped.Generation())
}

func TestIdMatches(t *testing.T) {
	rel, tgt, other := ecs.Id(300), ecs.Id(400), ecs.Id(500)
	p := ecs.Pair(rel, tgt)

	tests := []struct {
		name    string
		pattern ecs.Id
		want    bool
	}{
		{"exact", p, true},
		{"rel wildcard", ecs.Pair(rel, ecs.Wildcard), true},
		{"target wildcard", ecs.Pair(ecs.Wildcard, tgt), true},
		{"both wildcard", ecs.Pair(ecs.Wildcard, ecs.Wildcard), true},
		{"any target", ecs.Pair(rel, ecs.Any), true},
		{"other target", ecs.Pair(rel, other), false},
		{"other rel", ecs.Pair(other, ecs.Wildcard), false},
		{"plain wildcard", ecs.Wildcard, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.pattern))
		})
	}

	assert.True(t, rel.Matches(ecs.Wildcard))
	assert.False(t, rel.Matches(other))
}

func TestBuiltinNames(t *testing.T) {
	assert.Equal(t, "ChildOf", ecs.ChildOf.String())
	assert.Equal(t, "(ChildOf,#256)", ecs.Pair(ecs.ChildOf, 256).String())
	assert.True(t, ecs.Wildcard.IsWildcard())
	assert.True(t, ecs.Pair(ecs.ChildOf, ecs.Wildcard).IsWildcard())
}

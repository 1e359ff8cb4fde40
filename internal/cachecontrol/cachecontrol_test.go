package cachecontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	language "github.com/graphrelay/graphrelay/internal/language"
)

func addAll(c *Collector, maxAges ...int) {
	for i, age := range maxAges {
		c.Add(language.Path{language.PathName("f"), language.PathIndex(i)}, Hint{MaxAge: age})
	}
}

func TestOverallIsMinimum(t *testing.T) {
	c := NewCollector()
	addAll(c, 60, 30, 120)
	p := c.Overall()
	require.True(t, p.Cacheable)
	assert.Equal(t, 30, p.MaxAge)
	assert.Equal(t, ScopePublic, p.Scope)
	assert.Equal(t, "max-age=30, public", p.HeaderValue())
}

func TestZeroMaxAgeIsUncacheable(t *testing.T) {
	c := NewCollector()
	addAll(c, 60, 0, 120)
	assert.False(t, c.Overall().Cacheable)
}

func TestNoHintsIsUncacheable(t *testing.T) {
	assert.False(t, NewCollector().Overall().Cacheable)
}

func TestPrivateScopeWins(t *testing.T) {
	c := NewCollector()
	c.Add(language.Path{language.PathName("a")}, Hint{MaxAge: 60})
	c.Add(language.Path{language.PathName("b")}, Hint{MaxAge: 90, Scope: ScopePrivate})
	p := c.Overall()
	require.True(t, p.Cacheable)
	assert.Equal(t, ScopePrivate, p.Scope)
	assert.Equal(t, "max-age=60, private", p.HeaderValue())
}

func TestHintForField(t *testing.T) {
	schema, err := language.LoadSchema("test.graphql", `
		type Query {
			cached: String @cacheControl(maxAge: 45)
			person: Person
			plain: String
			secret: String @cacheControl(maxAge: 10, scope: PRIVATE)
		}
		type Person @cacheControl(maxAge: 25) {
			name: String
		}
	`)
	require.NoError(t, err)
	query := schema.Types["Query"]

	h, ok := HintForField(schema, query.Fields.ForName("cached"), 0)
	require.True(t, ok)
	assert.Equal(t, Hint{MaxAge: 45, Scope: ScopePublic}, h)

	// Return-type directive applies when the field has none.
	h, ok = HintForField(schema, query.Fields.ForName("person"), 0)
	require.True(t, ok)
	assert.Equal(t, Hint{MaxAge: 25, Scope: ScopePublic}, h)

	// Unhinted scalar contributes nothing.
	_, ok = HintForField(schema, query.Fields.ForName("plain"), 0)
	assert.False(t, ok)

	h, ok = HintForField(schema, query.Fields.ForName("secret"), 0)
	require.True(t, ok)
	assert.Equal(t, Hint{MaxAge: 10, Scope: ScopePrivate}, h)
}

func TestExtensionShape(t *testing.T) {
	c := NewCollector()
	require.Nil(t, c.Extension())
	c.Add(language.Path{language.PathName("cached")}, Hint{MaxAge: 45})
	ext := c.Extension()
	require.NotNil(t, ext)
	assert.Equal(t, 1, ext["version"])
	hints := ext["hints"].([]PathHint)
	require.Len(t, hints, 1)
	assert.Equal(t, 45, hints[0].MaxAge)
}

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMutating(t *testing.T) {
	t.Run("write keywords", func(t *testing.T) {
		writes := []string{
			"CREATE (n:User {name: 'Alice'})",
			"INSERT INTO things VALUES (1)",
			"DELETE n",
			"REMOVE n.name",
			"SET n.name = 'Bob'",
			"MERGE (n:User {name: 'Alice'})",
			"DROP INDEX idx_user_name",
		}
		for _, q := range writes {
			assert.True(t, IsMutating(q), "should be mutating: %q", q)
		}
	})

	t.Run("read keywords", func(t *testing.T) {
		reads := []string{
			"MATCH (n) RETURN n",
			"RETURN 1",
			"SHOW INDEXES",
			"EXPLAIN MATCH (n) RETURN n",
		}
		for _, q := range reads {
			assert.False(t, IsMutating(q), "should be read-only: %q", q)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		assert.True(t, IsMutating("create (n)"))
		assert.True(t, IsMutating("MeRgE (n)"))
		assert.False(t, IsMutating("match (n) RETURN n"))
	})

	t.Run("leading whitespace", func(t *testing.T) {
		assert.True(t, IsMutating("   \t\n  CREATE (n)"))
		assert.False(t, IsMutating("\n\nMATCH (n) RETURN n"))
	})

	t.Run("keyword must be the first word", func(t *testing.T) {
		// A write keyword later in the text does not make the query a write.
		assert.False(t, IsMutating("MATCH (n) WHERE n.op = 'DELETE' RETURN n"))
	})

	t.Run("prefix of a longer word is not a keyword", func(t *testing.T) {
		assert.False(t, IsMutating("CREATED_AT"))
		assert.False(t, IsMutating("settings"))
	})

	t.Run("empty and whitespace-only", func(t *testing.T) {
		assert.False(t, IsMutating(""))
		assert.False(t, IsMutating("   \t  "))
	})
}

func TestClassify(t *testing.T) {
	t.Run("extracts keyword", func(t *testing.T) {
		info := Classify("  merge (n) ON CREATE SET n.x = 1")
		assert.Equal(t, KeywordMerge, info.Keyword)
		assert.True(t, info.Mutating)
	})

	t.Run("unknown keyword", func(t *testing.T) {
		info := Classify("(n)-[:KNOWS]->(m)")
		assert.Equal(t, KeywordUnknown, info.Keyword)
		assert.False(t, info.Mutating)
	})

	t.Run("match is read-only", func(t *testing.T) {
		info := Classify("MATCH (n) RETURN n")
		assert.Equal(t, KeywordMatch, info.Keyword)
		assert.False(t, info.Mutating)
	})
}

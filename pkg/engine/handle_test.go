package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_Delegation(t *testing.T) {
	h := NewHandle(NewMemoryEngine())

	_, err := h.Execute("CREATE (n:User {name: 'Alice'})")
	require.NoError(t, err)

	n, err := h.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, err := h.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, 0, e)

	schema, err := h.Schema()
	require.NoError(t, err)
	assert.NotNil(t, schema)

	v, err := h.Version()
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestHandle_ExportSnapshot(t *testing.T) {
	h := NewHandle(NewMemoryEngine())
	_, err := h.Execute("CREATE (n:User)")
	require.NoError(t, err)

	snap, err := h.ExportSnapshot()
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.NotEmpty(t, snap.Data)
	assert.Greater(t, snap.Timestamp, int64(0))
}

func TestHandle_Release(t *testing.T) {
	t.Run("methods fail after release", func(t *testing.T) {
		h := NewHandle(NewMemoryEngine())
		h.Release()

		_, err := h.Execute("MATCH (n) RETURN n")
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.ExecuteRaw("MATCH (n) RETURN n")
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.ExecuteWithLanguage("MATCH (n) RETURN n", "cypher")
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.NodeCount()
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.EdgeCount()
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.Schema()
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.ExportSnapshot()
		assert.ErrorIs(t, err, ErrReleased)

		_, err = h.Version()
		assert.ErrorIs(t, err, ErrReleased)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		h := NewHandle(NewMemoryEngine())
		h.Release()
		assert.NotPanics(t, func() { h.Release() })
		assert.True(t, h.Released())
	})
}

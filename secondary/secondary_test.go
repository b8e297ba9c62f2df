package secondary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/property"
)

func TestCatalog(t *testing.T) {
	c := NewCatalog([]Spec{
		{Label: "User", Field: "external_id", Unique: true},
		{Label: "Entity", Field: "canonical_name", Unique: false},
	})
	require.Equal(t, 2, c.Len())

	s, ok := c.Spec("User", "external_id")
	require.True(t, ok)
	require.True(t, s.Unique)

	_, ok = c.Spec("User", "name")
	require.False(t, ok)

	require.Len(t, c.ForLabel("Entity"), 1)
	require.Empty(t, c.ForLabel("Session"))
}

func TestIndex_UniqueViolation(t *testing.T) {
	ix := NewIndex(Spec{Label: "User", Field: "external_id", Unique: true})

	require.NoError(t, ix.Insert(property.String("u1"), 1))
	// Re-inserting the same owner is idempotent.
	require.NoError(t, ix.Insert(property.String("u1"), 1))

	err := ix.Insert(property.String("u1"), 2)
	require.ErrorIs(t, err, ErrUniqueViolation)

	// A different value is fine.
	require.NoError(t, ix.Insert(property.String("u2"), 2))
}

func TestIndex_MultiValued(t *testing.T) {
	ix := NewIndex(Spec{Label: "Entity", Field: "canonical_name"})

	require.NoError(t, ix.Insert(property.String("figma"), 3))
	require.NoError(t, ix.Insert(property.String("figma"), 1))
	require.NoError(t, ix.Insert(property.String("figma"), 2))

	require.Equal(t, []uint32{1, 2, 3}, ix.Lookup(property.String("figma")))
	require.Empty(t, ix.Lookup(property.String("sketch")))
}

func TestIndex_Remove(t *testing.T) {
	ix := NewIndex(Spec{Label: "Entity", Field: "canonical_name"})
	require.NoError(t, ix.Insert(property.String("x"), 1))
	require.NoError(t, ix.Insert(property.String("x"), 2))

	ix.Remove(property.String("x"), 1)
	require.Equal(t, []uint32{2}, ix.Lookup(property.String("x")))

	ix.Remove(property.String("x"), 2)
	require.Empty(t, ix.Lookup(property.String("x")))
	require.Zero(t, ix.Cardinality(property.String("x")))

	// Removing an absent owner is a no-op.
	ix.Remove(property.String("x"), 9)
}

func TestIndex_CloneIsolation(t *testing.T) {
	ix := NewIndex(Spec{Label: "User", Field: "external_id", Unique: true})
	require.NoError(t, ix.Insert(property.String("u1"), 1))

	snap := ix.Clone()
	require.NoError(t, snap.Insert(property.String("u9"), 9))
	snap.Remove(property.String("u1"), 1)

	// Original postings are untouched by clone mutations.
	require.Equal(t, []uint32{1}, ix.Lookup(property.String("u1")))
	require.Empty(t, ix.Lookup(property.String("u9")))
}

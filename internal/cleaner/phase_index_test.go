package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

func TestPhaseIndex(t *testing.T) {
	t.Parallel()

	phases := experiment.NewPhaseMap()
	phases.Set("a", rng(0, 3))
	phases.Set("b", rng(4, 6))
	idx := NewPhaseIndex(phases)

	tag, ok := idx.TagOf(rng(4, 6))
	require.True(t, ok)
	assert.Equal(t, experiment.Tag("b"), tag)

	tag, ok = idx.StartingAt(4)
	require.True(t, ok)
	assert.Equal(t, experiment.Tag("b"), tag)
	tag, ok = idx.EndingAt(3)
	require.True(t, ok)
	assert.Equal(t, experiment.Tag("a"), tag)
	_, ok = idx.StartingAt(5)
	assert.False(t, ok)

	t.Run("relocation rekeys current lookups only", func(t *testing.T) {
		from, ok := idx.RelocateStart("b", 2)
		require.True(t, ok)
		assert.Equal(t, 4.0, from)

		r, _ := phases.Get("b")
		assert.Equal(t, rng(2, 6), r)

		_, ok = idx.CurrentlyStartingAt(4)
		assert.False(t, ok)
		tag, ok := idx.CurrentlyStartingAt(2)
		require.True(t, ok)
		assert.Equal(t, experiment.Tag("b"), tag)

		// Raw lookups still resolve the original boundary.
		tag, ok = idx.StartingAt(4)
		require.True(t, ok)
		assert.Equal(t, experiment.Tag("b"), tag)

		from, ok = idx.RelocateEnd("b", 5)
		require.True(t, ok)
		assert.Equal(t, 6.0, from)
		tag, ok = idx.CurrentlyEndingAt(5)
		require.True(t, ok)
		assert.Equal(t, experiment.Tag("b"), tag)
	})

	t.Run("remove", func(t *testing.T) {
		removed, ok := idx.Remove("a")
		require.True(t, ok)
		assert.Equal(t, rng(0, 3), removed)
		assert.False(t, phases.Has("a"))

		_, ok = idx.StartingAt(0)
		assert.False(t, ok)
		_, ok = idx.EndingAt(3)
		assert.False(t, ok)
		_, ok = idx.CurrentlyStartingAt(0)
		assert.False(t, ok)

		_, ok = idx.Remove("a")
		assert.False(t, ok)
		_, ok = idx.RelocateStart("a", 1)
		assert.False(t, ok)
		_, ok = idx.RelocateEnd("missing", 1)
		assert.False(t, ok)
	})
}

package hnsw

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"
)

func mustInsert(t *testing.T, g *Graph, idx uint32, vec []float32) {
	t.Helper()
	require.NoError(t, g.Insert(idx, vec))
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	g := New(3, vecmath.Cosine, DefaultConfig())
	mustInsert(t, g, 0, []float32{1, 0, 0})
	mustInsert(t, g, 1, []float32{0, 1, 0})
	mustInsert(t, g, 2, []float32{0, 0, 1})

	results, err := g.Search([]float32{1, 0, 0}, 1, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint32(0), results[0].Idx)
}

func TestSearchEfNeverBelowK(t *testing.T) {
	g := New(2, vecmath.Euclidean, DefaultConfig())
	for i := uint32(0); i < 20; i++ {
		mustInsert(t, g, i, []float32{float32(i), float32(i)})
	}
	results, err := g.Search([]float32{0, 0}, 5, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestSearchRejectsBadEf(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	mustInsert(t, g, 0, []float32{1, 0})
	_, err := g.Search([]float32{1, 0}, 1, 0, nil)
	require.ErrorIs(t, err, ErrInvalidEf)
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	g := New(3, vecmath.Cosine, DefaultConfig())
	err := g.Insert(0, []float32{1, 0})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInsertRejectsInvalidVector(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	nan := float32(0)
	nan = nan / nan
	err := g.Insert(0, []float32{nan, 1})
	require.ErrorIs(t, err, ErrInvalidVector)
}

func TestRemoveTombstonesAndExcludesFromSearch(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	mustInsert(t, g, 0, []float32{1, 0})
	mustInsert(t, g, 1, []float32{0, 1})

	require.NoError(t, g.Remove(0))
	require.False(t, g.Live(0))

	results, err := g.Search([]float32{1, 0}, 2, 10, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, uint32(0), r.Idx)
	}
}

func TestRemoveUnknownIndexFails(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	mustInsert(t, g, 0, []float32{1, 0})
	require.NoError(t, g.Remove(0))
	require.ErrorIs(t, g.Remove(0), ErrUnknownIndex)
	require.ErrorIs(t, g.Remove(99), ErrUnknownIndex)
}

func TestEntryPointPromotionOnRemoval(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	mustInsert(t, g, 0, []float32{1, 0})
	mustInsert(t, g, 1, []float32{0, 1})
	mustInsert(t, g, 2, []float32{-1, 0})

	ep, ok := g.EntryPoint()
	require.True(t, ok)

	require.NoError(t, g.Remove(ep))
	_, ok = g.EntryPoint()
	// With three nodes, the entry links to both others at layer 0, so a
	// live neighbor is promoted rather than the entry point being
	// cleared (a cleared entry point would make Search return nothing).
	// The graph must not crash resolving it and must still answer
	// queries over the remaining live nodes.
	_ = ok

	results, err := g.Search([]float32{0, 1}, 2, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestNextIdxNeverReusedAfterRemove(t *testing.T) {
	g := New(1, vecmath.Euclidean, DefaultConfig())
	mustInsert(t, g, 0, []float32{1})
	mustInsert(t, g, 1, []float32{2})
	require.NoError(t, g.Remove(0))
	require.Equal(t, uint32(2), g.Len())

	mustInsert(t, g, 2, []float32{3})
	require.Equal(t, uint32(3), g.Len())
	require.False(t, g.Live(0))
}

func TestSearchHonorsValidityFilter(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	for i := uint32(0); i < 10; i++ {
		mustInsert(t, g, i, []float32{float32(i), 1})
	}
	onlyEven := func(idx uint32) bool { return idx%2 == 0 }
	results, err := g.Search([]float32{0, 1}, 3, 10, onlyEven)
	require.NoError(t, err)
	for _, r := range results {
		require.Zero(t, r.Idx%2)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New(3, vecmath.Cosine, DefaultConfig())
	for i := uint32(0); i < 50; i++ {
		mustInsert(t, g, i, []float32{float32(i), float32(i % 7), float32(i % 3)})
	}
	require.NoError(t, g.Remove(5))

	var buf bytes.Buffer
	require.NoError(t, g.Save(&buf))

	loaded, err := Load(&buf, 3, vecmath.Cosine, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, g.Len(), loaded.Len())
	require.False(t, loaded.Live(5))

	query := []float32{10, 3, 1}
	want, err := g.Search(query, 5, 20, nil)
	require.NoError(t, err)
	got, err := loaded.Search(query, 5, 20, nil)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEmptyGraphSearchReturnsNoResults(t *testing.T) {
	g := New(2, vecmath.Cosine, DefaultConfig())
	results, err := g.Search([]float32{1, 0}, 5, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

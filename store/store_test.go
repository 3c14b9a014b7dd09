package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/filter"
)

func testOptions() Options {
	o := DefaultOptions()
	o.Dimension = 3
	return o
}

func meta(pairs ...any) Metadata {
	var m Metadata
	for i := 0; i < len(pairs); i += 2 {
		m = m.Set(pairs[i].(string), pairs[i+1])
	}
	return m
}

func TestUpsertAndQueryFindsExactMatch(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("color", "red"), nil))
	require.NoError(t, s.Upsert("b", []float32{0, 1, 0}, meta("color", "blue"), nil))

	hits, err := s.Query([]float32{1, 0, 0}, 1, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ID)
}

func TestReopenPreservesWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("k", "v"), nil))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	s2, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	defer s2.Close()

	hits, err := s2.Query([]float32{1, 0, 0}, 1, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ID)
}

func TestDeleteThenReinsertAvoidsIndexCollision(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	firstIdx := s.idToIdx["a"]
	require.NoError(t, s.Remove("a"))
	require.NoError(t, s.Upsert("a", []float32{0, 1, 0}, nil, nil))
	secondIdx := s.idToIdx["a"]

	require.NotEqual(t, firstIdx, secondIdx)

	hits, err := s.Query([]float32{0, 1, 0}, 1, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ID)
}

func TestHybridQuerySkipsSoftDeleted(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.IndexText("a", "vector search engine"))
	require.NoError(t, s.Upsert("b", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.IndexText("b", "vector search engine"))
	require.NoError(t, s.Remove("a"))

	hits, err := s.HybridQuery([]float32{1, 0, 0}, "vector search", 5, HybridParams{})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "a", h.ID)
	}
}

func TestQueryFilterParseErrorSurfaces(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("k", "v"), nil))

	_, err = s.QueryWithFilterString([]float32{1, 0, 0}, 1, "k = ", QueryParams{})
	require.Error(t, err)
	se, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindFilterParse, se.Kind)
}

func TestQueryWithValidFilterNarrowsResults(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("color", "red"), nil))
	require.NoError(t, s.Upsert("b", []float32{1, 0, 0}, meta("color", "blue"), nil))

	hits, err := s.QueryWithFilterString([]float32{1, 0, 0}, 5, `color = "red"`, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ID)
}

func TestBM25ReindexIsStable(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.IndexText("a", "the quick brown fox"))
	before := s.textIdx.Count()
	require.NoError(t, s.IndexText("a", "the quick brown fox"))
	after := s.textIdx.Count()
	require.Equal(t, before, after)
}

func TestSaturatingFetchOnHugeK(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("k", "v"), nil))

	f, err := filter.Parse(`k = "v"`)
	require.NoError(t, err)

	hugeK := 1 << 60
	hits, err := s.Query([]float32{1, 0, 0}, hugeK, f, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestEmptyStoreQueryAndExplain(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.Query([]float32{1, 0, 0}, 5, nil, QueryParams{})
	require.NoError(t, err)
	require.Empty(t, hits)

	plan, err := s.ExplainQuery(5, false)
	require.NoError(t, err)
	require.Equal(t, 0.0, plan.EstimatedCost)
}

func TestQueryKLargerThanLiveRecordCount(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	hits, err := s.Query([]float32{1, 0, 0}, 100, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestEfSearchNeverCappedBelowK(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 20; i++ {
		v := []float32{float32(i), 0, 0}
		require.NoError(t, s.Upsert(string(rune('a'+i)), v, nil, nil))
	}
	hits, err := s.Query([]float32{0, 0, 0}, 15, nil, QueryParams{EfSearch: 1})
	require.NoError(t, err)
	require.Len(t, hits, 15)
}

func TestExpireTTLRemovesExpiredRecords(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, &past))
	require.NoError(t, s.Upsert("b", []float32{0, 1, 0}, nil, nil))

	n, err := s.ExpireTTL()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	hits, err := s.Query([]float32{1, 0, 0}, 5, nil, QueryParams{})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "a", h.ID)
	}
}

func TestCompactPurgesAfterGracePeriod(t *testing.T) {
	o := testOptions()
	o.SoftDeleteTTL = 0
	s, err := Open(t.TempDir(), o)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.Remove("a"))

	n, err := s.Compact()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, ok := s.records["a"]
	require.False(t, ok)
}

func TestOptimizeRebuildsGraphFromLiveRecords(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.Upsert("b", []float32{0, 1, 0}, nil, nil))
	require.NoError(t, s.Remove("a"))

	require.NoError(t, s.Optimize())

	hits, err := s.Query([]float32{0, 1, 0}, 5, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "b", hits[0].ID)
}

func TestSnapshotCreateAndRestore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	require.NoError(t, s.CreateSnapshot("v1"))
	require.NoError(t, s.Upsert("b", []float32{0, 1, 0}, nil, nil))

	require.NoError(t, s.RestoreSnapshot("v1"))
	_, ok := s.records["b"]
	require.False(t, ok)
	_, ok = s.records["a"]
	require.True(t, ok)
}

func TestPrefetchPlanRejectsNonSearchFirstStage(t *testing.T) {
	plan := PrefetchPlan{{Kind: StageFilter, Filter: `k = "v"`}}
	err := plan.validate()
	require.Error(t, err)
	se, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindInvalidParameters, se.Kind)
}

func TestRunPrefetchSearchThenFilterThenDiversify(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("tag", "keep"), nil))
	require.NoError(t, s.Upsert("b", []float32{0.9, 0.1, 0}, meta("tag", "drop"), nil))
	require.NoError(t, s.Upsert("c", []float32{0.8, 0.2, 0}, meta("tag", "keep"), nil))

	plan := PrefetchPlan{
		{Kind: StageVectorSearch, TopK: 10},
		{Kind: StageFilter, Filter: `tag = "keep"`},
		{Kind: StageDiversify, MMRLambda: 0.5, TopK: 2},
	}
	hits, err := s.RunPrefetch([]float32{1, 0, 0}, "", plan)
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "b", h.ID)
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))
	err = s.Upsert("b", []float32{1, 0}, nil, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBatchUpsertRollsBackOnError(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, nil, nil))

	err = s.BatchUpsert([]BatchItem{
		{ID: "b", Vector: []float32{0, 1, 0}},
		{ID: "c", Vector: []float32{1, 2}}, // wrong dimension
	})
	require.Error(t, err)
	_, ok := s.records["b"]
	require.False(t, ok, "partial batch writes must not be committed")
}

func TestBatchUpsertRollbackPreservesExistingRecordQueryability(t *testing.T) {
	s, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert("a", []float32{1, 0, 0}, meta("k", "v1"), nil))

	err = s.BatchUpsert([]BatchItem{
		{ID: "a", Vector: []float32{0, 1, 0}, Metadata: meta("k", "v2")},
		{ID: "c", Vector: []float32{1, 2}}, // wrong dimension, fails the batch
	})
	require.Error(t, err)

	rec, ok := s.records["a"]
	require.True(t, ok)
	require.False(t, rec.Deleted)
	require.Equal(t, []float32{1, 0, 0}, []float32(rec.Vector))

	hits, err := s.Query([]float32{1, 0, 0}, 1, nil, QueryParams{})
	require.NoError(t, err)
	require.Len(t, hits, 1, "a live record must still be reachable through its HNSW index after a rolled-back batch")
	require.Equal(t, "a", hits[0].ID)
}

// Package store is the public façade of the embeddable vector database
// core: it coordinates the HNSW vector index, the BM25 text index, and
// the filter engine behind a single-writer/multiple-reader API, and
// owns the on-disk layout that lets a collection survive restart.
package store

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/filter"
	"github.com/PhilipJohnBasile/vecstore-sub003/internal/hnsw"
	"github.com/PhilipJohnBasile/vecstore-sub003/internal/text"
	"github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"
)

// Store is the embeddable vector database core (spec §2). It is safe
// for one writer and many concurrent readers; callers wanting
// concurrent writers must serialize them externally (spec §5).
type Store struct {
	mu   sync.RWMutex
	root string
	lock *dirLock

	opts     Options
	metric   vecmath.Metric
	dim      int // 0 until the first successful insert fixes it
	created  time.Time

	graph   *hnsw.Graph
	textIdx *text.Index

	records map[string]*Record
	idToIdx map[string]uint32
	idxToID map[uint32]string
	nextIdx uint32

	closed bool
}

// Open creates a new store at path (if the directory is empty or
// absent) or loads an existing one. On reopen, persisted manifest
// values (dimension, distance, HNSW M and ef_construction) always
// override opts (spec §4.4), so re-tuning them only takes effect for
// brand-new stores; options the manifest does not record are taken
// from opts on every Open.
func Open(path string, opts Options) (*Store, error) {
	lock, err := acquireDirLock(path)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(path, manifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		s, err := loadStore(path, opts, lock)
		if err != nil {
			lock.Release()
			return nil, err
		}
		return s, nil
	}

	s, err := createStore(path, opts, lock)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

func createStore(path string, opts Options, lock *dirLock) (*Store, error) {
	if _, err := vecmath.ParseMetric(opts.Distance.String()); err != nil {
		return nil, wrapErr(KindUnsupportedDistance, "unsupported distance "+opts.Distance.String(), err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, wrapErr(KindIO, "creating store directory", err)
	}

	s := &Store{
		root:    path,
		lock:    lock,
		opts:    opts,
		metric:  opts.Distance,
		dim:     opts.Dimension,
		created: time.Now(),
		textIdx: text.New(opts.textConfig()),
		records: make(map[string]*Record),
		idToIdx: make(map[string]uint32),
		idxToID: make(map[uint32]string),
	}
	if s.dim > 0 {
		s.graph = hnsw.New(s.dim, s.metric, opts.hnswConfig())
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadStore(path string, opts Options, lock *dirLock) (*Store, error) {
	m, err := loadManifest(path)
	if err != nil {
		return nil, wrapErr(KindSerialization, "reading manifest.json", err)
	}
	metric, err := vecmath.ParseMetric(m.Distance)
	if err != nil {
		return nil, wrapErr(KindUnsupportedDistance, "manifest names unsupported distance "+m.Distance, err)
	}

	hnswCfg := hnsw.Config{M: m.HNSWM, EfConstruction: m.HNSWEfConstruction, EfSearchDefault: opts.HNSWEfSearchDefault}
	if hnswCfg.M == 0 {
		hnswCfg.M = DefaultOptions().HNSWM
	}
	if hnswCfg.EfConstruction == 0 {
		hnswCfg.EfConstruction = DefaultOptions().HNSWEfConstruction
	}
	if hnswCfg.EfSearchDefault == 0 {
		hnswCfg.EfSearchDefault = DefaultOptions().HNSWEfSearchDefault
	}

	recordEntries, err := loadRecords(path)
	if err != nil {
		return nil, wrapErr(KindSerialization, "reading records.bin", err)
	}
	nextIdx, idToIdx, idxToID, err := loadIDMaps(path)
	if err != nil {
		return nil, wrapErr(KindSerialization, "reading id_maps.bin", err)
	}

	s := &Store{
		root:    path,
		lock:    lock,
		opts:    opts,
		metric:  metric,
		dim:     m.Dimension,
		created: m.CreatedAt,
		records: make(map[string]*Record, len(recordEntries)),
		idToIdx: idToIdx,
		idxToID: idxToID,
		nextIdx: nextIdx,
	}
	for _, re := range recordEntries {
		rec := re.Rec
		s.records[rec.ID] = &rec
	}

	if data, err := os.ReadFile(filepath.Join(path, textIndexFile)); err == nil {
		s.textIdx = text.New(opts.textConfig())
		if err := s.textIdx.Import(data); err != nil {
			return nil, wrapErr(KindSerialization, "reading text_index.json", err)
		}
	} else {
		s.textIdx = text.New(opts.textConfig())
	}

	if data, err := os.Open(filepath.Join(path, hnswFile)); err == nil {
		defer data.Close()
		g, err := hnsw.Load(data, s.dim, metric, hnswCfg)
		if err != nil {
			return nil, wrapErr(KindSerialization, "reading hnsw.idx", err)
		}
		s.graph = g
	} else if s.dim > 0 {
		s.graph = hnsw.New(s.dim, metric, hnswCfg)
		for _, re := range recordEntries {
			if re.Rec.Deleted {
				continue
			}
			if err := s.graph.Insert(re.Idx, re.Rec.Vector); err != nil {
				return nil, wrapErr(KindSerialization, "rebuilding hnsw graph from records.bin", err)
			}
		}
	}
	opts.Distance = metric
	opts.Dimension = m.Dimension
	opts.HNSWM = hnswCfg.M
	opts.HNSWEfConstruction = hnswCfg.EfConstruction
	s.opts = opts

	return s, nil
}

// Close releases the directory lock. It does not implicitly save;
// callers that want durability on close should call Save first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Release()
}

// Save persists the manifest, records, id maps, graph, and text index
// to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	m := Manifest{
		SchemaVersion:      schemaVersion,
		Dimension:          s.dim,
		Distance:           s.metric.String(),
		HNSWM:              s.opts.HNSWM,
		HNSWEfConstruction: s.opts.HNSWEfConstruction,
		NextIdx:            s.nextIdx,
		CreatedAt:          s.created,
	}
	if m.HNSWM == 0 {
		m.HNSWM = DefaultOptions().HNSWM
	}
	if m.HNSWEfConstruction == 0 {
		m.HNSWEfConstruction = DefaultOptions().HNSWEfConstruction
	}
	if err := saveManifest(s.root, m); err != nil {
		return wrapErr(KindIO, "writing manifest.json", err)
	}

	entries := make([]*recordEntry, 0, len(s.records))
	for id, rec := range s.records {
		entries = append(entries, &recordEntry{Idx: s.idToIdx[id], Rec: *rec})
	}
	if err := saveRecords(s.root, entries); err != nil {
		return wrapErr(KindIO, "writing records.bin", err)
	}
	if err := saveIDMaps(s.root, s.nextIdx, s.idToIdx); err != nil {
		return wrapErr(KindIO, "writing id_maps.bin", err)
	}

	if s.graph != nil {
		f, err := os.Create(filepath.Join(s.root, ".tmp-hnsw.idx"))
		if err != nil {
			return wrapErr(KindIO, "writing hnsw.idx", err)
		}
		if err := s.graph.Save(f); err != nil {
			f.Close()
			os.Remove(f.Name())
			return wrapErr(KindIO, "writing hnsw.idx", err)
		}
		if err := f.Close(); err != nil {
			return wrapErr(KindIO, "writing hnsw.idx", err)
		}
		if err := os.Rename(f.Name(), filepath.Join(s.root, hnswFile)); err != nil {
			return wrapErr(KindIO, "writing hnsw.idx", err)
		}
	}

	if s.textIdx != nil {
		data, err := s.textIdx.Export()
		if err != nil {
			return wrapErr(KindSerialization, "encoding text_index.json", err)
		}
		if err := atomicWriteFile(filepath.Join(s.root, textIndexFile), data); err != nil {
			return wrapErr(KindIO, "writing text_index.json", err)
		}
	}
	return nil
}

func (s *Store) ensureDimension(n int) error {
	if s.dim == 0 {
		s.dim = n
		s.graph = hnsw.New(n, s.metric, s.opts.hnswConfig())
		return nil
	}
	if s.dim != n {
		return ErrDimensionMismatch
	}
	return nil
}

func validateVector(v []float32) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if vecmath.HasInvalid(v) {
		return ErrInvalidVector
	}
	return nil
}

// Upsert validates and inserts or updates a record (spec §4.4). If id
// already exists, its record is updated in place (version bumped,
// vector re-inserted into the graph under a new internal index; the
// old index is tombstoned, never reused).
func (s *Store) Upsert(id string, vector []float32, metadata Metadata, expiresAt *time.Time) error {
	if err := validateVector(vector); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDimension(len(vector)); err != nil {
		return err
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	if oldIdx, exists := s.idToIdx[id]; exists {
		rec := s.records[id]
		rec.Vector = stored
		rec.Metadata = metadata
		rec.ExpiresAt = expiresAt
		rec.Deleted = false
		rec.DeletedAt = nil
		rec.Version++

		newIdx := s.nextIdx
		s.nextIdx++
		if err := s.graph.Insert(newIdx, stored); err != nil {
			return err
		}
		_ = s.graph.Remove(oldIdx)
		s.idToIdx[id] = newIdx
		s.idxToID[newIdx] = id
		return nil
	}

	newIdx := s.nextIdx
	s.nextIdx++
	rec := &Record{ID: id, Vector: stored, Metadata: metadata, ExpiresAt: expiresAt, Version: 1}
	s.records[id] = rec
	s.idToIdx[id] = newIdx
	s.idxToID[newIdx] = id
	if err := s.graph.Insert(newIdx, stored); err != nil {
		delete(s.records, id)
		delete(s.idToIdx, id)
		delete(s.idxToID, newIdx)
		s.nextIdx--
		return err
	}
	return nil
}

// BatchItem is one entry of a BatchUpsert call.
type BatchItem struct {
	ID        string
	Vector    []float32
	Metadata  Metadata
	ExpiresAt *time.Time
}

// BatchUpsert validates every item before mutating any store state, and
// rolls back records and id maps on a mid-batch failure, so a failure
// leaves every record as it was (spec §4.4); next_idx keeps any indices
// the failed batch consumed in an existing graph. When the
// batch exceeds Options.ParallelRebuildThreshold, validation and vector
// copying run across goroutines (via errgroup) before the inherently
// sequential, mutex-guarded graph insertion — HNSW insertion itself is
// not safe for concurrent callers (spec §5), so "parallel rebuild" here
// parallelizes the CPU-bound preparation, not the graph mutation.
func (s *Store) BatchUpsert(items []BatchItem) error {
	if len(items) == 0 {
		return nil
	}

	prepared := make([][]float32, len(items))
	if len(items) > s.opts.ParallelRebuildThreshold {
		var g errgroup.Group
		for i := range items {
			i := i
			g.Go(func() error {
				if err := validateVector(items[i].Vector); err != nil {
					return err
				}
				v := make([]float32, len(items[i].Vector))
				copy(v, items[i].Vector)
				prepared[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i := range items {
			if err := validateVector(items[i].Vector); err != nil {
				return err
			}
			v := make([]float32, len(items[i].Vector))
			copy(v, items[i].Vector)
			prepared[i] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot rollback state before mutating anything.
	dimBefore := s.dim
	graphBefore := s.graph
	nextIdxBefore := s.nextIdx
	recordsBefore := make(map[string]*Record, len(s.records))
	for k, v := range s.records {
		cp := *v
		recordsBefore[k] = &cp
	}
	idToIdxBefore := make(map[string]uint32, len(s.idToIdx))
	for k, v := range s.idToIdx {
		idToIdxBefore[k] = v
	}
	idxToIDBefore := make(map[uint32]string, len(s.idxToID))
	for k, v := range s.idxToID {
		idxToIDBefore[k] = v
	}

	// insertedThisBatch tracks every graph index this call has already
	// inserted, so a mid-batch failure can tombstone them on the reused
	// graph object (rollback() below restores the maps, but a graph
	// reused across the whole call is the same pointer before and
	// after — its Insert calls must be undone explicitly or they'd
	// leave orphaned, unreferenced vectors behind).
	var insertedThisBatch []uint32
	reusedGraph := dimBefore != 0

	// pendingOldTombstones holds the previous internal index of every
	// updated id in this batch. Tombstoning an old index is one-way (no
	// un-tombstone operation exists), so these are only applied once the
	// whole batch is known to succeed — otherwise a later item's failure
	// would roll idToIdx/idxToID back to oldIdx while the graph still
	// reports it dead, permanently hiding an otherwise-live record from
	// Query (spec §4.4 "failure leaves the store in its pre-batch state").
	var pendingOldTombstones []uint32

	rollback := func() {
		s.dim = dimBefore
		s.graph = graphBefore
		s.records = recordsBefore
		s.idToIdx = idToIdxBefore
		s.idxToID = idxToIDBefore
		if reusedGraph {
			// The reused graph keeps these indices tombstoned, so nextIdx
			// stays past them rather than handing them out again.
			for _, idx := range insertedThisBatch {
				_ = graphBefore.Remove(idx)
			}
		} else {
			s.nextIdx = nextIdxBefore
		}
	}

	for i, item := range items {
		if err := s.ensureDimension(len(item.Vector)); err != nil {
			rollback()
			return err
		}
		if oldIdx, exists := s.idToIdx[item.ID]; exists {
			rec := s.records[item.ID]
			rec.Vector = prepared[i]
			rec.Metadata = item.Metadata
			rec.ExpiresAt = item.ExpiresAt
			rec.Deleted = false
			rec.DeletedAt = nil
			rec.Version++
			newIdx := s.nextIdx
			s.nextIdx++
			if err := s.graph.Insert(newIdx, prepared[i]); err != nil {
				rollback()
				return err
			}
			insertedThisBatch = append(insertedThisBatch, newIdx)
			pendingOldTombstones = append(pendingOldTombstones, oldIdx)
			s.idToIdx[item.ID] = newIdx
			s.idxToID[newIdx] = item.ID
			continue
		}
		newIdx := s.nextIdx
		s.nextIdx++
		rec := &Record{ID: item.ID, Vector: prepared[i], Metadata: item.Metadata, ExpiresAt: item.ExpiresAt, Version: 1}
		s.records[item.ID] = rec
		s.idToIdx[item.ID] = newIdx
		s.idxToID[newIdx] = item.ID
		if err := s.graph.Insert(newIdx, prepared[i]); err != nil {
			rollback()
			return err
		}
		insertedThisBatch = append(insertedThisBatch, newIdx)
	}

	// The whole batch succeeded: now, and only now, retire every
	// replaced id's previous internal index.
	for _, oldIdx := range pendingOldTombstones {
		_ = s.graph.Remove(oldIdx)
	}
	return nil
}

// saturatingMul returns a*b, or math.MaxUint64 on overflow, per spec
// §4.4/§8's requirement that the filtered-query fetch multiplier never
// wraps.
func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// QueryParams carries optional overrides for Query (spec §4.4, §6).
type QueryParams struct {
	EfSearch int
}

// Query runs a k-NN search, optionally restricted by a compiled filter.
// Over-fetch: with no filter, the candidate pool is max(k, ef_search);
// with a filter, min(total_records, saturating_mul(k, FetchMultiplier))
// (spec §4.4).
func (s *Store) Query(vector []float32, k int, f *filter.Filter, params QueryParams) ([]Hit, error) {
	if err := validateVector(vector); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, newErr(KindInvalidParameters, "k must be >= 1")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(vector) != s.dim {
		return nil, ErrDimensionMismatch
	}
	if s.graph == nil {
		return nil, nil
	}

	ef := params.EfSearch
	if ef == 0 {
		ef = s.opts.HNSWEfSearchDefault
	}
	if ef < 1 {
		return nil, newErr(KindInvalidParameters, "ef_search must be >= 1")
	}

	now := time.Now()
	isValid := s.validityPredicate(now, f)

	fetchEf := ef
	if f != nil {
		total := uint64(len(s.records))
		mult := s.opts.FetchMultiplier
		if mult == 0 {
			mult = DefaultOptions().FetchMultiplier
		}
		fetchEf = int(minU64(total, saturatingMul(uint64(k), mult)))
		if fetchEf < k {
			fetchEf = k
		}
	}

	results, err := s.graph.Search(vector, k, maxInt(fetchEf, ef), isValid)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, len(results))
	for i, r := range results {
		id := s.idxToID[r.Idx]
		rec := s.records[id]
		out[i] = Hit{ID: id, Score: vecmath.Score(s.metric, r.Distance), Metadata: rec.Metadata}
	}
	return out, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func (s *Store) validityPredicate(now time.Time, f *filter.Filter) func(uint32) bool {
	return func(idx uint32) bool {
		id, ok := s.idxToID[idx]
		if !ok {
			return false
		}
		rec, ok := s.records[id]
		if !ok || !rec.IsLive(now) {
			return false
		}
		if f != nil && !f.Evaluate(rec.Metadata.ToMap()) {
			return false
		}
		return true
	}
}

// QueryWithFilterString compiles filterExpr (if non-empty) and runs
// Query. A malformed filter always surfaces as a FilterParse error —
// never silently falls back to an unfiltered query (spec §4.3, §9).
func (s *Store) QueryWithFilterString(vector []float32, k int, filterExpr string, params QueryParams) ([]Hit, error) {
	var f *filter.Filter
	if filterExpr != "" {
		parsed, err := filter.Parse(filterExpr)
		if err != nil {
			if pe, ok := err.(*filter.ParseError); ok {
				return nil, &Error{Kind: KindFilterParse, Message: pe.Message, Pos: pe.Pos, Err: err}
			}
			return nil, wrapErr(KindFilterParse, "parsing filter", err)
		}
		f = parsed
	}
	return s.Query(vector, k, f, params)
}

// HybridQuery runs vector search and BM25 search independently,
// normalizes and fuses the two score lists, and returns the top k
// (spec §4.4).
func (s *Store) HybridQuery(vector []float32, queryText string, k int, params HybridParams) ([]Hit, error) {
	if err := validateVector(vector); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, newErr(KindInvalidParameters, "k must be >= 1")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(vector) != s.dim {
		return nil, ErrDimensionMismatch
	}

	var f *filter.Filter
	if params.Filter != "" {
		parsed, err := filter.Parse(params.Filter)
		if err != nil {
			if pe, ok := err.(*filter.ParseError); ok {
				return nil, &Error{Kind: KindFilterParse, Message: pe.Message, Pos: pe.Pos, Err: err}
			}
			return nil, wrapErr(KindFilterParse, "parsing filter", err)
		}
		f = parsed
	}

	candidateK := params.CandidateK
	if candidateK <= 0 {
		candidateK = maxInt(k*4, 50)
	}

	now := time.Now()
	isValid := s.validityPredicate(now, f)

	vecScores := make(map[string]float64)
	vectorsByID := make(map[string][]float32)
	if s.graph != nil {
		results, err := s.graph.Search(vector, candidateK, maxInt(candidateK, s.opts.HNSWEfSearchDefault), isValid)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			id := s.idxToID[r.Idx]
			vecScores[id] = vecmath.Score(s.metric, r.Distance)
			vectorsByID[id] = s.records[id].Vector
		}
	}

	bm25Scores := make(map[string]float64)
	if s.textIdx != nil {
		for _, r := range s.textIdx.Search(queryText, candidateK*4) {
			rec, ok := s.records[r.ID]
			if !ok || !rec.IsLive(now) {
				continue
			}
			if f != nil && !f.Evaluate(rec.Metadata.ToMap()) {
				continue
			}
			bm25Scores[r.ID] = r.Score
			vectorsByID[r.ID] = rec.Vector
		}
	}

	alpha := params.Alpha
	if alpha == 0 && params.Fusion == FusionWeightedSum {
		alpha = 0.5
	}
	fused := fuse(vecScores, bm25Scores, alpha, params.Fusion, params.RRFK)

	ids := orderByScoreDesc(fused)
	if len(ids) > k {
		ids = ids[:k]
	}
	out := make([]Hit, len(ids))
	for i, id := range ids {
		rec := s.records[id]
		out[i] = Hit{ID: id, Score: fused[id], Metadata: rec.Metadata}
	}
	return out, nil
}

// Remove marks id as soft-deleted, tombstones its HNSW index, and
// removes it from the text index — all three happen atomically under
// the writer lock (spec §4.4, §9).
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Deleted {
		return ErrUnknownID
	}
	now := time.Now()
	rec.Deleted = true
	rec.DeletedAt = &now

	if idx, ok := s.idToIdx[id]; ok && s.graph != nil {
		_ = s.graph.Remove(idx)
	}
	s.textIdx.RemoveDocument(id)
	return nil
}

// IndexText attaches (or replaces) searchable text for an existing
// record id, feeding the BM25 side of HybridQuery.
func (s *Store) IndexText(id, docText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrUnknownID
	}
	s.textIdx.IndexDocument(id, docText)
	return nil
}

// ExpireTTL removes every record whose expires_at deadline has passed.
// Never an error, even if nothing matches (spec §7).
func (s *Store) ExpireTTL() (expired int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, rec := range s.records {
		if rec.Deleted || rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		rec.Deleted = true
		rec.DeletedAt = &now
		if idx, ok := s.idToIdx[id]; ok && s.graph != nil {
			_ = s.graph.Remove(idx)
		}
		s.textIdx.RemoveDocument(id)
		expired++
	}
	return expired, nil
}

// Compact purges tombstoned records whose soft-delete grace period has
// elapsed, reclaiming their id-map entries (spec §4.4).
func (s *Store) Compact() (purged int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, rec := range s.records {
		if !rec.Deleted || rec.DeletedAt == nil {
			continue
		}
		if now.Sub(*rec.DeletedAt) < s.opts.SoftDeleteTTL {
			continue
		}
		s.textIdx.RemoveDocument(id)
		if idx, ok := s.idToIdx[id]; ok {
			delete(s.idxToID, idx)
		}
		delete(s.idToIdx, id)
		delete(s.records, id)
		purged++
	}
	if purged > 0 {
		if err := s.saveLocked(); err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// Optimize rebuilds the HNSW graph from currently live records
// (lowering query latency after many deletes), compacts the text
// index's backing storage, and rewrites the manifest (spec §4.4).
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		return nil
	}

	fresh := hnsw.New(s.dim, s.metric, s.opts.hnswConfig())
	newIdToIdx := make(map[string]uint32, len(s.records))
	newIdxToID := make(map[uint32]string, len(s.records))

	ids := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.Deleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic rebuild order

	var nextIdx uint32
	for _, id := range ids {
		rec := s.records[id]
		if err := fresh.Insert(nextIdx, rec.Vector); err != nil {
			return err
		}
		newIdToIdx[id] = nextIdx
		newIdxToID[nextIdx] = id
		nextIdx++
	}

	s.graph = fresh
	s.idToIdx = newIdToIdx
	s.idxToID = newIdxToID
	s.nextIdx = nextIdx

	data, err := s.textIdx.Export()
	if err != nil {
		return wrapErr(KindSerialization, "compacting text index", err)
	}
	rebuilt := text.New(s.opts.textConfig())
	if err := rebuilt.Import(data); err != nil {
		return wrapErr(KindSerialization, "compacting text index", err)
	}
	s.textIdx = rebuilt

	return s.saveLocked()
}

// CreateSnapshot copies the entire on-disk layout to snapshots/<name>/
// (spec §4.4). The store is saved first so the snapshot reflects the
// current in-memory state, not just the last explicit Save.
func (s *Store) CreateSnapshot(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveLocked(); err != nil {
		return err
	}
	dst := filepath.Join(s.root, snapshotsDir, name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return wrapErr(KindIO, "creating snapshot directory", err)
	}
	return copyStoreFiles(s.root, dst, nil)
}

// RestoreSnapshot copies snapshots/<name>/ back over the live layout
// and reloads in-memory state from it.
func (s *Store) RestoreSnapshot(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := filepath.Join(s.root, snapshotsDir, name)
	if _, err := os.Stat(src); err != nil {
		return wrapErr(KindIO, "snapshot not found", err)
	}
	if err := copyStoreFiles(src, s.root, nil); err != nil {
		return err
	}

	reopened, err := loadStore(s.root, s.opts, s.lock)
	if err != nil {
		return err
	}
	s.metric = reopened.metric
	s.dim = reopened.dim
	s.created = reopened.created
	s.graph = reopened.graph
	s.textIdx = reopened.textIdx
	s.records = reopened.records
	s.idToIdx = reopened.idToIdx
	s.idxToID = reopened.idxToID
	s.nextIdx = reopened.nextIdx
	return nil
}

// Plan is the result of ExplainQuery: a cost-annotated step list (spec
// §4.4, §6).
type Plan struct {
	Steps          []PlanStep
	EstimatedCost  float64
	DominantFactor string
	Advisories     []string
}

// PlanStep is one step of an explained query.
type PlanStep struct {
	Name        string
	CostShare   float64
	Description string
}

// ExplainQuery returns a cost-estimate plan for a vector query, guarding
// against the empty-store degenerate case (spec §4.4: "Cost formulas
// guard against empty stores: ln(max(n, 2)) rather than ln(n)").
func (s *Store) ExplainQuery(k int, hasFilter bool) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if n == 0 {
		return &Plan{EstimatedCost: 0, DominantFactor: "none", Advisories: []string{"store is empty"}}, nil
	}

	graphCost := math.Log(math.Max(float64(n), 2))
	plan := &Plan{Steps: []PlanStep{
		{Name: "hnsw_search", CostShare: 0.7, Description: "graph traversal, ef-bounded beam search"},
	}}
	total := graphCost
	if hasFilter {
		filterCost := float64(k) * 0.01
		plan.Steps = append(plan.Steps, PlanStep{Name: "filter_evaluate", CostShare: 0.3, Description: "per-candidate predicate evaluation"})
		total += filterCost
		plan.DominantFactor = "filter_evaluate"
	} else {
		plan.DominantFactor = "hnsw_search"
	}
	plan.EstimatedCost = total
	return plan, nil
}

// ExplainPrefetch validates a PrefetchPlan's stage ordering without
// executing it (spec §4.4 input validation).
func (s *Store) ExplainPrefetch(p PrefetchPlan) error {
	return p.validate()
}

// RunPrefetch executes a validated PrefetchPlan against vector, running
// each stage in order: a search stage seeds the candidate pool, filter
// stages narrow it by a compiled predicate, and diversify stages
// re-rank it by Maximal Marginal Relevance ("Supplemented
// Features", SPEC_FULL.md §1.3).
func (s *Store) RunPrefetch(vector []float32, queryText string, plan PrefetchPlan) ([]Hit, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}

	var hits []Hit
	for _, stage := range plan {
		switch stage.Kind {
		case StageVectorSearch:
			topK := stage.TopK
			if topK <= 0 {
				topK = 10
			}
			res, err := s.QueryWithFilterString(vector, topK, stage.Filter, QueryParams{})
			if err != nil {
				return nil, err
			}
			hits = res
		case StageHybridSearch:
			topK := stage.TopK
			if topK <= 0 {
				topK = 10
			}
			res, err := s.HybridQuery(vector, queryText, topK, HybridParams{Filter: stage.Filter})
			if err != nil {
				return nil, err
			}
			hits = res
		case StageFilter:
			f, err := filter.Parse(stage.Filter)
			if err != nil {
				if pe, ok := err.(*filter.ParseError); ok {
					return nil, &Error{Kind: KindFilterParse, Message: pe.Message, Pos: pe.Pos, Err: err}
				}
				return nil, wrapErr(KindFilterParse, "parsing filter", err)
			}
			filtered := hits[:0]
			for _, h := range hits {
				if f.Evaluate(h.Metadata.ToMap()) {
					filtered = append(filtered, h)
				}
			}
			hits = filtered
		case StageDiversify:
			s.mu.RLock()
			ids := make([]string, len(hits))
			scores := make(map[string]float64, len(hits))
			vectors := make(map[string][]float32, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
				scores[h.ID] = h.Score
				if rec, ok := s.records[h.ID]; ok {
					vectors[h.ID] = rec.Vector
				}
			}
			s.mu.RUnlock()
			ordered := applyMMR(ids, scores, vectors, stage.MMRLambda, stage.TopK)
			byID := make(map[string]Hit, len(hits))
			for _, h := range hits {
				byID[h.ID] = h
			}
			reordered := make([]Hit, 0, len(ordered))
			for _, id := range ordered {
				reordered = append(reordered, byID[id])
			}
			hits = reordered
		}
	}
	return hits, nil
}

// MarshalManifestForDebug is a small debug helper returning the current
// manifest as indented JSON; not part of the durable-format contract.
func (s *Store) MarshalManifestForDebug() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := Manifest{
		SchemaVersion:      schemaVersion,
		Dimension:          s.dim,
		Distance:           s.metric.String(),
		HNSWM:              s.opts.HNSWM,
		HNSWEfConstruction: s.opts.HNSWEfConstruction,
		NextIdx:            s.nextIdx,
		CreatedAt:          s.created,
	}
	return json.MarshalIndent(m, "", "  ")
}

package store

import (
	"time"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/hnsw"
	"github.com/PhilipJohnBasile/vecstore-sub003/internal/text"
	"github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"
)

// Options configures a new (or reopened) store (spec §6's configuration
// table). On reopen, the values the manifest records (Distance,
// Dimension, HNSWM, HNSWEfConstruction) always override these, so that
// tuning survives restarts; the other fields are not persisted and take
// effect from the Options passed to each Open, including Tokenizer.
type Options struct {
	Distance  vecmath.Metric
	Dimension int

	HNSWM                int
	HNSWEfConstruction   int
	HNSWEfSearchDefault  int

	BM25K1 float64
	BM25B  float64

	Tokenizer     text.Kind
	TokenizerNGramN int

	// SoftDeleteTTL is the grace period Compact honors before reclaiming
	// a soft-deleted record's storage (spec §6 "soft_delete_ttl").
	SoftDeleteTTL time.Duration

	// ParallelRebuildThreshold is the batch_upsert item count above
	// which BatchUpsert validates and copies items across goroutines;
	// graph insertion itself stays sequential (spec §4.4).
	ParallelRebuildThreshold int

	// FetchMultiplier is the tunable knob spec §9 calls for: the
	// saturating multiplier applied to k when a query carries a filter.
	// Defaults to 10, the spec's documented default.
	FetchMultiplier uint64
}

// DefaultOptions returns the spec §6 documented defaults.
func DefaultOptions() Options {
	return Options{
		Distance:                 vecmath.Cosine,
		HNSWM:                    16,
		HNSWEfConstruction:       200,
		HNSWEfSearchDefault:      50,
		BM25K1:                   text.DefaultK1,
		BM25B:                    text.DefaultB,
		Tokenizer:                text.Simple,
		ParallelRebuildThreshold: 1000,
		FetchMultiplier:          10,
	}
}

func (o Options) hnswConfig() hnsw.Config {
	return hnsw.Config{M: o.HNSWM, EfConstruction: o.HNSWEfConstruction, EfSearchDefault: o.HNSWEfSearchDefault}
}

func (o Options) textConfig() text.Config {
	return text.Config{Tokenizer: o.Tokenizer, NGramN: o.TokenizerNGramN, K1: o.BM25K1, B: o.BM25B}
}

// schemaVersion is the current on-disk schema (spec §3 manifest,
// §4.4 on-disk layout). v1/v2 stores (no text_index.json) load with an
// empty text index and are upgraded to v3 on next save.
const schemaVersion = 3

// Manifest is the persisted scalar bundle at <root>/manifest.json
// (spec §3, §6). Field names are stable — this is the one file every
// valid store directory must contain alongside records.bin.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Dimension     int       `json:"dimension"`
	Distance      string    `json:"distance"`
	HNSWM         int       `json:"hnsw_m"`
	HNSWEfConstruction int  `json:"hnsw_ef_construction"`
	NextIdx       uint32    `json:"next_idx"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

package hnsw

import "errors"

// ErrDimensionMismatch is returned when a vector's length does not match
// the graph's configured dimension.
var ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")

// ErrInvalidVector is returned when a vector contains NaN or infinite
// components; the graph refuses to poison its heaps with such values.
var ErrInvalidVector = errors.New("hnsw: vector contains NaN or infinity")

// ErrInvalidEf is returned when ef (or k) is less than 1.
var ErrInvalidEf = errors.New("hnsw: ef/k must be >= 1")

// ErrUnknownIndex is returned by Remove for an index that was never
// inserted, or that is already tombstoned.
var ErrUnknownIndex = errors.New("hnsw: unknown or already-removed internal index")

// ErrCorrupt is returned by Load when the serialized graph fails a
// structural sanity check.
var ErrCorrupt = errors.New("hnsw: corrupt graph snapshot")

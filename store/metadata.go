package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Metadata is an ordered mapping from string keys to JSON-compatible
// scalars or arrays of scalars (spec §3, §9 design note: "represent as
// a tagged-union of scalar kinds + ordered key-sequence; the serializer
// preserves key order for deterministic snapshots"). Using a slice of
// pairs instead of a Go map means records.bin round-trips byte-for-byte
// regardless of map iteration order.
type Metadata []MetadataEntry

// MetadataEntry is one key/value pair. Value is one of: string, float64,
// bool, or []any containing only those three scalar kinds.
type MetadataEntry struct {
	Key   string
	Value any
}

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (any, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set replaces key's value if present, or appends a new entry,
// preserving existing key order.
func (m Metadata) Set(key string, value any) Metadata {
	for i, e := range m {
		if e.Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, MetadataEntry{Key: key, Value: value})
}

// ToMap converts Metadata to the map[string]any shape the filter
// evaluator operates on.
func (m Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(m))
	for _, e := range m {
		out[e.Key] = e.Value
	}
	return out
}

const (
	scalarString byte = iota
	scalarFloat
	scalarBool
	scalarArray
)

func writeLenPrefixedString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLenPrefixedString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeScalar(w io.Writer, v any) error {
	switch val := v.(type) {
	case string:
		if _, err := w.Write([]byte{scalarString}); err != nil {
			return err
		}
		return writeLenPrefixedString(w, val)
	case float64:
		if _, err := w.Write([]byte{scalarFloat}); err != nil {
			return err
		}
		return writeFloat64(w, val)
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		_, err := w.Write([]byte{scalarBool, b})
		return err
	default:
		return fmt.Errorf("store: unsupported metadata scalar type %T", v)
	}
}

func writeFloat64(w io.Writer, f float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	_, err := w.Write(buf[:])
	return err
}

func readFloat64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

func readScalar(r io.Reader) (any, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case scalarString:
		return readLenPrefixedString(r)
	case scalarFloat:
		return readFloat64(r)
	case scalarBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	default:
		return nil, fmt.Errorf("store: corrupt metadata scalar tag %d", tag[0])
	}
}

// writeValue encodes a scalar or a flat array of scalars.
func writeValue(w io.Writer, v any) error {
	if arr, ok := v.([]any); ok {
		if _, err := w.Write([]byte{scalarArray}); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(arr))); err != nil {
			return err
		}
		for _, item := range arr {
			if err := writeScalar(w, item); err != nil {
				return err
			}
		}
		return nil
	}
	return writeScalar(w, v)
}

func readValue(r io.Reader) (any, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	if tag[0] != scalarArray {
		return readScalarFromTag(r, tag[0])
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		v, err := readScalar(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readScalarFromTag(r io.Reader, tag byte) (any, error) {
	switch tag {
	case scalarString:
		return readLenPrefixedString(r)
	case scalarFloat:
		return readFloat64(r)
	case scalarBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	default:
		return nil, fmt.Errorf("store: corrupt metadata value tag %d", tag)
	}
}

// WriteTo encodes m as: count, then (key, tagged value) pairs in order.
func (m Metadata) WriteTo(w io.Writer) error {
	if err := writeU32(w, uint32(len(m))); err != nil {
		return err
	}
	for _, e := range m {
		if err := writeLenPrefixedString(w, e.Key); err != nil {
			return err
		}
		if err := writeValue(w, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReadMetadata decodes a Metadata previously written by WriteTo.
func ReadMetadata(r io.Reader) (Metadata, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(Metadata, n)
	for i := range out {
		key, err := readLenPrefixedString(r)
		if err != nil {
			return nil, err
		}
		val, err := readValue(r)
		if err != nil {
			return nil, err
		}
		out[i] = MetadataEntry{Key: key, Value: val}
	}
	return out, nil
}

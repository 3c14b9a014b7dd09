package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

func floatBits(f float32) uint32     { return math.Float32bits(f) }
func floatFromBits(b uint32) float32 { return math.Float32frombits(b) }

const (
	manifestFile  = "manifest.json"
	recordsFile   = "records.bin"
	idMapsFile    = "id_maps.bin"
	hnswFile      = "hnsw.idx"
	textIndexFile = "text_index.json"
	snapshotsDir  = "snapshots"
)

// checksum returns the hex-encoded blake2b-256 digest of data, used to
// detect torn writes on manifest.json (including the copies snapshots
// carry); the other layout files are not checksummed. blake2b is
// repurposed here from the teacher's auth-only use (bcrypt/pbkdf2
// elsewhere in golang.org/x/crypto) as a fast, general-purpose digest
// for the persistence layer.
func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex(sum[:])
}

const hexDigits = "0123456789abcdef"

func hex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

// atomicWriteFile writes data to a temp file in the same directory as
// path, then renames over path — so a crash mid-write never corrupts
// the previous on-disk state (spec §7: "Persistence errors during save
// leave the previous on-disk state untouched").
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func saveManifest(root string, m Manifest) error {
	m.Checksum = ""
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	m.Checksum = checksum(body)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(root, manifestFile), data)
}

// loadManifest reads manifest.json and verifies its checksum, so a torn
// or partially-overwritten file is caught here rather than silently
// trusted (the write side commits the checksum precisely so this check
// can happen).
func loadManifest(root string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(root, manifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	want := m.Checksum
	m.Checksum = ""
	body, err := json.Marshal(m)
	if err != nil {
		return m, err
	}
	got := checksum(body)
	if want != got {
		return m, fmt.Errorf("manifest checksum mismatch: want %s, got %s", want, got)
	}
	m.Checksum = want
	return m, nil
}

// saveRecords writes every record (live or tombstoned) to records.bin.
func saveRecords(root string, records []*recordEntry) error {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := writeU32(bw, uint32(len(records))); err != nil {
		return err
	}
	for _, re := range records {
		if err := writeRecordEntry(bw, re); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(root, recordsFile), buf.Bytes())
}

// recordEntry pairs a Record with the internal HNSW index it was last
// inserted under.
type recordEntry struct {
	Idx uint32
	Rec Record
}

func writeRecordEntry(w io.Writer, re *recordEntry) error {
	if err := writeU32(w, re.Idx); err != nil {
		return err
	}
	if err := writeLenPrefixedString(w, re.Rec.ID); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(re.Rec.Vector))); err != nil {
		return err
	}
	for _, f := range re.Rec.Vector {
		if err := writeU32(w, floatBits(f)); err != nil {
			return err
		}
	}
	if err := re.Rec.Metadata.WriteTo(w); err != nil {
		return err
	}
	deleted := byte(0)
	if re.Rec.Deleted {
		deleted = 1
	}
	if _, err := w.Write([]byte{deleted}); err != nil {
		return err
	}
	if re.Rec.ExpiresAt != nil {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := writeI64(w, re.Rec.ExpiresAt.UnixNano()); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	if re.Rec.DeletedAt != nil {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := writeI64(w, re.Rec.DeletedAt.UnixNano()); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return writeU32(w, uint32(re.Rec.Version))
}

func readRecordEntry(r io.Reader) (*recordEntry, error) {
	idx, err := readU32(r)
	if err != nil {
		return nil, err
	}
	id, err := readLenPrefixedString(r)
	if err != nil {
		return nil, err
	}
	dim, err := readU32(r)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, dim)
	for i := range vec {
		bits, err := readU32(r)
		if err != nil {
			return nil, err
		}
		vec[i] = floatFromBits(bits)
	}
	md, err := ReadMetadata(r)
	if err != nil {
		return nil, err
	}
	var deletedByte [1]byte
	if _, err := io.ReadFull(r, deletedByte[:]); err != nil {
		return nil, err
	}
	var hasExpires [1]byte
	if _, err := io.ReadFull(r, hasExpires[:]); err != nil {
		return nil, err
	}
	var expires *time.Time
	if hasExpires[0] == 1 {
		nanos, err := readI64(r)
		if err != nil {
			return nil, err
		}
		t := time.Unix(0, nanos).UTC()
		expires = &t
	}
	var hasDeletedAt [1]byte
	if _, err := io.ReadFull(r, hasDeletedAt[:]); err != nil {
		return nil, err
	}
	var deletedAt *time.Time
	if hasDeletedAt[0] == 1 {
		nanos, err := readI64(r)
		if err != nil {
			return nil, err
		}
		t := time.Unix(0, nanos).UTC()
		deletedAt = &t
	}
	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	return &recordEntry{
		Idx: idx,
		Rec: Record{
			ID:        id,
			Vector:    vec,
			Metadata:  md,
			Deleted:   deletedByte[0] == 1,
			DeletedAt: deletedAt,
			ExpiresAt: expires,
			Version:   int(version),
		},
	}, nil
}

func loadRecords(root string) ([]*recordEntry, error) {
	data, err := os.ReadFile(filepath.Join(root, recordsFile))
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]*recordEntry, count)
	for i := range out {
		re, err := readRecordEntry(r)
		if err != nil {
			return nil, err
		}
		out[i] = re
	}
	return out, nil
}

// saveIDMaps writes next_idx plus the full idx<->id bijection. Both
// id_to_idx and idx_to_id are reconstructed from this single list on
// load — next_idx is read back verbatim, never recomputed from the
// list length (spec §6, §9).
func saveIDMaps(root string, nextIdx uint32, idToIdx map[string]uint32) error {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := writeU32(bw, nextIdx); err != nil {
		return err
	}
	if err := writeU32(bw, uint32(len(idToIdx))); err != nil {
		return err
	}
	for id, idx := range idToIdx {
		if err := writeU32(bw, idx); err != nil {
			return err
		}
		if err := writeLenPrefixedString(bw, id); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(root, idMapsFile), buf.Bytes())
}

func loadIDMaps(root string) (nextIdx uint32, idToIdx map[string]uint32, idxToID map[uint32]string, err error) {
	data, err := os.ReadFile(filepath.Join(root, idMapsFile))
	if err != nil {
		return 0, nil, nil, err
	}
	r := bytes.NewReader(data)
	nextIdx, err = readU32(r)
	if err != nil {
		return 0, nil, nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return 0, nil, nil, err
	}
	idToIdx = make(map[string]uint32, count)
	idxToID = make(map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		idx, err := readU32(r)
		if err != nil {
			return 0, nil, nil, err
		}
		id, err := readLenPrefixedString(r)
		if err != nil {
			return 0, nil, nil, err
		}
		idToIdx[id] = idx
		idxToID[idx] = id
	}
	return nextIdx, idToIdx, idxToID, nil
}

func writeI64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readI64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

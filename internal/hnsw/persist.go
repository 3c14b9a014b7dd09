package hnsw

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"
)

// magic tags the binary graph snapshot format. Bumped whenever the
// on-disk layout below changes shape.
const magic uint32 = 0x484e5357 // "HNSW"

// Save writes the full graph — nodes, adjacency, tombstones, next_idx,
// entry point, and max layer — to w. The encoding is a length-prefixed
// binary stream (LittleEndian headers, one record per node), in the
// style of the retrieved pack's on-disk HNSW format: a fixed header
// followed by a flat sequence of per-node blocks.
func (g *Graph) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bw := bufio.NewWriter(w)

	var header [28]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(g.dim))
	binary.LittleEndian.PutUint32(header[8:12], g.nextIdx)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(g.nodes)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(g.entryPoint))
	binary.LittleEndian.PutUint32(header[24:28], uint32(g.maxLevel))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	for _, n := range g.nodes {
		if n == nil {
			if _, err := bw.Write([]byte{0}); err != nil {
				return err
			}
			continue
		}
		if _, err := bw.Write([]byte{1}); err != nil {
			return err
		}
		if err := writeUint32(bw, uint32(n.level)); err != nil {
			return err
		}
		for _, f := range n.vector {
			if err := writeUint32(bw, math.Float32bits(f)); err != nil {
				return err
			}
		}
		for l := 0; l <= n.level; l++ {
			adj := n.neighbors[l]
			if err := writeUint32(bw, uint32(len(adj))); err != nil {
				return err
			}
			for _, nb := range adj {
				if err := writeUint32(bw, nb); err != nil {
					return err
				}
			}
		}
	}

	if _, err := g.tombstones.WriteTo(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// Load restores a graph previously written by Save. dim, metric, and
// config are supplied by the caller (the store's manifest is the
// authority for these, not the graph snapshot) and are used to
// initialize the returned Graph; next_idx, entry point, and max layer
// come from the snapshot itself and are never recomputed from the node
// count (spec §9: reconstructing next_idx as len(id_to_idx) is a
// documented corruption bug).
func Load(r io.Reader, dim int, metric vecmath.Metric, config Config) (*Graph, error) {
	br := bufio.NewReader(r)

	var header [28]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		return nil, ErrCorrupt
	}
	storedDim := int(binary.LittleEndian.Uint32(header[4:8]))
	if storedDim != dim {
		return nil, ErrDimensionMismatch
	}
	nextIdx := binary.LittleEndian.Uint32(header[8:12])
	nodeCount := binary.LittleEndian.Uint32(header[12:16])
	entryPoint := int64(binary.LittleEndian.Uint64(header[16:24]))
	maxLevel := int(int32(binary.LittleEndian.Uint32(header[24:28])))

	g := &Graph{
		dim:        dim,
		metric:     metric,
		config:     config,
		nodes:      make([]*node, nodeCount),
		entryPoint: entryPoint,
		maxLevel:   maxLevel,
		nextIdx:    nextIdx,
		rng:        rand.New(rand.NewSource(1)),
	}

	for i := uint32(0); i < nodeCount; i++ {
		present, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if present == 0 {
			continue
		}
		levelU, err := readUint32(br)
		if err != nil {
			return nil, err
		}
		level := int(levelU)
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits, err := readUint32(br)
			if err != nil {
				return nil, err
			}
			vec[j] = math.Float32frombits(bits)
		}
		n := &node{vector: vec, level: level, neighbors: make([][]uint32, level+1)}
		for l := 0; l <= level; l++ {
			count, err := readUint32(br)
			if err != nil {
				return nil, err
			}
			adj := make([]uint32, count)
			for k := range adj {
				v, err := readUint32(br)
				if err != nil {
					return nil, err
				}
				adj[k] = v
			}
			n.neighbors[l] = adj
		}
		g.nodes[i] = n
	}

	tombstones := roaring.New()
	if _, err := tombstones.ReadFrom(br); err != nil && err != io.EOF {
		return nil, err
	}
	g.tombstones = tombstones
	return g, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

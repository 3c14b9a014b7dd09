package hnsw

import "container/heap"

// candidate is one entry in a distance-ordered heap: an internal index
// and its distance to the current query/insertion vector. Ties break by
// lower internal index (spec §4.1), which candidateHeap enforces in Less
// so every heap built from it — exploration and result pools alike —
// gets deterministic ordering for free.
type candidate struct {
	idx  uint32
	dist float64
}

// candidateHeap is a binary heap of candidates. isMax flips it between a
// min-heap (used to drive exploration toward the closest unvisited node)
// and a max-heap (used to bound the result pool to its worst member, so
// that member can be evicted in O(log ef) when something closer arrives).
type candidateHeap struct {
	items []candidate
	isMax bool
}

func newCandidateHeap(isMax bool) *candidateHeap {
	h := &candidateHeap{isMax: isMax}
	heap.Init(h)
	return h
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.dist != b.dist {
		if h.isMax {
			return a.dist > b.dist
		}
		return a.dist < b.dist
	}
	// Stable tie-break regardless of heap orientation: lower index wins
	// the "closer" comparison in both the min- and max-heap roles.
	if h.isMax {
		return a.idx > b.idx
	}
	return a.idx < b.idx
}

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) { h.items = append(h.items, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

func (h *candidateHeap) push(c candidate) { heap.Push(h, c) }

func (h *candidateHeap) pop() candidate { return heap.Pop(h).(candidate) }

func (h *candidateHeap) peek() candidate { return h.items[0] }

// Package text implements the BM25 keyword inverted index used both
// standalone and as the sparse half of hybrid search (spec §4.2).
package text

import (
	"encoding/json"
	"sort"
	"sync"
)

// posting is one term's occurrence record within a single document:
// how many times it appeared, and at which token positions — the
// latter is what phrase-boost adjacency is checked against.
type posting struct {
	TermFrequency int
	Positions     []int
}

// Result is one scored document returned by Search.
type Result struct {
	ID    string
	Score float64
}

// Config configures a new Index. An Index uses the tokenizer chosen
// here for its whole life (spec §4.2).
type Config struct {
	Tokenizer Kind
	NGramN    int
	K1        float64
	B         float64
}

// DefaultConfig returns Simple tokenization with the spec's default
// BM25 parameters.
func DefaultConfig() Config {
	return Config{Tokenizer: Simple, K1: DefaultK1, B: DefaultB}
}

// Index is a BM25-scored inverted index over a set of (id, text)
// documents.
type Index struct {
	mu       sync.RWMutex
	config   Config
	tokenize Tokenizer

	documents   map[string]string
	postings    map[string]map[string]posting // term -> id -> posting
	docLength   map[string]int
	totalLength int
	numDocs     int
}

// New builds an empty Index from config.
func New(config Config) *Index {
	return &Index{
		config:    config,
		tokenize:  NewTokenizer(config.Tokenizer, config.NGramN),
		documents: make(map[string]string),
		postings:  make(map[string]map[string]posting),
		docLength: make(map[string]int),
	}
}

// Count returns the current document count (num_docs).
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.numDocs
}

// GetDocument returns the stored text for id, if present.
func (idx *Index) GetDocument(id string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	text, ok := idx.documents[id]
	return text, ok
}

func (idx *Index) avgDocLength() float64 {
	if idx.numDocs == 0 {
		return 0
	}
	return float64(idx.totalLength) / float64(idx.numDocs)
}

// IndexDocument tokenizes text and (re)indexes it under id. If id was
// already indexed, its previous postings are removed first and
// num_docs is decremented, then the new postings are inserted and
// num_docs incremented — a net-zero effect on num_docs for re-indexes
// of the same id (spec §4.2, testable property §8.3).
func (idx *Index) IndexDocument(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.documents[id]; exists {
		idx.removeLocked(id)
	}

	tokens := idx.tokenize(text)
	freq := make(map[string]int)
	positions := make(map[string][]int)
	for pos, tok := range tokens {
		freq[tok]++
		positions[tok] = append(positions[tok], pos)
	}

	idx.documents[id] = text
	idx.docLength[id] = len(tokens)
	idx.totalLength += len(tokens)
	idx.numDocs++

	for term, tf := range freq {
		byDoc, ok := idx.postings[term]
		if !ok {
			byDoc = make(map[string]posting)
			idx.postings[term] = byDoc
		}
		byDoc[id] = posting{TermFrequency: tf, Positions: positions[term]}
	}
}

// RemoveDocument removes id's postings, length, and document-count
// contribution. Returns false if id was not indexed.
func (idx *Index) RemoveDocument(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) bool {
	text, ok := idx.documents[id]
	if !ok {
		return false
	}
	for _, term := range idx.tokenize(text) {
		byDoc, ok := idx.postings[term]
		if !ok {
			continue
		}
		delete(byDoc, id)
		if len(byDoc) == 0 {
			delete(idx.postings, term)
		}
	}
	idx.totalLength -= idx.docLength[id]
	delete(idx.docLength, id)
	delete(idx.documents, id)
	idx.numDocs--
	return true
}

// Search scores every document containing at least one query term with
// BM25, applies the 2x phrase-boost multiplier when two or more query
// terms appear at adjacent positions in a document (spec §4.2), and
// returns the top k by score, ties broken by id for determinism.
func (idx *Index) Search(query string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tokens := idx.tokenize(query)
	if len(tokens) == 0 || idx.numDocs == 0 {
		return nil
	}
	avgDL := idx.avgDocLength()

	unique := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		unique[t] = true
	}

	scores := make(map[string]float64)
	for term := range unique {
		byDoc, ok := idx.postings[term]
		if !ok {
			continue
		}
		n := len(byDoc)
		for id, p := range byDoc {
			dl := float64(idx.docLength[id])
			scores[id] += score(float64(p.TermFrequency), dl, avgDL, n, idx.numDocs, idx.config.K1, idx.config.B)
		}
	}

	for id := range scores {
		if idx.hasAdjacentQueryTerms(tokens, id) {
			scores[id] *= 2
		}
	}

	out := make([]Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, Result{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// hasAdjacentQueryTerms reports whether any two distinct tokens in the
// query sequence occur at adjacent stored positions within document id.
func (idx *Index) hasAdjacentQueryTerms(tokens []string, id string) bool {
	for i := 0; i+1 < len(tokens); i++ {
		t1, t2 := tokens[i], tokens[i+1]
		if t1 == t2 {
			continue
		}
		p1, ok1 := idx.postings[t1][id]
		p2, ok2 := idx.postings[t2][id]
		if !ok1 || !ok2 {
			continue
		}
		for _, a := range p1.Positions {
			for _, b := range p2.Positions {
				if b == a+1 {
					return true
				}
			}
		}
	}
	return false
}

// exportDoc is the persisted shape of the text index: just the id->text
// map (spec §4.2: "inverted structures are rebuilt on load by
// re-tokenizing every document").
type exportDoc struct {
	Documents map[string]string `json:"documents"`
}

// Export serializes the id->text map to JSON.
func (idx *Index) Export() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	docs := make(map[string]string, len(idx.documents))
	for id, text := range idx.documents {
		docs[id] = text
	}
	return json.Marshal(exportDoc{Documents: docs})
}

// Import rebuilds the index from a JSON export by re-tokenizing every
// document. The index must be empty; callers load into a fresh Index.
func (idx *Index) Import(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	ids := make([]string, 0, len(doc.Documents))
	for id := range doc.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic rebuild order
	for _, id := range ids {
		idx.IndexDocument(id, doc.Documents[id])
	}
	return nil
}

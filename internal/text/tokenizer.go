package text

import "strings"

// Kind selects one of the tokenizer variants recognized at store
// creation (spec §4.2, §6 "tokenizer" option). An Index keeps its
// tokenizer for its whole life. The store does not record the choice in
// its manifest: a reopened store rebuilds its text index with the
// tokenizer named in the Options passed to Open, which changes BM25
// statistics for existing documents if that tokenizer differs.
type Kind int

const (
	// Simple splits on runs of non-letter/non-digit characters and
	// lowercases; no stopword or length filtering.
	Simple Kind = iota
	// Whitespace splits on whitespace only, then lowercases; punctuation
	// stays attached to adjacent words.
	Whitespace
	// Language applies Simple's word split plus a small English
	// stopword list and a minimum token length of 2.
	Language
	// NGram emits lowercase, alphanumeric-only character n-grams of a
	// configurable width instead of whole words — useful for
	// prefix/fuzzy matching in languages without clean word boundaries.
	NGram
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Whitespace:
		return "whitespace"
	case Language:
		return "language"
	case NGram:
		return "ngram"
	default:
		return "unknown"
	}
}

// Tokenizer turns raw text into an ordered sequence of tokens. Token
// position within the returned slice is what phrase-boost adjacency is
// measured against (spec §4.2).
type Tokenizer func(text string) []string

// NewTokenizer builds the Tokenizer for the given kind. n is only used
// by NGram; an n below 1 is replaced by 3.
func NewTokenizer(kind Kind, n int) Tokenizer {
	switch kind {
	case Whitespace:
		return whitespaceTokenizer
	case Language:
		return languageTokenizer
	case NGram:
		if n < 1 {
			n = 3
		}
		return func(text string) []string { return ngramTokenizer(text, n) }
	default:
		return simpleTokenizer
	}
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func simpleTokenizer(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !isWordChar(r) })
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}

func whitespaceTokenizer(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "were": true, "will": true,
	"with": true, "or": true, "but": true, "not": true, "this": true, "these": true,
}

func languageTokenizer(text string) []string {
	raw := simpleTokenizer(text)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func ngramTokenizer(text string, n int) []string {
	lower := strings.ToLower(text)
	runes := make([]rune, 0, len(lower))
	for _, r := range lower {
		if isWordChar(r) {
			runes = append(runes, r)
		}
	}
	if len(runes) < n {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

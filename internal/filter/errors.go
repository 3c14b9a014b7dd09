package filter

import "fmt"

// ParseError is returned by Parse when a filter expression is malformed.
// Message and Pos (a character (rune) offset into the source string) are surfaced to
// callers via the store's FilterParse error kind — parse failures must
// never be swallowed into an unfiltered query (spec §4.3, §9).
type ParseError struct {
	Message string
	Pos     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter: parse error at %d: %s", e.Pos, e.Message)
}

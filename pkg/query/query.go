// Package query provides lightweight query-text analysis for RuneGraph.
//
// The classifier inspects only the leading keyword of a statement to decide
// whether executing it can change engine state. It deliberately does no
// parsing beyond that: a false positive costs one redundant snapshot write,
// while full parsing would duplicate work the engine does anyway.
package query

import "strings"

// Keyword identifies the leading clause of a query.
type Keyword string

const (
	KeywordInsert  Keyword = "INSERT"
	KeywordCreate  Keyword = "CREATE"
	KeywordDelete  Keyword = "DELETE"
	KeywordRemove  Keyword = "REMOVE"
	KeywordSet     Keyword = "SET"
	KeywordMerge   Keyword = "MERGE"
	KeywordDrop    Keyword = "DROP"
	KeywordMatch   Keyword = "MATCH"
	KeywordUnknown Keyword = ""
)

// mutatingKeywords is the fixed set of leading keywords that mark a query as
// a write. Keyword detection is conservative: it can produce false positives
// (e.g. a property named "set" at the start of malformed text) but a query
// starting with anything else is treated as read-only.
var mutatingKeywords = map[Keyword]bool{
	KeywordInsert: true,
	KeywordCreate: true,
	KeywordDelete: true,
	KeywordRemove: true,
	KeywordSet:    true,
	KeywordMerge:  true,
	KeywordDrop:   true,
}

// Info holds the classification result for one query string.
type Info struct {
	// Keyword is the first whole word of the query, upper-cased.
	Keyword Keyword

	// Mutating reports whether the query warrants a persistence write.
	Mutating bool
}

// Classify analyzes raw query text. Pure; never fails.
func Classify(text string) Info {
	kw := firstKeyword(text)
	return Info{
		Keyword:  kw,
		Mutating: mutatingKeywords[kw],
	}
}

// IsMutating reports whether the query's leading keyword marks it as a write.
func IsMutating(text string) bool {
	return mutatingKeywords[firstKeyword(text)]
}

// firstKeyword extracts the first whole word of the query, upper-cased.
// Leading whitespace is ignored; the word ends at the first byte that is not
// a letter, digit, or underscore.
func firstKeyword(text string) Keyword {
	text = strings.TrimLeft(text, " \t\r\n")
	if text == "" {
		return KeywordUnknown
	}

	end := 0
	for end < len(text) && isWordByte(text[end]) {
		end++
	}
	if end == 0 {
		return KeywordUnknown
	}
	return Keyword(strings.ToUpper(text[:end]))
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_'
}

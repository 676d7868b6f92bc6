// Package fieldpath matches changed document field paths against a fixed
// table of patterns.
package fieldpath

import "strings"

// Pattern is either an exact dot-path or, when written with a trailing '*',
// a literal prefix followed by anything.
type Pattern struct {
	raw    string
	lit    string
	prefix bool
}

func Compile(pattern string) Pattern {
	if strings.HasSuffix(pattern, "*") {
		return Pattern{raw: pattern, lit: strings.TrimSuffix(pattern, "*"), prefix: true}
	}
	return Pattern{raw: pattern, lit: pattern}
}

func (p Pattern) Match(path string) bool {
	if p.prefix {
		return strings.HasPrefix(path, p.lit)
	}
	return path == p.lit
}

func (p Pattern) String() string { return p.raw }

// Entry binds a pattern to the identifiers it selects.
type Entry[T comparable] struct {
	Pattern Pattern
	IDs     []T
}

// On is shorthand for building an Entry.
func On[T comparable](pattern string, ids ...T) Entry[T] {
	return Entry[T]{Pattern: Compile(pattern), IDs: ids}
}

// Table is an ordered pattern table. It is immutable after construction.
type Table[T comparable] struct {
	entries []Entry[T]
}

func NewTable[T comparable](entries ...Entry[T]) *Table[T] {
	return &Table[T]{entries: append([]Entry[T](nil), entries...)}
}

// Match returns the identifiers of every entry whose pattern matches path,
// in table order, each at most once.
func (t *Table[T]) Match(path string) []T {
	var out []T
	seen := make(map[T]struct{})
	for _, e := range t.entries {
		if !e.Pattern.Match(path) {
			continue
		}
		for _, id := range e.IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Patterns lists the table's patterns in declaration order.
func (t *Table[T]) Patterns() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Pattern.String()
	}
	return out
}

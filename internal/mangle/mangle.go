// Package mangle maps name fragments to bounded-length SQL identifiers.
// The mapping is pure: the same fragments and suffix always produce the same
// identifier, which is what lets re-applied facts find the objects they created.
package mangle

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const DefaultMaxLength = 63

const (
	baseSeparator = "_"
	hashWidth     = 10
)

// DefaultReservedSuffixes are the suffixes the engine appends to synthesized
// names. A plain stem must never end with one of them, otherwise a column
// label could collide with a constraint name.
var DefaultReservedSuffixes = []string{"pk", "fk", "key", "enum", "keygen"}

// DefaultReservedPrefixes are prefixes PostgreSQL reserves for system objects.
var DefaultReservedPrefixes = []string{"pg_"}

// Mangler synthesizes identifiers within a length budget.
type Mangler struct {
	MaxLength        int
	ReservedSuffixes []string
	ReservedPrefixes []string
}

// New returns a Mangler with the default reserved words and the given budget.
// A non-positive maxLength selects DefaultMaxLength.
func New(maxLength int) *Mangler {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Mangler{
		MaxLength:        maxLength,
		ReservedSuffixes: DefaultReservedSuffixes,
		ReservedPrefixes: DefaultReservedPrefixes,
	}
}

// Mangle joins fragments with a separator absent from all of them and appends
// the optional suffix. Stems that overflow the budget or look like reserved
// names are shortened and tagged with a hash of the full stem.
func (m *Mangler) Mangle(fragments []string, suffix string) string {
	sep := Separator(fragments)
	stem := strings.Join(fragments, sep)

	tail := ""
	if suffix != "" {
		tail = sep + suffix
	}

	if len(stem)+len(tail) <= m.MaxLength && !m.reserved(stem, sep) {
		return stem + tail
	}
	return m.shorten(stem, sep, tail)
}

// Name is Mangle without a suffix.
func (m *Mangler) Name(fragments ...string) string {
	return m.Mangle(fragments, "")
}

// Fits reports whether name can be used verbatim as an identifier.
func (m *Mangler) Fits(name string) bool {
	return name != "" && len(name) <= m.MaxLength
}

// Separator returns the shortest run of underscores that does not occur in
// any fragment.
func Separator(fragments []string) string {
	sep := baseSeparator
	for {
		clash := false
		for _, f := range fragments {
			if strings.Contains(f, sep) {
				clash = true
				break
			}
		}
		if !clash {
			return sep
		}
		sep += baseSeparator
	}
}

func (m *Mangler) reserved(stem, sep string) bool {
	lower := strings.ToLower(stem)
	for _, p := range m.ReservedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, s := range m.ReservedSuffixes {
		if strings.HasSuffix(lower, sep+s) || strings.HasSuffix(lower, baseSeparator+s) {
			return true
		}
	}
	return false
}

func (m *Mangler) shorten(stem, sep, tail string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(stem))
	tag := fmt.Sprintf("%016x", h.Sum64())[:hashWidth]

	budget := m.MaxLength - len(tail) - len(sep) - len(tag)
	if budget < 0 {
		budget = 0
	}

	kept := stem
	if len(stem) > budget {
		// Front is kept wider than the back: labels usually differ early.
		head := runeFloor(stem, budget*2/3)
		back := runeCeil(stem, len(stem)-(budget-budget*2/3))
		kept = stem[:head] + stem[back:]
	}

	// A stem that starts with a reserved prefix keeps a neutral lead so that
	// the hashed name does not land in the reserved namespace again.
	for _, p := range m.ReservedPrefixes {
		if strings.HasPrefix(strings.ToLower(kept), p) {
			kept = "x" + kept[1:]
			break
		}
	}

	out := kept + sep + tag + tail
	if len(out) > m.MaxLength {
		out = out[runeCeil(out, len(out)-m.MaxLength):]
	}
	return out
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the next rune start.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

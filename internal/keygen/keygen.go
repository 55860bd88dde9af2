// Package keygen synthesizes the plpgsql trigger function that fills identity
// columns left NULL on insert. An "offset" member takes max+1 within the rows
// sharing the preceding members (its basis); a "random" member draws text from
// a fixed alphabet or an integer from the column's range until the value is
// unused within its basis. The body is a pure function of its input, so the
// engine detects an up-to-date trigger by comparing source text.
package keygen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"factum/internal/dialect/postgres"
)

// Strategy selects how a member value is generated.
type Strategy string

const (
	None   Strategy = ""
	Offset Strategy = "offset"
	Random Strategy = "random"
)

// Alphabet is the character set of random text keys. Easily confused
// characters (0/O, 1/I) are left out.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the length of random text keys.
const DefaultLength = 8

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Offset, Random, None:
		return Strategy(s), nil
	}
	return None, errors.NotValidf("key generator %q", s)
}

// Member is one identity column in identity order.
type Member struct {
	Column string
	// Type is the normalized column type.
	Type     string
	Strategy Strategy
	// Length of random text keys; zero selects DefaultLength.
	Length int
}

// Spec describes the generators of one identity.
type Spec struct {
	Table   string
	Members []Member
}

// Active reports whether any member has a generator.
func (s Spec) Active() bool {
	for _, m := range s.Members {
		if m.Strategy != None {
			return true
		}
	}
	return false
}

// Validate checks that every strategy fits its column type.
func (s Spec) Validate() error {
	for _, m := range s.Members {
		family := postgres.FamilyOf(m.Type)
		switch m.Strategy {
		case Offset:
			if family != postgres.FamilyNumeric {
				return errors.NotValidf("offset generator on %s column %q", m.Type, m.Column)
			}
		case Random:
			if family != postgres.FamilyNumeric && family != postgres.FamilyText {
				return errors.NotValidf("random generator on %s column %q", m.Type, m.Column)
			}
			if m.Length < 0 {
				return errors.NotValidf("random key length %d", m.Length)
			}
			if family == postgres.FamilyNumeric && upperBound(m.Type) < 2 {
				return errors.NotValidf("random generator on %s column %q", m.Type, m.Column)
			}
		}
	}
	return nil
}

// Body returns the trigger function source, or "" when no member has a
// generator.
func Body(g *postgres.Generator, s Spec) (string, error) {
	if err := s.Validate(); err != nil {
		return "", errors.Trace(err)
	}
	if !s.Active() {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("\nBEGIN\n")
	for i, m := range s.Members {
		basis := s.Members[:i]
		switch m.Strategy {
		case Offset:
			writeOffset(&b, g, s.Table, m, basis)
		case Random:
			writeRandom(&b, g, s.Table, m, basis)
		}
	}
	b.WriteString("  RETURN NEW;\nEND\n")
	return b.String(), nil
}

func where(g *postgres.Generator, basis []Member, extra string) string {
	var conds []string
	for _, m := range basis {
		col := g.QuoteIdentifier(m.Column)
		conds = append(conds, fmt.Sprintf("%s = NEW.%s", col, col))
	}
	if extra != "" {
		conds = append(conds, extra)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func writeOffset(b *strings.Builder, g *postgres.Generator, table string, m Member, basis []Member) {
	col := g.QuoteIdentifier(m.Column)
	fmt.Fprintf(b, "  IF NEW.%s IS NULL THEN\n", col)
	fmt.Fprintf(b, "    SELECT coalesce(max(%s), 0) + 1 INTO NEW.%s FROM %s%s;\n",
		col, col, g.Qualified(table), where(g, basis, ""))
	b.WriteString("  END IF;\n")
}

func writeRandom(b *strings.Builder, g *postgres.Generator, table string, m Member, basis []Member) {
	col := g.QuoteIdentifier(m.Column)
	fmt.Fprintf(b, "  IF NEW.%s IS NULL THEN\n", col)
	b.WriteString("    LOOP\n")
	if postgres.FamilyOf(m.Type) == postgres.FamilyText {
		length := m.Length
		if length == 0 {
			length = DefaultLength
		}
		fmt.Fprintf(b, "      NEW.%s := (SELECT string_agg(substr(%s, 1 + floor(random() * %d)::integer, 1), '') FROM generate_series(1, %d));\n",
			col, g.QuoteString(Alphabet), len(Alphabet), length)
	} else {
		fmt.Fprintf(b, "      NEW.%s := (1 + floor(random() * %d))::%s;\n", col, upperBound(m.Type)-1, m.Type)
	}
	fmt.Fprintf(b, "      EXIT WHEN NOT EXISTS (SELECT 1 FROM %s%s);\n",
		g.Qualified(table), where(g, basis, fmt.Sprintf("%s = NEW.%s", col, col)))
	b.WriteString("    END LOOP;\n")
	b.WriteString("  END IF;\n")
}

// maxExactInteger is the largest integer a double represents exactly.
const maxExactInteger = 9007199254740991

var numericRe = regexp.MustCompile(`^numeric\((\d+)(?:,(-?\d+))?\)$`)

// upperBound returns the largest random key a column of typ holds.
func upperBound(typ string) int64 {
	switch typ {
	case "smallint":
		return 32767
	case "bigint":
		return maxExactInteger
	}
	if m := numericRe.FindStringSubmatch(typ); m != nil {
		precision, _ := strconv.Atoi(m[1])
		scale := 0
		if m[2] != "" {
			scale, _ = strconv.Atoi(m[2])
		}
		digits := precision - scale
		if digits <= 0 {
			return 0
		}
		if digits > 15 {
			return maxExactInteger
		}
		bound := int64(1)
		for range digits {
			bound *= 10
		}
		return bound - 1
	}
	return 2147483647
}

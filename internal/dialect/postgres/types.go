package postgres

import (
	"regexp"
	"strings"
)

// Family groups types that convert into each other under the cast matrix.
type Family string

const (
	FamilyText     Family = "text"
	FamilyNumeric  Family = "numeric"
	FamilyBoolean  Family = "boolean"
	FamilyDateTime Family = "datetime"
	FamilyEnum     Family = "enum"
	FamilyOther    Family = "other"
)

var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"int2":        "smallint",
	"int8":        "bigint",
	"float4":      "real",
	"float8":      "double precision",
	"float":       "double precision",
	"double":      "double precision",
	"decimal":     "numeric",
	"bool":        "boolean",
	"varchar":     "character varying",
	"char":        "character(1)",
	"bpchar":      "character",
	"character":   "character(1)",
	"string":      "text",
	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"time":        "time without time zone",
	"timetz":      "time with time zone",
	"datetime":    "timestamp without time zone",
}

// serialTypes are the shorthands the server expands into an integer column
// with a sequence default.
var serialTypes = map[string]string{
	"smallserial": "smallint",
	"serial2":     "smallint",
	"serial":      "integer",
	"serial4":     "integer",
	"bigserial":   "bigint",
	"serial8":     "bigint",
}

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	arrayRe      = regexp.MustCompile(`^(.+?)\s*(?:(?:\[\s*\d*\s*\])+|\s+array(?:\s*\[\s*\d*\s*\])?)$`)
	parameterRe  = regexp.MustCompile(`^([a-z0-9 ]+?)\s*\(\s*(\d+)\s*(?:,\s*(-?\d+)\s*)?\)$`)
	parameterMap = map[string]string{
		"varchar": "character varying",
		"char":    "character",
		"bpchar":  "character",
		"decimal": "numeric",
	}
)

// NormalizeType returns the spelling format_type() reports for a scalar type,
// so declared and introspected types compare as strings.
func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = spaceRe.ReplaceAllString(t, " ")
	// Arrays report as one dimension whatever the declared bounds.
	if m := arrayRe.FindStringSubmatch(t); m != nil {
		return NormalizeType(m[1]) + "[]"
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	if m := parameterRe.FindStringSubmatch(t); m != nil {
		base := m[1]
		if alias, ok := parameterMap[base]; ok {
			base = alias
		}
		switch base {
		case "timestamp", "timestamp without time zone":
			return "timestamp(" + m[2] + ") without time zone"
		case "timestamptz", "timestamp with time zone":
			return "timestamp(" + m[2] + ") with time zone"
		case "time", "time without time zone":
			return "time(" + m[2] + ") without time zone"
		case "timetz", "time with time zone":
			return "time(" + m[2] + ") with time zone"
		}
		if m[3] != "" {
			return base + "(" + m[2] + "," + m[3] + ")"
		}
		if base == "numeric" {
			return base + "(" + m[2] + ",0)"
		}
		return base + "(" + m[2] + ")"
	}
	return t
}

// SerialBase returns the integer type a serial shorthand expands to.
func SerialBase(typ string) (string, bool) {
	base, ok := serialTypes[NormalizeType(typ)]
	return base, ok
}

// FamilyOf classifies a normalized scalar type.
func FamilyOf(typ string) Family {
	base := typ
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch {
	case base == "text", base == "character varying", base == "character", base == "name", base == "citext":
		return FamilyText
	case base == "smallint", base == "integer", base == "bigint", base == "numeric",
		base == "real", base == "double precision":
		return FamilyNumeric
	case base == "boolean":
		return FamilyBoolean
	case base == "date", strings.HasPrefix(base, "time"):
		return FamilyDateTime
	default:
		return FamilyOther
	}
}

// IsInteger reports whether typ is one of the integral types.
func IsInteger(typ string) bool {
	switch typ {
	case "smallint", "integer", "bigint":
		return true
	}
	return false
}

// Conversion describes how to change a column from one type to another.
type Conversion struct {
	// Allowed is false when the change would narrow or reinterpret data.
	Allowed bool
	// ViaText routes the value through text before casting.
	ViaText bool
	// Expr overrides the USING expression; %s is the quoted column.
	Expr string
}

// Convert looks up the cast matrix. Any type converts to text; text converts
// to datetime, boolean and enum; numeric types convert among themselves and
// to and from boolean; datetime types convert among themselves; enum converts
// to enum through text.
func Convert(from, to Family, fromType, toType string) Conversion {
	switch {
	case fromType == toType && from != FamilyEnum:
		return Conversion{Allowed: true}
	case to == FamilyText:
		return Conversion{Allowed: true}
	case from == FamilyText:
		switch to {
		case FamilyDateTime, FamilyBoolean, FamilyEnum:
			return Conversion{Allowed: true}
		}
	case from == FamilyNumeric && to == FamilyNumeric:
		return Conversion{Allowed: true}
	case from == FamilyNumeric && to == FamilyBoolean:
		return Conversion{Allowed: true, Expr: "%s <> 0"}
	case from == FamilyBoolean && to == FamilyNumeric:
		return Conversion{Allowed: true, Expr: "%s::integer"}
	case from == FamilyDateTime && to == FamilyDateTime:
		if timeOfDay(fromType) != timeOfDay(toType) {
			return Conversion{}
		}
		return Conversion{Allowed: true}
	case from == FamilyEnum && to == FamilyEnum:
		return Conversion{Allowed: true, ViaText: true}
	}
	return Conversion{}
}

func timeOfDay(typ string) bool {
	return strings.HasPrefix(typ, "time") && !strings.HasPrefix(typ, "timestamp")
}

package core

import (
	"strings"
)

// Rows is a snapshot of table data rendered as text. The first Keys columns
// identify a row. A nil value is SQL NULL.
type Rows struct {
	Columns []string
	Keys    int
	Values  [][]*string
	index   map[string]int
}

// NewRows returns a snapshot over the given columns with keys leading columns.
func NewRows(columns []string, keys int) *Rows {
	return &Rows{Columns: columns, Keys: keys, index: make(map[string]int)}
}

// Append adds a row. A row whose key is already present replaces it.
func (r *Rows) Append(values []*string) {
	k := r.key(values)
	if i, ok := r.index[k]; ok {
		r.Values[i] = values
		return
	}
	r.index[k] = len(r.Values)
	r.Values = append(r.Values, values)
}

// Find returns the row with the same key as values, or nil.
func (r *Rows) Find(values []*string) []*string {
	if i, ok := r.index[r.key(values)]; ok {
		return r.Values[i]
	}
	return nil
}

// Len returns the number of rows.
func (r *Rows) Len() int { return len(r.Values) }

// Covers reports whether the snapshot holds every named column.
func (r *Rows) Covers(columns []string) bool {
	have := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		have[c] = true
	}
	for _, c := range columns {
		if !have[c] {
			return false
		}
	}
	return true
}

func (r *Rows) key(values []*string) string {
	var b strings.Builder
	for i := 0; i < r.Keys && i < len(values); i++ {
		if values[i] == nil {
			b.WriteString("\x00N")
		} else {
			b.WriteString("\x00V")
			b.WriteString(*values[i])
		}
	}
	return b.String()
}

// Equal reports whether two rendered values are identical, NULL included.
func Equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

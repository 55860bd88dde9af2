package output

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/driver"
	"factum/internal/fault"
)

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name string
		want Formatter
	}{
		{"", sqlFormatter{}},
		{"sql", sqlFormatter{}},
		{"SQL", sqlFormatter{}},
		{"  sql  ", sqlFormatter{}},
		{"json", jsonFormatter{}},
		{"JSON", jsonFormatter{}},
		{"summary", summaryFormatter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFormatter(tt.name)
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}
}

func TestNewFormatterInvalidFormat(t *testing.T) {
	f, err := NewFormatter("invalid")
	assert.Nil(t, f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotSupported))
	assert.Contains(t, err.Error(), "invalid")
}

func TestDescribe(t *testing.T) {
	loc := fault.Location{File: "schema.yaml", FirstLine: 3, LastLine: 5}

	assert.Nil(t, Describe(nil))

	f := Describe(errors.Annotate(fault.Validationf(loc, "column: bad"), "building"))
	assert.Equal(t, "validation", f.Kind)
	assert.Equal(t, loc, f.Location)

	se := fault.Drift("column differs", "text", "integer")
	se.Fact = "column region.name"
	se.Location = loc
	f = Describe(errors.Annotate(se, "column region.name"))
	assert.Equal(t, &Failure{
		Kind:     "schema",
		Message:  "column region.name: schema.yaml:3-5: column region.name: column differs (expected text, actual integer)",
		Fact:     "column region.name",
		Expected: "text",
		Actual:   "integer",
		Location: loc,
	}, f)

	f = Describe(&fault.ConnectionError{Err: errors.New("reset"), Location: loc})
	assert.Equal(t, "connection", f.Kind)

	f = Describe(errors.New("plain"))
	assert.Equal(t, "error", f.Kind)
}

func sampleEntries() []driver.Entry {
	return []driver.Entry{
		{SQL: `CREATE TABLE "public"."region" ("id" integer NOT NULL)`, Kind: "CREATE TABLE", Risk: driver.RiskInfo, Fact: "table region"},
		{SQL: `COMMENT ON TABLE "public"."region" IS '{"label":"region"}'`, Kind: "COMMENT", Risk: driver.RiskInfo, Fact: "table region"},
		{SQL: `ALTER TABLE "public"."shop" DROP COLUMN "note";`, Kind: "ALTER TABLE", Risk: driver.RiskDestructive, Reason: "drops column data", Fact: "column shop.note"},
	}
}

func TestFactCounts(t *testing.T) {
	entries := append(sampleEntries(), driver.Entry{SQL: "SELECT 1"})
	order, counts := factCounts(entries)
	assert.Equal(t, []string{"table region", "column shop.note", "(none)"}, order)
	assert.Equal(t, map[string]int{"table region": 2, "column shop.note": 1, "(none)": 1}, counts)
	assert.Equal(t, 1, countDestructive(entries))
}

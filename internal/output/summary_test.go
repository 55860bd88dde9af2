package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/fault"
)

func TestSummaryFormatterUpToDate(t *testing.T) {
	out, err := summaryFormatter{}.FormatReport(&Report{Mode: ModeCheck})
	require.NoError(t, err)
	assert.Equal(t, "Deployment Summary\n==================\n\nMode:        check\nStatements:  0\n\nSchema is up to date.\n", out)
}

func TestSummaryFormatterEntries(t *testing.T) {
	out, err := summaryFormatter{}.FormatReport(&Report{Entries: sampleEntries()})
	require.NoError(t, err)
	assert.Contains(t, out, "Statements:  3\n")
	assert.Contains(t, out, "Destructive: 1\n")
	assert.Contains(t, out, "By fact:\n  table region: 2\n  column shop.note: 1\n")
	assert.NotContains(t, out, "Failed")
}

func TestSummaryFormatterFailure(t *testing.T) {
	se := fault.Drift("locked schema would change", "no statements", "CREATE TABLE")
	se.Fact = "table region"
	se.Location = fault.Location{File: "schema.yaml", FirstLine: 2}

	out, err := summaryFormatter{}.FormatReport(&Report{Mode: ModeCheck, Err: se})
	require.NoError(t, err)
	assert.NotContains(t, out, "up to date")
	assert.Contains(t, out, "Failed (schema error):\n")
	assert.Contains(t, out, "  fact:     table region\n")
	assert.Contains(t, out, "  at:       schema.yaml:2\n")
	assert.Contains(t, out, "  expected: no statements\n")
	assert.Contains(t, out, "  actual:   CREATE TABLE\n")
}

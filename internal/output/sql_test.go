package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/fault"
)

func TestSQLFormatterGroupsByFact(t *testing.T) {
	out, err := sqlFormatter{}.FormatReport(&Report{Entries: sampleEntries()})
	require.NoError(t, err)
	assert.Equal(t, `-- factum deploy

-- table region
CREATE TABLE "public"."region" ("id" integer NOT NULL);
COMMENT ON TABLE "public"."region" IS '{"label":"region"}';

-- column shop.note
-- [DESTRUCTIVE] drops column data
ALTER TABLE "public"."shop" DROP COLUMN "note";
`, out)
}

func TestSQLFormatterEmpty(t *testing.T) {
	out, err := sqlFormatter{}.FormatReport(nil)
	require.NoError(t, err)
	assert.Equal(t, "-- factum deploy\n\n-- No statements.\n", out)

	out, err = sqlFormatter{}.FormatReport(&Report{Mode: ModeCheck})
	require.NoError(t, err)
	assert.Contains(t, out, "-- factum check\n-- Validate only")
}

func TestSQLFormatterDryRunWithFailure(t *testing.T) {
	se := fault.Schemaf("statement rejected\ntype \"nope\" does not exist")
	out, err := sqlFormatter{}.FormatReport(&Report{Mode: ModeDryRun, Entries: sampleEntries()[:1], Err: se})
	require.NoError(t, err)
	assert.Contains(t, out, "-- Rolled back: nothing was committed.\n")
	assert.Contains(t, out, "\n-- FAILED (rolled back)\n-- statement rejected\n-- type \"nope\" does not exist\n")
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&Report{Entries: sampleEntries()}, &buf))
	assert.Contains(t, buf.String(), "-- table region\n")
}

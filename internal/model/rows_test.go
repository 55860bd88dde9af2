package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/fault"
)

func val(s string) Value { return Value{&s} }

func regionRows(t *testing.T) (*harness, *Table) {
	t.Helper()
	h := newHarness(t)
	region := h.table("region")
	h.column(region, ColumnSpec{Label: "name", Type: Scalar("text")})
	h.statements()
	h.db.OnQuery("AS v0", []any{"1", "EU", "2", "US"})
	h.db.OnQuery(`FROM "public"."region"`, []any{"1", "Europe"}, []any{"3", "Asia"})
	return h, region
}

func TestSyncRows(t *testing.T) {
	h, region := regionRows(t)
	rows := []Row{
		{"id": val("1"), "name": val("EU")},
		{"id": val("2"), "name": val("US")},
	}

	require.NoError(t, region.SyncRows(h.ctx, rows, true))
	assert.Equal(t, []string{
		`UPDATE "public"."region" SET "name" = 'EU'::text WHERE "id" = '1'::integer`,
		`INSERT INTO "public"."region" ("id", "name") VALUES ('2'::integer, 'US'::text)`,
		`DELETE FROM "public"."region" WHERE "id" = '3'::integer`,
	}, h.statements())
	assert.Nil(t, region.Image().Rows())
	assert.Contains(t, h.db.Queries, `SELECT "id"::text, "name"::text FROM "public"."region"`)
}

func TestSyncRowsNotExclusive(t *testing.T) {
	h, region := regionRows(t)
	rows := []Row{
		{"id": val("1"), "name": val("EU")},
		{"id": val("2"), "name": val("US")},
	}

	require.NoError(t, region.SyncRows(h.ctx, rows, false))
	assert.Len(t, h.statements(), 2)
}

func TestSyncRowsLocked(t *testing.T) {
	h, region := regionRows(t)
	h.db.OnQuery("AS v0", []any{"1", "EU"})
	h.drv.Lock()

	err := region.SyncRows(h.ctx, []Row{{"id": val("1"), "name": val("EU")}}, false)
	se, ok := fault.AsSchema(err)
	require.True(t, ok)
	assert.Equal(t, "1 declared rows", se.Expected)
	assert.Empty(t, h.statements())
}

func TestSyncRowsErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		msg  string
	}{
		{name: "missing identity", rows: []Row{{"name": val("EU")}}, msg: "lacks identity column"},
		{name: "unknown column", rows: []Row{{"id": val("1"), "size": val("3")}}, msg: "unknown column"},
		{name: "wrong width", rows: []Row{{"id": Value{nil, nil}}}, msg: "does not fit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, region := regionRows(t)
			err := region.SyncRows(h.ctx, tt.rows, false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Empty(t, h.statements())
		})
	}
}

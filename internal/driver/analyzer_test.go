package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var analyzeStatementTests = []struct {
	name              string
	sql               string
	wantDestructive   bool
	wantStatementType string
}{
	{
		name:              "DROP TABLE is destructive",
		sql:               `DROP TABLE "public"."users"`,
		wantDestructive:   true,
		wantStatementType: "DROP TABLE",
	},
	{
		name:              "TRUNCATE is destructive",
		sql:               "TRUNCATE TABLE users",
		wantDestructive:   true,
		wantStatementType: "TRUNCATE TABLE",
	},
	{
		name:              "DELETE is destructive",
		sql:               `DELETE FROM "public"."region" WHERE "code" = 'EU'::text`,
		wantDestructive:   true,
		wantStatementType: "DELETE",
	},
	{
		name:              "DROP COLUMN is destructive",
		sql:               `ALTER TABLE "public"."t" DROP COLUMN "c"`,
		wantDestructive:   true,
		wantStatementType: "ALTER TABLE",
	},
	{
		name:              "ADD COLUMN is safe",
		sql:               `ALTER TABLE "public"."t" ADD COLUMN "c" text NOT NULL`,
		wantStatementType: "ALTER TABLE",
	},
	{
		name:              "ALTER COLUMN TYPE falls back to keywords",
		sql:               `ALTER TABLE "public"."t" ALTER COLUMN "c" TYPE date USING "c"::date`,
		wantStatementType: "ALTER TABLE",
	},
	{
		name:              "CREATE TABLE",
		sql:               "CREATE TABLE \"public\".\"t\" (\n  \"id\" integer NOT NULL\n)",
		wantStatementType: "CREATE TABLE",
	},
	{
		name:              "CREATE TYPE enum",
		sql:               `CREATE TYPE "public"."t_c_enum" AS ENUM ('a', 'b')`,
		wantStatementType: "CREATE TYPE",
	},
	{
		name:              "DROP TYPE is not destructive",
		sql:               `DROP TYPE "public"."t_c_enum"`,
		wantStatementType: "DROP TYPE",
	},
	{
		name:              "COMMENT ON",
		sql:               `COMMENT ON TABLE "public"."t" IS '{"label":"t"}'`,
		wantStatementType: "COMMENT ON",
	},
	{
		name:              "trigger function",
		sql:               `CREATE OR REPLACE FUNCTION "public"."t_keygen"() RETURNS trigger LANGUAGE plpgsql AS $factum$BEGIN RETURN NEW; END$factum$`,
		wantStatementType: "CREATE OR REPLACE FUNCTION",
	},
	{
		name:              "INSERT",
		sql:               `INSERT INTO "public"."region" ("code") VALUES ('EU')`,
		wantStatementType: "INSERT",
	},
	{
		name:              "UPDATE",
		sql:               `UPDATE "public"."region" SET "name" = 'x' WHERE "code" = 'EU'`,
		wantStatementType: "UPDATE",
	},
	{
		name:              "unknown statement",
		sql:               "VACUUM",
		wantStatementType: "OTHER",
	},
}

func TestAnalyzeStatement(t *testing.T) {
	a := NewStatementAnalyzer()
	for _, tt := range analyzeStatementTests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.AnalyzeStatement(tt.sql)
			assert.Equal(t, tt.wantStatementType, got.StatementType)
			assert.Equal(t, tt.wantDestructive, got.IsDestructive)
			if tt.wantDestructive {
				assert.NotEmpty(t, got.DestructiveReason)
			}
		})
	}
}

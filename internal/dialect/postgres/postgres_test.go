package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/core"
)

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"int":                       "integer",
		"INT4":                      "integer",
		"Integer":                   "integer",
		"bool":                      "boolean",
		"varchar(20)":               "character varying(20)",
		"character  varying ( 20 )": "character varying(20)",
		"varchar":                   "character varying",
		"decimal(10, 2)":            "numeric(10,2)",
		"numeric(8)":                "numeric(8,0)",
		"timestamptz":               "timestamp with time zone",
		"timestamp":                 "timestamp without time zone",
		"timestamp(3)":              "timestamp(3) without time zone",
		"time":                      "time without time zone",
		"float8":                    "double precision",
		"char":                      "character(1)",
		"char(4)":                   "character(4)",
		"text":                      "text",
		"uuid":                      "uuid",
		"date":                      "date",
		"int[]":                     "integer[]",
		"int4[][]":                  "integer[]",
		"text[3]":                   "text[]",
		"varchar(10)[]":             "character varying(10)[]",
		"integer ARRAY":             "integer[]",
		"bool array[2]":             "boolean[]",
		"timestamptz []":            "timestamp with time zone[]",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeType(in))
		})
	}
}

func TestSerialBase(t *testing.T) {
	tests := map[string]string{
		"serial":      "integer",
		"SERIAL4":     "integer",
		"bigserial":   "bigint",
		"serial8":     "bigint",
		"smallserial": "smallint",
		"serial2":     "smallint",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got, ok := SerialBase(in)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
	for _, in := range []string{"integer", "serial[]", "text"} {
		_, ok := SerialBase(in)
		assert.False(t, ok, in)
	}
}

func TestFamilyOf(t *testing.T) {
	tests := map[string]Family{
		"text":                        FamilyText,
		"character varying(20)":       FamilyText,
		"integer":                     FamilyNumeric,
		"numeric(10,2)":               FamilyNumeric,
		"double precision":            FamilyNumeric,
		"boolean":                     FamilyBoolean,
		"date":                        FamilyDateTime,
		"timestamp with time zone":    FamilyDateTime,
		"time(3) without time zone":   FamilyDateTime,
		"uuid":                        FamilyOther,
		"jsonb":                       FamilyOther,
		"timestamp without time zone": FamilyDateTime,
	}
	for in, want := range tests {
		assert.Equal(t, want, FamilyOf(in), in)
	}
}

func TestConvertMatrix(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"integer to text", "integer", "text", true},
		{"uuid to text", "uuid", "text", true},
		{"text to date", "text", "date", true},
		{"text to boolean", "text", "boolean", true},
		{"text to integer narrows", "text", "integer", false},
		{"integer to bigint", "integer", "bigint", true},
		{"numeric to integer", "numeric(10,2)", "integer", true},
		{"integer to boolean", "integer", "boolean", true},
		{"boolean to integer", "boolean", "integer", true},
		{"date to timestamp", "date", "timestamp without time zone", true},
		{"time to date", "time without time zone", "date", false},
		{"date to integer", "date", "integer", false},
		{"integer to date", "integer", "date", false},
		{"boolean to date", "boolean", "date", false},
		{"text to uuid", "text", "uuid", false},
		{"same type", "uuid", "uuid", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Convert(FamilyOf(tt.from), FamilyOf(tt.to), tt.from, tt.to)
			assert.Equal(t, tt.allowed, c.Allowed)
		})
	}

	enum := Convert(FamilyEnum, FamilyEnum, "a", "a")
	assert.True(t, enum.Allowed)
	assert.True(t, enum.ViaText)
	assert.True(t, Convert(FamilyText, FamilyEnum, "text", "a").Allowed)
	assert.True(t, Convert(FamilyEnum, FamilyText, "a", "text").Allowed)
	assert.False(t, Convert(FamilyEnum, FamilyNumeric, "a", "integer").Allowed)
}

func TestGeneratorStatements(t *testing.T) {
	g := NewGenerator("app")
	def := "'x'"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"create table",
			g.CreateTable("region", []ColumnDef{{Name: "id", Type: core.Scalar("integer"), NotNull: true}, {Name: "name", Type: core.Scalar("text"), Default: &def}}),
			"CREATE TABLE \"app\".\"region\" (\n  \"id\" integer NOT NULL,\n  \"name\" text DEFAULT 'x'\n)",
		},
		{"drop table", g.DropTable("region"), `DROP TABLE "app"."region"`},
		{"rename table", g.RenameTable("region", "area"), `ALTER TABLE "app"."region" RENAME TO "area"`},
		{
			"generated column",
			g.AddColumn("line", ColumnDef{Name: "total", Type: core.Scalar("numeric"), Generated: "price * qty"}),
			`ALTER TABLE "app"."line" ADD COLUMN "total" numeric GENERATED ALWAYS AS (price * qty) STORED`,
		},
		{"drop column", g.DropColumn("t", "c"), `ALTER TABLE "app"."t" DROP COLUMN "c"`},
		{"set not null", g.SetNotNull("t", "c", true), `ALTER TABLE "app"."t" ALTER COLUMN "c" SET NOT NULL`},
		{"drop not null", g.SetNotNull("t", "c", false), `ALTER TABLE "app"."t" ALTER COLUMN "c" DROP NOT NULL`},
		{"drop default", g.SetDefault("t", "c", nil), `ALTER TABLE "app"."t" ALTER COLUMN "c" DROP DEFAULT`},
		{
			"foreign key",
			g.AddForeignKey("a", "a_b__fk", []string{"b"}, "b", []string{"id"}, core.ActionCascade),
			`ALTER TABLE "app"."a" ADD CONSTRAINT "a_b__fk" FOREIGN KEY ("b") REFERENCES "app"."b" ("id") ON DELETE CASCADE`,
		},
		{
			"foreign key without action",
			g.AddForeignKey("a", "fk", []string{"x", "y"}, "b", []string{"p", "q"}, core.ActionNoAction),
			`ALTER TABLE "app"."a" ADD CONSTRAINT "fk" FOREIGN KEY ("x", "y") REFERENCES "app"."b" ("p", "q")`,
		},
		{"enum", g.CreateEnum("t_c__enum", []string{"a", "it's"}), `CREATE TYPE "app"."t_c__enum" AS ENUM ('a', 'it''s')`},
		{"comment", g.CommentOnColumn("t", "c", `{"label":"c"}`), `COMMENT ON COLUMN "app"."t"."c" IS '{"label":"c"}'`},
		{"clear comment", g.CommentOnTable("t", ""), `COMMENT ON TABLE "app"."t" IS NULL`},
		{"constraint comment", g.CommentOnConstraint("t", "k", "x"), `COMMENT ON CONSTRAINT "k" ON "app"."t" IS 'x'`},
		{
			"trigger",
			g.CreateTrigger("t", "t__keygen", "t__keygen"),
			`CREATE TRIGGER "t__keygen" BEFORE INSERT ON "app"."t" FOR EACH ROW EXECUTE FUNCTION "app"."t__keygen"()`,
		},
		{
			"function",
			g.CreateTriggerFunction("f", "BEGIN RETURN NEW; END"),
			`CREATE OR REPLACE FUNCTION "app"."f"() RETURNS trigger LANGUAGE plpgsql AS $factum$BEGIN RETURN NEW; END$factum$`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestCastUsing(t *testing.T) {
	g := NewGenerator("public")
	cat := core.NewCatalog()
	s, err := cat.AddSchema("public")
	require.NoError(t, err)
	typ, err := s.AddType("t_c__enum", []string{"a"})
	require.NoError(t, err)

	assert.Equal(t, `"c"::date`, g.CastUsing("c", core.Scalar("date"), Conversion{Allowed: true}))
	assert.Equal(t, `"c"::text::"public"."t_c__enum"`, g.CastUsing("c", core.EnumRef(typ), Conversion{Allowed: true, ViaText: true}))
	assert.Equal(t, `("c" <> 0)::boolean`, g.CastUsing("c", core.Scalar("boolean"), Convert(FamilyNumeric, FamilyBoolean, "integer", "boolean")))
	assert.Equal(t,
		`ALTER TABLE "public"."t" ALTER COLUMN "c" TYPE date USING "c"::date`,
		g.AlterColumnType("t", "c", core.Scalar("date"), g.CastUsing("c", core.Scalar("date"), Conversion{Allowed: true})))
}

func TestDataStatements(t *testing.T) {
	g := NewGenerator("public")
	eu, name := "EU", "Europe"
	key := []Value{{Text: &eu, Type: core.Scalar("text")}}

	assert.Equal(t,
		`INSERT INTO "public"."region" ("code", "name") VALUES ('EU'::text, NULL::text)`,
		g.Insert("region", []string{"code", "name"}, []Value{key[0], {Type: core.Scalar("text")}}))
	assert.Equal(t,
		`UPDATE "public"."region" SET "name" = 'Europe'::text WHERE "code" = 'EU'::text`,
		g.Update("region", []string{"name"}, []Value{{Text: &name, Type: core.Scalar("text")}}, []string{"code"}, key))
	assert.Equal(t,
		`DELETE FROM "public"."region" WHERE "code" = 'EU'::text`,
		g.Delete("region", []string{"code"}, key))
}

func TestFillRowNumbers(t *testing.T) {
	g := NewGenerator("public")
	assert.Equal(t,
		`UPDATE "public"."region" AS t SET "id" = n.rn FROM (SELECT ctid, row_number() OVER () AS rn FROM "public"."region") AS n WHERE t.ctid = n.ctid`,
		g.FillRowNumbers("region", "id"))
}

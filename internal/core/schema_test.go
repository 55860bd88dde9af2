package core

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShop(t *testing.T) (*Schema, *Table, *Table) {
	t.Helper()
	cat := NewCatalog()
	s, err := cat.AddSchema("public")
	require.NoError(t, err)

	region, err := s.AddTable("region")
	require.NoError(t, err)
	code, err := region.AddColumn("code", Scalar("text"), true, nil)
	require.NoError(t, err)
	_, err = region.AddPrimaryKey("region__pk", []*Column{code})
	require.NoError(t, err)

	shop, err := s.AddTable("shop")
	require.NoError(t, err)
	id, err := shop.AddColumn("id", Scalar("integer"), true, nil)
	require.NoError(t, err)
	_, err = shop.AddPrimaryKey("shop__pk", []*Column{id})
	require.NoError(t, err)
	ref, err := shop.AddColumn("region", Scalar("text"), false, nil)
	require.NoError(t, err)
	_, err = shop.AddForeignKey("shop_region__fk", []*Column{ref}, region, []*Column{code}, ActionSetDefault)
	require.NoError(t, err)
	return s, region, shop
}

func TestCatalogDuplicateNames(t *testing.T) {
	cat := NewCatalog()
	s, err := cat.AddSchema("public")
	require.NoError(t, err)

	_, err = cat.AddSchema("public")
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	tbl, err := s.AddTable("t")
	require.NoError(t, err)
	_, err = s.AddTable("t")
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	_, err = tbl.AddColumn("c", Scalar("text"), false, nil)
	require.NoError(t, err)
	_, err = tbl.AddColumn("c", Scalar("integer"), false, nil)
	assert.ErrorContains(t, err, `column "c"`)
}

func TestInsertionOrderIsPreserved(t *testing.T) {
	cat := NewCatalog()
	s, err := cat.AddSchema("public")
	require.NoError(t, err)
	tbl, err := s.AddTable("t")
	require.NoError(t, err)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := tbl.AddColumn(name, Scalar("text"), false, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, tbl.ColumnNames())

	require.NoError(t, tbl.Column("alpha").Rename("beta"))
	assert.Equal(t, []string{"zeta", "beta", "mid"}, tbl.ColumnNames())
	assert.Nil(t, tbl.Column("alpha"))
	assert.Equal(t, "beta", tbl.Column("beta").Name)
}

func TestSinglePrimaryKey(t *testing.T) {
	_, region, _ := newShop(t)
	_, err := region.AddPrimaryKey("other", region.Columns())
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestConstraintRejectsForeignColumn(t *testing.T) {
	_, region, shop := newShop(t)
	_, err := region.AddUnique("bad", []*Column{shop.Column("id")})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestTableRemoveDropsReferencingKeys(t *testing.T) {
	s, region, shop := newShop(t)
	fk := shop.Constraint("shop_region__fk")
	require.NotNil(t, fk)
	assert.Equal(t, []*Constraint{fk}, s.ReferencingKeys(region))

	region.Remove()

	assert.True(t, region.Removed())
	assert.Nil(t, region.Schema())
	assert.Nil(t, s.Table("region"))
	assert.True(t, fk.Removed())
	assert.Nil(t, fk.Target)
	assert.Empty(t, shop.ForeignKeys())
	assert.NotNil(t, shop.Column("region"), "origin column survives")
	assert.Empty(t, region.Columns())
}

func TestColumnRemoveCascades(t *testing.T) {
	_, region, shop := newShop(t)
	code := region.Column("code")
	seq, err := region.AddSequence("region_code_seq", code)
	require.NoError(t, err)
	shop.SetRows(NewRows([]string{"id"}, 1))

	code.Remove()

	assert.True(t, code.Removed())
	assert.Nil(t, region.PrimaryKey())
	assert.Empty(t, shop.ForeignKeys(), "keys targeting the column go too")
	assert.Nil(t, seq.Table())
	assert.Empty(t, region.Sequences())
	assert.NotNil(t, shop.Rows(), "other tables keep their snapshot")

	shop.Column("region").Remove()
	assert.Nil(t, shop.Rows())
}

func TestColumnConstraints(t *testing.T) {
	_, region, shop := newShop(t)
	ref := shop.Column("region")
	fk := ref.ForeignKey()
	require.NotNil(t, fk)
	assert.Equal(t, []string{"region"}, fk.ColumnNames())
	assert.Equal(t, []string{"code"}, fk.TargetColumnNames())
	assert.False(t, fk.SelfReferencing())
	assert.Nil(t, shop.Column("id").ForeignKey())
	assert.Len(t, region.Column("code").Constraints(), 1)
}

func TestSchemaRemove(t *testing.T) {
	s, region, shop := newShop(t)
	status, err := s.AddType("shop_status__enum", []string{"open", "closed"})
	require.NoError(t, err)
	col, err := shop.AddColumn("status", EnumRef(status), false, nil)
	require.NoError(t, err)
	assert.Equal(t, []*Column{col}, status.Users())
	assert.Equal(t, "shop_status__enum", col.Type.String())
	assert.True(t, col.Type.IsEnum())

	cat := s.Catalog()
	s.Remove()

	assert.Empty(t, cat.Schemas())
	assert.True(t, region.Removed())
	assert.True(t, shop.Removed())
	assert.True(t, status.Removed())
	assert.Nil(t, status.Users())
}

func TestTriggerLifecycle(t *testing.T) {
	_, region, _ := newShop(t)
	tr, err := region.AddTrigger("region__keygen", "region__keygen", "BEGIN RETURN NEW; END")
	require.NoError(t, err)
	assert.Same(t, tr, region.Trigger("region__keygen"))

	_, err = region.AddTrigger("region__keygen", "f", "")
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	tr.Remove()
	assert.True(t, tr.Removed())
	assert.Empty(t, tr.Body)
	assert.Empty(t, region.Triggers())
}

func TestRenameConflicts(t *testing.T) {
	_, region, _ := newShop(t)
	err := region.Rename("shop")
	assert.True(t, errors.Is(err, errors.AlreadyExists))
	require.NoError(t, region.Rename("area"))
	assert.Equal(t, "area", region.Name)

	region.Remove()
	assert.True(t, errors.Is(region.Rename("x"), errors.NotValid))
}

func TestActionFromCode(t *testing.T) {
	tests := map[string]Action{
		"a": ActionNoAction,
		"c": ActionCascade,
		"d": ActionSetDefault,
		"n": ActionSetNull,
		"r": ActionRestrict,
	}
	for code, want := range tests {
		assert.Equal(t, want, ActionFromCode(code), code)
	}
}

func TestTypeRename(t *testing.T) {
	s, _, shop := newShop(t)
	status, err := s.AddType("shop_status_enum", []string{"open"})
	require.NoError(t, err)
	col, err := shop.AddColumn("status", EnumRef(status), false, nil)
	require.NoError(t, err)

	require.NoError(t, status.Rename("store_status_enum"))
	assert.Same(t, status, s.Type("store_status_enum"))
	assert.Nil(t, s.Type("shop_status_enum"))
	assert.Equal(t, "store_status_enum", col.Type.String(), "columns follow the type")
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestRowsFindByKey(t *testing.T) {
	r := NewRows([]string{"code", "name"}, 1)
	r.Append([]*string{ptr("EU"), ptr("Europe")})
	r.Append([]*string{ptr("AS"), nil})

	assert.Equal(t, 2, r.Len())
	got := r.Find([]*string{ptr("EU"), ptr("ignored")})
	assert.Equal(t, "Europe", *got[1])
	assert.Nil(t, r.Find([]*string{ptr("AF")}))

	r.Append([]*string{ptr("EU"), ptr("Europa")})
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "Europa", *r.Find([]*string{ptr("EU")})[1])
}

func TestRowsNullKeysDiffer(t *testing.T) {
	r := NewRows([]string{"a", "b"}, 2)
	r.Append([]*string{nil, ptr("")})
	r.Append([]*string{ptr(""), nil})
	assert.Equal(t, 2, r.Len())
}

func TestRowsCovers(t *testing.T) {
	r := NewRows([]string{"a", "b"}, 1)
	assert.True(t, r.Covers([]string{"b"}))
	assert.False(t, r.Covers([]string{"b", "c"}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, ptr("")))
	assert.True(t, Equal(ptr("x"), ptr("x")))
	assert.False(t, Equal(ptr("x"), ptr("y")))
}

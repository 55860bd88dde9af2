package fault

import (
	stderrors "errors"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationString(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{"zero", Location{}, ""},
		{"file only", Location{File: "a.yaml"}, "a.yaml"},
		{"single line", Location{File: "a.yaml", FirstLine: 3, LastLine: 3}, "a.yaml:3"},
		{"range", Location{File: "a.yaml", FirstLine: 3, LastLine: 7}, "a.yaml:3-7"},
		{"anonymous", Location{FirstLine: 2}, "<input>:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loc.String())
		})
	}
}

func TestSchemaErrorMessage(t *testing.T) {
	err := Drift("column type differs", "text", "integer")
	err.Fact = "column region.name"
	err.Location = Location{File: "schema.yaml", FirstLine: 4, LastLine: 6}
	assert.Equal(t, "schema.yaml:4-6: column region.name: column type differs (expected text, actual integer)", err.Error())

	missing := Drift("missing column", "present", "")
	assert.Equal(t, "missing column (expected present, actual none)", missing.Error())
}

func TestAttachThroughAnnotations(t *testing.T) {
	base := Schemaf("missing table %q", "region")
	wrapped := errors.Annotatef(errors.Annotate(base, "column"), "include %q", "base.yaml")
	loc := Location{File: "base.yaml", FirstLine: 1, LastLine: 2}

	out := Attach(wrapped, "column region.name", loc)
	assert.Same(t, wrapped, out)

	se, ok := AsSchema(out)
	require.True(t, ok)
	assert.Equal(t, "column region.name", se.Fact)
	assert.Equal(t, loc, se.Location)

	// The innermost declaration wins.
	Attach(wrapped, "table region", Location{File: "other.yaml"})
	assert.Equal(t, "column region.name", se.Fact)
	assert.Contains(t, out.Error(), `include "base.yaml"`)
}

func TestConnectionError(t *testing.T) {
	cause := stderrors.New("broken pipe")
	err := error(&ConnectionError{Err: cause})
	err = Attach(errors.Trace(err), "table a", Location{File: "f.yaml", FirstLine: 9})

	ce, ok := AsConnection(err)
	require.True(t, ok)
	assert.Equal(t, "f.yaml:9: connection: broken pipe", ce.Error())
	assert.True(t, errors.Is(err, cause))

	_, ok = AsSchema(err)
	assert.False(t, ok)
}

func TestValidationError(t *testing.T) {
	err := Validationf(Location{File: "x.yaml", FirstLine: 2, LastLine: 2}, "unknown key %q", "colour")
	ve, ok := AsValidation(errors.Trace(err))
	require.True(t, ok)
	assert.Equal(t, `x.yaml:2: unknown key "colour"`, ve.Error())
}

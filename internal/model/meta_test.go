package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeMeta(t *testing.T) {
	def := "EU"
	tests := []struct {
		name    string
		comment string
		want    Meta
	}{
		{
			name:    "empty",
			comment: "",
			want:    Meta{Label: "region"},
		},
		{
			name:    "plain title",
			comment: "Sales regions",
			want:    Meta{Label: "region", Title: "Sales regions"},
		},
		{
			name:    "json",
			comment: `{"label":"area","title":"Areas","default":"EU"}`,
			want:    Meta{Label: "area", Title: "Areas", Default: &def},
		},
		{
			name:    "json without label",
			comment: `{"generators":{"id":"offset"},"synthesized":true}`,
			want:    Meta{Label: "region", Generators: map[string]string{"id": "offset"}, Synthesized: true},
		},
		{
			name:    "broken json",
			comment: `{"label":`,
			want:    Meta{Label: "region", Title: `{"label":`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeMeta(tt.comment, "region"))
		})
	}
}

func TestMetaEncodeIsDeterministic(t *testing.T) {
	m := Meta{Label: "shop", Generators: map[string]string{"z": "random", "a": "offset", "m": "offset"}, Length: 4}
	want := `{"label":"shop","generators":{"a":"offset","m":"offset","z":"random"},"length":4}`
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, m.Encode())
	}
	assert.Equal(t, "{}", Meta{}.Encode())
}

package model

import (
	"encoding/json"
	"strings"
)

// Meta is the metadata a model persists as a JSON object in the comment of
// its backing database object.
type Meta struct {
	Label string `json:"label,omitempty"`
	Title string `json:"title,omitempty"`
	// Default is the declared default value of a column, kept verbatim since
	// the server rewrites default expressions.
	Default *string `json:"default,omitempty"`
	// Formula is the declared expression of an alias.
	Formula string `json:"formula,omitempty"`
	// Generators maps identity member labels to key generator strategies.
	Generators map[string]string `json:"generators,omitempty"`
	Length     int               `json:"length,omitempty"`
	// Synthesized marks the identity a table is created with.
	Synthesized bool `json:"synthesized,omitempty"`
}

// DecodeMeta reads the metadata of an object named name. A comment that is not
// a JSON object is a plain title, and the label falls back to the name.
func DecodeMeta(comment, name string) Meta {
	var m Meta
	trimmed := strings.TrimSpace(comment)
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &m) == nil {
		if m.Label == "" {
			m.Label = name
		}
		return m
	}
	return Meta{Label: name, Title: comment}
}

// Encode renders the metadata as a comment. Map keys are sorted, so equal
// metadata always encodes to the same text.
func (m Meta) Encode() string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

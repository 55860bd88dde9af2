package mangle

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMangleShortNames(t *testing.T) {
	m := New(DefaultMaxLength)

	tests := []struct {
		name      string
		fragments []string
		suffix    string
		expected  string
	}{
		{name: "single fragment", fragments: []string{"region"}, expected: "region"},
		{name: "fragments joined", fragments: []string{"region", "name"}, expected: "region_name"},
		{name: "suffix appended", fragments: []string{"region"}, suffix: "pk", expected: "region_pk"},
		{name: "separator doubled on clash", fragments: []string{"order_line", "item"}, suffix: "fk", expected: "order_line__item__fk"},
		{name: "separator tripled on clash", fragments: []string{"a__b", "c"}, expected: "a__b___c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Mangle(tt.fragments, tt.suffix))
		})
	}
}

func TestMangleReservedStemIsHashed(t *testing.T) {
	m := New(DefaultMaxLength)

	t.Run("reserved suffix", func(t *testing.T) {
		got := m.Name("orders", "pk")
		assert.NotEqual(t, "orders_pk", got)
		assert.NotEqual(t, m.Mangle([]string{"orders"}, "pk"), got)
		assert.True(t, strings.HasPrefix(got, "orders"))
	})

	t.Run("reserved prefix", func(t *testing.T) {
		got := m.Name("pg_stats")
		assert.False(t, strings.HasPrefix(got, "pg_"))
		assert.LessOrEqual(t, len(got), DefaultMaxLength)
	})
}

func TestMangleLongNames(t *testing.T) {
	m := New(20)
	long := strings.Repeat("abcdefghij", 5)

	got := m.Mangle([]string{long, "column"}, "fk")
	assert.LessOrEqual(t, len(got), 20)
	assert.True(t, strings.HasSuffix(got, "_fk"))
	assert.True(t, strings.HasPrefix(got, "abc"))

	other := m.Mangle([]string{long, "columm"}, "fk")
	assert.NotEqual(t, got, other, "stems differing only in the dropped window must still differ")
}

func TestMangleMultiByteNamesStayValid(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		fragments []string
		suffix    string
	}{
		{"odd lead", 63, []string{"x" + strings.Repeat("нормализация", 4)}, ""},
		{"even lead", 63, []string{strings.Repeat("нормализация", 4)}, ""},
		{"with suffix", 63, []string{"région", strings.Repeat("données", 10)}, "fk"},
		{"three byte runes", 40, []string{strings.Repeat("表格", 20)}, "key"},
		{"tight budget", 12, []string{"y" + strings.Repeat("ü", 30)}, "enum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.max).Mangle(tt.fragments, tt.suffix)
			assert.True(t, utf8.ValidString(got), "invalid UTF-8: %q", got)
			assert.LessOrEqual(t, len(got), tt.max)
		})
	}
}

func TestMangleDeterministic(t *testing.T) {
	m := New(16)
	for i := 0; i < 10; i++ {
		assert.Equal(t,
			m.Mangle([]string{"customer_address", "postal_code"}, "key"),
			m.Mangle([]string{"customer_address", "postal_code"}, "key"))
	}
}

func TestSeparator(t *testing.T) {
	assert.Equal(t, "_", Separator([]string{"a", "b"}))
	assert.Equal(t, "__", Separator([]string{"a_b", "c"}))
	assert.Equal(t, "___", Separator([]string{"a__b", "c_d"}))
	assert.Equal(t, "_", Separator(nil))
}

func TestMangleNoCollisionsAcrossRandomInputs(t *testing.T) {
	faker := gofakeit.New(20240611)
	suffixes := append([]string{""}, DefaultReservedSuffixes...)

	for _, maxLength := range []int{DefaultMaxLength, 24} {
		m := New(maxLength)
		seenInput := make(map[string]bool)
		seenOutput := make(map[string]string)

		for len(seenInput) < 1200 {
			n := faker.Number(1, 3)
			fragments := make([]string, n)
			for i := range fragments {
				fragments[i] = strings.ToLower(faker.LetterN(uint(faker.Number(3, 14))))
			}
			suffix := suffixes[faker.Number(0, len(suffixes)-1)]

			key := strings.Join(fragments, "|") + "#" + suffix
			if seenInput[key] {
				continue
			}
			seenInput[key] = true

			got := m.Mangle(fragments, suffix)
			require.LessOrEqual(t, len(got), maxLength, "input %s", key)
			if prev, ok := seenOutput[got]; ok {
				t.Fatalf("collision at max length %d: %q and %q both map to %q", maxLength, prev, key, got)
			}
			seenOutput[got] = key
		}
	}
}

package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProperties(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"! another comment",
		"",
		"plain=value",
		"spaced = value with spaces",
		"colon:value",
		"ws value",
		`esc\=aped\:key=v`,
		`multi=first \`,
		`    second`,
		`unicode=\u0041b`,
		"keyonly",
	}, "\n")

	props, err := ParseProperties(strings.NewReader(input))
	require.NoError(t, err)

	got := make(map[string]string)
	for _, p := range props {
		got[p.Key] = p.Value
	}

	assert.Equal(t, "value", got["plain"])
	assert.Equal(t, "value with spaces", got["spaced"])
	assert.Equal(t, "value", got["colon"])
	assert.Equal(t, "value", got["ws"])
	assert.Equal(t, "v", got["esc=aped:key"])
	assert.Equal(t, "first second", got["multi"])
	assert.Equal(t, "Ab", got["unicode"])
	v, ok := got["keyonly"]
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, 4, props[0].Line)
}

func TestEscapePropertyRoundTrip(t *testing.T) {
	keys := []string{
		"simple/path.txt",
		"with space/file name.txt",
		"eq=uals:colon",
		"#hash-first",
		`back\slash`,
		"tab\tchar",
	}

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(EscapeProperty(k, true))
		b.WriteString("=")
		b.WriteString(EscapeProperty(" v"+k, false))
		b.WriteString("\n")
	}

	props, err := ParseProperties(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, props, len(keys))
	for i, k := range keys {
		assert.Equal(t, k, props[i].Key)
		assert.Equal(t, " v"+k, props[i].Value)
	}
}

package textenc_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-dps/internal/textenc"
)

func TestNormalize_ValidUTF8Unchanged(t *testing.T) {
	assert.Equal(t, "Serviço de manutenção", textenc.Normalize("Serviço de manutenção"))
}

func TestNormalize_Latin1Input(t *testing.T) {
	// "Serviço" encoded as ISO-8859-1 / Windows-1252
	raw := string([]byte{'S', 'e', 'r', 'v', 'i', 0xE7, 'o'})
	require.False(t, utf8.ValidString(raw))

	got := textenc.Normalize(raw)
	assert.Equal(t, "Serviço", got)
}

func TestNormalize_Windows1252Quotes(t *testing.T) {
	raw := string([]byte{0x93, 'o', 'k', 0x94})
	assert.Equal(t, "“ok”", textenc.Normalize(raw))
}

func TestNormalize_StripsControlCharacters(t *testing.T) {
	got := textenc.Normalize("abc\x00\x01def\x1Fghi\tj\nk")
	assert.Equal(t, "abcdefghi\tj\nk", got)
}

func TestNormalize_ComposesNFC(t *testing.T) {
	decomposed := "c\u0327" // c + combining cedilla
	assert.Equal(t, "ç", textenc.Normalize(decomposed))
}

func TestEnsureUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"plain", []byte("<a>ok</a>"), "<a>ok</a>"},
		{"bom stripped", append([]byte{0xEF, 0xBB, 0xBF}, []byte("<a/>")...), "<a/>"},
		{"latin1 converted", []byte{'<', 'a', '>', 0xE3, '<', '/', 'a', '>'}, "<a>ã</a>"},
		{"control stripped", []byte("<a>\x0Bx</a>"), "<a>x</a>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := textenc.EnsureUTF8(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
			assert.True(t, utf8.Valid(out))
		})
	}
}

func TestStripInvalidXML(t *testing.T) {
	assert.Equal(t, "ab", textenc.StripInvalidXML("a\uFFFEb"))
	assert.Equal(t, "a\U0001F600", textenc.StripInvalidXML("a\U0001F600"))
}

// Package textenc repairs text so it can be embedded in an XML document.
//
// Values arriving from legacy systems are frequently Windows-1252 or
// ISO-8859-1 rather than UTF-8. Normalize converts them on a best-effort
// basis and drops code points XML 1.0 does not allow.
package textenc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fallbacks are tried in order when input is not valid UTF-8
var fallbacks = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

// Normalize returns s as NFC UTF-8 text without XML-illegal characters.
// It never fails: undecodable bytes are replaced.
func Normalize(s string) string {
	out, err := EnsureUTF8([]byte(s))
	if err != nil {
		out = bytes.ToValidUTF8([]byte(s), []byte("\uFFFD"))
		out = stripInvalidXML(out)
	}
	return norm.NFC.String(string(out))
}

// EnsureUTF8 converts data to valid UTF-8, stripping a leading BOM and
// XML-illegal characters. It returns an error only when no fallback
// decoder produces valid UTF-8.
func EnsureUTF8(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return stripInvalidXML(data), nil
	}

	var lastErr error
	for _, fb := range fallbacks {
		decoded, err := fb.enc.NewDecoder().Bytes(data)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", fb.name, err)
			continue
		}
		if utf8.Valid(decoded) {
			return stripInvalidXML(decoded), nil
		}
		lastErr = fmt.Errorf("%s: decoded output is not valid UTF-8", fb.name)
	}
	return nil, fmt.Errorf("cannot convert payload to UTF-8: %w", lastErr)
}

// StripInvalidXML removes characters outside the XML 1.0 Char production
func StripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s)
}

func stripInvalidXML(data []byte) []byte {
	clean := true
	for _, r := range string(data) {
		if !isXMLChar(r) {
			clean = false
			break
		}
	}
	if clean {
		return data
	}
	return []byte(StripInvalidXML(string(data)))
}

func isXMLChar(r rune) bool {
	switch {
	case r == 0x9 || r == 0xA || r == 0xD:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

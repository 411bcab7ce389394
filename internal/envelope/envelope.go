// Package envelope implements the gzip+base64 body encoding of the
// national NFS-e API.
package envelope

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EmitField is the JSON field carrying the document on emission
const EmitField = "dpsXmlGZipB64"

// MaxDecoded caps decompressed payloads
const MaxDecoded = 64 << 20

// ErrTooLarge is returned when a payload inflates past MaxDecoded
var ErrTooLarge = errors.New("decoded payload exceeds size limit")

var gzipMagic = []byte{0x1f, 0x8b}

// Encode gzips data and returns it base64 encoded
func Encode(data []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("gzip payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Whitespace in the input is ignored. Payloads
// that are base64 but not gzip are returned as decoded.
func Decode(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return nil, fmt.Errorf("decode payload: empty input")
	}

	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gunzip payload: %w", err)
	}
	defer zr.Close()

	return inflate(zr, MaxDecoded)
}

func inflate(r io.Reader, limit int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("gunzip payload: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("gunzip payload: %w (%d bytes)", ErrTooLarge, limit)
	}
	return out, nil
}

// EmitJSON wraps the encoded document in the emission JSON object
func EmitJSON(data []byte) ([]byte, error) {
	encoded, err := Encode(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{EmitField: encoded})
}

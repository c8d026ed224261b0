package utils

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// MarshalNoEscape marshals JSON without HTML escaping.
// This avoids inflating payloads by converting characters like '<' into \u003c,
// which matters for message content full of <@id> and <#id> tokens.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return out, nil
}

// MarshalASCII marshals v and then escapes every non-ASCII code point.
func MarshalASCII(v any) ([]byte, error) {
	data, err := MarshalNoEscape(v)
	if err != nil {
		return nil, err
	}
	return EscapeNonASCII(data), nil
}

// EscapeNonASCII rewrites every code point >= 0x7F in a JSON document as a
// lowercase \uXXXX escape. Code points above the BMP become a UTF-16 surrogate
// pair, so the output is pure printable ASCII and still decodes to the same text.
//
// Only valid inside JSON strings, which is the only place non-ASCII can appear
// in a well-formed document. Invalid UTF-8 bytes become \ufffd.
func EscapeNonASCII(data []byte) []byte {
	first := -1
	for i, b := range data {
		if b >= 0x7F {
			first = i
			break
		}
	}
	if first < 0 {
		return data
	}

	out := make([]byte, 0, len(data)+len(data)/4)
	out = append(out, data[:first]...)
	for i := first; i < len(data); {
		b := data[i]
		if b < 0x7F {
			out = append(out, b)
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		i += size
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			out = appendEscape(out, hi)
			out = appendEscape(out, lo)
			continue
		}
		out = appendEscape(out, r)
	}
	return out
}

func appendEscape(out []byte, r rune) []byte {
	return append(out, '\\', 'u',
		hexDigits[(r>>12)&0xF],
		hexDigits[(r>>8)&0xF],
		hexDigits[(r>>4)&0xF],
		hexDigits[r&0xF],
	)
}

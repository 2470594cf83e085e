package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// Wildcard is the placeholder code unit in policy names. It matches any
// single decimal digit at the same position of a variable name.
const Wildcard = '#'

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ErrUnterminatedName is returned when an encoded name has no NUL terminator.
var ErrUnterminatedName = errors.New("name is not NUL-terminated")

// CodeUnits returns the UTF-16 code units of name.
func CodeUnits(name string) []uint16 {
	return utf16.Encode([]rune(name))
}

// EncodeName encodes name as UTF-16LE without a terminator.
func EncodeName(name string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("encode name %q: %w", name, err)
	}
	return b, nil
}

// EncodeNameZ encodes name as UTF-16LE followed by a NUL code unit.
func EncodeNameZ(name string) ([]byte, error) {
	b, err := EncodeName(name)
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}

// DecodeName decodes UTF-16LE bytes without a terminator.
func DecodeName(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("decode name: odd byte length %d", len(b))
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode name: %w", err)
	}
	return string(out), nil
}

// DecodeNameZ decodes a NUL-terminated UTF-16LE name from the start of b.
// It returns the name and the number of bytes consumed, terminator included.
func DecodeNameZ(b []byte) (string, int, error) {
	for i := 0; i+1 < len(b); i += 2 {
		if binary.LittleEndian.Uint16(b[i:]) == 0 {
			name, err := DecodeName(b[:i])
			if err != nil {
				return "", 0, err
			}
			return name, i + 2, nil
		}
	}
	return "", 0, ErrUnterminatedName
}

// ValidateName rejects names that cannot round-trip through the encoded form.
func ValidateName(name string) error {
	for _, u := range CodeUnits(name) {
		if u == 0 {
			return errors.New("name contains NUL code unit")
		}
	}
	return nil
}

// HasWildcard reports whether name contains at least one placeholder.
func HasWildcard(name string) bool {
	for _, u := range CodeUnits(name) {
		if u == Wildcard {
			return true
		}
	}
	return false
}

package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Namespace is a 128-bit vendor identifier grouping related variables.
//
// The byte layout matches the firmware GUID structure: the first three
// fields are little-endian, the trailing eight bytes are stored as-is.
type Namespace [16]byte

// NamespaceSize is the encoded size of a Namespace.
const NamespaceSize = 16

// ParseNamespace parses the canonical textual GUID form
// ("3b389299-abaf-433b-a4a9-23c84402fcad"), braces optional.
func ParseNamespace(s string) (Namespace, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Namespace{}, fmt.Errorf("parse namespace %q: %w", s, err)
	}
	return NamespaceFromUUID(u), nil
}

// MustParseNamespace is like ParseNamespace but panics on error.
// Intended for package-level well-known namespaces and tests.
func MustParseNamespace(s string) Namespace {
	ns, err := ParseNamespace(s)
	if err != nil {
		panic(err)
	}
	return ns
}

// NamespaceFromUUID converts an RFC 4122 (big-endian) UUID into firmware order.
func NamespaceFromUUID(u uuid.UUID) Namespace {
	var n Namespace
	binary.LittleEndian.PutUint32(n[0:4], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(n[4:6], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(n[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(n[8:], u[8:])
	return n
}

// UUID converts the namespace back into RFC 4122 byte order.
func (n Namespace) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(n[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(n[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(n[6:8]))
	copy(u[8:], n[8:])
	return u
}

// String returns the lowercase textual GUID form.
func (n Namespace) String() string {
	return n.UUID().String()
}

// IsZero reports whether n is the all-zero namespace.
func (n Namespace) IsZero() bool {
	return n == Namespace{}
}

// MarshalText implements encoding.TextMarshaler.
func (n Namespace) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Namespace) UnmarshalText(text []byte) error {
	parsed, err := ParseNamespace(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// GlobalVariable is the namespace of architecturally defined variables.
var GlobalVariable = MustParseNamespace("8be4df61-93ca-11d2-aa0d-00e098032b8c")

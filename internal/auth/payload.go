package auth

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/varpol/internal/ir"
)

// Certificate block constants.
const (
	// CertRevision is the only accepted wRevision.
	CertRevision uint16 = 0x0200

	// CertTypeGUID is the wCertificateType of a GUID-typed certificate block.
	CertTypeGUID uint16 = 0x0EF1

	// certHeaderSize covers dwLength, wRevision, wCertificateType and CertType.
	certHeaderSize = 4 + 2 + 2 + ir.NamespaceSize

	// PayloadHeaderSize is the smallest well-formed payload.
	PayloadHeaderSize = ir.TimestampSize + certHeaderSize
)

// CertTypeJWS identifies certificate data holding a detached-payload JWS
// compact serialization with an x5c chain.
var CertTypeJWS = ir.MustParseNamespace("7c1d3e4f-9a2b-4c5d-8e6f-0a1b2c3d4e5f")

// ErrMalformedPayload is returned for payloads that cannot be parsed.
var ErrMalformedPayload = errors.New("malformed authenticated payload")

// Payload is the decoded body of an authenticated write.
type Payload struct {
	Timestamp ir.Timestamp
	CertType  ir.Namespace
	CertData  []byte
	Data      []byte
}

// ParsePayload decodes b. The returned slices alias b.
func ParsePayload(b []byte) (Payload, error) {
	if len(b) < PayloadHeaderSize {
		return Payload{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(b), PayloadHeaderSize)
	}

	var p Payload
	if err := p.Timestamp.UnmarshalBinary(b[:ir.TimestampSize]); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	cert := b[ir.TimestampSize:]

	length := binary.LittleEndian.Uint32(cert[0:4])
	revision := binary.LittleEndian.Uint16(cert[4:6])
	certType := binary.LittleEndian.Uint16(cert[6:8])

	if revision != CertRevision {
		return Payload{}, fmt.Errorf("%w: certificate revision %#04x", ErrMalformedPayload, revision)
	}
	if certType != CertTypeGUID {
		return Payload{}, fmt.Errorf("%w: certificate type %#04x", ErrMalformedPayload, certType)
	}
	if length < certHeaderSize || uint64(length) > uint64(len(cert)) {
		return Payload{}, fmt.Errorf("%w: certificate length %d out of range", ErrMalformedPayload, length)
	}

	copy(p.CertType[:], cert[8:8+ir.NamespaceSize])
	p.CertData = cert[certHeaderSize:length]
	p.Data = cert[length:]
	return p, nil
}

// MarshalBinary encodes p.
func (p Payload) MarshalBinary() ([]byte, error) {
	length := uint64(certHeaderSize) + uint64(len(p.CertData))
	if length > 0xFFFFFFFF {
		return nil, fmt.Errorf("certificate data too large: %d bytes", len(p.CertData))
	}

	b := make([]byte, 0, PayloadHeaderSize+len(p.CertData)+len(p.Data))
	b, _ = p.Timestamp.AppendBinary(b)
	b = binary.LittleEndian.AppendUint32(b, uint32(length))
	b = binary.LittleEndian.AppendUint16(b, CertRevision)
	b = binary.LittleEndian.AppendUint16(b, CertTypeGUID)
	b = append(b, p.CertType[:]...)
	b = append(b, p.CertData...)
	b = append(b, p.Data...)
	return b, nil
}

// BuildTBS rebuilds the signed bytes for an update:
// Name (UTF-16LE, no terminator) | Namespace | Attributes | Timestamp | Data.
func BuildTBS(ns ir.Namespace, name string, attrs ir.Attributes, ts ir.Timestamp, data []byte) ([]byte, error) {
	enc, err := ir.EncodeName(name)
	if err != nil {
		return nil, fmt.Errorf("tbs: %w", err)
	}
	b := make([]byte, 0, len(enc)+ir.NamespaceSize+4+ir.TimestampSize+len(data))
	b = append(b, enc...)
	b = append(b, ns[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(attrs))
	b, _ = ts.AppendBinary(b)
	b = append(b, data...)
	return b, nil
}

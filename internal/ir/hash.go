package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPolicy = "varpol/policy/v1"
	DomainSigner = "varpol/signer/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PolicyID computes the content-addressed ID of a policy.
// The encoded entry is already canonical, so it is hashed directly.
func PolicyID(p Policy) (string, error) {
	enc, err := MarshalPolicy(p)
	if err != nil {
		return "", fmt.Errorf("PolicyID: %w", err)
	}
	return hashWithDomain(DomainPolicy, enc), nil
}

// SignerID computes a stable identifier for a signing certificate from
// its DER encoding.
func SignerID(der []byte) string {
	return hashWithDomain(DomainSigner, der)
}

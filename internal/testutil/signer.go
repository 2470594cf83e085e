package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"testing"
	"time"
)

// TestSigner is a deterministic ed25519 key with a self-signed
// certificate. The same name always yields the same key and certificate.
type TestSigner struct {
	Name        string
	Key         ed25519.PrivateKey
	Certificate *x509.Certificate
	DER         []byte
}

// NewTestSigner derives a signer from name. The key seed is
// SHA-256(name); the certificate is valid from 2000 through 2099.
func NewTestSigner(t testing.TB, name string) *TestSigner {
	t.Helper()
	s, err := DeriveSigner(name)
	if err != nil {
		t.Fatalf("derive signer %q: %v", name, err)
	}
	return s
}

// DeriveSigner is NewTestSigner without a testing.TB, for fixtures built
// outside a test function.
func DeriveSigner(name string) (*TestSigner, error) {
	seed := sha256.Sum256([]byte(name))
	key := ed25519.NewKeyFromSeed(seed[:])

	serial := new(big.Int).SetBytes(seed[:8])
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2099, time.December, 31, 23, 59, 59, 0, time.UTC),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	// ed25519 signatures are deterministic, so the DER is too.
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &TestSigner{Name: name, Key: key, Certificate: cert, DER: der}, nil
}

// Fingerprint returns the lowercase hex SHA-256 of the certificate DER.
func (s *TestSigner) Fingerprint() string {
	sum := sha256.Sum256(s.DER)
	return hex.EncodeToString(sum[:])
}

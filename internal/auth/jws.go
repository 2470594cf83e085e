package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/cert"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/roach88/varpol/internal/ir"
)

var (
	// ErrBadSignature is returned when certificate data does not verify.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrUnsupportedCertType is returned for certificate blocks other than
	// CertTypeJWS.
	ErrUnsupportedCertType = errors.New("unsupported certificate type")
)

// Identity describes the certificate that signed an update.
type Identity struct {
	// ID is the stable signer identifier recorded with the variable.
	ID string

	// Fingerprint is the lowercase hex SHA-256 of the certificate DER.
	Fingerprint string

	Subject     string
	Certificate *x509.Certificate
}

// IdentityOf derives the Identity of c.
func IdentityOf(c *x509.Certificate) Identity {
	sum := sha256.Sum256(c.Raw)
	return Identity{
		ID:          ir.SignerID(c.Raw),
		Fingerprint: hex.EncodeToString(sum[:]),
		Subject:     c.Subject.String(),
		Certificate: c,
	}
}

// Verifier checks the certificate block of an authenticated payload
// against the rebuilt TBS bytes.
type Verifier interface {
	Verify(certType ir.Namespace, certData, tbs []byte) (Identity, error)
}

var supportedAlgorithms = map[jwa.SignatureAlgorithm]bool{
	jwa.EdDSA: true,
	jwa.ES256: true,
	jwa.ES384: true,
	jwa.RS256: true,
	jwa.PS256: true,
}

// JWSVerifier verifies detached-payload JWS signatures whose signing
// certificate travels in the x5c header.
//
// Without roots any well-formed chain is accepted and trust is decided by
// the Validator. With roots the chain must build to one of them.
type JWSVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// VerifierOption configures a JWSVerifier.
type VerifierOption func(*JWSVerifier)

// WithRoots requires signing chains to verify against pool.
func WithRoots(pool *x509.CertPool) VerifierOption {
	return func(v *JWSVerifier) {
		v.roots = pool
	}
}

// WithVerifyTime sets the clock used for certificate validity.
// Default: time.Now.
func WithVerifyTime(now func() time.Time) VerifierOption {
	return func(v *JWSVerifier) {
		v.now = now
	}
}

// NewJWSVerifier creates a verifier.
func NewJWSVerifier(opts ...VerifierOption) *JWSVerifier {
	v := &JWSVerifier{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements Verifier.
func (v *JWSVerifier) Verify(certType ir.Namespace, certData, tbs []byte) (Identity, error) {
	if certType != CertTypeJWS {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnsupportedCertType, certType)
	}

	msg, err := jws.Parse(certData)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: parse: %v", ErrBadSignature, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return Identity{}, fmt.Errorf("%w: expected 1 signature, got %d", ErrBadSignature, len(sigs))
	}
	hdrs := sigs[0].ProtectedHeaders()

	alg := hdrs.Algorithm()
	if !supportedAlgorithms[alg] {
		return Identity{}, fmt.Errorf("%w: algorithm %q not accepted", ErrBadSignature, alg)
	}

	chain, err := parseChain(hdrs.X509CertChain())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	leaf := chain[0]

	if v.roots != nil {
		intermediates := x509.NewCertPool()
		for _, c := range chain[1:] {
			intermediates.AddCert(c)
		}
		_, err := leaf.Verify(x509.VerifyOptions{
			Roots:         v.roots,
			Intermediates: intermediates,
			CurrentTime:   v.now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			return Identity{}, fmt.Errorf("%w: chain: %v", ErrBadSignature, err)
		}
	}

	if _, err := jws.Verify(certData, jws.WithKey(alg, leaf.PublicKey), jws.WithDetachedPayload(tbs)); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return IdentityOf(leaf), nil
}

func parseChain(chain *cert.Chain) ([]*x509.Certificate, error) {
	if chain == nil || chain.Len() == 0 {
		return nil, errors.New("missing x5c certificate chain")
	}
	out := make([]*x509.Certificate, 0, chain.Len())
	for i := 0; i < chain.Len(); i++ {
		raw, ok := chain.Get(i)
		if !ok {
			return nil, fmt.Errorf("x5c entry %d missing", i)
		}
		c, err := cert.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("x5c entry %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// JWSSigner produces payloads that JWSVerifier accepts. It is used by the
// CLI and the scenario harness to sign updates.
type JWSSigner struct {
	key   crypto.Signer
	alg   jwa.SignatureAlgorithm
	chain *cert.Chain
	leaf  *x509.Certificate
}

// NewJWSSigner creates a signer for key. chain starts with the
// certificate for key; issuers may follow.
func NewJWSSigner(key crypto.Signer, chain ...*x509.Certificate) (*JWSSigner, error) {
	if len(chain) == 0 {
		return nil, errors.New("signer: certificate chain is empty")
	}
	alg, err := algorithmFor(key.Public())
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	var x5c cert.Chain
	for _, c := range chain {
		if err := x5c.AddString(base64.StdEncoding.EncodeToString(c.Raw)); err != nil {
			return nil, fmt.Errorf("signer: x5c: %w", err)
		}
	}
	return &JWSSigner{key: key, alg: alg, chain: &x5c, leaf: chain[0]}, nil
}

func algorithmFor(pub crypto.PublicKey) (jwa.SignatureAlgorithm, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return jwa.EdDSA, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return jwa.ES256, nil
		case elliptic.P384():
			return jwa.ES384, nil
		}
		return "", fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	case *rsa.PublicKey:
		return jwa.PS256, nil
	}
	return "", fmt.Errorf("unsupported key type %T", pub)
}

// Identity returns the identity verifiers will report for this signer.
func (s *JWSSigner) Identity() Identity {
	return IdentityOf(s.leaf)
}

// Sign returns a compact JWS over tbs with the payload detached.
func (s *JWSSigner) Sign(tbs []byte) ([]byte, error) {
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.X509CertChainKey, s.chain); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	signed, err := jws.Sign(nil,
		jws.WithKey(s.alg, s.key, jws.WithProtectedHeaders(hdrs)),
		jws.WithDetachedPayload(tbs))
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

// Seal builds, signs and encodes the authenticated payload for writing
// data to (ns, name) at ts. Empty data seals a delete.
func (s *JWSSigner) Seal(ns ir.Namespace, name string, attrs ir.Attributes, ts ir.Timestamp, data []byte) ([]byte, error) {
	tbs, err := BuildTBS(ns, name, attrs, ts, data)
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(tbs)
	if err != nil {
		return nil, err
	}
	return Payload{
		Timestamp: ts,
		CertType:  CertTypeJWS,
		CertData:  sig,
		Data:      data,
	}.MarshalBinary()
}

package auth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/metrics"
)

// Request is an update to a time-based authenticated variable.
type Request struct {
	Namespace  ir.Namespace
	Name       string
	Attributes ir.Attributes

	// Payload is the raw authenticated payload. Empty means an unsigned
	// delete.
	Payload []byte

	// Prior is the stored variable, nil when it does not exist.
	Prior *ir.Variable
}

// Result is what the variable service commits after a successful
// validation. Empty Data is a delete.
type Result struct {
	Data      []byte
	Timestamp ir.Timestamp
	Signer    string
}

// Validator is the authenticated update validator.
type Validator struct {
	verifier Verifier
	trusted  map[string]struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithTrustedSigners restricts the signer that may create an
// authenticated variable to the given certificate fingerprints
// (hex SHA-256 of the DER). Later writes must come from the creating
// signer regardless of this list.
func WithTrustedSigners(fingerprints ...string) Option {
	return func(v *Validator) {
		for _, fp := range fingerprints {
			v.trusted[strings.ToLower(fp)] = struct{}{}
		}
	}
}

// NewValidator creates a validator that checks signatures with verifier.
func NewValidator(verifier Verifier, opts ...Option) *Validator {
	v := &Validator{
		verifier: verifier,
		trusted:  make(map[string]struct{}),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks req and returns the data, timestamp and signer to
// commit.
//
// With enabled false the signature, trust and timestamp checks are
// skipped; the payload's timestamp is still recorded, and so is its
// signer when the signature happens to verify.
//
// Every rejection is a SecurityViolation.
func (v *Validator) Validate(ctx context.Context, enabled bool, req Request) (Result, error) {
	const op = "validate"
	key := ir.VariableKey{Namespace: req.Namespace, Name: req.Name}

	if len(req.Payload) == 0 {
		if enabled {
			return Result{}, v.reject("unsigned", engine.NewError(op, engine.ErrCodeSecurityViolation,
				"%s: unsigned write to authenticated variable", key))
		}
		v.metrics.ObserveValidation("bypassed")
		return Result{}, nil
	}

	p, err := ParsePayload(req.Payload)
	if err != nil {
		if !enabled {
			v.metrics.ObserveValidation("bypassed")
			return v.bypassUnparsed(req), nil
		}
		return Result{}, v.reject("malformed", engine.WrapError(op, engine.ErrCodeSecurityViolation, err, "%s", key))
	}

	if !enabled {
		v.metrics.ObserveValidation("bypassed")
		return v.bypass(req, p), nil
	}

	if err := p.Timestamp.Validate(); err != nil || !p.Timestamp.Authenticated() {
		return Result{}, v.reject("bad_timestamp", engine.NewError(op, engine.ErrCodeSecurityViolation,
			"%s: timestamp %s not usable for authenticated writes", key, p.Timestamp))
	}

	tbs, err := BuildTBS(req.Namespace, req.Name, req.Attributes, p.Timestamp, p.Data)
	if err != nil {
		return Result{}, v.reject("malformed", engine.WrapError(op, engine.ErrCodeSecurityViolation, err, "%s", key))
	}
	id, err := v.verifier.Verify(p.CertType, p.CertData, tbs)
	if err != nil {
		return Result{}, v.reject("bad_signature", engine.WrapError(op, engine.ErrCodeSecurityViolation, err, "%s", key))
	}

	if err := v.checkTrust(op, key, req.Prior, id); err != nil {
		return Result{}, v.reject("untrusted", err)
	}

	if req.Prior != nil && !req.Prior.Timestamp.IsZero() && !p.Timestamp.After(req.Prior.Timestamp) {
		return Result{}, v.reject("stale_timestamp", engine.NewError(op, engine.ErrCodeSecurityViolation,
			"%s: timestamp %s not after %s", key, p.Timestamp, req.Prior.Timestamp))
	}

	v.metrics.ObserveValidation("ok")
	v.logger.Debug("authenticated write accepted",
		"variable", key.String(),
		"signer", id.ID,
		"subject", id.Subject,
		"timestamp", p.Timestamp.String(),
		"size", len(p.Data))
	return Result{Data: bytes.Clone(p.Data), Timestamp: p.Timestamp, Signer: id.ID}, nil
}

func (v *Validator) checkTrust(op string, key ir.VariableKey, prior *ir.Variable, id Identity) error {
	if prior != nil && prior.Signer != "" {
		if id.ID != prior.Signer {
			return engine.NewError(op, engine.ErrCodeSecurityViolation,
				"%s: signer %s is not the variable's signer", key, id.Subject)
		}
		return nil
	}
	if len(v.trusted) == 0 {
		return nil
	}
	if _, ok := v.trusted[id.Fingerprint]; !ok {
		return engine.NewError(op, engine.ErrCodeSecurityViolation,
			"%s: signer %s (%s) is not trusted", key, id.Subject, id.Fingerprint)
	}
	return nil
}

func (v *Validator) bypass(req Request, p Payload) Result {
	res := Result{Data: bytes.Clone(p.Data), Timestamp: p.Timestamp}
	if req.Prior != nil {
		res.Signer = req.Prior.Signer
	}
	tbs, err := BuildTBS(req.Namespace, req.Name, req.Attributes, p.Timestamp, p.Data)
	if err != nil {
		return res
	}
	if id, err := v.verifier.Verify(p.CertType, p.CertData, tbs); err == nil {
		res.Signer = id.ID
	}
	return res
}

func (v *Validator) bypassUnparsed(req Request) Result {
	res := Result{Data: bytes.Clone(req.Payload)}
	if req.Prior != nil {
		res.Timestamp = req.Prior.Timestamp
		res.Signer = req.Prior.Signer
	}
	return res
}

func (v *Validator) reject(result string, err error) error {
	v.metrics.ObserveValidation(result)
	v.logger.Warn("authenticated write rejected", "reason", result, "error", err)
	return err
}

// Package auth validates updates to time-based authenticated variables.
//
// An authenticated write carries a payload: a timestamp, a certificate
// block holding a signature, and the new data. The signature covers the
// TBS ("to be signed") bytes rebuilt from the variable identity, the
// attributes, the timestamp and the data. The validator checks the
// signature, the signer's trust and timestamp monotonicity before the
// variable service commits the write.
//
// Signatures are JWS compact serializations with a detached payload and
// the signer's certificate chain in the x5c header.
package auth

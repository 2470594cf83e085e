package store

import (
	"fmt"

	"github.com/roach88/varpol/internal/ir"
)

// marshalTimestamp encodes ts for the timestamp column. A zero timestamp
// is stored as NULL, so the result is an untyped nil rather than a nil
// slice.
func marshalTimestamp(ts ir.Timestamp) (any, error) {
	if ts.IsZero() {
		return nil, nil
	}
	b, err := ts.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	return b, nil
}

func unmarshalTimestamp(b []byte) (ir.Timestamp, error) {
	var ts ir.Timestamp
	if len(b) == 0 {
		return ts, nil
	}
	if err := ts.UnmarshalBinary(b); err != nil {
		return ir.Timestamp{}, fmt.Errorf("unmarshal timestamp: %w", err)
	}
	return ts, nil
}

func unmarshalNamespace(b []byte) (ir.Namespace, error) {
	var ns ir.Namespace
	if len(b) != ir.NamespaceSize {
		return ns, fmt.Errorf("unmarshal namespace: %d bytes", len(b))
	}
	copy(ns[:], b)
	return ns, nil
}

// unmarshalEntry decodes a journaled policy entry, which must be exactly
// one entry.
func unmarshalEntry(b []byte) (ir.Policy, error) {
	p, n, err := ir.UnmarshalPolicy(b)
	if err != nil {
		return ir.Policy{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	if n != len(b) {
		return ir.Policy{}, fmt.Errorf("unmarshal entry: %d trailing bytes", len(b)-n)
	}
	return p, nil
}

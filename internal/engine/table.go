package engine

import (
	"bytes"

	"github.com/roach88/varpol/internal/ir"
)

// Table holds the registered policies of one session in registration
// order. Registration order is the tie-break for equally specific
// matches, so entries are never reordered.
//
// Table is not safe for concurrent use; the Engine guards it.
type Table struct {
	records []ir.PolicyRecord
	seq     int64
}

// Len returns the number of registered policies.
func (t *Table) Len() int {
	return len(t.records)
}

// Lookup returns the record whose target equals p's target, if any.
func (t *Table) Lookup(p ir.Policy) (ir.PolicyRecord, bool) {
	for _, rec := range t.records {
		if rec.Policy.SameTarget(p) {
			return rec, true
		}
	}
	return ir.PolicyRecord{}, false
}

// Records returns a deep copy of the registered policies.
func (t *Table) Records() []ir.PolicyRecord {
	out := make([]ir.PolicyRecord, len(t.records))
	for i, rec := range t.records {
		rec.Policy = clonePolicy(rec.Policy)
		out[i] = rec
	}
	return out
}

func (t *Table) nextSeq() int64 {
	return t.seq + 1
}

func (t *Table) insert(rec ir.PolicyRecord) {
	rec.Policy = clonePolicy(rec.Policy)
	t.records = append(t.records, rec)
	if rec.Seq > t.seq {
		t.seq = rec.Seq
	}
}

func (t *Table) clear() {
	t.records = nil
	t.seq = 0
}

// encode serializes the table in registration order.
func (t *Table) encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range t.records {
		enc, err := ir.MarshalPolicy(rec.Policy)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// clonePolicy copies p so later mutation of the caller's value cannot
// reach a stored entry.
func clonePolicy(p ir.Policy) ir.Policy {
	if p.Trigger != nil {
		t := *p.Trigger
		t.Value = bytes.Clone(t.Value)
		p.Trigger = &t
	}
	return p
}

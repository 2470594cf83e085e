package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Encoded policy entry layout, little-endian and packed:
//
//	offset  size  field
//	0       4     Version
//	4       2     Size (whole entry, names included)
//	6       2     OffsetToName (== Size when the policy has no name)
//	8       16    Namespace
//	24      4     MinSize
//	28      4     MaxSize
//	32      4     AttributesMustHave
//	36      4     AttributesCantHave
//	40      1     LockPolicyType
//	41      3     Reserved
//
// LockOnVarState entries continue at offset 44 with the trigger block:
//
//	44      16    TriggerNamespace
//	60      1     Value
//	61      1     Flags
//	62      -     TriggerName, UTF-16LE, NUL-terminated
//
// The target name, UTF-16LE and NUL-terminated, occupies
// [OffsetToName, Size).
const (
	EntryHeaderSize   = 44
	TriggerHeaderSize = 18

	// triggerFlagInert marks a trigger whose value was not exactly one byte.
	triggerFlagInert = 0x01
)

var (
	// ErrShortEntry is returned when a buffer ends inside an entry.
	ErrShortEntry = errors.New("truncated policy entry")

	// ErrEntryTooLarge is returned when names push an entry past 64 KiB.
	ErrEntryTooLarge = errors.New("policy entry exceeds maximum encoded size")
)

// EncodedSize returns the number of bytes MarshalPolicy would produce.
func EncodedSize(p Policy) (int, error) {
	b, err := MarshalPolicy(p)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// MarshalPolicy encodes p as a self-describing entry.
// The policy is not validated; callers validate first.
func MarshalPolicy(p Policy) ([]byte, error) {
	var name []byte
	if !p.NamespaceWide() {
		var err error
		if name, err = EncodeNameZ(p.Name); err != nil {
			return nil, err
		}
	}

	var trigger []byte
	if p.LockType == LockOnVarState && p.Trigger != nil {
		tname, err := EncodeNameZ(p.Trigger.Name)
		if err != nil {
			return nil, err
		}
		trigger = make([]byte, 0, TriggerHeaderSize+len(tname))
		trigger = append(trigger, p.Trigger.Namespace[:]...)
		if p.Trigger.Armed() {
			trigger = append(trigger, p.Trigger.Value[0], 0)
		} else {
			trigger = append(trigger, 0, triggerFlagInert)
		}
		trigger = append(trigger, tname...)
	}

	size := EntryHeaderSize + len(trigger) + len(name)
	if size > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, size)
	}

	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, p.Version)
	b = binary.LittleEndian.AppendUint16(b, uint16(size))
	b = binary.LittleEndian.AppendUint16(b, uint16(size-len(name)))
	b = append(b, p.Namespace[:]...)
	b = binary.LittleEndian.AppendUint32(b, p.MinSize)
	b = binary.LittleEndian.AppendUint32(b, p.MaxSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(p.MustHave))
	b = binary.LittleEndian.AppendUint32(b, uint32(p.CantHave))
	b = append(b, byte(p.LockType), 0, 0, 0)
	b = append(b, trigger...)
	b = append(b, name...)
	return b, nil
}

// UnmarshalPolicy decodes the entry at the start of b and returns the
// number of bytes it occupies.
func UnmarshalPolicy(b []byte) (Policy, int, error) {
	if len(b) < EntryHeaderSize {
		return Policy{}, 0, fmt.Errorf("%w: %d bytes", ErrShortEntry, len(b))
	}

	size := int(binary.LittleEndian.Uint16(b[4:6]))
	nameOff := int(binary.LittleEndian.Uint16(b[6:8]))
	if size < EntryHeaderSize {
		return Policy{}, 0, &FieldError{Field: "size", Message: fmt.Sprintf("entry size %d smaller than header", size)}
	}
	if size > len(b) {
		return Policy{}, 0, fmt.Errorf("%w: entry declares %d bytes, %d available", ErrShortEntry, size, len(b))
	}
	if nameOff < EntryHeaderSize || nameOff > size {
		return Policy{}, 0, &FieldError{Field: "offset_to_name", Message: fmt.Sprintf("offset %d outside entry of %d bytes", nameOff, size)}
	}

	p := Policy{
		Version:  binary.LittleEndian.Uint32(b[0:4]),
		MinSize:  binary.LittleEndian.Uint32(b[24:28]),
		MaxSize:  binary.LittleEndian.Uint32(b[28:32]),
		MustHave: Attributes(binary.LittleEndian.Uint32(b[32:36])),
		CantHave: Attributes(binary.LittleEndian.Uint32(b[36:40])),
		LockType: LockType(b[40]),
	}
	copy(p.Namespace[:], b[8:24])

	if p.LockType == LockOnVarState {
		if nameOff < EntryHeaderSize+TriggerHeaderSize {
			return Policy{}, 0, &FieldError{Field: "trigger", Message: "trigger block truncated"}
		}
		block := b[EntryHeaderSize:nameOff]
		t := &Trigger{}
		copy(t.Namespace[:], block[:NamespaceSize])
		if block[17]&triggerFlagInert == 0 {
			t.Value = []byte{block[16]}
		}
		tname, n, err := DecodeNameZ(block[TriggerHeaderSize:])
		if err != nil {
			return Policy{}, 0, &FieldError{Field: "trigger.name", Message: err.Error()}
		}
		if TriggerHeaderSize+n != len(block) {
			return Policy{}, 0, &FieldError{Field: "trigger.name", Message: "trailing bytes after trigger name"}
		}
		t.Name = tname
		p.Trigger = t
	} else if nameOff != EntryHeaderSize {
		return Policy{}, 0, &FieldError{Field: "offset_to_name", Message: "unexpected bytes between header and name"}
	}

	if nameOff < size {
		name, n, err := DecodeNameZ(b[nameOff:size])
		if err != nil {
			return Policy{}, 0, &FieldError{Field: "name", Message: err.Error()}
		}
		if nameOff+n != size {
			return Policy{}, 0, &FieldError{Field: "name", Message: "trailing bytes after name"}
		}
		if name == "" {
			return Policy{}, 0, &FieldError{Field: "name", Message: "empty name must be encoded as absent"}
		}
		p.Name = name
	}

	return p, size, nil
}

// AppendPolicyTable encodes policies back to back.
func AppendPolicyTable(b []byte, policies []Policy) ([]byte, error) {
	for i, p := range policies {
		enc, err := MarshalPolicy(p)
		if err != nil {
			return nil, fmt.Errorf("policy[%d]: %w", i, err)
		}
		b = append(b, enc...)
	}
	return b, nil
}

// ParsePolicyTable decodes a dump produced by AppendPolicyTable, walking
// entries by their declared sizes.
func ParsePolicyTable(b []byte) ([]Policy, error) {
	var out []Policy
	for off := 0; off < len(b); {
		p, n, err := UnmarshalPolicy(b[off:])
		if err != nil {
			return nil, fmt.Errorf("entry at offset %d: %w", off, err)
		}
		out = append(out, p)
		off += n
	}
	return out, nil
}

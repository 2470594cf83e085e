package ir

import (
	"fmt"
	"math"
	"strings"
)

// LockType selects how a policy write-locks its targets.
type LockType uint8

// Lock types, numbered as in the encoded entry.
const (
	LockNone       LockType = 0
	LockNow        LockType = 1
	LockOnCreate   LockType = 2
	LockOnVarState LockType = 3
)

// Valid reports whether l is a known lock type.
func (l LockType) Valid() bool {
	return l <= LockOnVarState
}

func (l LockType) String() string {
	switch l {
	case LockNone:
		return "NoLock"
	case LockNow:
		return "LockNow"
	case LockOnCreate:
		return "LockOnCreate"
	case LockOnVarState:
		return "LockOnVarState"
	default:
		return fmt.Sprintf("LockType(%d)", uint8(l))
	}
}

// ParseLockType accepts the String form or a snake_case alias
// ("no_lock", "lock_now", "lock_on_create", "lock_on_var_state").
func ParseLockType(s string) (LockType, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "nolock", "none":
		return LockNone, nil
	case "locknow", "now":
		return LockNow, nil
	case "lockoncreate", "oncreate":
		return LockOnCreate, nil
	case "lockonvarstate", "onvarstate":
		return LockOnVarState, nil
	}
	return 0, fmt.Errorf("unknown lock type %q", s)
}

// Policy entry constants.
const (
	// PolicyEntryRevision is the only accepted Policy.Version.
	PolicyEntryRevision uint32 = 0x00010000

	NoMinSize uint32 = 0
	NoMaxSize uint32 = math.MaxUint32

	NoMustAttributes Attributes = 0
	NoCantAttributes Attributes = 0
)

// Trigger names the variable whose value locks a LockOnVarState target.
// Value is expected to hold exactly one byte; any other length is kept
// but can never match, so the target never locks.
type Trigger struct {
	Namespace Namespace `json:"namespace"`
	Name      string    `json:"name"`
	Value     []byte    `json:"value"`
}

// Armed reports whether the trigger can ever fire.
func (t Trigger) Armed() bool {
	return len(t.Value) == 1
}

// Policy binds a (namespace, name pattern) to size, attribute and lock
// constraints. An empty Name applies to every name in the namespace.
type Policy struct {
	Version   uint32     `json:"version"`
	Namespace Namespace  `json:"namespace"`
	Name      string     `json:"name,omitempty"`
	MinSize   uint32     `json:"min_size"`
	MaxSize   uint32     `json:"max_size"`
	MustHave  Attributes `json:"must_have"`
	CantHave  Attributes `json:"cant_have"`
	LockType  LockType   `json:"lock_type"`
	Trigger   *Trigger   `json:"trigger,omitempty"`
}

// NewPolicy returns an unconstrained policy of the current revision.
func NewPolicy(ns Namespace, name string, lock LockType) Policy {
	return Policy{
		Version:   PolicyEntryRevision,
		Namespace: ns,
		Name:      name,
		MinSize:   NoMinSize,
		MaxSize:   NoMaxSize,
		LockType:  lock,
	}
}

// NewVarStatePolicy returns a LockOnVarState policy locking (ns, name)
// while (trigger.Namespace, trigger.Name) holds trigger.Value.
func NewVarStatePolicy(ns Namespace, name string, trigger Trigger) Policy {
	p := NewPolicy(ns, name, LockOnVarState)
	p.Trigger = &trigger
	return p
}

// NamespaceWide reports whether the policy has no name.
func (p Policy) NamespaceWide() bool {
	return p.Name == ""
}

// Wildcards counts placeholder positions in the name.
func (p Policy) Wildcards() int {
	n := 0
	for _, u := range CodeUnits(p.Name) {
		if u == Wildcard {
			n++
		}
	}
	return n
}

// SameTarget reports whether two policies share namespace and name pattern.
func (p Policy) SameTarget(o Policy) bool {
	return p.Namespace == o.Namespace && p.Name == o.Name
}

// FieldError describes a malformed policy field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks structural well-formedness. It does not consult any
// other registered policy.
func (p Policy) Validate() error {
	if p.Version != PolicyEntryRevision {
		return &FieldError{Field: "version", Message: fmt.Sprintf("unsupported revision 0x%x", p.Version)}
	}
	if err := ValidateName(p.Name); err != nil {
		return &FieldError{Field: "name", Message: err.Error()}
	}
	if p.MinSize > p.MaxSize {
		return &FieldError{Field: "min_size", Message: fmt.Sprintf("min size %d exceeds max size %d", p.MinSize, p.MaxSize)}
	}
	if extra := p.MustHave &^ PolicyAttributeMask; extra != 0 {
		return &FieldError{Field: "must_have", Message: fmt.Sprintf("unrecognized attribute bits 0x%x", uint32(extra))}
	}
	if extra := p.CantHave &^ PolicyAttributeMask; extra != 0 {
		return &FieldError{Field: "cant_have", Message: fmt.Sprintf("unrecognized attribute bits 0x%x", uint32(extra))}
	}
	if !p.LockType.Valid() {
		return &FieldError{Field: "lock_type", Message: fmt.Sprintf("unknown lock type %d", uint8(p.LockType))}
	}

	if p.LockType != LockOnVarState {
		if p.Trigger != nil {
			return &FieldError{Field: "trigger", Message: "only LockOnVarState policies carry a trigger"}
		}
		return nil
	}
	if p.Trigger == nil {
		return &FieldError{Field: "trigger", Message: "LockOnVarState requires a trigger"}
	}
	if p.Trigger.Name == "" {
		return &FieldError{Field: "trigger.name", Message: "trigger name is required"}
	}
	if err := ValidateName(p.Trigger.Name); err != nil {
		return &FieldError{Field: "trigger.name", Message: err.Error()}
	}
	if HasWildcard(p.Trigger.Name) {
		return &FieldError{Field: "trigger.name", Message: "trigger name cannot contain wildcards"}
	}
	return nil
}

func (p Policy) String() string {
	name := p.Name
	if name == "" {
		name = "*"
	}
	return fmt.Sprintf("%s:%s(%s)", p.Namespace, name, p.LockType)
}

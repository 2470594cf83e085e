package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Attributes is the variable attribute bitmask.
type Attributes uint32

// Attribute bits.
const (
	AttrNonVolatile                       Attributes = 0x00000001
	AttrBootServiceAccess                 Attributes = 0x00000002
	AttrRuntimeAccess                     Attributes = 0x00000004
	AttrHardwareErrorRecord               Attributes = 0x00000008
	AttrAuthenticatedWriteAccess          Attributes = 0x00000010
	AttrTimeBasedAuthenticatedWriteAccess Attributes = 0x00000020
	AttrAppendWrite                       Attributes = 0x00000040
)

// PolicyAttributeMask is the set of bits a policy may require or forbid.
const PolicyAttributeMask = AttrNonVolatile | AttrBootServiceAccess | AttrRuntimeAccess

var attributeNames = []struct {
	bit   Attributes
	short string
}{
	{AttrNonVolatile, "NV"},
	{AttrBootServiceAccess, "BS"},
	{AttrRuntimeAccess, "RT"},
	{AttrHardwareErrorRecord, "HR"},
	{AttrAuthenticatedWriteAccess, "AW"},
	{AttrTimeBasedAuthenticatedWriteAccess, "AT"},
	{AttrAppendWrite, "AP"},
}

// Has reports whether every bit in mask is set.
func (a Attributes) Has(mask Attributes) bool {
	return a&mask == mask
}

// Any reports whether at least one bit in mask is set.
func (a Attributes) Any(mask Attributes) bool {
	return a&mask != 0
}

// TimeBasedAuthenticated reports whether writes must carry a signed,
// timestamped payload.
func (a Attributes) TimeBasedAuthenticated() bool {
	return a.Any(AttrTimeBasedAuthenticatedWriteAccess)
}

// String renders the mask as pipe-separated short names ("NV|BS|RT").
// Unknown bits are appended in hex.
func (a Attributes) String() string {
	if a == 0 {
		return "0"
	}
	var parts []string
	rest := a
	for _, n := range attributeNames {
		if a&n.bit != 0 {
			parts = append(parts, n.short)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseAttributes parses either a numeric mask ("0x7", "3") or a list of
// short names separated by '|' or ',' ("NV|BS", "nv,bs,rt").
func ParseAttributes(s string) (Attributes, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return Attributes(n), nil
	}

	var out Attributes
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		found := false
		for _, n := range attributeNames {
			if tok == n.short {
				out |= n.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown attribute %q", tok)
		}
	}
	return out, nil
}

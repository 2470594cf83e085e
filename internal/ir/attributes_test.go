package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributes_String(t *testing.T) {
	tests := []struct {
		attrs Attributes
		want  string
	}{
		{0, "0"},
		{AttrNonVolatile, "NV"},
		{AttrNonVolatile | AttrBootServiceAccess | AttrRuntimeAccess, "NV|BS|RT"},
		{AttrBootServiceAccess | AttrTimeBasedAuthenticatedWriteAccess, "BS|AT"},
		{AttrNonVolatile | 0x4000, "NV|0x4000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.attrs.String())
		})
	}
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		in   string
		want Attributes
	}{
		{"", 0},
		{"0x7", 7},
		{"3", 3},
		{"NV|BS", AttrNonVolatile | AttrBootServiceAccess},
		{"nv, rt", AttrNonVolatile | AttrRuntimeAccess},
		{"BS|AT", AttrBootServiceAccess | AttrTimeBasedAuthenticatedWriteAccess},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAttributes(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAttributes("NV|XX")
	assert.Error(t, err)
}

func TestAttributes_HasAny(t *testing.T) {
	a := AttrNonVolatile | AttrBootServiceAccess
	assert.True(t, a.Has(AttrNonVolatile))
	assert.False(t, a.Has(AttrNonVolatile|AttrRuntimeAccess))
	assert.True(t, a.Any(AttrNonVolatile|AttrRuntimeAccess))
	assert.False(t, a.TimeBasedAuthenticated())
}

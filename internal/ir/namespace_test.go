package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNamespace_FirmwareByteOrder(t *testing.T) {
	ns, err := ParseNamespace("3b389299-abaf-433b-a4a9-23c84402fcad")
	require.NoError(t, err)

	want := Namespace{
		0x99, 0x92, 0x38, 0x3b,
		0xaf, 0xab,
		0x3b, 0x43,
		0xa4, 0xa9, 0x23, 0xc8, 0x44, 0x02, 0xfc, 0xad,
	}
	assert.Equal(t, want, ns)
	assert.Equal(t, "3b389299-abaf-433b-a4a9-23c84402fcad", ns.String())
}

func TestParseNamespace_Braces(t *testing.T) {
	ns, err := ParseNamespace("{4c49a3aa-bcb0-544c-b5ba-34d955130dbe}")
	require.NoError(t, err)
	assert.Equal(t, "4c49a3aa-bcb0-544c-b5ba-34d955130dbe", ns.String())
}

func TestParseNamespace_Invalid(t *testing.T) {
	_, err := ParseNamespace("not-a-guid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-guid")
}

func TestNamespace_JSONRoundTrip(t *testing.T) {
	ns := MustParseNamespace("5d5ab4bb-cdc1-655d-c6cb-45ea66241ecf")

	data, err := json.Marshal(ns)
	require.NoError(t, err)
	assert.Equal(t, `"5d5ab4bb-cdc1-655d-c6cb-45ea66241ecf"`, string(data))

	var back Namespace
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ns, back)
}

func TestNamespace_IsZero(t *testing.T) {
	assert.True(t, Namespace{}.IsZero())
	assert.False(t, GlobalVariable.IsZero())
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/ir"
)

func TestFilter_Where(t *testing.T) {
	ns := testNamespace1
	yes := true

	where, params := Filter{}.where()
	assert.Empty(t, where)
	assert.Empty(t, params)

	where, params = Filter{Namespace: &ns, NamePrefix: "Bööt", MustHave: ir.AttrNonVolatile, Signed: &yes}.where()
	assert.Equal(t, " WHERE namespace = ? AND substr(name, 1, ?) = ? AND (attributes & ?) = ? AND signer != ''", where)
	assert.Equal(t, []any{ns[:], 4, "Bööt", int64(1), int64(1)}, params)
}

func TestFindVariables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	signed := createTestVariable(testNamespace1, "Boot0001", 1)
	signed.Attributes |= ir.AttrTimeBasedAuthenticatedWriteAccess
	signed.Signer = "signer-1"
	volatile := createTestVariable(testNamespace1, "Boot0002", 1)
	volatile.Attributes = ir.AttrBootServiceAccess

	for _, v := range []ir.Variable{
		signed,
		volatile,
		createTestVariable(testNamespace1, "BootOrder", 1),
		createTestVariable(testNamespace1, "boot0003", 1),
		createTestVariable(testNamespace2, "Boot0001", 1),
		createTestVariable(testNamespace1, "Boot%", 1),
	} {
		require.NoError(t, s.PutVariable(ctx, v))
	}

	ns1 := testNamespace1
	yes, no := true, false
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"Boot%", "Boot0001", "Boot0002", "BootOrder", "boot0003", "Boot0001"}},
		{"prefix is case sensitive", Filter{Namespace: &ns1, NamePrefix: "Boot0"}, []string{"Boot0001", "Boot0002"}},
		{"prefix is literal", Filter{NamePrefix: "Boot%"}, []string{"Boot%"}},
		{"must have", Filter{Namespace: &ns1, MustHave: ir.AttrNonVolatile | ir.AttrBootServiceAccess, NamePrefix: "Boot0"}, []string{"Boot0001"}},
		{"signed", Filter{Signed: &yes}, []string{"Boot0001"}},
		{"unsigned", Filter{Namespace: &ns1, Signed: &no, NamePrefix: "Boot0"}, []string{"Boot0002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars, err := s.FindVariables(ctx, tt.filter)
			require.NoError(t, err)
			names := make([]string, len(vars))
			for i, v := range vars {
				names[i] = v.Name
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

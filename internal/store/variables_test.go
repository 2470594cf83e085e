package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/ir"
)

func TestPutGetVariable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v := createTestVariable(testNamespace1, "Boot0001", 0x01, 0x02)
	require.NoError(t, s.PutVariable(ctx, v))

	got, err := s.GetVariable(ctx, v.Key())
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestPutVariable_Replaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutVariable(ctx, createTestVariable(testNamespace1, "Var", 1)))
	updated := createTestVariable(testNamespace1, "Var", 2, 3)
	updated.Attributes = ir.AttrBootServiceAccess
	require.NoError(t, s.PutVariable(ctx, updated))

	got, err := s.GetVariable(ctx, updated.Key())
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestPutVariable_AuthMetadata(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v := createTestVariable(testNamespace1, "db", 0xaa)
	v.Attributes |= ir.AttrTimeBasedAuthenticatedWriteAccess
	v.Timestamp = ir.Timestamp{Year: 2025, Month: 4, Day: 30, Hour: 12}
	v.Signer = "signer-id"
	require.NoError(t, s.PutVariable(ctx, v))

	got, err := s.GetVariable(ctx, v.Key())
	require.NoError(t, err)
	assert.Equal(t, v.Timestamp, got.Timestamp)
	assert.Equal(t, "signer-id", got.Signer)
}

func TestPutVariable_RejectsEmptyData(t *testing.T) {
	s := createTestStore(t)
	err := s.PutVariable(context.Background(), createTestVariable(testNamespace1, "Empty"))
	assert.Error(t, err)
}

func TestGetVariable_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetVariable(context.Background(), ir.VariableKey{Namespace: testNamespace1, Name: "Missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ir.VariableKey{Namespace: testNamespace1, Name: "Trigger"}

	_, found, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.PutVariable(ctx, createTestVariable(testNamespace1, "Trigger", 0x7e)))
	v, found, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x7e}, v.Data)
}

func TestLookup_NameAndNamespaceBothMatter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutVariable(ctx, createTestVariable(testNamespace1, "Var", 1)))

	_, found, err := s.Lookup(ctx, ir.VariableKey{Namespace: testNamespace2, Name: "Var"})
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Lookup(ctx, ir.VariableKey{Namespace: testNamespace1, Name: "var"})
	require.NoError(t, err)
	assert.False(t, found, "names are case-sensitive")
}

func TestDeleteVariable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	v := createTestVariable(testNamespace1, "Var", 1)
	require.NoError(t, s.PutVariable(ctx, v))

	require.NoError(t, s.DeleteVariable(ctx, v.Key()))
	_, err := s.GetVariable(ctx, v.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteVariable(ctx, v.Key()), ErrNotFound)
}

func TestListVariables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListVariables(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, v := range []ir.Variable{
		createTestVariable(testNamespace2, "B", 1),
		createTestVariable(testNamespace1, "b", 1),
		createTestVariable(testNamespace1, "A", 1),
	} {
		require.NoError(t, s.PutVariable(ctx, v))
	}

	all, err := s.ListVariables(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
	assert.Equal(t, testNamespace2, all[2].Namespace)

	ns2 := testNamespace2
	filtered, err := s.ListVariables(ctx, &ns2)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "B", filtered[0].Name)
}

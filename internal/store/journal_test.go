package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/ir"
)

func testRecord(t *testing.T, seq int64, p ir.Policy) ir.PolicyRecord {
	t.Helper()
	id, err := ir.PolicyID(p)
	require.NoError(t, err)
	return ir.PolicyRecord{Seq: seq, ID: id, Policy: p}
}

func TestLoadSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LoadSession(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSession_Upserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, ir.SessionState{ID: "s1", Enabled: true}))
	require.NoError(t, s.SaveSession(ctx, ir.SessionState{ID: "s1", Enabled: false, Locked: true}))

	st, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.SessionState{ID: "s1", Enabled: false, Locked: true}, st)
}

func TestAppendPolicy_LoadInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	recs := []ir.PolicyRecord{
		testRecord(t, 1, ir.NewPolicy(testNamespace1, "B", ir.LockNow)),
		testRecord(t, 2, ir.NewPolicy(testNamespace1, "A##", ir.LockOnCreate)),
		testRecord(t, 3, ir.NewVarStatePolicy(testNamespace2, "", ir.Trigger{
			Namespace: testNamespace1,
			Name:      "Trigger",
			Value:     []byte{0x7e},
		})),
	}
	// Journal out of order; load must follow seq.
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.AppendPolicy(ctx, "s1", recs[i]))
	}
	require.NoError(t, s.AppendPolicy(ctx, "other", testRecord(t, 1, ir.NewPolicy(testNamespace2, "X", ir.LockNone))))

	got, err := s.LoadPolicies(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestAppendPolicy_DuplicateSeqRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendPolicy(ctx, "s1", testRecord(t, 1, ir.NewPolicy(testNamespace1, "A", ir.LockNow))))
	err := s.AppendPolicy(ctx, "s1", testRecord(t, 1, ir.NewPolicy(testNamespace1, "B", ir.LockNow)))
	assert.Error(t, err)
}

func TestResetSession_ClearsPolicies(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, ir.SessionState{ID: "s1", Enabled: false, Locked: true}))
	require.NoError(t, s.AppendPolicy(ctx, "s1", testRecord(t, 1, ir.NewPolicy(testNamespace1, "A", ir.LockNow))))

	require.NoError(t, s.ResetSession(ctx, ir.SessionState{ID: "s2", Enabled: true}))

	st, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.SessionState{ID: "s2", Enabled: true}, st)

	old, err := s.LoadPolicies(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestLoadPolicies_Empty(t *testing.T) {
	s := createTestStore(t)
	recs, err := s.LoadPolicies(context.Background(), "none")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

package lockshim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
)

var testNamespace = ir.MustParseNamespace("3b389299-abaf-433b-a4a9-23c84402fcad")

func newShim(t *testing.T) (*Shim, *engine.Engine) {
	t.Helper()
	eng := engine.New(nil)
	return New(eng, nil), eng
}

func TestRequestToLock_RegistersLockNow(t *testing.T) {
	shim, eng := newShim(t)
	ctx := context.Background()

	require.NoError(t, shim.RequestToLock(ctx, testNamespace, "Var"))

	p, ok := eng.Resolve(testNamespace, "Var")
	require.True(t, ok)
	assert.Equal(t, ir.LockNow, p.LockType)
	assert.True(t, engine.IsWriteProtected(eng.Authorize(ctx, engine.WriteRequest{
		Namespace: testNamespace, Name: "Var", Size: 1,
	})))
}

func TestRequestToLock_Repeated(t *testing.T) {
	shim, _ := newShim(t)
	ctx := context.Background()

	require.NoError(t, shim.RequestToLock(ctx, testNamespace, "Var"))
	assert.NoError(t, shim.RequestToLock(ctx, testNamespace, "Var"))
}

func TestRequestToLock_ExistingNonLockingPolicy(t *testing.T) {
	shim, eng := newShim(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, ir.NewPolicy(testNamespace, "Var", ir.LockOnCreate)))

	err := shim.RequestToLock(ctx, testNamespace, "Var")
	assert.True(t, engine.IsAlreadyExists(err))
}

func TestRequestToLock_WildcardDoesNotCount(t *testing.T) {
	shim, eng := newShim(t)
	ctx := context.Background()

	// The wildcard policy does not collide with the exact target, so the
	// exact LockNow policy is simply registered.
	require.NoError(t, eng.Register(ctx, ir.NewPolicy(testNamespace, "Var#", ir.LockNow)))
	require.NoError(t, shim.RequestToLock(ctx, testNamespace, "Var1"))
	assert.Len(t, eng.Policies(), 2)
}

func TestRequestToLock_AfterLock(t *testing.T) {
	shim, eng := newShim(t)
	ctx := context.Background()
	require.NoError(t, eng.Lock(ctx))

	err := shim.RequestToLock(ctx, testNamespace, "Var")
	assert.True(t, engine.IsAlreadyLocked(err))
}

func TestRequestToLock_EmptyName(t *testing.T) {
	shim, _ := newShim(t)
	err := shim.RequestToLock(context.Background(), testNamespace, "")
	assert.True(t, engine.IsInvalidParameter(err))
}

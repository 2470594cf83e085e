package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/varpol/internal/ir"
)

var (
	testNamespace1 = ir.MustParseNamespace("3b389299-abaf-433b-a4a9-23c84402fcad")
	testNamespace2 = ir.MustParseNamespace("4c49a3aa-bcb0-544c-b5ba-34d955130dbe")
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestVariable creates a plain non-volatile variable.
func createTestVariable(ns ir.Namespace, name string, data ...byte) ir.Variable {
	return ir.Variable{
		Namespace:  ns,
		Name:       name,
		Attributes: ir.AttrNonVolatile | ir.AttrBootServiceAccess | ir.AttrRuntimeAccess,
		Data:       data,
	}
}

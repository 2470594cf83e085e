package engine

import (
	"context"
	"fmt"

	"github.com/roach88/varpol/internal/ir"
)

// VariableReader is the read side of the persistent variable store.
type VariableReader interface {
	// Lookup returns the variable and true, or false when it does not exist.
	Lookup(ctx context.Context, key ir.VariableKey) (ir.Variable, bool, error)
}

// StateEvaluator resolves LockOnVarState policies against the current
// value of their trigger variable. Nothing is cached: every call reads the
// store again.
type StateEvaluator struct {
	reader VariableReader
}

// NewStateEvaluator creates an evaluator reading from r. A nil reader
// behaves like an empty store.
func NewStateEvaluator(r VariableReader) *StateEvaluator {
	return &StateEvaluator{reader: r}
}

// Locked reports whether trigger currently locks its target: the trigger
// variable exists, holds exactly one byte, and that byte equals the
// trigger value.
func (s *StateEvaluator) Locked(ctx context.Context, trigger ir.Trigger) (bool, error) {
	if !trigger.Armed() || s.reader == nil {
		return false, nil
	}
	v, found, err := s.reader.Lookup(ctx, ir.VariableKey{Namespace: trigger.Namespace, Name: trigger.Name})
	if err != nil {
		return false, fmt.Errorf("read trigger %s:%s: %w", trigger.Namespace, trigger.Name, err)
	}
	if !found || len(v.Data) != 1 {
		return false, nil
	}
	return v.Data[0] == trigger.Value[0], nil
}

// lockState determines whether p write-locks its target right now.
func (e *Engine) lockState(ctx context.Context, p ir.Policy, exists bool) (bool, error) {
	switch p.LockType {
	case ir.LockNow:
		return true, nil
	case ir.LockOnCreate:
		return exists, nil
	case ir.LockOnVarState:
		if p.Trigger == nil {
			return false, nil
		}
		return e.states.Locked(ctx, *p.Trigger)
	default:
		return false, nil
	}
}

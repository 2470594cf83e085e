// Package lockshim provides the legacy "request to lock" interface on top
// of the policy engine. New code registers policies directly.
package lockshim

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
)

// PolicyTable is the part of the engine the shim needs.
type PolicyTable interface {
	Register(ctx context.Context, p ir.Policy) error
	DumpTable() ([]byte, error)
}

// Shim translates lock requests into LockNow policies.
type Shim struct {
	table  PolicyTable
	logger *slog.Logger
}

// New creates a shim over table. A nil logger discards.
func New(table PolicyTable, logger *slog.Logger) *Shim {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Shim{table: table, logger: logger}
}

// RequestToLock makes (ns, name) read-only by registering an
// unconstrained LockNow policy for it.
//
// If a policy for the same target already exists, the request still
// succeeds when the table's best match for the variable is an exact-name
// LockNow entry; any other existing policy leaves the original
// AlreadyExists error in place.
func (s *Shim) RequestToLock(ctx context.Context, ns ir.Namespace, name string) error {
	s.logger.Warn("deprecated request-to-lock interface used", "namespace", ns.String(), "name", name)

	if name == "" {
		return engine.NewError("request_to_lock", engine.ErrCodeInvalidParameter, "variable name is empty")
	}

	err := s.table.Register(ctx, ir.NewPolicy(ns, name, ir.LockNow))
	if engine.IsAlreadyExists(err) {
		locked, lerr := s.alreadyLocked(ns, name)
		if lerr != nil {
			s.logger.Error("cannot inspect policy table", "error", lerr)
		}
		if locked {
			return nil
		}
	}
	if err != nil {
		s.logger.Error("failed to lock variable", "namespace", ns.String(), "name", name, "error", err)
	}
	return err
}

func (s *Shim) alreadyLocked(ns ir.Namespace, name string) (bool, error) {
	dump, err := s.table.DumpTable()
	if err != nil {
		return false, fmt.Errorf("dump: %w", err)
	}
	policies, err := ir.ParsePolicyTable(dump)
	if err != nil {
		return false, fmt.Errorf("parse dump: %w", err)
	}

	idx, prio, ok := engine.BestMatch(policies, ns, name)
	if !ok {
		return false, nil
	}
	if prio != engine.PriorityExact {
		s.logger.Debug("existing policy is not an exact match", "priority", prio)
		return false, nil
	}
	if policies[idx].LockType != ir.LockNow {
		s.logger.Debug("existing policy may not lock variable", "lock_type", policies[idx].LockType.String())
		return false, nil
	}
	return true, nil
}

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/metrics"
)

// Journal persists session state so that a session can be restored by a
// later process. Every mutation is journaled before it becomes visible;
// a journal failure leaves the engine unchanged.
type Journal interface {
	AppendPolicy(ctx context.Context, sessionID string, rec ir.PolicyRecord) error
	SaveSession(ctx context.Context, st ir.SessionState) error
	// ResetSession discards every journaled policy and records st as the
	// current session.
	ResetSession(ctx context.Context, st ir.SessionState) error
}

// WriteRequest describes an attempted variable write.
// Size 0 is a delete.
type WriteRequest struct {
	Namespace  ir.Namespace
	Name       string
	Attributes ir.Attributes
	Size       int
	Exists     bool
}

// Key returns the target variable identity.
func (r WriteRequest) Key() ir.VariableKey {
	return ir.VariableKey{Namespace: r.Namespace, Name: r.Name}
}

// Engine is the policy engine context. All state that the firmware keeps
// in globals lives here and is reached only through Engine methods.
//
// Thread-safety: every exported method runs inside the Guard.
//
// INVARIANTS:
//   - locked never returns to false within a session
//   - enabled never returns to true within a session
//   - Disable fails once locked
//   - table entries are never modified or individually removed
type Engine struct {
	guard    *Guard
	states   *StateEvaluator
	journal  Journal
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sessions SessionIDGenerator

	lockOnlyAtBootTime bool

	table     Table
	sessionID string
	enabled   bool
	locked    bool
	finalized bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: none.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithJournal sets the persistence journal. Default: none (memory only).
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithSessionIDGenerator sets the boot-session ID source.
// Default: UUIDv7Generator.
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(e *Engine) {
		e.sessions = g
	}
}

// WithLockOnlyAtBootTime controls whether the Guard stops excluding after
// EnterRuntime. Default: true.
func WithLockOnlyAtBootTime(v bool) Option {
	return func(e *Engine) {
		e.lockOnlyAtBootTime = v
	}
}

// New creates an enabled, unlocked engine with an empty table.
// reader is consulted for LockOnVarState triggers.
func New(reader VariableReader, opts ...Option) *Engine {
	e := &Engine{
		states:             NewStateEvaluator(reader),
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions:           UUIDv7Generator{},
		lockOnlyAtBootTime: true,
		enabled:            true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard = NewGuard(e.lockOnlyAtBootTime)
	e.sessionID = e.sessions.Generate()
	return e
}

// Restore loads a previously journaled session. Policies are revalidated
// and must be free of duplicate targets.
func (e *Engine) Restore(st ir.SessionState, records []ir.PolicyRecord) error {
	return e.guard.Do(func() error {
		var table Table
		for _, rec := range records {
			if err := rec.Policy.Validate(); err != nil {
				return WrapError("restore", ErrCodeInvalidParameter, err, "journaled policy %d", rec.Seq)
			}
			if _, dup := table.Lookup(rec.Policy); dup {
				return NewError("restore", ErrCodeAlreadyExists, "journaled policy %d duplicates target %s", rec.Seq, rec.Policy)
			}
			table.insert(rec)
		}
		e.table = table
		e.sessionID = st.ID
		e.enabled = st.Enabled
		e.locked = st.Locked
		e.metrics.SetPolicies(e.table.Len())
		e.logger.Debug("session restored",
			"session", st.ID,
			"policies", e.table.Len(),
			"enabled", st.Enabled,
			"locked", st.Locked)
		return nil
	})
}

// Register validates p and adds it to the table.
//
// Fails with AlreadyLocked once the interface is locked, InvalidParameter
// for malformed fields, AlreadyExists when another policy has the same
// namespace and name pattern.
func (e *Engine) Register(ctx context.Context, p ir.Policy) error {
	const op = "register"
	return e.guard.Do(func() error {
		if e.locked {
			e.metrics.ObserveRegistration("already_locked")
			e.logger.Warn("registration after lock", "policy", p.String())
			return NewError(op, ErrCodeAlreadyLocked, "policy interface is locked")
		}
		if err := p.Validate(); err != nil {
			e.metrics.ObserveRegistration("invalid_parameter")
			e.logger.Warn("invalid policy rejected", "policy", p.String(), "error", err)
			return WrapError(op, ErrCodeInvalidParameter, err, "malformed policy")
		}
		id, err := ir.PolicyID(p)
		if err != nil {
			e.metrics.ObserveRegistration("invalid_parameter")
			return WrapError(op, ErrCodeInvalidParameter, err, "policy cannot be encoded")
		}
		if existing, dup := e.table.Lookup(p); dup {
			e.metrics.ObserveRegistration("already_exists")
			e.logger.Warn("duplicate policy target", "policy", p.String(), "existing", existing.ID)
			return NewError(op, ErrCodeAlreadyExists, "policy for %s already registered", p)
		}

		rec := ir.PolicyRecord{Seq: e.table.nextSeq(), ID: id, Policy: p}
		if e.journal != nil {
			if err := e.journal.AppendPolicy(ctx, e.sessionID, rec); err != nil {
				return fmt.Errorf("register: journal: %w", err)
			}
		}
		e.table.insert(rec)

		e.metrics.ObserveRegistration("ok")
		e.metrics.SetPolicies(e.table.Len())
		e.logger.Debug("policy registered",
			"id", id,
			"seq", rec.Seq,
			"namespace", p.Namespace.String(),
			"name", p.Name,
			"lock_type", p.LockType.String())
		return nil
	})
}

// Dump copies the encoded policy table into buf and returns the number of
// bytes written. If buf is too small (a nil probe included) it fails with
// BufferTooSmall and the error carries the required size; see
// RequiredSize. An empty table dumps zero bytes successfully.
func (e *Engine) Dump(buf []byte) (int, error) {
	var n int
	err := e.guard.Do(func() error {
		table, err := e.table.encode()
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		if len(buf) < len(table) {
			n = len(table)
			return &PolicyError{
				Code:     ErrCodeBufferTooSmall,
				Op:       "dump",
				Message:  fmt.Sprintf("need %d bytes, have %d", len(table), len(buf)),
				Required: len(table),
			}
		}
		n = copy(buf, table)
		return nil
	})
	return n, err
}

// DumpTable runs the size-then-fill protocol and returns the whole table.
func (e *Engine) DumpTable() ([]byte, error) {
	for {
		_, err := e.Dump(nil)
		if err == nil {
			return []byte{}, nil
		}
		size, ok := RequiredSize(err)
		if !ok {
			return nil, err
		}

		buf := make([]byte, size)
		n, err := e.Dump(buf)
		if _, grew := RequiredSize(err); grew {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
}

// Fingerprint returns a 64-bit xxhash of the encoded table as 16 hex
// digits. Equal tables have equal fingerprints.
func (e *Engine) Fingerprint() (string, error) {
	var sum uint64
	err := e.guard.Do(func() error {
		table, err := e.table.encode()
		if err != nil {
			return fmt.Errorf("fingerprint: %w", err)
		}
		sum = xxhash.Sum64(table)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", sum), nil
}

// Lock makes the policy interface read-only for the rest of the session.
// A second call fails with AlreadyLocked and leaves the engine locked.
func (e *Engine) Lock(ctx context.Context) error {
	return e.guard.Do(func() error {
		if e.locked {
			e.logger.Warn("policy interface already locked", "session", e.sessionID)
			return NewError("lock", ErrCodeAlreadyLocked, "policy interface is already locked")
		}
		if err := e.saveSession(ctx, e.enabled, true); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		e.locked = true
		e.metrics.ObserveTransition("lock")
		e.logger.Info("policy interface locked", "session", e.sessionID, "policies", e.table.Len())
		return nil
	})
}

// Disable turns enforcement off for the rest of the session.
// Fails with AccessDenied once locked, AlreadyExists when already disabled.
func (e *Engine) Disable(ctx context.Context) error {
	return e.guard.Do(func() error {
		if e.locked {
			e.logger.Warn("disable after lock refused", "session", e.sessionID)
			return NewError("disable", ErrCodeAccessDenied, "policy interface is locked")
		}
		if !e.enabled {
			return NewError("disable", ErrCodeAlreadyExists, "policy enforcement is already disabled")
		}
		if err := e.saveSession(ctx, false, e.locked); err != nil {
			return fmt.Errorf("disable: %w", err)
		}
		e.enabled = false
		e.metrics.ObserveTransition("disable")
		e.logger.Info("policy enforcement disabled", "session", e.sessionID)
		return nil
	})
}

// IsEnabled reports whether enforcement is active.
func (e *Engine) IsEnabled() bool {
	var enabled bool
	_ = e.guard.Do(func() error {
		enabled = e.enabled
		return nil
	})
	return enabled
}

// IsLocked reports whether the policy interface is locked.
func (e *Engine) IsLocked() bool {
	var locked bool
	_ = e.guard.Do(func() error {
		locked = e.locked
		return nil
	})
	return locked
}

// State returns the current session state.
func (e *Engine) State() ir.SessionState {
	var st ir.SessionState
	_ = e.guard.Do(func() error {
		st = e.stateLocked()
		return nil
	})
	return st
}

// Policies returns a copy of the registered policies in registration order.
func (e *Engine) Policies() []ir.PolicyRecord {
	var out []ir.PolicyRecord
	_ = e.guard.Do(func() error {
		out = e.table.Records()
		return nil
	})
	return out
}

// Resolve returns the policy governing (ns, name), if any.
func (e *Engine) Resolve(ns ir.Namespace, name string) (ir.Policy, bool) {
	var (
		p     ir.Policy
		found bool
	)
	_ = e.guard.Do(func() error {
		rec, _, ok := e.table.Resolve(ns, name)
		p, found = clonePolicy(rec.Policy), ok
		return nil
	})
	return p, found
}

// Authorize decides whether req may be committed.
func (e *Engine) Authorize(ctx context.Context, req WriteRequest) error {
	return e.guard.Do(func() error {
		return e.authorize(ctx, req)
	})
}

// Section is the engine view available inside Exclusive.
type Section struct {
	e *Engine
}

// Authorize is Engine.Authorize without re-entering the guard.
func (s Section) Authorize(ctx context.Context, req WriteRequest) error {
	return s.e.authorize(ctx, req)
}

// Enabled is Engine.IsEnabled without re-entering the guard.
func (s Section) Enabled() bool {
	return s.e.enabled
}

// Exclusive runs fn inside the engine's critical section, letting a
// caller combine a decision with its own commit atomically.
// fn must not call Engine methods; use the Section instead.
func (e *Engine) Exclusive(fn func(Section) error) error {
	return e.guard.Do(func() error {
		return fn(Section{e: e})
	})
}

func (e *Engine) authorize(ctx context.Context, req WriteRequest) error {
	const op = "authorize"

	if !e.enabled {
		e.metrics.ObserveDecision(true, "disabled")
		return nil
	}

	rec, prio, ok := e.table.Resolve(req.Namespace, req.Name)
	if !ok {
		e.metrics.ObserveDecision(true, "no_policy")
		return nil
	}
	p := rec.Policy

	locked, err := e.lockState(ctx, p, req.Exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if locked {
		e.deny("locked", req, rec, prio)
		return NewError(op, ErrCodeWriteProtected, "%s is locked by %s policy", req.Key(), p.LockType)
	}

	if req.Size == 0 {
		e.metrics.ObserveDecision(true, "delete")
		return nil
	}

	size := uint64(req.Size)
	if size < uint64(p.MinSize) || size > uint64(p.MaxSize) {
		e.deny("size", req, rec, prio)
		return NewError(op, ErrCodeWriteProtected, "%s: size %d outside [%d, %d]", req.Key(), req.Size, p.MinSize, p.MaxSize)
	}
	if !req.Attributes.Has(p.MustHave) {
		e.deny("attributes", req, rec, prio)
		return NewError(op, ErrCodeWriteProtected, "%s: attributes %s missing required %s", req.Key(), req.Attributes, p.MustHave)
	}
	if req.Attributes.Any(p.CantHave) {
		e.deny("attributes", req, rec, prio)
		return NewError(op, ErrCodeWriteProtected, "%s: attributes %s include forbidden %s", req.Key(), req.Attributes, p.CantHave)
	}

	e.metrics.ObserveDecision(true, "ok")
	return nil
}

func (e *Engine) deny(reason string, req WriteRequest, rec ir.PolicyRecord, prio int) {
	e.metrics.ObserveDecision(false, reason)
	e.logger.Debug("write denied",
		"reason", reason,
		"variable", req.Key().String(),
		"size", req.Size,
		"attributes", req.Attributes.String(),
		"policy", rec.ID,
		"priority", prio)
}

// Reset tears the session down and starts a new one: empty table,
// enabled, unlocked, fresh session ID. Reset is the only way to re-enable.
func (e *Engine) Reset(ctx context.Context) error {
	return e.guard.Do(func() error {
		st := ir.SessionState{ID: e.sessions.Generate(), Enabled: true}
		if e.journal != nil {
			if err := e.journal.ResetSession(ctx, st); err != nil {
				return fmt.Errorf("reset: journal: %w", err)
			}
		}
		prev := e.sessionID
		e.table.clear()
		e.sessionID = st.ID
		e.enabled = true
		e.locked = false
		e.metrics.SetPolicies(0)
		e.metrics.ObserveTransition("reset")
		e.logger.Info("policy engine reinitialized", "previous_session", prev, "session", st.ID)
		return nil
	})
}

// LockAtReadyToBoot locks the interface at the end of boot if nothing
// locked it earlier. Failure is logged, never returned.
func (e *Engine) LockAtReadyToBoot(ctx context.Context) {
	if e.IsLocked() {
		return
	}
	if err := e.Lock(ctx); err != nil {
		e.logger.Error("failed to lock policy interface at ready to boot", "error", err)
	}
}

// EnterRuntime performs the one-time runtime transition: the guard
// enters late mode and the finalize step runs. Later calls are no-ops.
func (e *Engine) EnterRuntime() {
	first := false
	_ = e.guard.Do(func() error {
		if !e.finalized {
			e.finalized = true
			first = true
		}
		return nil
	})
	if !first {
		return
	}
	e.guard.EnterLateMode()
	e.logger.Info("runtime transition", "session", e.SessionID(), "lock_only_at_boot_time", e.lockOnlyAtBootTime)
}

// SessionID returns the current boot-session identifier.
func (e *Engine) SessionID() string {
	var id string
	_ = e.guard.Do(func() error {
		id = e.sessionID
		return nil
	})
	return id
}

func (e *Engine) stateLocked() ir.SessionState {
	return ir.SessionState{ID: e.sessionID, Enabled: e.enabled, Locked: e.locked}
}

func (e *Engine) saveSession(ctx context.Context, enabled, locked bool) error {
	if e.journal == nil {
		return nil
	}
	return e.journal.SaveSession(ctx, ir.SessionState{ID: e.sessionID, Enabled: enabled, Locked: locked})
}

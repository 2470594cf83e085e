package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/varpol/internal/auth"
	"github.com/roach88/varpol/internal/bundle"
	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/lockshim"
	"github.com/roach88/varpol/internal/store"
	"github.com/roach88/varpol/internal/testutil"
	"github.com/roach88/varpol/internal/variable"
)

// DefaultSession is the session ID used when a scenario sets none.
const DefaultSession = "test-session"

// Harness is the scenario execution environment.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	service  *variable.Service
	shim     *lockshim.Shim
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	aliases     map[string]ir.Namespace
	names       map[ir.Namespace]string
	signers     map[string]*auth.JWSSigner
	signerNames map[string]string // signer ID -> signer name
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. A non-nil error means
// the scenario could not be executed at all; failed expectations and
// assertions are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(scenario, st)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	result := NewResult()

	for _, path := range scenario.Bundles {
		b, err := bundle.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load bundle: %w", err)
		}
		for i, p := range b.Policies {
			if err := h.engine.Register(ctx, p); err != nil {
				return nil, fmt.Errorf("bundle %s: policy %d: %w", path, i, err)
			}
		}
		h.logger.Debug("bundle registered", "path", path, "policies", len(b.Policies))
	}

	for i, step := range scenario.Setup {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
		ev.Phase = "setup"
		result.AddTrace(ev)
		if ev.Outcome != OutcomeSuccess {
			return nil, fmt.Errorf("setup step %d (%s): %s", i, step.Do, ev.Outcome)
		}
	}

	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		ev.Phase = "flow"
		result.AddTrace(ev)
		if step.Expect != "" && step.Expect != ev.Outcome {
			result.AddError(fmt.Sprintf("flow step %d (%s %s): expected %s, got %s",
				i, step.Do, ev.Target, step.Expect, ev.Outcome))
		}
	}

	state, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, st *store.Store) (*Harness, error) {
	session := s.Session
	if session == "" {
		session = DefaultSession
	}
	lockOnlyAtBootTime := true
	if s.LockOnlyAtBootTime != nil {
		lockOnlyAtBootTime = *s.LockOnlyAtBootTime
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock()
	eng := engine.New(st,
		engine.WithJournal(st),
		engine.WithLogger(logger),
		engine.WithSessionIDGenerator(testutil.NewFixedSessionGenerator(session)),
		engine.WithLockOnlyAtBootTime(lockOnlyAtBootTime),
	)
	validator := auth.NewValidator(
		auth.NewJWSVerifier(auth.WithVerifyTime(clock.Now)),
		auth.WithLogger(logger),
	)

	h := &Harness{
		scenario:    s,
		store:       st,
		engine:      eng,
		service:     variable.New(eng, st, validator, variable.WithLogger(logger)),
		shim:        lockshim.New(eng, logger),
		clock:       clock,
		logger:      logger,
		aliases:     make(map[string]ir.Namespace),
		names:       make(map[ir.Namespace]string),
		signers:     make(map[string]*auth.JWSSigner),
		signerNames: make(map[string]string),
	}
	for alias, text := range s.Namespaces {
		ns, err := ir.ParseNamespace(text)
		if err != nil {
			return nil, fmt.Errorf("namespace alias %q: %w", alias, err)
		}
		h.aliases[alias] = ns
		h.names[ns] = alias
	}
	if err := st.SaveSession(context.Background(), eng.State()); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return h, nil
}

// execute runs one step. Domain failures become the event's outcome; the
// returned error is reserved for malformed steps.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Step: step.Do}
	var opErr error

	switch step.Do {
	case StepRegister:
		p, err := h.policy(step.Policy)
		if err != nil {
			return ev, err
		}
		ev.Target = h.policyTarget(p)
		opErr = h.engine.Register(ctx, p)

	case StepWrite, StepDelete:
		req, err := h.setRequest(step.Variable)
		if err != nil {
			return ev, err
		}
		if step.Do == StepDelete {
			req.Data = nil
		}
		ev.Target = h.varTarget(req.Namespace, req.Name)
		opErr = h.service.Set(ctx, req)

	case StepAuthWrite:
		req, err := h.setRequest(step.Variable)
		if err != nil {
			return ev, err
		}
		signer, err := h.signer(step.Signer)
		if err != nil {
			return ev, err
		}
		ts := h.clock.Next()
		if step.Timestamp != nil {
			ts = ir.TimestampFromTime(testutil.ClockEpoch.Add(time.Duration(*step.Timestamp) * time.Second))
		}
		req.Data, err = signer.Seal(req.Namespace, req.Name, req.Attributes, ts, req.Data)
		if err != nil {
			return ev, fmt.Errorf("seal: %w", err)
		}
		ev.Target = h.varTarget(req.Namespace, req.Name)
		ev.Detail = step.Signer + "@" + ts.String()
		opErr = h.service.Set(ctx, req)

	case StepRequestLock:
		ns, err := h.namespace(step.Variable.Namespace)
		if err != nil {
			return ev, err
		}
		ev.Target = h.varTarget(ns, step.Variable.Name)
		opErr = h.shim.RequestToLock(ctx, ns, step.Variable.Name)

	case StepLock:
		opErr = h.engine.Lock(ctx)
	case StepDisable:
		opErr = h.engine.Disable(ctx)
	case StepReset:
		opErr = h.engine.Reset(ctx)
	case StepReadyToBoot:
		h.engine.LockAtReadyToBoot(ctx)
	case StepEnterRuntime:
		h.engine.EnterRuntime()

	case StepDump:
		table, err := h.engine.DumpTable()
		opErr = err
		if err == nil {
			policies, perr := ir.ParsePolicyTable(table)
			if perr != nil {
				return ev, fmt.Errorf("dump: %w", perr)
			}
			ev.Detail = strconv.Itoa(len(table)) + " bytes, " + strconv.Itoa(len(policies)) + " policies"
		}

	default:
		return ev, fmt.Errorf("unknown step %q", step.Do)
	}

	ev.Outcome = outcome(opErr)
	if opErr != nil {
		if _, ok := engine.CodeOf(opErr); !ok {
			ev.Detail = opErr.Error()
		}
	}
	return ev, nil
}

func outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if code, ok := engine.CodeOf(err); ok {
		return string(code)
	}
	return "ERROR"
}

func (h *Harness) namespace(s string) (ir.Namespace, error) {
	if ns, ok := h.aliases[s]; ok {
		return ns, nil
	}
	ns, err := ir.ParseNamespace(s)
	if err != nil {
		return ir.Namespace{}, fmt.Errorf("namespace %q: %w", s, err)
	}
	return ns, nil
}

func (h *Harness) nsName(ns ir.Namespace) string {
	if alias, ok := h.names[ns]; ok {
		return alias
	}
	return ns.String()
}

func (h *Harness) varTarget(ns ir.Namespace, name string) string {
	return h.nsName(ns) + ":" + name
}

func (h *Harness) policyTarget(p ir.Policy) string {
	name := p.Name
	if name == "" {
		name = "*"
	}
	return h.nsName(p.Namespace) + ":" + name + "(" + p.LockType.String() + ")"
}

// policy builds an entry without validating it; register does that.
func (h *Harness) policy(spec *PolicySpec) (ir.Policy, error) {
	ns, err := h.namespace(spec.Namespace)
	if err != nil {
		return ir.Policy{}, err
	}
	lock := ir.LockNone
	if spec.Lock != "" {
		if lock, err = ir.ParseLockType(spec.Lock); err != nil {
			return ir.Policy{}, err
		}
	}

	p := ir.NewPolicy(ns, spec.Name, lock)
	if spec.Version != nil {
		p.Version = *spec.Version
	}
	if spec.MinSize != nil {
		p.MinSize = *spec.MinSize
	}
	if spec.MaxSize != nil {
		p.MaxSize = *spec.MaxSize
	}
	if p.MustHave, err = ir.ParseAttributes(spec.MustHave); err != nil {
		return ir.Policy{}, fmt.Errorf("must_have: %w", err)
	}
	if p.CantHave, err = ir.ParseAttributes(spec.CantHave); err != nil {
		return ir.Policy{}, fmt.Errorf("cant_have: %w", err)
	}
	if spec.Trigger != nil {
		tns, err := h.namespace(spec.Trigger.Namespace)
		if err != nil {
			return ir.Policy{}, err
		}
		value, err := hex.DecodeString(spec.Trigger.Value)
		if err != nil {
			return ir.Policy{}, fmt.Errorf("trigger value: %w", err)
		}
		p.Trigger = &ir.Trigger{Namespace: tns, Name: spec.Trigger.Name, Value: value}
	}
	return p, nil
}

func (h *Harness) setRequest(spec *VariableSpec) (variable.SetRequest, error) {
	ns, err := h.namespace(spec.Namespace)
	if err != nil {
		return variable.SetRequest{}, err
	}
	attrs, err := ir.ParseAttributes(spec.Attributes)
	if err != nil {
		return variable.SetRequest{}, fmt.Errorf("attributes: %w", err)
	}
	data, err := hex.DecodeString(spec.Data)
	if err != nil {
		return variable.SetRequest{}, fmt.Errorf("data: %w", err)
	}
	return variable.SetRequest{Namespace: ns, Name: spec.Name, Attributes: attrs, Data: data}, nil
}

func (h *Harness) signer(name string) (*auth.JWSSigner, error) {
	if s, ok := h.signers[name]; ok {
		return s, nil
	}
	ts, err := testutil.DeriveSigner(name)
	if err != nil {
		return nil, fmt.Errorf("signer %q: %w", name, err)
	}
	s, err := auth.NewJWSSigner(ts.Key, ts.Certificate)
	if err != nil {
		return nil, fmt.Errorf("signer %q: %w", name, err)
	}
	h.signers[name] = s
	h.signerNames[s.Identity().ID] = name
	return s, nil
}

func (h *Harness) snapshot(ctx context.Context) (FinalState, error) {
	st := h.engine.State()
	state := FinalState{
		Session:   st.ID,
		Enabled:   st.Enabled,
		Locked:    st.Locked,
		Policies:  len(h.engine.Policies()),
		Variables: []VariableState{},
	}
	vars, err := h.service.Enumerate(ctx, nil)
	if err != nil {
		return state, err
	}
	for _, v := range vars {
		state.Variables = append(state.Variables, h.variableState(v))
	}
	return state, nil
}

func (h *Harness) variableState(v ir.Variable) VariableState {
	vs := VariableState{
		Variable:   h.varTarget(v.Namespace, v.Name),
		Attributes: v.Attributes.String(),
		Data:       hex.EncodeToString(v.Data),
	}
	if !v.Timestamp.IsZero() {
		vs.Timestamp = v.Timestamp.String()
	}
	if v.Signer != "" {
		vs.Signer = v.Signer
		if name, ok := h.signerNames[v.Signer]; ok {
			vs.Signer = name
		}
	}
	return vs
}

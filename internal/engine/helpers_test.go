package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/varpol/internal/ir"
)

var (
	testNamespace1 = ir.MustParseNamespace("3b389299-abaf-433b-a4a9-23c84402fcad")
	testNamespace2 = ir.MustParseNamespace("4c49a3aa-bcb0-544c-b5ba-34d955130dbe")
	testNamespace3 = ir.MustParseNamespace("5d5ab4bb-cdc1-655d-c6cb-45ea66241ecf")
)

// memVars is an in-memory VariableReader that also tracks writes the way
// the real store would after an allowed Authorize.
type memVars struct {
	mu   sync.Mutex
	vars map[ir.VariableKey]ir.Variable
}

func newMemVars() *memVars {
	return &memVars{vars: make(map[ir.VariableKey]ir.Variable)}
}

func (m *memVars) Lookup(_ context.Context, key ir.VariableKey) (ir.Variable, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[key]
	return v, ok, nil
}

func (m *memVars) exists(ns ir.Namespace, name string) bool {
	_, ok, _ := m.Lookup(context.Background(), ir.VariableKey{Namespace: ns, Name: name})
	return ok
}

func (m *memVars) put(ns ir.Namespace, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ir.VariableKey{Namespace: ns, Name: name}
	if len(data) == 0 {
		delete(m.vars, key)
		return
	}
	m.vars[key] = ir.Variable{Namespace: ns, Name: name, Data: data}
}

// setVariable authorizes and, if allowed, commits a write.
func setVariable(t *testing.T, e *Engine, vars *memVars, ns ir.Namespace, name string, attrs ir.Attributes, data []byte) error {
	t.Helper()
	err := e.Authorize(context.Background(), WriteRequest{
		Namespace:  ns,
		Name:       name,
		Attributes: attrs,
		Size:       len(data),
		Exists:     vars.exists(ns, name),
	})
	if err == nil {
		vars.put(ns, name, data)
	}
	return err
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memVars) {
	t.Helper()
	vars := newMemVars()
	return New(vars, opts...), vars
}

func mustRegister(t *testing.T, e *Engine, p ir.Policy) {
	t.Helper()
	require.NoError(t, e.Register(context.Background(), p))
}

func basicPolicy(ns ir.Namespace, name string, minSize, maxSize uint32, must, cant ir.Attributes, lock ir.LockType) ir.Policy {
	p := ir.NewPolicy(ns, name, lock)
	p.MinSize = minSize
	p.MaxSize = maxSize
	p.MustHave = must
	p.CantHave = cant
	return p
}

// failingJournal fails every call after failAfter successes.
type failingJournal struct {
	calls     int
	failAfter int
	policies  []ir.PolicyRecord
	sessions  []ir.SessionState
}

var errJournal = errors.New("journal unavailable")

func (j *failingJournal) fail() bool {
	j.calls++
	return j.calls > j.failAfter
}

func (j *failingJournal) AppendPolicy(_ context.Context, _ string, rec ir.PolicyRecord) error {
	if j.fail() {
		return errJournal
	}
	j.policies = append(j.policies, rec)
	return nil
}

func (j *failingJournal) SaveSession(_ context.Context, st ir.SessionState) error {
	if j.fail() {
		return errJournal
	}
	j.sessions = append(j.sessions, st)
	return nil
}

func (j *failingJournal) ResetSession(_ context.Context, st ir.SessionState) error {
	if j.fail() {
		return errJournal
	}
	j.policies = nil
	j.sessions = append(j.sessions, st)
	return nil
}

type fixedSessions struct {
	ids []string
	idx int
}

func (f *fixedSessions) Generate() string {
	id := f.ids[f.idx]
	f.idx++
	return id
}

package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Seq, ev.Step, ev.Target, ev.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertVariable:
			err = h.assertVariable(a)
		case AssertState:
			err = assertState(result.State, a)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func (h *Harness) assertVariable(a Assertion) error {
	ns, err := h.namespace(a.Variable.Namespace)
	if err != nil {
		return err
	}
	key := ir.VariableKey{Namespace: ns, Name: a.Variable.Name}
	v, err := h.service.Get(context.Background(), key)
	exists := err == nil
	if err != nil && !engine.IsNotFound(err) {
		return err
	}

	wantExists := a.Exists == nil || *a.Exists
	if exists != wantExists {
		return &AssertionError{
			Type:     AssertVariable,
			Expected: fmt.Sprintf("%s exists=%t", h.varTarget(ns, key.Name), wantExists),
			Actual:   fmt.Sprintf("exists=%t", exists),
		}
	}
	if !exists {
		return nil
	}

	if a.Data != nil {
		if got := hex.EncodeToString(v.Data); got != strings.ToLower(*a.Data) {
			return &AssertionError{Type: AssertVariable, Expected: "data " + *a.Data, Actual: "data " + got}
		}
	}
	if a.Attributes != "" {
		want, err := ir.ParseAttributes(a.Attributes)
		if err != nil {
			return err
		}
		if v.Attributes != want {
			return &AssertionError{Type: AssertVariable, Expected: "attributes " + want.String(), Actual: "attributes " + v.Attributes.String()}
		}
	}
	if a.Signer != "" {
		if got := h.variableState(v).Signer; got != a.Signer {
			return &AssertionError{Type: AssertVariable, Expected: "signer " + a.Signer, Actual: "signer " + got}
		}
	}
	return nil
}

func assertState(state FinalState, a Assertion) error {
	if a.Enabled != nil && *a.Enabled != state.Enabled {
		return &AssertionError{Type: AssertState, Expected: fmt.Sprintf("enabled=%t", *a.Enabled), Actual: fmt.Sprintf("enabled=%t", state.Enabled)}
	}
	if a.Locked != nil && *a.Locked != state.Locked {
		return &AssertionError{Type: AssertState, Expected: fmt.Sprintf("locked=%t", *a.Locked), Actual: fmt.Sprintf("locked=%t", state.Locked)}
	}
	if a.Policies != nil && *a.Policies != state.Policies {
		return &AssertionError{Type: AssertState, Expected: fmt.Sprintf("policies=%d", *a.Policies), Actual: fmt.Sprintf("policies=%d", state.Policies)}
	}
	return nil
}

func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Phase == "flow" && ev.Outcome == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%s x%d", a.Outcome, a.Count),
			Actual:   fmt.Sprintf("%s x%d", a.Outcome, count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the steps appear in order. Intervening
// steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Steps) && ev.Step == a.Steps[next] {
			next++
		}
	}
	if next != len(a.Steps) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: "steps in order: " + strings.Join(a.Steps, ", "),
			Actual:   fmt.Sprintf("matched %d of %d", next, len(a.Steps)),
			Trace:    trace,
		}
	}
	return nil
}

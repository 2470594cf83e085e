package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a policy scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Session is the fixed boot-session ID. Default: "test-session".
	Session string `yaml:"session,omitempty"`

	// Namespaces maps aliases usable wherever a namespace is expected.
	Namespaces map[string]string `yaml:"namespaces,omitempty"`

	// Bundles are CUE policy bundles registered before setup. Relative
	// paths are resolved against the scenario file's directory.
	Bundles []string `yaml:"bundles,omitempty"`

	// LockOnlyAtBootTime overrides the engine option. Default: true.
	LockOnlyAtBootTime *bool `yaml:"lock_only_at_boot_time,omitempty"`

	// Setup steps run first and must all succeed.
	Setup []Step `yaml:"setup,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation.
type Step struct {
	Do string `yaml:"do"`

	// Policy is the entry for register.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// Variable is the target of write, delete, auth_write and request_lock.
	Variable *VariableSpec `yaml:"variable,omitempty"`

	// Signer names the key that seals an auth_write.
	Signer string `yaml:"signer,omitempty"`

	// Timestamp is the auth_write timestamp in seconds after the clock
	// epoch. Default: the next clock tick.
	Timestamp *int64 `yaml:"timestamp,omitempty"`

	// Expect is the expected outcome code. Empty skips the check.
	Expect string `yaml:"expect,omitempty"`
}

// PolicySpec is a policy entry in scenario form.
type PolicySpec struct {
	Version   *uint32      `yaml:"version,omitempty"`
	Namespace string       `yaml:"namespace"`
	Name      string       `yaml:"name,omitempty"`
	MinSize   *uint32      `yaml:"min_size,omitempty"`
	MaxSize   *uint32      `yaml:"max_size,omitempty"`
	MustHave  string       `yaml:"must_have,omitempty"`
	CantHave  string       `yaml:"cant_have,omitempty"`
	Lock      string       `yaml:"lock,omitempty"`
	Trigger   *TriggerSpec `yaml:"trigger,omitempty"`
}

// TriggerSpec is a LockOnVarState trigger. Value is hex and may be any
// length, though only one byte can ever fire.
type TriggerSpec struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Value     string `yaml:"value"`
}

// VariableSpec names a variable and, for writes, its content. Data is hex.
type VariableSpec struct {
	Namespace  string `yaml:"namespace"`
	Name       string `yaml:"name"`
	Attributes string `yaml:"attributes,omitempty"`
	Data       string `yaml:"data,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// variable
	Variable   *VariableSpec `yaml:"variable,omitempty"`
	Exists     *bool         `yaml:"exists,omitempty"`
	Data       *string       `yaml:"data,omitempty"`
	Attributes string        `yaml:"attributes,omitempty"`
	Signer     string        `yaml:"signer,omitempty"`

	// state
	Enabled  *bool `yaml:"enabled,omitempty"`
	Locked   *bool `yaml:"locked,omitempty"`
	Policies *int  `yaml:"policies,omitempty"`

	// outcome_count
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// trace_order
	Steps []string `yaml:"steps,omitempty"`
}

// Step kinds.
const (
	StepRegister     = "register"
	StepWrite        = "write"
	StepDelete       = "delete"
	StepAuthWrite    = "auth_write"
	StepLock         = "lock"
	StepDisable      = "disable"
	StepReset        = "reset"
	StepRequestLock  = "request_lock"
	StepDump         = "dump"
	StepReadyToBoot  = "ready_to_boot"
	StepEnterRuntime = "enter_runtime"
)

// Assertion types.
const (
	AssertVariable     = "variable"
	AssertState        = "state"
	AssertOutcomeCount = "outcome_count"
	AssertTraceOrder   = "trace_order"
)

// OutcomeSuccess is the outcome of a step that returned no error.
const OutcomeSuccess = "SUCCESS"

// LoadScenario reads and parses a scenario YAML file. Bundle paths are
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, b := range scenario.Bundles {
		if !filepath.IsAbs(b) {
			scenario.Bundles[i] = filepath.Join(base, b)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != "" {
			return fmt.Errorf("setup[%d]: setup steps cannot set expect", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Do {
	case StepRegister:
		if step.Policy == nil {
			return fmt.Errorf("policy is required for register")
		}
	case StepWrite, StepDelete, StepRequestLock:
		if step.Variable == nil {
			return fmt.Errorf("variable is required for %s", step.Do)
		}
	case StepAuthWrite:
		if step.Variable == nil {
			return fmt.Errorf("variable is required for auth_write")
		}
		if step.Signer == "" {
			return fmt.Errorf("signer is required for auth_write")
		}
	case StepLock, StepDisable, StepReset, StepDump, StepReadyToBoot, StepEnterRuntime:
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertVariable:
		if a.Variable == nil {
			return fmt.Errorf("variable is required for variable assertion")
		}
	case AssertState:
		if a.Enabled == nil && a.Locked == nil && a.Policies == nil {
			return fmt.Errorf("state assertion needs enabled, locked or policies")
		}
	case AssertOutcomeCount:
		if a.Outcome == "" {
			return fmt.Errorf("outcome is required for outcome_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for outcome_count")
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("steps list is required for trace_order")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

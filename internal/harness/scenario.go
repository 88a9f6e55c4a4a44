package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resendgate/internal/engine"
	"github.com/roach88/resendgate/internal/gateway"
)

// Scenario is one verdict test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Snapshot is the remote state the orders are evaluated against.
	Snapshot gateway.Snapshot `yaml:"snapshot"`

	// Orders lists the order ids to evaluate, in job order.
	Orders []string `yaml:"orders"`

	// Workers bounds concurrency. Defaults to 1.
	Workers int `yaml:"workers,omitempty"`

	// Resend submits every approved order after evaluation.
	Resend bool `yaml:"resend,omitempty"`

	// Expect describes the verdicts. Orders without an entry are not checked.
	Expect []VerdictExpect `yaml:"expect"`

	// Assertions check the run as a whole.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// VerdictExpect describes the verdict of one order.
type VerdictExpect struct {
	Order   string `yaml:"order"`
	Outcome string `yaml:"outcome"`
	Step    string `yaml:"step,omitempty"`

	// Reason must match exactly; ReasonContains only as a substring.
	Reason         string `yaml:"reason,omitempty"`
	ReasonContains string `yaml:"reason_contains,omitempty"`

	// Fields is a subset match against the verdict's JSON fields.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion checks a property of the whole run.
type Assertion struct {
	// Type is one of calls, summary, submitted or idempotent.
	Type string `yaml:"type"`

	// Method is the gateway method name (used by calls).
	Method string `yaml:"method,omitempty"`

	// Count is the expected number of calls (used by calls).
	Count int `yaml:"count,omitempty"`

	// Expect holds summary counts by JSON name (used by summary).
	Expect map[string]int `yaml:"expect,omitempty"`

	// Orders is the expected submission order (used by submitted).
	Orders []string `yaml:"orders,omitempty"`
}

// Assertion type constants.
const (
	AssertCalls      = "calls"
	AssertSummary    = "summary"
	AssertSubmitted  = "submitted"
	AssertIdempotent = "idempotent"
)

var gatewayMethods = map[string]bool{
	"FetchOrder":          true,
	"FetchProductDetails": true,
	"FetchSiblingOrders":  true,
	"SubmitResend":        true,
}

var summaryKeys = map[string]bool{
	"total":        true,
	"approved":     true,
	"denied":       true,
	"query_failed": true,
	"faults":       true,
}

var outcomes = map[string]bool{
	string(engine.OutcomeApproved):    true,
	string(engine.OutcomeDenied):      true,
	string(engine.OutcomeQueryFailed): true,
	string(engine.OutcomeFault):       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string)
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Orders) == 0 {
		return fmt.Errorf("orders list is required and must be non-empty")
	}
	if len(s.Expect) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	listed := make(map[string]bool, len(s.Orders))
	for _, id := range s.Orders {
		listed[id] = true
	}
	for i, e := range s.Expect {
		if e.Order == "" {
			return fmt.Errorf("expect[%d]: order is required", i)
		}
		if !listed[e.Order] {
			return fmt.Errorf("expect[%d]: order %q is not in the orders list", i, e.Order)
		}
		if !outcomes[e.Outcome] {
			return fmt.Errorf("expect[%d]: unknown outcome %q", i, e.Outcome)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCalls:
		if !gatewayMethods[a.Method] {
			return fmt.Errorf("assertions[%d]: unknown gateway method %q", index, a.Method)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for calls", index)
		}
	case AssertSummary:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for summary", index)
		}
		for k := range a.Expect {
			if !summaryKeys[k] {
				return fmt.Errorf("assertions[%d]: unknown summary count %q", index, k)
			}
		}
	case AssertSubmitted:
		if !s.Resend {
			return fmt.Errorf("assertions[%d]: submitted requires resend: true", index)
		}
	case AssertIdempotent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultRunID is used when a scenario does not name its run.
const DefaultRunID = "run-1"

// Delivery orders for sync steps.
const (
	DeliveryInOrder    = "in_order"
	DeliveryReversed   = "reversed"
	DeliveryDuplicated = "duplicated"
)

// Scenario defines a convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the run every replica collaborates on.
	RunID string `yaml:"run_id,omitempty"`

	// Pipeline is the base step order grafts are inserted into.
	Pipeline []string `yaml:"pipeline,omitempty"`

	// Replicas lists one user per replica.
	Replicas []string `yaml:"replicas"`

	// Delivery is the order sync steps deliver pending events in.
	Delivery string `yaml:"delivery,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final replica states.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Exactly one of the action fields is set; user is
// required for intents.
type Step struct {
	User string `yaml:"user,omitempty"`

	// At moves the clock to the scenario epoch plus At milliseconds. When
	// zero the clock advances by one second.
	At int64 `yaml:"at,omitempty"`

	Graft  *GraftStep `yaml:"graft,omitempty"`
	Prune  *PruneStep `yaml:"prune,omitempty"`
	Flag   *FlagStep  `yaml:"flag,omitempty"`
	Cursor string     `yaml:"cursor,omitempty"`
	Join   bool       `yaml:"join,omitempty"`
	Leave  bool       `yaml:"leave,omitempty"`

	Offline string `yaml:"offline,omitempty"`
	Online  string `yaml:"online,omitempty"`
	Sync    bool   `yaml:"sync,omitempty"`

	// ExpectError is "invalid_intent" when the intent must be refused.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// GraftStep inserts Agent after After.
type GraftStep struct {
	After string `yaml:"after"`
	Agent string `yaml:"agent"`
}

// PruneStep sets the tombstone bit of Step.
type PruneStep struct {
	Step   string `yaml:"step"`
	Pruned bool   `yaml:"pruned"`
}

// FlagStep attaches Note to Step.
type FlagStep struct {
	Step string `yaml:"step"`
	Note string `yaml:"note"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Replica limits the assertion to one replica.
	Replica string `yaml:"replica,omitempty"`

	// Step is the flagged step (flags).
	Step string `yaml:"step,omitempty"`

	// User is the cursor owner (cursor).
	User string `yaml:"user,omitempty"`

	// Values is the expected slice (graft_order, pruned, active_users, flags).
	Values []string `yaml:"values,omitempty"`

	// Value is the expected cursor node; empty means no cursor.
	Value string `yaml:"value,omitempty"`

	// Count is the expected log length (event_count).
	Count int `yaml:"count,omitempty"`

	// Want is the expected outcome of converged. Defaults to true.
	Want *bool `yaml:"want,omitempty"`
}

// Assertion types.
const (
	AssertConverged   = "converged"
	AssertGraftOrder  = "graft_order"
	AssertPruned      = "pruned"
	AssertActiveUsers = "active_users"
	AssertFlags       = "flags"
	AssertCursor      = "cursor"
	AssertEventCount  = "event_count"
)

// ExpectInvalidIntent is the only ExpectError value.
const ExpectInvalidIntent = "invalid_intent"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
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

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks required fields and fills defaults.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.RunID == "" {
		s.RunID = DefaultRunID
	}
	switch s.Delivery {
	case "":
		s.Delivery = DeliveryInOrder
	case DeliveryInOrder, DeliveryReversed, DeliveryDuplicated:
	default:
		return fmt.Errorf("unknown delivery %q", s.Delivery)
	}

	seen := make(map[string]bool, len(s.Replicas))
	for _, user := range s.Replicas {
		if user == "" {
			return fmt.Errorf("replica names must be non-empty")
		}
		if seen[user] {
			return fmt.Errorf("duplicate replica %q", user)
		}
		seen[user] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, seen); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, replicas map[string]bool) error {
	intents := 0
	for _, set := range []bool{st.Graft != nil, st.Prune != nil, st.Flag != nil, st.Cursor != "", st.Join, st.Leave} {
		if set {
			intents++
		}
	}
	controls := 0
	for _, set := range []bool{st.Offline != "", st.Online != "", st.Sync} {
		if set {
			controls++
		}
	}

	switch {
	case intents+controls != 1:
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	case intents == 1 && !replicas[st.User]:
		return fmt.Errorf("steps[%d]: user %q is not a replica", index, st.User)
	case controls == 1 && st.User != "":
		return fmt.Errorf("steps[%d]: user is only valid on intents", index)
	case st.Offline != "" && !replicas[st.Offline]:
		return fmt.Errorf("steps[%d]: offline replica %q is unknown", index, st.Offline)
	case st.Online != "" && !replicas[st.Online]:
		return fmt.Errorf("steps[%d]: online replica %q is unknown", index, st.Online)
	case st.ExpectError != "" && st.ExpectError != ExpectInvalidIntent:
		return fmt.Errorf("steps[%d]: unknown expect_error %q", index, st.ExpectError)
	case st.At < 0:
		return fmt.Errorf("steps[%d]: at must be non-negative", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, replicas map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !replicas[a.Replica] {
		return fmt.Errorf("assertions[%d]: replica %q is unknown", index, a.Replica)
	}

	switch a.Type {
	case AssertConverged, AssertGraftOrder, AssertPruned, AssertActiveUsers:
	case AssertFlags:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for flags", index)
		}
	case AssertCursor:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for cursor", index)
		}
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

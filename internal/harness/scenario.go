package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/roberto/internal/record"
)

// Scenario is one store conformance test.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup rows are inserted in one batch before the steps. Their
	// invalidation is not counted.
	Setup []record.Notification `yaml:"setup,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpPurge  = "purge"
	OpClear  = "clear"
	OpBatch  = "batch"
	OpFault  = "fault"
	OpHeal   = "heal"
)

// Step is a single mutation, or a batch of them.
type Step struct {
	Op string `yaml:"op"`

	// Notification is the row to write (insert).
	Notification *record.Notification `yaml:"notification,omitempty"`

	// IDs are the rows to delete (delete).
	IDs []int64 `yaml:"ids,omitempty"`

	// Before is the purge threshold in epoch millis (purge).
	Before *int64 `yaml:"before,omitempty"`

	// Steps run in one transaction (batch). Nested batches and faults are
	// not allowed.
	Steps []Step `yaml:"steps,omitempty"`

	// On selects the statement a fault aborts: insert or delete (fault, heal).
	On string `yaml:"on,omitempty"`

	// Expect overrides the default expectation of plain success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step outcomes as recorded in the trace and named in expect clauses.
const (
	OutcomeOK            = "ok"
	OutcomeInvalidRecord = "invalid_record"
	OutcomeStorageFault  = "storage_fault"
	OutcomeError         = "error"
)

// Expect describes the expected result of a step.
type Expect struct {
	// Error is the expected outcome: invalid_record or storage_fault.
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Removed is the expected number of purged rows (purge).
	Removed *int64 `yaml:"removed,omitempty"`
}

// Assertion types.
const (
	AssertFinalCount    = "final_count"
	AssertContains      = "contains"
	AssertAbsent        = "absent"
	AssertInvalidations = "invalidations"
)

// Assertion checks the final state or the invalidation total.
type Assertion struct {
	Type string `yaml:"type"`

	// ID selects the row (contains, absent).
	ID int64 `yaml:"id,omitempty"`

	// Count is the expected number of rows (final_count) or of
	// invalidations over all steps (invalidations).
	Count *int `yaml:"count,omitempty"`

	// Expect lists field values the row must have, keyed by JSON field
	// name (contains). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), &s.Steps[i], false); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step *Step, nested bool) error {
	switch step.Op {
	case OpInsert:
		if step.Notification == nil {
			return fmt.Errorf("%s: notification is required for insert", where)
		}
	case OpDelete:
		if len(step.IDs) == 0 {
			return fmt.Errorf("%s: ids are required for delete", where)
		}
	case OpPurge:
		if step.Before == nil {
			return fmt.Errorf("%s: before is required for purge", where)
		}
	case OpClear:
	case OpBatch:
		if nested {
			return fmt.Errorf("%s: batches cannot be nested", where)
		}
		if len(step.Steps) == 0 {
			return fmt.Errorf("%s: steps are required for batch", where)
		}
		for i := range step.Steps {
			if err := validateStep(fmt.Sprintf("%s.steps[%d]", where, i), &step.Steps[i], true); err != nil {
				return err
			}
		}
	case OpFault, OpHeal:
		if nested {
			return fmt.Errorf("%s: %s is not allowed inside a batch", where, step.Op)
		}
		if step.On != OpInsert && step.On != OpDelete {
			return fmt.Errorf("%s: on must be insert or delete, got %q", where, step.On)
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}

	if step.Expect != nil {
		if nested {
			return fmt.Errorf("%s: expect belongs on the enclosing batch", where)
		}
		switch step.Expect.Error {
		case "", OutcomeInvalidRecord, OutcomeStorageFault:
		default:
			return fmt.Errorf("%s.expect: unknown error %q", where, step.Expect.Error)
		}
		if step.Expect.Removed != nil && step.Op != OpPurge {
			return fmt.Errorf("%s.expect: removed only applies to purge", where)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertFinalCount, AssertInvalidations:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertContains:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for contains", index)
		}
	case AssertAbsent:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %v -> %s rows=%v\n", event.Seq, event.Op, event.Args, event.Outcome, event.Rows)
	}

	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalCount:
			err = assertFinalCount(result, assertion)
		case AssertInvalidations:
			err = assertInvalidations(result, assertion)
		case AssertContains, AssertAbsent:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertContains {
				err = assertContains(actx.Ctx, actx.Store, result.Trace, assertion)
			} else {
				err = assertAbsent(actx.Ctx, actx.Store, result.Trace, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

func assertFinalCount(result *Result, a Assertion) error {
	if len(result.Final) == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalCount,
		Expected: fmt.Sprintf("%d row(s)", *a.Count),
		Actual:   fmt.Sprintf("%d row(s)", len(result.Final)),
		Trace:    result.Trace,
	}
}

func assertInvalidations(result *Result, a Assertion) error {
	got := result.Invalidations()
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertInvalidations,
		Expected: fmt.Sprintf("%d invalidation(s)", *a.Count),
		Actual:   fmt.Sprintf("%d invalidation(s)", got),
		Trace:    result.Trace,
	}
}

func assertAbsent(ctx context.Context, st *store.Store, trace []TraceEvent, a Assertion) error {
	_, err := st.Get(ctx, a.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	actual := "present"
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("notification %d absent", a.ID),
		Actual:   actual,
		Trace:    trace,
	}
}

// assertContains checks that the row exists and has every expected field
// value (subset match on the JSON field names).
func assertContains(ctx context.Context, st *store.Store, trace []TraceEvent, a Assertion) error {
	n, err := st.Get(ctx, a.ID)
	if err != nil {
		return &AssertionError{
			Type:     AssertContains,
			Expected: fmt.Sprintf("notification %d present", a.ID),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}

	fields, err := notificationFields(n)
	if err != nil {
		return err
	}

	var mismatches []string
	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := fields[key]
		if !ok && want != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing", key))
			continue
		}
		if !valuesEqual(got, want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: got %v, want %v", key, got, want))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertContains,
		Expected: fmt.Sprintf("notification %d with %v", a.ID, a.Expect),
		Actual:   strings.Join(mismatches, "; "),
		Trace:    trace,
	}
}

// notificationFields renders n as a map keyed by JSON field name. Null
// optional fields are absent.
func notificationFields(n record.Notification) (map[string]interface{}, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// valuesEqual compares a JSON-decoded actual value with a YAML-decoded
// expected one. Numbers are compared by value regardless of type.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if a, ok := actual.(float64); ok {
		switch e := expected.(type) {
		case int:
			return a == float64(e)
		case int64:
			return a == float64(e)
		case float64:
			return a == e
		}
		return false
	}

	return reflect.DeepEqual(actual, expected)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package harness

import (
	"fmt"
	"strings"
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
		if event.Type == TraceNotify || event.Type == TraceRemote {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertNotifyContains:
		return assertNotifyContains(result, a)
	case AssertNotifyCount:
		return assertNotifyCount(result, a)
	case AssertNotifyOrder:
		return assertNotifyOrder(result, a)
	case AssertRemoteCount:
		return assertRemoteCount(result, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertNotifyContains checks that a notification of the kind was emitted
// whose detail contains the expected text.
func assertNotifyContains(result *Result, a Assertion) error {
	for _, n := range result.Notifications {
		if n.Kind == a.Kind && strings.Contains(n.Detail, a.Detail) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s notification containing %q", a.Kind, a.Detail),
		Actual:   "not emitted",
		Trace:    result.Trace,
	}
}

// assertNotifyCount checks how often a kind was emitted. With a detail,
// only notifications with exactly that detail count.
func assertNotifyCount(result *Result, a Assertion) error {
	count := 0
	for _, n := range result.Notifications {
		if n.Kind == a.Kind && (a.Detail == "" || n.Detail == a.Detail) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s notifications", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    result.Trace,
	}
}

// assertNotifyOrder checks the sequence appears in order. Other
// notifications may appear in between.
func assertNotifyOrder(result *Result, a Assertion) error {
	next := 0
	for _, n := range result.Notifications {
		if next < len(a.Sequence) && n.String() == a.Sequence[next] {
			next++
		}
	}
	if next == len(a.Sequence) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: strings.Join(a.Sequence, " -> "),
		Actual:   fmt.Sprintf("missing %q after %d matched", a.Sequence[next], next),
		Trace:    result.Trace,
	}
}

func assertRemoteCount(result *Result, a Assertion) error {
	count := 0
	for _, c := range result.Remote {
		if c.Name == a.Action {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s calls", a.Count, a.Action),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    result.Trace,
	}
}

func assertFinalState(result *Result, a Assertion) error {
	errs := checkState(*a.State, result.Final, result.Subscriptions)
	if len(errs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: "final state",
		Actual:   strings.Join(errs, "; "),
		Trace:    result.Trace,
	}
}

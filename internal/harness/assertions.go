package harness

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes the remote call log to help debug the failure.
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
		fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Type, event.Name, event.Arg)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertLocalCount:
		return assertLocalCount(result, a)
	case AssertLocalEntity:
		return assertLocalEntity(result, a)
	case AssertLocalAbsent:
		return assertLocalAbsent(result, a)
	case AssertWatermark:
		return assertWatermark(result, a)
	case AssertStatus:
		return assertStatus(result, a)
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertCallOrder:
		return assertCallOrder(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertLocalCount(result *Result, a Assertion) error {
	if len(result.Rows) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertLocalCount,
		Expected: fmt.Sprintf("%d rows", a.Count),
		Actual:   fmt.Sprintf("%d rows", len(result.Rows)),
		Trace:    result.Trace,
	}
}

// canonicalID lower-cases a UUID the way the local store keys rows.
func canonicalID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

// assertLocalEntity checks the listed fields of one row (subset semantics).
// Values compare by their typed wire form.
func assertLocalEntity(result *Result, a Assertion) error {
	row := result.Row(canonicalID(a.ID))
	if row == nil {
		return &AssertionError{
			Type:     AssertLocalEntity,
			Expected: fmt.Sprintf("row %s", a.ID),
			Actual:   "row not found",
			Trace:    result.Trace,
		}
	}

	names := make([]string, 0, len(a.Expect))
	for name := range a.Expect {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want, err := toValue(a.Expect[name])
		if err != nil {
			return err
		}
		got, ok := row.Fields[record.NormalizeName(name)]
		if !ok {
			return &AssertionError{
				Type:     AssertLocalEntity,
				Expected: fmt.Sprintf("%s.%s = %s", a.ID, name, describe(want)),
				Actual:   "field missing",
				Trace:    result.Trace,
			}
		}
		if !sameValue(want, got) {
			return &AssertionError{
				Type:     AssertLocalEntity,
				Expected: fmt.Sprintf("%s.%s = %s", a.ID, name, describe(want)),
				Actual:   describe(got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertLocalAbsent(result *Result, a Assertion) error {
	if result.Row(canonicalID(a.ID)) == nil {
		return nil
	}
	return &AssertionError{
		Type:     AssertLocalAbsent,
		Expected: fmt.Sprintf("no row %s", a.ID),
		Actual:   "row present",
		Trace:    result.Trace,
	}
}

func assertWatermark(result *Result, a Assertion) error {
	offset, err := parseOffset(a.At)
	if err != nil {
		return err
	}
	want := engine.Epoch
	if offset != nil {
		want = result.Start.Add(*offset)
	}
	if result.Watermark.Equal(want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertWatermark,
		Expected: formatWatermark(want),
		Actual:   formatWatermark(result.Watermark),
		Trace:    result.Trace,
	}
}

func assertStatus(result *Result, a Assertion) error {
	if result.Status.String() == a.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: a.Status,
		Actual:   result.Status.String(),
		Trace:    result.Trace,
	}
}

func assertCallCount(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Calls() {
		if ev.Name == a.Op {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%s called %d times", a.Op, a.Count),
		Actual:   fmt.Sprintf("called %d times", count),
		Trace:    result.Trace,
	}
}

// assertCallOrder checks that the first call of each listed operation
// appears in the given order. Other calls may come in between.
func assertCallOrder(result *Result, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range result.Calls() {
		if _, seen := positions[ev.Name]; !seen {
			positions[ev.Name] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all operations called: %v", a.Ops),
				Actual:   fmt.Sprintf("missing operation: %s", op),
				Trace:    result.Trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("operations in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (call %d) should be before %s (call %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

func sameValue(a, b record.Value) bool {
	x, err := record.MarshalValue(a)
	if err != nil {
		return false
	}
	y, err := record.MarshalValue(b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

func describe(v record.Value) string {
	data, err := record.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

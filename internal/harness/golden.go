package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/record"
)

// Snapshot renders a result as the text stored in golden files:
//
//	scenario: <name>
//	trace:
//	  <seq> <step|call> <name> [<arg>]
//	rows:
//	  <id> <modified_at> <typed fields JSON>
//	watermark: <RFC 3339 | epoch>
//	status: <status>
//
// Field JSON is the canonical record encoding, so equal states render to
// equal bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)

	buf.WriteString("trace:\n")
	for _, ev := range result.Trace {
		fmt.Fprintf(&buf, "  %d %s %s", ev.Seq, ev.Type, ev.Name)
		if ev.Arg != "" {
			fmt.Fprintf(&buf, " %s", ev.Arg)
		}
		buf.WriteByte('\n')
	}

	buf.WriteString("rows:\n")
	for _, e := range result.Rows {
		fields, err := record.MarshalFields(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", e.ID, err)
		}
		fmt.Fprintf(&buf, "  %s %s %s\n", e.ID, e.ModifiedAt.UTC().Format(time.RFC3339Nano), fields)
	}

	fmt.Fprintf(&buf, "watermark: %s\n", formatWatermark(result.Watermark))
	fmt.Fprintf(&buf, "status: %s\n", result.Status)
	return buf.Bytes(), nil
}

func formatWatermark(t time.Time) string {
	if t.Equal(engine.Epoch) {
		return WatermarkEpoch
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

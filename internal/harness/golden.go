package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/floodsync/internal/ir"
)

// GoldenDir is where scenario golden files live, relative to the test.
const GoldenDir = "testdata/golden"

// Snapshot is the golden-file form of a scenario run.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	State        *State       `json:"state"`
}

// MarshalGolden returns the canonical JSON compared against golden files.
func MarshalGolden(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(Snapshot{ScenarioName: name, Trace: result.Trace, State: result.State})
}

// RunWithGolden executes a scenario and compares trace and final state
// against testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result, opts...)
}

// AssertGolden compares an existing result against its golden file. opts
// are applied after the defaults.
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := MarshalGolden(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, name, data)
	return nil
}

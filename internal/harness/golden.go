package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/runcollab/internal/ir"
)

// Snapshot renders a result as canonical JSON followed by a newline:
// scenario name, run id, convergence, the deterministic event ids and
// every replica's final state.
func Snapshot(s *Scenario, res *Result) ([]byte, error) {
	events := res.Events()
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}

	replicas := make(map[string]any, len(res.States))
	for user, st := range res.States {
		replicas[user] = st.Fields()
	}

	data, err := ir.MarshalCanonical(map[string]any{
		"scenario":  s.Name,
		"runId":     s.RunID,
		"converged": res.Converged,
		"events":    ids,
		"replicas":  replicas,
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
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

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	snapshot, err := Snapshot(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
	return result, nil
}

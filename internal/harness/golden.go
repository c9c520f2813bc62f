package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// TraceSnapshot captures the complete trace and final values of a run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string                    `json:"scenario_name"`
	Trace        []TraceEvent              `json:"trace"`
	Values       map[string]map[string]any `json:"values"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		eventMap := map[string]any{
			"step":    int64(ev.Step),
			"peer":    ev.Peer,
			"message": ev.Message,
			"doc":     ev.Doc,
		}
		if ev.Actor != "" {
			eventMap["actor"] = ev.Actor
		}
		if ev.Seq != 0 {
			eventMap["seq"] = ev.Seq
		}
		if ev.History != 0 {
			eventMap["history"] = int64(ev.History)
		}
		if len(ev.Keys) > 0 {
			keys := make([]any, len(ev.Keys))
			for j, k := range ev.Keys {
				keys[j] = k
			}
			eventMap["keys"] = keys
		}
		if ev.Error != "" {
			eventMap["error"] = ev.Error
		}
		traceList[i] = eventMap
	}

	values := make(map[string]any, len(s.Values))
	for peer, docs := range s.Values {
		m := make(map[string]any, len(docs))
		for alias, v := range docs {
			m[alias] = v
		}
		values[peer] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"values":        values,
	}
}

// Snapshot renders a result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Values:       result.Values,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
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

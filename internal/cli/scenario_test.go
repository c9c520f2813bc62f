package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `name: solo
description: One peer writes and reads back
peers: [dana]
steps:
  - peer: dana
    action: create
    doc: pad
  - peer: dana
    action: change
    doc: pad
    set:
      line: hello
    expect:
      mode: write
      value:
        line: hello
assertions:
  - type: final_value
    peer: dana
    doc: pad
    value:
      line: hello
`

const failingScenario = `name: wrong
description: Expects a value that was never written
peers: [dana]
steps:
  - peer: dana
    action: create
    doc: pad
assertions:
  - type: final_value
    peer: dana
    doc: pad
    value:
      line: missing
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScenarioRun_HarnessScenarios(t *testing.T) {
	code, resp := runJSON(t, "scenario", "run", harnessScenarios)
	require.Equal(t, ExitSuccess, code, "%+v", resp)

	var result TestResult
	decode(t, resp.Data, &result)
	assert.GreaterOrEqual(t, result.Total, 2)
	assert.Equal(t, result.Total, result.Passed)
	assert.Zero(t, result.Failed)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
		assert.Empty(t, s.Trace, "trace is only included with --trace")
	}
}

func TestScenarioRun_Filter(t *testing.T) {
	code, resp := runJSON(t, "scenario", "run", harnessScenarios, "--filter", "two_*")
	require.Equal(t, ExitSuccess, code)

	var result TestResult
	decode(t, resp.Data, &result)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "two_writers", result.Scenarios[0].Name)

	code, resp = runJSON(t, "scenario", "run", harnessScenarios, "--filter", "[")
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeUsage, resp.Error.Code)
}

func TestScenarioRun_TextAndTrace(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "solo.yaml", passingScenario)

	code, stdout, _ := run(t, "scenario", "run", path, "--trace")
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "PASS solo")
	assert.Contains(t, stdout, "[0] dana Ready pad")
	assert.Contains(t, stdout, "[1] dana Request pad seq=1 keys=[line]")
	assert.Contains(t, stdout, "Summary: 1 passed, 0 failed, 1 total")
}

func TestScenarioRun_Failure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "solo.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	code, stdout, stderr := run(t, "scenario", "run", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "PASS solo")
	assert.Contains(t, stdout, "FAIL wrong")
	assert.Contains(t, stdout, "assertions[0]")
	assert.Contains(t, stdout, "Summary: 1 passed, 1 failed, 2 total")
	assert.Contains(t, stderr, "Error [E102]: 1 scenario(s) failed")

	// JSON callers get exactly one response.
	code, stdout, _ = run(t, "scenario", "run", dir, "--format", "json")
	assert.Equal(t, ExitFailure, code)
	dec := json.NewDecoder(strings.NewReader(stdout))
	var resp CLIResponse
	require.NoError(t, dec.Decode(&resp))
	assert.False(t, dec.More(), "unexpected second response")
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestScenarioRun_LoadError(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "broken.yaml", "name: broken\npeers: [Dana]\n")

	code, resp := runJSON(t, "scenario", "run", path)
	assert.Equal(t, ExitFailure, code)
	var result TestResult
	decode(t, resp.Data, &result)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors[0], "load:")
}

func TestScenarioRun_MissingPath(t *testing.T) {
	code, resp := runJSON(t, "scenario", "run", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestScenarioRun_EmptyDirectory(t *testing.T) {
	code, stdout, _ := run(t, "scenario", "run", t.TempDir())
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No scenarios found.\n", stdout)
}

func TestScenarioRun_GoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "solo.yaml", passingScenario)
	golden := filepath.Join(dir, "golden", "solo.golden")

	code, stdout, _ := run(t, "scenario", "run", dir, "--update")
	require.Equal(t, ExitSuccess, code, stdout)
	require.FileExists(t, golden)

	code, stdout, _ = run(t, "scenario", "run", dir)
	require.Equal(t, ExitSuccess, code, stdout)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"solo","trace":[],"values":{}}`), 0o644))
	code, stdout, _ = run(t, "scenario", "run", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "trace does not match golden file")
}

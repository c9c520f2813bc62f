package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI and returns its exit code and output streams.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// runJSON executes the CLI with --format json and decodes the response.
func runJSON(t *testing.T, args ...string) (int, CLIResponse) {
	t.Helper()
	code, stdout, stderr := run(t, append(args, "--format", "json")...)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout=%q stderr=%q", stdout, stderr)
	return code, resp
}

// decode re-marshals a response payload into out.
func decode(t *testing.T, data any, out any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hypermerge", cmd.Use)
	assert.Contains(t, cmd.Long, "change log")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"keys", "signing"},
		{"keys", "encryption"},
		{"keys", "discovery"},
		{"sign"},
		{"verify"},
		{"seal"},
		{"unseal"},
		{"box"},
		{"unbox"},
		{"doc", "create"},
		{"doc", "set"},
		{"doc", "del"},
		{"doc", "show"},
		{"doc", "log"},
		{"doc", "list"},
		{"scenario", "run"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "data-dir", "redis-addr", "redis-channel-prefix", "log-level", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag --%s", name)
	}
}

func TestExecute_InvalidFormat(t *testing.T) {
	code, stdout, stderr := run(t, "keys", "signing", "--format", "xml")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error [E002]")
	assert.Contains(t, stderr, `invalid format "xml"`)
}

func TestExecute_UsageErrors(t *testing.T) {
	code, _, stderr := run(t, "sign")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "Error [E002]")

	code, _, stderr = run(t, "nosuchcommand")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `unknown command "nosuchcommand"`)

	code, resp := runJSON(t, "keys", "discovery")
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUsage, resp.Error.Code)
}

func TestExecute_MissingConfigFile(t *testing.T) {
	code, resp := runJSON(t, "doc", "list", "--config", t.TempDir()+"/missing.yaml")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestExecute_InvalidLogLevel(t *testing.T) {
	code, resp := runJSON(t, "doc", "list", "--data-dir", t.TempDir(), "--log-level", "loud")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "loud")
}

func TestExecute_Version(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	code, stdout, _ := run(t, "--version")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "1.2.3 (commit abc123, built 2026-01-02)")
}

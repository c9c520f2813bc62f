package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffreylitt/hypermerge/internal/config"
)

func docJSON(t *testing.T, dataDir string, args ...string) (int, CLIResponse) {
	t.Helper()
	return runJSON(t, append(append([]string{"doc"}, args...), "--data-dir", dataDir)...)
}

func createDoc(t *testing.T, dataDir string) string {
	t.Helper()
	code, resp := docJSON(t, dataDir, "create")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	var out DocOutput
	decode(t, resp.Data, &out)
	require.Len(t, out.ID, 64)
	assert.Empty(t, out.Value)
	assert.Equal(t, 0, out.History)
	return out.ID
}

func TestDoc_EditAcrossInvocations(t *testing.T) {
	dir := t.TempDir()
	id := createDoc(t, dir)
	assert.FileExists(t, filepath.Join(dir, config.DatabaseFileName))

	code, resp := docJSON(t, dir, "set", id, "title", `"draft"`, "-m", "first title")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)

	code, resp = docJSON(t, dir, "set", id, "count", "3")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)

	code, resp = docJSON(t, dir, "set", id, "owner", "plain words")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)

	code, resp = docJSON(t, dir, "del", id, "count")
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)

	code, resp = docJSON(t, dir, "show", id)
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	var shown struct {
		ID      string           `json:"id"`
		Value   map[string]any   `json:"value"`
		Clock   map[string]int64 `json:"clock"`
		History int              `json:"history"`
	}
	decode(t, resp.Data, &shown)
	assert.Equal(t, map[string]any{"title": "draft", "owner": "plain words"}, shown.Value)
	assert.Equal(t, map[string]int64{id: 4}, shown.Clock)
	assert.Equal(t, 4, shown.History)

	code, resp = docJSON(t, dir, "log", id)
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	var log LogOutput
	decode(t, resp.Data, &log)
	require.Len(t, log.Changes, 4)
	for i, c := range log.Changes {
		assert.Equal(t, id, c.Actor)
		assert.Equal(t, int64(i+1), c.Seq)
		assert.Equal(t, 1, c.Ops)
		assert.Len(t, c.Hash, 64)
	}
	assert.Equal(t, "first title", log.Changes[0].Message)
	assert.Empty(t, log.Changes[1].Message)
}

func TestDoc_ShowText(t *testing.T) {
	dir := t.TempDir()
	id := createDoc(t, dir)

	code, _, _ := run(t, "doc", "set", id, "title", `"draft"`, "--data-dir", dir)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ := run(t, "doc", "show", id, "--data-dir", dir)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "doc:     "+id)
	assert.Contains(t, stdout, `value:   {"title":"draft"}`)
	assert.Contains(t, stdout, "history: 1")
	assert.Contains(t, stdout, "clock:   "+id+" 1")

	code, stdout, _ = run(t, "doc", "log", id, "--data-dir", dir)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, id[:12]+"/1 ops=1")
}

func TestDoc_List(t *testing.T) {
	dir := t.TempDir()

	code, resp := docJSON(t, dir, "list")
	require.Equal(t, ExitSuccess, code)
	var empty ListOutput
	decode(t, resp.Data, &empty)
	assert.Empty(t, empty.Docs)

	first := createDoc(t, dir)
	second := createDoc(t, dir)
	code, resp = docJSON(t, dir, "set", first, "title", `"draft"`)
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)

	code, resp = docJSON(t, dir, "list")
	require.Equal(t, ExitSuccess, code)
	var list ListOutput
	decode(t, resp.Data, &list)
	assert.Equal(t, []string{first, second}, list.Docs)
	assert.Equal(t, map[string]int{first: 1, second: 0}, list.Changes)

	code, stdout, _ := run(t, "doc", "list", "--data-dir", dir)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, first+" 1\n"+second+" 0\n", stdout)
}

func TestDoc_UnknownDocument(t *testing.T) {
	dir := t.TempDir()
	missing := "00000000000000000000000000000000000000000000000000000000000000aa"

	for _, args := range [][]string{
		{"show", missing},
		{"log", missing},
		{"set", missing, "k", "1"},
		{"del", missing, "k"},
	} {
		t.Run(args[0], func(t *testing.T) {
			code, resp := docJSON(t, dir, args...)
			assert.Equal(t, ExitCommandError, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
		})
	}
}

func TestDoc_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "nested", "data")
	cfgPath := filepath.Join(dir, "hypermerge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data-dir: "+dataDir+"\nlog-level: warn\n"), 0o644))

	code, resp := runJSON(t, "doc", "create", "--config", cfgPath)
	require.Equal(t, ExitSuccess, code, "%+v", resp.Error)
	assert.FileExists(t, filepath.Join(dataDir, config.DatabaseFileName))
}

func TestDoc_VerboseNamesChangeLog(t *testing.T) {
	dir := t.TempDir()
	code, stdout, stderr := run(t, "doc", "list", "--data-dir", dir, "-v", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stderr, "change log: "+filepath.Join(dir, config.DatabaseFileName))
	assert.NotContains(t, stdout, "change log:")
}

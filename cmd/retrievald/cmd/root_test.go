package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/retrieval/internal/pipeline"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeTenantCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `{"id":"p-1","text":"Cats are independent domestic animals.","source":"pets.md"}
{"id":"p-2","text":"Dogs are loyal companions.","source":"pets.md"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenant-1.jsonl"), []byte(content), 0o644))
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "retrievald")
}

func TestIndexCommand(t *testing.T) {
	t.Setenv("RETRIEVAL_LOG_STDERR", "false")
	dir := writeTenantCorpus(t)

	out, err := executeCommand(t, "index", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 1 scope(s)")
}

func TestSearchCommand(t *testing.T) {
	t.Setenv("RETRIEVAL_LOG_STDERR", "false")
	t.Setenv("RETRIEVAL_CORPUS_DIR", writeTenantCorpus(t))

	out, err := executeCommand(t, "search", "--scope", "tenant-1", "--json", "cats")
	require.NoError(t, err)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "p-1", result.Candidates[0].ID)
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	_, err := executeCommand(t, "search")
	assert.Error(t, err)
}

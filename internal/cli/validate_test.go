package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	invalidDir   = "../harness/testdata/invalid"
)

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateScenariosDir(t *testing.T) {
	out, err := runValidateCmd(t, "text", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 5 scenario file(s) valid")
}

func TestValidateScenariosDirJSON(t *testing.T) {
	out, err := runValidateCmd(t, "json", scenariosDir)
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Files)
	assert.Empty(t, result.Errors)
}

func TestValidateSingleFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join(scenariosDir, "full_game.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 scenario file(s) valid")
}

func TestValidateInvalidDir(t *testing.T) {
	out, err := runValidateCmd(t, "text", invalidDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "5 scenario file(s) invalid")
	assert.Contains(t, out, "✗ ")
	assert.Contains(t, out, "two_actions.yaml")
	assert.Contains(t, out, "at most one of insert, update, delete, submit")
	assert.Contains(t, out, "unknown game result")
}

func TestValidateInvalidFileJSON(t *testing.T) {
	out, err := runValidateCmd(t, "json", filepath.Join(invalidDir, "unknown_field.yaml"))
	require.Error(t, err)

	var result ValidationResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_INVALID_SCENARIO", resp.Error.Code)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "schema violation")
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := runValidateCmd(t, "json", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}

func TestValidateEmptyDir(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("not a scenario"), 0644))

	out, err := runValidateCmd(t, "text", tmpDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NO_SCENARIOS]")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := runValidateCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

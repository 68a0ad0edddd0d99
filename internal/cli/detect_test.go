package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOperations(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const concurrentOps = `[
  {"actorId": "a", "clock": {"a": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}},
  {"actorId": "b", "clock": {"b": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}}
]`

const orderedOps = `[
  {"actorId": "a", "clock": {"a": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}},
  {"actorId": "b", "clock": {"a": 1, "b": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}}
]`

func TestDetect_ConflictExitsNonZero(t *testing.T) {
	path := writeOperations(t, concurrentOps)

	stdout, _, err := execCLI(t, "detect", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "scheduling conflict (high)")
	assert.Contains(t, stdout, "shift-7")
}

func TestDetect_CausallyOrderedIsClean(t *testing.T) {
	path := writeOperations(t, orderedOps)

	stdout, _, err := execCLI(t, "detect", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ No conflict")
}

func TestDetect_JSON(t *testing.T) {
	path := writeOperations(t, concurrentOps)

	stdout, _, err := execCLI(t, "--format", "json", "detect", path)
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Conflict bool `json:"conflict"`
			Record   struct {
				Type     string `json:"type"`
				Severity string `json:"severity"`
			} `json:"record"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Conflict)
	assert.Equal(t, "scheduling", resp.Data.Record.Type)
	assert.Equal(t, "high", resp.Data.Record.Severity)
}

func TestDetect_PolicyOverrideFromConfig(t *testing.T) {
	path := writeOperations(t, concurrentOps)
	cfgPath := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
conflicts:
  severity:
    scheduling:
      full: critical
      partial: high
`), 0o644))

	stdout, _, err := execCLI(t, "--config", cfgPath, "detect", path)
	require.Error(t, err)
	assert.Contains(t, stdout, "scheduling conflict (critical)")
}

func TestDetect_RejectsWrongArity(t *testing.T) {
	path := writeOperations(t, `[{"actorId": "a", "clock": {"a": 1}, "footprint": {"kind": "staff", "resources": ["e"]}}]`)

	_, _, err := execCLI(t, "detect", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRules = `package rules

entity: Shift: {
	properties: {
		employee_id: {type: "string", required: true}
		status:      {type: "string", default: "open"}
	}
	commands: ["assign"]
}

command: assign: {
	params: {employee_id: "string"}
	constraints: [{
		id:       "shift.already_assigned"
		severity: "block"
		message:  "shift is already assigned"
		when: [{path: "state.status", op: "eq", value: "assigned"}]
	}]
	emits: [{
		type: "shift.assigned"
		fields: {employee_id: "payload.employee_id"}
	}]
}
`

const brokenRules = `package rules

entity: Shift: {
	commands: []
}

command: orphan: {
	constraints: [{
		id:       "orphan.rule"
		severity: "block"
		message:  "unreachable"
		when: [{path: "payload.x", op: "exists"}]
	}]
}
`

// writeRules writes CUE source into a fresh rules directory.
func writeRules(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(source), 0o644))
	return dir
}

// execCLI runs the full root command and captures stdout/stderr.
func execCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	dir := writeRules(t, validRules)
	_, _, err := execCLI(t, "--format", "xml", "validate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRoot_ListsSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"compile", "validate", "invoke", "relay", "dead", "detect"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

package compiler

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepline/manifest/internal/ir"
)

const boardSource = `
entity: Board: {
	properties: {
		title: {type: "string", required: true}
	}
	commands: ["rename"]
}

command: rename: {
	params: {title: "string"}
	constraints: [{
		id:       "board.title_required"
		severity: "block"
		message:  "title must not be empty"
		when: [{path: "payload.title", op: "eq", value: ""}]
	}]
	emits: [{
		type: "board.renamed"
		fields: {title: "payload.title"}
	}]
}
`

func compileOK(t *testing.T, source string) *ir.Schema {
	t.Helper()
	res := Compile(source, "test.manifest.cue")
	for _, d := range res.Diagnostics {
		require.False(t, d.IsError(), "unexpected error diagnostic: %s", d)
	}
	require.NotNil(t, res.Schema)
	return res.Schema
}

func TestCompile_EmptySource(t *testing.T) {
	res := Compile("", "empty.cue")
	require.NotNil(t, res.Schema)
	assert.Empty(t, res.Schema.Entities)
	assert.Empty(t, res.Diagnostics)
}

func TestCompile_Board(t *testing.T) {
	schema := compileOK(t, boardSource)

	require.Len(t, schema.Entities, 1)
	board := schema.Entities[0]
	assert.Equal(t, "Board", board.Name)
	require.Len(t, board.Commands, 1)

	rename := board.Commands[0]
	assert.Equal(t, "rename", rename.Name)
	assert.Equal(t, "Board", rename.Entity)
	require.Len(t, rename.Params, 1)
	assert.Equal(t, ir.Param{Name: "title", Type: "string", Required: true}, rename.Params[0])
	require.Len(t, rename.Constraints, 1)
	assert.Equal(t, ir.SeverityBlock, rename.Constraints[0].Severity)
	require.Len(t, rename.Emits, 1)
	assert.Equal(t, "board.renamed", rename.Emits[0].Type)
	assert.NotEmpty(t, schema.Hash)
}

func TestCompile_Golden(t *testing.T) {
	schema := compileOK(t, boardSource)

	data, err := ir.CanonicalSchema(schema)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "compile_board", data)
}

func TestCompile_Deterministic(t *testing.T) {
	first := compileOK(t, boardSource)
	second := compileOK(t, boardSource)

	a, err := ir.CanonicalSchema(first)
	require.NoError(t, err)
	b, err := ir.CanonicalSchema(second)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestCompile_PropertyDefault(t *testing.T) {
	src := `
entity: Ticket: {
	properties: {
		status: {type: "string", default: "open"}
	}
	commands: ["resolve"]
}
command: resolve: {
	emits: [{type: "ticket.resolved"}]
}
`
	schema := compileOK(t, src)
	require.Len(t, schema.Entities[0].Properties, 1)
	assert.Equal(t, ir.String("open"), schema.Entities[0].Properties[0].Default)

	data, err := ir.CanonicalSchema(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"default":"open"`)

	// A different default is a different schema.
	other := compileOK(t, strings.Replace(src, `"open"`, `"closed"`, 1))
	assert.NotEqual(t, schema.Hash, other.Hash)
}

func TestCompile_SyntaxError(t *testing.T) {
	res := Compile(`entity: { this is not cue`, "broken.cue")

	assert.Nil(t, res.Schema)
	require.NotEmpty(t, res.Diagnostics)
	assert.True(t, HasErrors(res.Diagnostics))
	assert.Equal(t, ErrSyntax, res.Diagnostics[0].Code)
}

func TestCompile_ErrorMeansNilSchema(t *testing.T) {
	// A single bad severity must suppress the whole schema, not just the
	// offending command.
	src := `
entity: A: {commands: ["good", "bad"]}
command: good: {
	constraints: [{id: "a.ok", severity: "warn", message: "m", when: [{path: "payload.x", op: "exists"}]}]
}
command: bad: {
	constraints: [{id: "a.bad", severity: "severe", message: "m", when: [{path: "payload.x", op: "exists"}]}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assert.True(t, HasErrors(res.Diagnostics))
}

func TestCompile_UnknownEntityReference(t *testing.T) {
	src := `
entity: Board: {}
command: rename: {
	entity: "Ghost"
	emits: [{type: "x"}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrUnknownEntity)
}

func TestCompile_EntityListsUndeclaredCommand(t *testing.T) {
	src := `entity: Board: {commands: ["ghost"]}`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrUnknownCommand)
}

func TestCompile_UnownedCommand(t *testing.T) {
	src := `
entity: Board: {}
command: orphan: {emits: [{type: "x"}]}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrUnownedCommand)
}

func TestCompile_AmbiguousOwner(t *testing.T) {
	src := `
entity: Board: {commands: ["archive"]}
entity: Shift: {commands: ["archive"]}
command: archive: {emits: [{type: "archived"}]}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrAmbiguousOwner)
}

func TestCompile_ExplicitOwnerBeatsSingleClaim(t *testing.T) {
	src := `
entity: Board: {}
entity: Shift: {}
command: archive: {
	entity: "Shift"
	emits: [{type: "archived"}]
}
`
	schema := compileOK(t, src)
	cmd, ambiguous := schema.CommandByName("", "archive")
	assert.False(t, ambiguous)
	require.NotNil(t, cmd)
	assert.Equal(t, "Shift", cmd.Entity)
}

func TestCompile_ExplicitOwnerConflictsWithClaim(t *testing.T) {
	src := `
entity: Board: {commands: ["archive"]}
entity: Shift: {}
command: archive: {
	entity: "Shift"
	emits: [{type: "archived"}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrAmbiguousOwner)
}

func TestCompile_InvalidOp(t *testing.T) {
	src := `
entity: A: {commands: ["c"]}
command: c: {
	constraints: [{id: "a.c", severity: "block", message: "m", when: [{path: "payload.x", op: "like", value: "y"}]}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrInvalidOp)
}

func TestCompile_InvalidPath(t *testing.T) {
	src := `
entity: A: {commands: ["c"]}
command: c: {
	constraints: [{id: "a.c", severity: "block", message: "m", when: [{path: "context.x", op: "exists"}]}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrInvalidPath)
}

func TestCompile_ComparisonNeedsValue(t *testing.T) {
	src := `
entity: A: {commands: ["c"]}
command: c: {
	constraints: [{id: "a.c", severity: "block", message: "m", when: [{path: "payload.x", op: "eq"}]}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrInvalidValue)
}

func TestCompile_EventTemplateBadSourcePath(t *testing.T) {
	src := `
entity: A: {commands: ["c"]}
command: c: {
	emits: [{type: "x", fields: {v: "somewhere.else"}}]
}
`
	res := Compile(src, "test.cue")
	assert.Nil(t, res.Schema)
	assertHasCode(t, res.Diagnostics, ErrInvalidTemplate)
}

func TestCompile_InertCommandWarns(t *testing.T) {
	src := `
entity: A: {commands: ["noop"]}
command: noop: {}
`
	res := Compile(src, "test.cue")
	require.NotNil(t, res.Schema, "warnings alone must not suppress IR")
	assertHasCode(t, res.Diagnostics, WarnInertCommand)
	assert.False(t, HasErrors(res.Diagnostics))
}

func TestCompile_EntitiesSortedByName(t *testing.T) {
	src := `
entity: Zebra: {commands: ["zc"]}
entity: Alpha: {commands: ["ac"]}
command: zc: {emits: [{type: "z"}]}
command: ac: {emits: [{type: "a"}]}
`
	schema := compileOK(t, src)
	require.Len(t, schema.Entities, 2)
	assert.Equal(t, "Alpha", schema.Entities[0].Name)
	assert.Equal(t, "Zebra", schema.Entities[1].Name)
}

func TestEnforceOwnership(t *testing.T) {
	schema := compileOK(t, boardSource)
	assert.NoError(t, EnforceOwnership(schema))

	// Mutated IR with a foreign owner must be rejected.
	schema.Entities[0].Commands[0].Entity = "Other"
	assert.Error(t, EnforceOwnership(schema))

	schema.Entities[0].Commands[0].Entity = ""
	assert.Error(t, EnforceOwnership(schema))

	assert.Error(t, EnforceOwnership(nil))
}

func assertHasCode(t *testing.T, diags []Diagnostic, code string) {
	t.Helper()
	for _, d := range diags {
		if d.Code == code {
			return
		}
	}
	t.Fatalf("no diagnostic with code %s in %v", code, diags)
}

// Package compiler turns Manifest source (CUE syntax) into validated IR.
//
// Compilation runs in three stages, all pure:
//
//  1. Parse: the CUE SDK evaluates source text into a program value;
//     evaluation errors become syntax diagnostics.
//  2. Lower: entity and command declarations are walked into ir.Schema
//     types; malformed declarations and unresolved references become
//     semantic diagnostics.
//  3. Ownership: every command is attached to exactly one owning entity,
//     or compilation fails. Ambiguity is rejected, never repaired - a
//     silent repair would make runtime lookup-by-name untrustworthy.
//
// If any diagnostic has error severity, the returned schema is nil.
// Identical source always yields identical IR bytes.
package compiler

import (
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/prepline/manifest/internal/ir"
)

// Result bundles compiled IR with all diagnostics found along the way.
// Schema is nil whenever Diagnostics contains an error.
type Result struct {
	Schema      *ir.Schema   `json:"schema,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Compile compiles Manifest source text. filename is used in diagnostic
// spans only; pass something like "board.manifest.cue".
func Compile(source, filename string) Result {
	ctx := cuecontext.New()
	v := ctx.CompileString(source, cue.Filename(filename))
	return CompileValue(v)
}

// CompileValue lowers an already-evaluated CUE program value into IR.
// Used by the CLI loader, which builds one value from a directory of files.
func CompileValue(v cue.Value) Result {
	if err := v.Err(); err != nil {
		return Result{Diagnostics: syntaxDiagnostics(err)}
	}

	var diags []Diagnostic

	entities, entityDiags := parseEntities(v)
	diags = append(diags, entityDiags...)

	commands, commandDiags := parseCommands(v)
	diags = append(diags, commandDiags...)

	schema, ownDiags := assignOwnership(entities, commands)
	diags = append(diags, ownDiags...)

	if HasErrors(diags) {
		return Result{Diagnostics: diags}
	}

	// Entities sorted by name: iteration order must never depend on
	// declaration order across files.
	sort.Slice(schema.Entities, func(i, j int) bool {
		return schema.Entities[i].Name < schema.Entities[j].Name
	})

	hash, err := ir.SchemaHash(schema)
	if err != nil {
		diags = append(diags, errorf(ErrSyntax, noPos, "hash schema: %v", err))
		return Result{Diagnostics: diags}
	}
	schema.Hash = hash

	return Result{Schema: schema, Diagnostics: diags}
}

// syntaxDiagnostics converts a CUE evaluation error into diagnostics,
// one per underlying error with its source position.
func syntaxDiagnostics(err error) []Diagnostic {
	var diags []Diagnostic
	for _, e := range cueerrors.Errors(err) {
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Code:     ErrSyntax,
			Message:  e.Error(),
			Pos:      spanFromPos(e.Position()),
		})
	}
	if len(diags) == 0 {
		diags = append(diags, errorf(ErrSyntax, noPos, "%v", err))
	}
	return diags
}

package compiler

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Diagnostic severities. Any error-severity diagnostic means no IR is
// produced - callers must never execute a partially valid schema.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic codes. Errors are E-prefixed, warnings W-prefixed.
const (
	// Syntax errors (E0xx)
	ErrSyntax = "E001" // CUE parse or evaluation error

	// Declaration errors (E1xx)
	ErrInvalidSeverity = "E110" // unknown constraint severity
	ErrInvalidOp       = "E111" // unknown condition operator
	ErrInvalidPath     = "E112" // condition/field path outside payload./state.
	ErrInvalidTemplate = "E120" // event template missing type or bad field path
	ErrInvalidValue    = "E121" // condition value outside the allowed types
	ErrInvalidParam    = "E130" // malformed parameter declaration

	// Reference errors (E2xx)
	ErrUnknownEntity    = "E201" // command names an undeclared entity
	ErrUnknownCommand   = "E202" // entity lists an undeclared command
	ErrUnownedCommand   = "E210" // no entity owns the command
	ErrAmbiguousOwner   = "E211" // more than one entity claims the command
	ErrDuplicateDecl    = "E212" // duplicate entity or command declaration
	ErrOwnershipInvalid = "E213" // compiled IR violates the ownership invariant

	// Warnings (Wxxx)
	WarnInertCommand      = "W101" // command has no constraints and emits nothing
	WarnDuplicateRuleID   = "W102" // duplicate constraint id within one command
	WarnShadowedSeverity  = "W103" // info/warn constraint after a fatal one
)

// noPos marks diagnostics with no source location.
var noPos = token.NoPos

// Diagnostic is one compiler finding with a source span.
type Diagnostic struct {
	Severity string `json:"severity"` // "error" or "warning"
	Code     string `json:"code"`
	Message  string `json:"message"`
	Pos      Span   `json:"pos,omitempty"`
}

// Span locates a diagnostic in source.
type Span struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String renders the diagnostic in file:line:col: [CODE] message form.
func (d Diagnostic) String() string {
	if d.Pos.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: [%s] %s", d.Pos.File, d.Pos.Line, d.Pos.Column, d.Code, d.Message)
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

// IsError reports whether the diagnostic has error severity.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// HasErrors reports whether any diagnostic in the list is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.IsError() {
			return true
		}
	}
	return false
}

func spanFromPos(pos token.Pos) Span {
	if !pos.IsValid() {
		return Span{}
	}
	return Span{File: pos.Filename(), Line: pos.Line(), Column: pos.Column()}
}

func errorf(code string, pos token.Pos, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Pos:      spanFromPos(pos),
	}
}

func warnf(code string, pos token.Pos, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Pos:      spanFromPos(pos),
	}
}

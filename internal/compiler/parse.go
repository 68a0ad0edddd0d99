package compiler

import (
	"strings"

	"cuelang.org/go/cue"

	"github.com/prepline/manifest/internal/ir"
)

// parsedCommand is a command declaration before ownership assignment.
type parsedCommand struct {
	cmd    ir.Command
	entity string // explicit entity: field, may be empty
	pos    cue.Value
}

// parsedEntity is an entity declaration plus the command names it lists.
type parsedEntity struct {
	entity   ir.Entity
	commands []string
	pos      cue.Value
}

// parseEntities walks the top-level entity struct.
//
//	entity: Shift: {
//	    properties: {status: {type: "string"}}
//	    commands: ["assign"]
//	}
func parseEntities(v cue.Value) ([]parsedEntity, []Diagnostic) {
	var entities []parsedEntity
	var diags []Diagnostic

	root := v.LookupPath(cue.ParsePath("entity"))
	if !root.Exists() {
		return nil, nil
	}

	it, err := root.Fields()
	if err != nil {
		return nil, append(diags, errorf(ErrSyntax, root.Pos(), "entity block: %v", err))
	}

	for it.Next() {
		name := it.Selector().String()
		ev := it.Value()

		pe := parsedEntity{entity: ir.Entity{Name: name}, pos: ev}

		props, propDiags := parseProperties(ev.LookupPath(cue.ParsePath("properties")), name)
		diags = append(diags, propDiags...)
		pe.entity.Properties = props

		listed, listDiags := parseStringList(ev.LookupPath(cue.ParsePath("commands")), "entity "+name+" commands")
		diags = append(diags, listDiags...)
		seen := map[string]bool{}
		for _, cmdName := range listed {
			if seen[cmdName] {
				diags = append(diags, errorf(ErrDuplicateDecl, ev.Pos(),
					"entity %s lists command %q twice", name, cmdName))
				continue
			}
			seen[cmdName] = true
			pe.commands = append(pe.commands, cmdName)
		}

		entities = append(entities, pe)
	}

	return entities, diags
}

// parseProperties reads an entity's properties struct. Each property is
// either a bare type string or a struct with type/required/default.
func parseProperties(v cue.Value, entityName string) ([]ir.Property, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	var props []ir.Property
	var diags []Diagnostic

	it, err := v.Fields()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(), "entity %s properties: %v", entityName, err)}
	}

	for it.Next() {
		name := it.Selector().String()
		pv := it.Value()

		prop := ir.Property{Name: name}
		if s, err := pv.String(); err == nil {
			prop.Type = s
		} else {
			typ, terr := pv.LookupPath(cue.ParsePath("type")).String()
			if terr != nil {
				diags = append(diags, errorf(ErrInvalidParam, pv.Pos(),
					"entity %s property %s: missing type", entityName, name))
				continue
			}
			prop.Type = typ
			if rv := pv.LookupPath(cue.ParsePath("required")); rv.Exists() {
				req, berr := rv.Bool()
				if berr != nil {
					diags = append(diags, errorf(ErrInvalidParam, rv.Pos(),
						"entity %s property %s: required must be a bool", entityName, name))
					continue
				}
				prop.Required = req
			}
			if dv := pv.LookupPath(cue.ParsePath("default")); dv.Exists() {
				val, verr := cueToValue(dv)
				if verr != nil {
					diags = append(diags, errorf(ErrInvalidValue, dv.Pos(),
						"entity %s property %s: %v", entityName, name, verr))
					continue
				}
				prop.Default = val
			}
		}
		props = append(props, prop)
	}

	return props, diags
}

// parseCommands walks the top-level command struct.
//
//	command: assign: {
//	    entity: "Shift"
//	    params: {employee_id: "string"}
//	    constraints: [...]
//	    emits: [...]
//	}
func parseCommands(v cue.Value) ([]parsedCommand, []Diagnostic) {
	var commands []parsedCommand
	var diags []Diagnostic

	root := v.LookupPath(cue.ParsePath("command"))
	if !root.Exists() {
		return nil, nil
	}

	it, err := root.Fields()
	if err != nil {
		return nil, append(diags, errorf(ErrSyntax, root.Pos(), "command block: %v", err))
	}

	for it.Next() {
		name := it.Selector().String()
		cv := it.Value()

		pc := parsedCommand{cmd: ir.Command{Name: name}, pos: cv}

		if ev := cv.LookupPath(cue.ParsePath("entity")); ev.Exists() {
			owner, serr := ev.String()
			if serr != nil {
				diags = append(diags, errorf(ErrSyntax, ev.Pos(),
					"command %s: entity must be a string", name))
				continue
			}
			pc.entity = owner
		}

		params, paramDiags := parseParams(cv.LookupPath(cue.ParsePath("params")), name)
		diags = append(diags, paramDiags...)
		pc.cmd.Params = params

		constraints, conDiags := parseConstraints(cv.LookupPath(cue.ParsePath("constraints")), name)
		diags = append(diags, conDiags...)
		pc.cmd.Constraints = constraints

		emits, emitDiags := parseEmits(cv.LookupPath(cue.ParsePath("emits")), name)
		diags = append(diags, emitDiags...)
		pc.cmd.Emits = emits

		if len(constraints) == 0 && len(emits) == 0 {
			diags = append(diags, warnf(WarnInertCommand, cv.Pos(),
				"command %s has no constraints and emits no events", name))
		}

		commands = append(commands, pc)
	}

	return commands, diags
}

// parseParams reads a command's params struct. Bare string values are a
// shorthand for {type: <string>, required: true}.
func parseParams(v cue.Value, cmdName string) ([]ir.Param, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	var params []ir.Param
	var diags []Diagnostic

	it, err := v.Fields()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(), "command %s params: %v", cmdName, err)}
	}

	for it.Next() {
		name := it.Selector().String()
		pv := it.Value()

		param := ir.Param{Name: name}
		if s, serr := pv.String(); serr == nil {
			param.Type = s
			param.Required = true
		} else {
			typ, terr := pv.LookupPath(cue.ParsePath("type")).String()
			if terr != nil {
				diags = append(diags, errorf(ErrInvalidParam, pv.Pos(),
					"command %s param %s: missing type", cmdName, name))
				continue
			}
			param.Type = typ
			if rv := pv.LookupPath(cue.ParsePath("required")); rv.Exists() {
				req, berr := rv.Bool()
				if berr != nil {
					diags = append(diags, errorf(ErrInvalidParam, rv.Pos(),
						"command %s param %s: required must be a bool", cmdName, name))
					continue
				}
				param.Required = req
			}
		}
		params = append(params, param)
	}

	return params, diags
}

// parseConstraints reads a command's constraint list in declaration order.
func parseConstraints(v cue.Value, cmdName string) ([]ir.Constraint, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	var constraints []ir.Constraint
	var diags []Diagnostic
	seenIDs := map[string]bool{}
	sawFatal := false

	it, err := v.List()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(), "command %s constraints: %v", cmdName, err)}
	}

	for it.Next() {
		cv := it.Value()

		con := ir.Constraint{}

		id, serr := cv.LookupPath(cue.ParsePath("id")).String()
		if serr != nil {
			diags = append(diags, errorf(ErrSyntax, cv.Pos(), "command %s: constraint missing id", cmdName))
			continue
		}
		con.ID = id

		if seenIDs[id] {
			diags = append(diags, warnf(WarnDuplicateRuleID, cv.Pos(),
				"command %s declares constraint %q more than once", cmdName, id))
		}
		seenIDs[id] = true

		sev, serr := cv.LookupPath(cue.ParsePath("severity")).String()
		if serr != nil {
			diags = append(diags, errorf(ErrInvalidSeverity, cv.Pos(),
				"command %s constraint %s: missing severity", cmdName, id))
			continue
		}
		con.Severity = ir.Severity(sev)
		if !con.Severity.Valid() {
			diags = append(diags, errorf(ErrInvalidSeverity, cv.Pos(),
				"command %s constraint %s: unknown severity %q", cmdName, id, sev))
			continue
		}
		if sawFatal && !con.Severity.Blocking() {
			diags = append(diags, warnf(WarnShadowedSeverity, cv.Pos(),
				"command %s constraint %s: declared after a fatal constraint and will only add noise", cmdName, id))
		}
		if con.Severity == ir.SeverityFatal {
			sawFatal = true
		}

		msg, serr := cv.LookupPath(cue.ParsePath("message")).String()
		if serr != nil {
			diags = append(diags, errorf(ErrSyntax, cv.Pos(),
				"command %s constraint %s: missing message", cmdName, id))
			continue
		}
		con.Message = msg

		if fv := cv.LookupPath(cue.ParsePath("field")); fv.Exists() {
			field, ferr := fv.String()
			if ferr != nil {
				diags = append(diags, errorf(ErrSyntax, fv.Pos(),
					"command %s constraint %s: field must be a string", cmdName, id))
				continue
			}
			con.Field = field
		}

		conds, condDiags := parseConditions(cv.LookupPath(cue.ParsePath("when")), cmdName, id)
		diags = append(diags, condDiags...)
		if len(conds) == 0 && !HasErrors(condDiags) {
			diags = append(diags, errorf(ErrSyntax, cv.Pos(),
				"command %s constraint %s: when clause is required", cmdName, id))
			continue
		}
		con.Conditions = conds

		constraints = append(constraints, con)
	}

	return constraints, diags
}

// parseConditions reads a constraint's when list.
func parseConditions(v cue.Value, cmdName, ruleID string) ([]ir.Condition, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	var conds []ir.Condition
	var diags []Diagnostic

	it, err := v.List()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(),
			"command %s constraint %s: when must be a list", cmdName, ruleID)}
	}

	for it.Next() {
		cv := it.Value()
		cond := ir.Condition{}

		path, serr := cv.LookupPath(cue.ParsePath("path")).String()
		if serr != nil {
			diags = append(diags, errorf(ErrSyntax, cv.Pos(),
				"command %s constraint %s: condition missing path", cmdName, ruleID))
			continue
		}
		if !validFieldPath(path) {
			diags = append(diags, errorf(ErrInvalidPath, cv.Pos(),
				"command %s constraint %s: path %q must start with payload. or state.", cmdName, ruleID, path))
			continue
		}
		cond.Path = path

		op, serr := cv.LookupPath(cue.ParsePath("op")).String()
		if serr != nil {
			diags = append(diags, errorf(ErrSyntax, cv.Pos(),
				"command %s constraint %s: condition missing op", cmdName, ruleID))
			continue
		}
		cond.Op = ir.Op(op)
		if !ir.ValidOps[cond.Op] {
			diags = append(diags, errorf(ErrInvalidOp, cv.Pos(),
				"command %s constraint %s: unknown op %q", cmdName, ruleID, op))
			continue
		}

		if vv := cv.LookupPath(cue.ParsePath("value")); vv.Exists() {
			val, verr := cueToValue(vv)
			if verr != nil {
				diags = append(diags, errorf(ErrInvalidValue, vv.Pos(),
					"command %s constraint %s: %v", cmdName, ruleID, verr))
				continue
			}
			cond.Value = val
		} else if cond.Op != ir.OpExists && cond.Op != ir.OpAbsent {
			diags = append(diags, errorf(ErrInvalidValue, cv.Pos(),
				"command %s constraint %s: op %q requires a value", cmdName, ruleID, op))
			continue
		}

		conds = append(conds, cond)
	}

	return conds, diags
}

// parseEmits reads a command's event template list in declaration order.
func parseEmits(v cue.Value, cmdName string) ([]ir.EventTemplate, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	var emits []ir.EventTemplate
	var diags []Diagnostic

	it, err := v.List()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(), "command %s emits: %v", cmdName, err)}
	}

	for it.Next() {
		ev := it.Value()
		tmpl := ir.EventTemplate{}

		typ, serr := ev.LookupPath(cue.ParsePath("type")).String()
		if serr != nil || typ == "" {
			diags = append(diags, errorf(ErrInvalidTemplate, ev.Pos(),
				"command %s: event template missing type", cmdName))
			continue
		}
		tmpl.Type = typ

		if fv := ev.LookupPath(cue.ParsePath("fields")); fv.Exists() {
			fieldIt, ferr := fv.Fields()
			if ferr != nil {
				diags = append(diags, errorf(ErrSyntax, fv.Pos(),
					"command %s event %s: fields: %v", cmdName, typ, ferr))
				continue
			}
			fields := map[string]string{}
			bad := false
			for fieldIt.Next() {
				fieldName := fieldIt.Selector().String()
				src, serr := fieldIt.Value().String()
				if serr != nil {
					diags = append(diags, errorf(ErrInvalidTemplate, fieldIt.Value().Pos(),
						"command %s event %s: field %s must map to a source path", cmdName, typ, fieldName))
					bad = true
					continue
				}
				if !validFieldPath(src) {
					diags = append(diags, errorf(ErrInvalidTemplate, fieldIt.Value().Pos(),
						"command %s event %s: field %s source %q must start with payload. or state.", cmdName, typ, fieldName, src))
					bad = true
					continue
				}
				fields[fieldName] = src
			}
			if bad {
				continue
			}
			tmpl.Fields = fields
		}

		emits = append(emits, tmpl)
	}

	return emits, diags
}

// parseStringList reads a CUE list of strings.
func parseStringList(v cue.Value, what string) ([]string, []Diagnostic) {
	if !v.Exists() {
		return nil, nil
	}

	it, err := v.List()
	if err != nil {
		return nil, []Diagnostic{errorf(ErrSyntax, v.Pos(), "%s must be a list: %v", what, err)}
	}

	var out []string
	var diags []Diagnostic
	for it.Next() {
		s, serr := it.Value().String()
		if serr != nil {
			diags = append(diags, errorf(ErrSyntax, it.Value().Pos(), "%s: entries must be strings", what))
			continue
		}
		out = append(out, s)
	}
	return out, diags
}

// validFieldPath reports whether a path addresses the payload or the
// aggregate snapshot.
func validFieldPath(path string) bool {
	return strings.HasPrefix(path, "payload.") || strings.HasPrefix(path, "state.")
}

// cueToValue converts a concrete CUE value into an ir.Value.
// Floats are rejected to keep the IR hashable.
func cueToValue(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return ir.String(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return ir.Int(i), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		it, err := v.List()
		if err != nil {
			return nil, err
		}
		var arr ir.Array
		for it.Next() {
			elem, err := cueToValue(it.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		it, err := v.Fields()
		if err != nil {
			return nil, err
		}
		obj := ir.Object{}
		for it.Next() {
			elem, err := cueToValue(it.Value())
			if err != nil {
				return nil, err
			}
			obj[it.Selector().String()] = elem
		}
		return obj, nil
	default:
		return nil, errValueKind(v)
	}
}

func errValueKind(v cue.Value) error {
	return &valueKindError{kind: v.Kind().String()}
}

type valueKindError struct {
	kind string
}

func (e *valueKindError) Error() string {
	return "unsupported value kind " + e.kind + " (floats and bytes are not allowed)"
}

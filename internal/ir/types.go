package ir

// Severity classifies a constraint outcome. The order matters:
// info < warn < block < fatal. A command succeeds iff no outcome at or
// above block was recorded.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
	SeverityFatal Severity = "fatal"
)

// severityRank orders severities for comparison.
var severityRank = map[Severity]int{
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityBlock: 3,
	SeverityFatal: 4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Blocking reports whether s prevents command success.
func (s Severity) Blocking() bool {
	return s == SeverityBlock || s == SeverityFatal
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// MaxSeverity returns the worst severity in outcomes, or "" when empty.
func MaxSeverity(severities []Severity) Severity {
	var max Severity
	for _, s := range severities {
		if severityRank[s] > severityRank[max] {
			max = s
		}
	}
	return max
}

// Schema is the compiled representation of a Manifest program.
//
// Entities are stored sorted by name and each command's constraints and
// event templates preserve declaration order - both are load-bearing for
// compile determinism (identical source yields byte-identical canonical
// JSON) and for the engine's evaluation-order guarantee.
type Schema struct {
	Entities []Entity `json:"entities"`
	Hash     string   `json:"hash,omitempty"` // content hash, set after compilation
}

// Entity describes one declared entity and the commands it owns.
type Entity struct {
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
	Commands   []Command  `json:"commands,omitempty"`
}

// Property describes one entity property. Default seeds the state of a
// never-written aggregate, so it participates in the canonical form and
// the schema hash.
type Property struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  Value  `json:"default,omitempty"`
}

// Command is one command definition, attached to exactly one owning entity
// after the ownership pass. Constraints and Emits preserve declaration order.
type Command struct {
	Name        string          `json:"name"`
	Entity      string          `json:"entity"`
	Params      []Param         `json:"params,omitempty"`
	Constraints []Constraint    `json:"constraints,omitempty"`
	Emits       []EventTemplate `json:"emits,omitempty"`
}

// Param is a named command parameter.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Constraint is a compiled business rule. Conditions AND together: when all
// of them hold against the payload/state snapshot, the rule records an
// outcome at Severity.
type Constraint struct {
	ID         string      `json:"id"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Field      string      `json:"field,omitempty"` // optional field path for the caller's UI
	Conditions []Condition `json:"when"`
}

// Condition is a single predicate over a payload or state field.
type Condition struct {
	Path  string `json:"path"` // "payload.x" or "state.y"
	Op    Op     `json:"op"`
	Value Value  `json:"value,omitempty"`
}

// Op enumerates condition operators.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpExists Op = "exists"
	OpAbsent Op = "absent"
)

// ValidOps is the set of allowed condition operators.
var ValidOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true,
	OpGt: true, OpGte: true, OpExists: true, OpAbsent: true,
}

// EventTemplate describes one event a command may emit on success.
// Fields maps envelope field names to source paths ("payload.x", "state.y").
type EventTemplate struct {
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields,omitempty"`
}

// EntityByName returns the named entity, or nil.
func (s *Schema) EntityByName(name string) *Entity {
	for i := range s.Entities {
		if s.Entities[i].Name == name {
			return &s.Entities[i]
		}
	}
	return nil
}

// CommandByName resolves a command by name, optionally scoped to an entity.
// With an empty entityName the name must be unique across the whole schema;
// the ownership pass guarantees every command has exactly one owner, but two
// entities may still own same-named commands, in which case the caller must
// disambiguate.
//
// Returns the command, a flag for "found but ambiguous", or nil.
func (s *Schema) CommandByName(entityName, commandName string) (cmd *Command, ambiguous bool) {
	if entityName != "" {
		e := s.EntityByName(entityName)
		if e == nil {
			return nil, false
		}
		for i := range e.Commands {
			if e.Commands[i].Name == commandName {
				return &e.Commands[i], false
			}
		}
		return nil, false
	}

	var found *Command
	for i := range s.Entities {
		for j := range s.Entities[i].Commands {
			if s.Entities[i].Commands[j].Name == commandName {
				if found != nil {
					return nil, true
				}
				found = &s.Entities[i].Commands[j]
			}
		}
	}
	return found, false
}

// InitialState builds the state of a never-written aggregate from the
// entity's property defaults. Returns nil when no property declares one.
func (e *Entity) InitialState() Object {
	var state Object
	for _, p := range e.Properties {
		if p.Default == nil {
			continue
		}
		if state == nil {
			state = make(Object)
		}
		state[p.Name] = p.Default
	}
	return state
}

// canonicalMap converts the schema to plain maps for MarshalCanonical.
func (s *Schema) canonicalMap() map[string]any {
	entities := make([]any, len(s.Entities))
	for i, e := range s.Entities {
		entities[i] = e.canonicalMap()
	}
	return map[string]any{"irVersion": IRVersion, "entities": entities}
}

func (e Entity) canonicalMap() map[string]any {
	m := map[string]any{"name": e.Name}
	if len(e.Properties) > 0 {
		props := make([]any, len(e.Properties))
		for i, p := range e.Properties {
			pm := map[string]any{"name": p.Name, "type": p.Type}
			if p.Required {
				pm["required"] = true
			}
			if p.Default != nil {
				pm["default"] = p.Default
			}
			props[i] = pm
		}
		m["properties"] = props
	}
	if len(e.Commands) > 0 {
		cmds := make([]any, len(e.Commands))
		for i, c := range e.Commands {
			cmds[i] = c.canonicalMap()
		}
		m["commands"] = cmds
	}
	return m
}

func (c Command) canonicalMap() map[string]any {
	m := map[string]any{"name": c.Name, "entity": c.Entity}
	if len(c.Params) > 0 {
		params := make([]any, len(c.Params))
		for i, p := range c.Params {
			pm := map[string]any{"name": p.Name, "type": p.Type}
			if p.Required {
				pm["required"] = true
			}
			params[i] = pm
		}
		m["params"] = params
	}
	if len(c.Constraints) > 0 {
		cons := make([]any, len(c.Constraints))
		for i, con := range c.Constraints {
			cm := map[string]any{
				"id":       con.ID,
				"severity": string(con.Severity),
				"message":  con.Message,
			}
			if con.Field != "" {
				cm["field"] = con.Field
			}
			conds := make([]any, len(con.Conditions))
			for j, cond := range con.Conditions {
				condMap := map[string]any{"path": cond.Path, "op": string(cond.Op)}
				if cond.Value != nil {
					condMap["value"] = cond.Value
				}
				conds[j] = condMap
			}
			cm["when"] = conds
			cons[i] = cm
		}
		m["constraints"] = cons
	}
	if len(c.Emits) > 0 {
		emits := make([]any, len(c.Emits))
		for i, t := range c.Emits {
			tm := map[string]any{"type": t.Type}
			if len(t.Fields) > 0 {
				fields := make(map[string]any, len(t.Fields))
				for k, v := range t.Fields {
					fields[k] = v
				}
				tm["fields"] = fields
			}
			emits[i] = tm
		}
		m["emits"] = emits
	}
	return m
}

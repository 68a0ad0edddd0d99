package engine

import "github.com/prepline/manifest/internal/ir"

// ResultKind distinguishes executable outcomes from lookup failures.
// Lookup failures are data, not errors: an unknown command name is an
// expected caller mistake and must not disrupt control flow.
type ResultKind string

const (
	// KindExecuted means the command was found and its constraints ran.
	KindExecuted ResultKind = "executed"

	// KindNotFound means no command matched the requested name/entity.
	KindNotFound ResultKind = "not_found"

	// KindAmbiguous means the name matched commands on several entities
	// and the caller did not scope the request to one of them.
	KindAmbiguous ResultKind = "ambiguous"
)

// Request names a command to execute against one aggregate snapshot.
type Request struct {
	Entity  string    // optional; disambiguates same-named commands
	Command string    // required
	Payload ir.Object // caller-supplied arguments
	State   Snapshot  // the aggregate as last persisted
}

// Snapshot is the caller's view of the aggregate at execution time. The
// engine never loads state itself - each execution operates on an
// independent snapshot, which is what makes concurrent executions safe
// without coordination.
type Snapshot struct {
	AggregateID string
	State       ir.Object
	LastSeq     int64 // last event sequence assigned to this aggregate
}

// ConstraintOutcome records one business rule that applied.
type ConstraintOutcome struct {
	RuleID   string      `json:"ruleId"`
	Severity ir.Severity `json:"severity"`
	Message  string      `json:"message"`
	Field    string      `json:"field,omitempty"`
}

// EmittedEvent is a domain fact produced by a successful command. Seq
// increases monotonically per aggregate, continuing from Snapshot.LastSeq.
type EmittedEvent struct {
	EventType   string    `json:"eventType"`
	AggregateID string    `json:"aggregateId"`
	Payload     ir.Object `json:"payload"`
	Seq         int64     `json:"seq"`
}

// CommandResult is the outcome of one command invocation.
//
// Success is true iff no outcome reached block severity. Outcomes keep
// declaration order. Events is non-empty only on success.
type CommandResult struct {
	Kind     ResultKind          `json:"kind"`
	Entity   string              `json:"entity,omitempty"`
	Command  string              `json:"command"`
	Success  bool                `json:"success"`
	Outcomes []ConstraintOutcome `json:"outcomes,omitempty"`
	Events   []EmittedEvent      `json:"events,omitempty"`
}

// MaxSeverity returns the worst severity among the outcomes, or "".
func (r CommandResult) MaxSeverity() ir.Severity {
	severities := make([]ir.Severity, len(r.Outcomes))
	for i, o := range r.Outcomes {
		severities[i] = o.Severity
	}
	return ir.MaxSeverity(severities)
}

// Warnings returns the non-blocking outcomes.
func (r CommandResult) Warnings() []ConstraintOutcome {
	var out []ConstraintOutcome
	for _, o := range r.Outcomes {
		if !o.Severity.Blocking() {
			out = append(out, o)
		}
	}
	return out
}

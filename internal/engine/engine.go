// Package engine executes compiled Manifest commands against aggregate
// snapshots. The engine itself is stateless beyond the immutable schema it
// was constructed with: any number of executions may run concurrently, each
// on its own snapshot, without coordination.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/prepline/manifest/internal/compiler"
	"github.com/prepline/manifest/internal/ir"
)

// Engine evaluates commands against a single immutable schema.
//
// The schema is an explicit constructor argument, never process-global
// state: two engines with different schema versions can coexist in one
// process (blue/green schema rollout).
type Engine struct {
	schema *ir.Schema
	logger *slog.Logger
}

// New creates an Engine for a compiled schema. The ownership invariant is
// re-checked here: schemas arriving from serialized IR rather than straight
// from the compiler must not smuggle in ambiguous command lookups.
func New(schema *ir.Schema, logger *slog.Logger) (*Engine, error) {
	if err := compiler.EnforceOwnership(schema); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{schema: schema, logger: logger}, nil
}

// Schema returns the engine's schema.
func (e *Engine) Schema() *ir.Schema {
	return e.schema
}

// Execute runs a named command against the snapshot in the request.
//
// Constraints run in declaration order and every applicable outcome is
// collected - a blocking outcome does not hide later warnings, so the
// caller can show all of them alongside the blocking reason. Events are
// materialized only when nothing blocked, with sequence numbers continuing
// from the snapshot's last known sequence.
//
// Lookup failures come back as results (KindNotFound, KindAmbiguous), not
// errors.
func (e *Engine) Execute(req Request) CommandResult {
	cmd, ambiguous := e.schema.CommandByName(req.Entity, req.Command)
	if cmd == nil {
		kind := KindNotFound
		if ambiguous {
			kind = KindAmbiguous
			e.logger.Debug("command lookup ambiguous",
				"command", req.Command)
		}
		return CommandResult{Kind: kind, Entity: req.Entity, Command: req.Command}
	}

	if req.State.State == nil {
		// A never-written aggregate starts from the entity's declared
		// property defaults.
		req.State.State = e.schema.EntityByName(cmd.Entity).InitialState()
	}

	result := CommandResult{
		Kind:    KindExecuted,
		Entity:  cmd.Entity,
		Command: cmd.Name,
	}

	for _, con := range cmd.Constraints {
		if conditionsHold(con.Conditions, req.Payload, req.State.State) {
			result.Outcomes = append(result.Outcomes, ConstraintOutcome{
				RuleID:   con.ID,
				Severity: con.Severity,
				Message:  con.Message,
				Field:    con.Field,
			})
		}
	}

	result.Success = !result.MaxSeverity().Blocking()
	if !result.Success {
		e.logger.Debug("command blocked",
			"entity", cmd.Entity,
			"command", cmd.Name,
			"aggregate_id", req.State.AggregateID,
			"severity", string(result.MaxSeverity()))
		return result
	}

	result.Events = materializeEvents(cmd, req)
	return result
}

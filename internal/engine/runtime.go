package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prepline/manifest/internal/causality"
	"github.com/prepline/manifest/internal/ir"
	"github.com/prepline/manifest/internal/store"
)

// Runtime couples the stateless engine to a store: it loads the aggregate
// snapshot, executes the command, and on success commits the new state,
// the incremented vector clock, and one outbox row per emitted event in a
// single transaction.
type Runtime struct {
	engine  *Engine
	store   *store.Store
	actorID string
	logger  *slog.Logger
}

// NewRuntime wires an engine to a store. actorID names this node in the
// vector clocks it writes.
func NewRuntime(eng *Engine, st *store.Store, actorID string, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{engine: eng, store: st, actorID: actorID, logger: logger}
}

// ExecuteAndCommit runs a command against the persisted aggregate.
//
// Business-rule failures (blocked, not found) come back as CommandResult
// data with a nil error. A non-nil error is always a *CommitError: an
// infrastructure failure, after which the caller should re-read and
// re-submit rather than retry blindly.
//
// The caller gets its result as soon as the transaction commits;
// downstream event delivery is the publisher's problem.
func (r *Runtime) ExecuteAndCommit(ctx context.Context, entityName, commandName, aggregateID string, payload ir.Object) (CommandResult, error) {
	cmd, _ := r.engine.schema.CommandByName(entityName, commandName)
	if cmd == nil {
		// Let Execute produce the not-found/ambiguous result.
		return r.engine.Execute(Request{Entity: entityName, Command: commandName, Payload: payload}), nil
	}

	rec, found, err := r.store.LoadAggregate(ctx, cmd.Entity, aggregateID)
	if err != nil {
		return CommandResult{}, r.commitError("load aggregate", cmd.Entity, aggregateID, err)
	}

	snapshot := Snapshot{AggregateID: aggregateID, LastSeq: rec.LastSeq}
	clock := causality.NewClock()
	if found {
		snapshot.State = rec.State
		clock = rec.Clock.Clone()
	} else {
		// Property defaults are the initial state, and must survive into
		// the committed state below, not just into evaluation.
		snapshot.State = r.engine.schema.EntityByName(cmd.Entity).InitialState()
	}

	result := r.engine.Execute(Request{
		Entity:  entityName,
		Command: commandName,
		Payload: payload,
		State:   snapshot,
	})
	if result.Kind != KindExecuted || !result.Success {
		return result, nil
	}

	commit := store.Commit{
		AggregateType: cmd.Entity,
		AggregateID:   aggregateID,
		State:         nextState(snapshot.State, result.Events),
		LastSeq:       snapshot.LastSeq + int64(len(result.Events)),
		Clock:         clock.Increment(r.actorID),
		SchemaHash:    r.engine.schema.Hash,
		Events:        make([]store.EventInput, 0, len(result.Events)),
	}
	for _, ev := range result.Events {
		commit.Events = append(commit.Events, store.EventInput{
			ID:        uuid.NewString(),
			EventType: ev.EventType,
			Seq:       ev.Seq,
			Payload:   ev.Payload,
		})
	}

	if err := r.store.Apply(ctx, commit); err != nil {
		return CommandResult{}, r.commitError("commit", cmd.Entity, aggregateID, err)
	}

	r.logger.Debug("command committed",
		"entity", cmd.Entity,
		"command", cmd.Name,
		"aggregate_id", aggregateID,
		"events", len(result.Events),
		"last_seq", commit.LastSeq)
	return result, nil
}

// nextState folds emitted event payloads onto the snapshot state, in
// event order. Event fields ARE the state transition: a command that
// changes nothing observable emits nothing.
func nextState(state ir.Object, events []EmittedEvent) ir.Object {
	next := make(ir.Object, len(state))
	for k, v := range state {
		next[k] = v
	}
	for _, ev := range events {
		for k, v := range ev.Payload {
			next[k] = v
		}
	}
	return next
}

func (r *Runtime) commitError(stage, entity, aggregateID string, err error) error {
	ref := uuid.NewString()
	r.logger.Error("persistence failure",
		"stage", stage,
		"entity", entity,
		"aggregate_id", aggregateID,
		"ref", ref,
		"error", err)
	return &CommitError{Ref: ref, Err: err}
}

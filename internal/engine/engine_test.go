package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepline/manifest/internal/ir"
)

// testSchema covers the lookup and evaluation paths: an entity with
// constrained, event-emitting commands plus a command name shared by two
// entities to exercise disambiguation.
func testSchema() *ir.Schema {
	return &ir.Schema{
		Entities: []ir.Entity{
			{
				Name: "Board",
				Commands: []ir.Command{
					{Name: "archive", Entity: "Board"},
				},
			},
			{
				Name: "Roster",
				Commands: []ir.Command{
					{Name: "archive", Entity: "Roster"},
				},
			},
			{
				Name: "Shift",
				Commands: []ir.Command{
					{
						Name:   "assign",
						Entity: "Shift",
						Constraints: []ir.Constraint{
							{
								ID:       "shift.already_assigned",
								Severity: ir.SeverityBlock,
								Message:  "shift is already assigned",
								Conditions: []ir.Condition{
									{Path: "state.status", Op: ir.OpEq, Value: ir.String("assigned")},
								},
							},
							{
								ID:       "shift.overtime",
								Severity: ir.SeverityWarn,
								Message:  "employee exceeds weekly hours",
								Conditions: []ir.Condition{
									{Path: "payload.hours", Op: ir.OpGt, Value: ir.Int(40)},
								},
							},
						},
						Emits: []ir.EventTemplate{
							{
								Type: "shift.assigned",
								Fields: map[string]string{
									"employee_id": "payload.employee_id",
									"status":      "payload.status",
								},
							},
						},
					},
					{
						Name:   "close",
						Entity: "Shift",
						Constraints: []ir.Constraint{
							{
								ID:       "shift.unstaffed",
								Severity: ir.SeverityFatal,
								Message:  "cannot close an unstaffed shift",
								Conditions: []ir.Condition{
									{Path: "state.employee_id", Op: ir.OpAbsent},
								},
							},
						},
						Emits: []ir.EventTemplate{
							{Type: "shift.closed"},
							{Type: "shift.archived"},
						},
					},
				},
			},
		},
	}
}

// defaultsSchema exercises property defaults: a fresh Ticket is "open"
// before anything has been written.
func defaultsSchema() *ir.Schema {
	return &ir.Schema{Entities: []ir.Entity{{
		Name: "Ticket",
		Properties: []ir.Property{
			{Name: "status", Type: "string", Default: ir.String("open")},
			{Name: "kind", Type: "string", Default: ir.String("task")},
			{Name: "assignee", Type: "string"},
		},
		Commands: []ir.Command{
			{
				Name:   "reopen",
				Entity: "Ticket",
				Constraints: []ir.Constraint{{
					ID:       "ticket.already_open",
					Severity: ir.SeverityBlock,
					Message:  "ticket is already open",
					Conditions: []ir.Condition{
						{Path: "state.status", Op: ir.OpEq, Value: ir.String("open")},
					},
				}},
				Emits: []ir.EventTemplate{{
					Type:   "ticket.reopened",
					Fields: map[string]string{"status": "payload.status"},
				}},
			},
			{
				Name:   "resolve",
				Entity: "Ticket",
				Emits: []ir.EventTemplate{{
					Type:   "ticket.resolved",
					Fields: map[string]string{"status": "payload.status"},
				}},
			},
		},
	}}}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(testSchema(), nil)
	require.NoError(t, err)
	return eng
}

func TestNew_RejectsBrokenOwnership(t *testing.T) {
	schema := testSchema()
	schema.Entities[2].Commands[0].Entity = "Board" // owner disagrees with container

	_, err := New(schema, nil)
	assert.Error(t, err)
}

func TestExecute_Success(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{
		Command: "assign",
		Payload: ir.Object{
			"employee_id": ir.String("emp-1"),
			"status":      ir.String("assigned"),
		},
		State: Snapshot{AggregateID: "shift-1", State: ir.Object{"status": ir.String("open")}},
	})

	assert.Equal(t, KindExecuted, result.Kind)
	assert.Equal(t, "Shift", result.Entity)
	assert.True(t, result.Success)
	assert.Empty(t, result.Outcomes)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "shift.assigned", result.Events[0].EventType)
	assert.Equal(t, "shift-1", result.Events[0].AggregateID)
	assert.True(t, ir.Equal(ir.Object{
		"employee_id": ir.String("emp-1"),
		"status":      ir.String("assigned"),
	}, result.Events[0].Payload))
}

func TestExecute_NotFound(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{Command: "ghost"})
	assert.Equal(t, KindNotFound, result.Kind)
	assert.False(t, result.Success)

	// Entity-scoped miss: the command exists, but not on that entity.
	result = eng.Execute(Request{Entity: "Board", Command: "assign"})
	assert.Equal(t, KindNotFound, result.Kind)
}

func TestExecute_AmbiguousNeedsEntityScope(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{Command: "archive"})
	assert.Equal(t, KindAmbiguous, result.Kind)
	assert.False(t, result.Success)

	result = eng.Execute(Request{Entity: "Roster", Command: "archive"})
	assert.Equal(t, KindExecuted, result.Kind)
	assert.Equal(t, "Roster", result.Entity)
	assert.True(t, result.Success)
}

func TestExecute_BlockSuppressesEventsKeepsOutcomes(t *testing.T) {
	eng := newTestEngine(t)

	// Both rules apply: the block and the overtime warning.
	result := eng.Execute(Request{
		Command: "assign",
		Payload: ir.Object{"hours": ir.Int(50)},
		State:   Snapshot{State: ir.Object{"status": ir.String("assigned")}},
	})

	assert.Equal(t, KindExecuted, result.Kind)
	assert.False(t, result.Success)
	assert.Empty(t, result.Events)

	// Declaration order, and the warning is not hidden by the block.
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "shift.already_assigned", result.Outcomes[0].RuleID)
	assert.Equal(t, "shift.overtime", result.Outcomes[1].RuleID)
	assert.Len(t, result.Warnings(), 1)
}

func TestExecute_WarnDoesNotBlock(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{
		Command: "assign",
		Payload: ir.Object{"employee_id": ir.String("emp-1"), "hours": ir.Int(41)},
		State:   Snapshot{State: ir.Object{"status": ir.String("open")}},
	})

	assert.True(t, result.Success)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, ir.SeverityWarn, result.Outcomes[0].Severity)
	assert.Len(t, result.Events, 1)
}

func TestExecute_FatalBlocks(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{
		Command: "close",
		State:   Snapshot{State: ir.Object{"status": ir.String("open")}},
	})

	assert.False(t, result.Success)
	assert.Equal(t, ir.SeverityFatal, result.MaxSeverity())
	assert.Empty(t, result.Events)
}

func TestExecute_SequenceContinuesFromSnapshot(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.Execute(Request{
		Command: "close",
		State: Snapshot{
			AggregateID: "shift-1",
			State:       ir.Object{"employee_id": ir.String("emp-1")},
			LastSeq:     7,
		},
	})

	require.True(t, result.Success)
	require.Len(t, result.Events, 2)
	assert.Equal(t, int64(8), result.Events[0].Seq)
	assert.Equal(t, int64(9), result.Events[1].Seq)
}

func TestExecute_UnresolvedTemplateFieldsOmitted(t *testing.T) {
	eng := newTestEngine(t)

	// "status" is absent from the payload: the event carries only the
	// fields that resolved.
	result := eng.Execute(Request{
		Command: "assign",
		Payload: ir.Object{"employee_id": ir.String("emp-1")},
		State:   Snapshot{State: ir.Object{"status": ir.String("open")}},
	})

	require.True(t, result.Success)
	require.Len(t, result.Events, 1)
	assert.True(t, ir.Equal(ir.Object{"employee_id": ir.String("emp-1")}, result.Events[0].Payload))
}

func TestExecute_FreshSnapshotSeedsPropertyDefaults(t *testing.T) {
	eng, err := New(defaultsSchema(), nil)
	require.NoError(t, err)

	// A nil state is a never-written aggregate: the declared defaults are
	// in effect, so reopening an already-open ticket is blocked.
	result := eng.Execute(Request{Command: "reopen"})
	require.Equal(t, KindExecuted, result.Kind)
	assert.False(t, result.Success)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "ticket.already_open", result.Outcomes[0].RuleID)

	// An explicit state, even an empty one, is taken as-is.
	result = eng.Execute(Request{Command: "reopen", State: Snapshot{State: ir.Object{}}})
	assert.True(t, result.Success)
}

// The engine never touches the snapshot or payload it is handed.
func TestExecute_DoesNotMutateInputs(t *testing.T) {
	eng := newTestEngine(t)

	payload := ir.Object{"employee_id": ir.String("emp-1")}
	state := ir.Object{"status": ir.String("open")}

	_ = eng.Execute(Request{Command: "assign", Payload: payload, State: Snapshot{State: state}})

	assert.True(t, ir.Equal(ir.Object{"employee_id": ir.String("emp-1")}, payload))
	assert.True(t, ir.Equal(ir.Object{"status": ir.String("open")}, state))
}

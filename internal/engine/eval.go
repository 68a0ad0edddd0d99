package engine

import (
	"strings"

	"github.com/prepline/manifest/internal/ir"
)

// conditionsHold reports whether every condition in the list matches the
// payload/state pair. An empty list never matches (the compiler rejects
// constraints without a when clause, so this only guards hand-built IR).
func conditionsHold(conds []ir.Condition, payload, state ir.Object) bool {
	if len(conds) == 0 {
		return false
	}
	for _, cond := range conds {
		if !conditionHolds(cond, payload, state) {
			return false
		}
	}
	return true
}

func conditionHolds(cond ir.Condition, payload, state ir.Object) bool {
	val, present := resolvePath(cond.Path, payload, state)

	switch cond.Op {
	case ir.OpExists:
		return present
	case ir.OpAbsent:
		return !present
	}
	if !present {
		return false
	}

	switch cond.Op {
	case ir.OpEq:
		return ir.Equal(val, cond.Value)
	case ir.OpNe:
		return !ir.Equal(val, cond.Value)
	case ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		cmp, ok := compareValues(val, cond.Value)
		if !ok {
			return false
		}
		switch cond.Op {
		case ir.OpLt:
			return cmp < 0
		case ir.OpLte:
			return cmp <= 0
		case ir.OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	default:
		return false
	}
}

// compareValues orders two values of the same scalar type. Mismatched or
// unordered types report not-comparable, which makes the condition false
// rather than an error - business rules over missing/malformed data should
// fail closed, not crash.
func compareValues(a, b ir.Value) (int, bool) {
	switch av := a.(type) {
	case ir.Int:
		bv, ok := b.(ir.Int)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case ir.String:
		bv, ok := b.(ir.String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	default:
		return 0, false
	}
}

// resolvePath resolves "payload.a.b" or "state.x" against the pair of
// objects, descending through nested objects on dots.
func resolvePath(path string, payload, state ir.Object) (ir.Value, bool) {
	var root ir.Object
	var rest string
	switch {
	case strings.HasPrefix(path, "payload."):
		root, rest = payload, strings.TrimPrefix(path, "payload.")
	case strings.HasPrefix(path, "state."):
		root, rest = state, strings.TrimPrefix(path, "state.")
	default:
		return nil, false
	}
	if root == nil {
		return nil, false
	}

	parts := strings.Split(rest, ".")
	var current ir.Value = root
	for _, part := range parts {
		obj, ok := current.(ir.Object)
		if !ok {
			return nil, false
		}
		next, present := obj[part]
		if !present {
			return nil, false
		}
		current = next
	}
	return current, true
}

// materializeEvents instantiates a command's event templates against the
// request, assigning per-aggregate sequence numbers that continue from the
// snapshot's last known sequence. Template fields whose source path does
// not resolve are omitted from the event payload.
func materializeEvents(cmd *ir.Command, req Request) []EmittedEvent {
	if len(cmd.Emits) == 0 {
		return nil
	}

	events := make([]EmittedEvent, 0, len(cmd.Emits))
	seq := req.State.LastSeq
	for _, tmpl := range cmd.Emits {
		seq++
		payload := ir.Object{}
		for field, src := range tmpl.Fields {
			if val, ok := resolvePath(src, req.Payload, req.State.State); ok {
				payload[field] = val
			}
		}
		events = append(events, EmittedEvent{
			EventType:   tmpl.Type,
			AggregateID: req.State.AggregateID,
			Payload:     payload,
			Seq:         seq,
		})
	}
	return events
}

// Package causality tracks the causal ordering of collaborator edits with
// per-aggregate vector clocks and classifies concurrent edits that touch
// overlapping resources.
//
// Merge is commutative, associative, and idempotent (a join semilattice),
// so receivers may apply clocks in any order or multiplicity and converge
// to the same causal state. That is what lets conflict detection run at any
// consumer without a central coordinator.
package causality

import (
	"encoding/json"
	"fmt"
)

// Comparison is the causal relation between two vector clocks.
type Comparison string

const (
	// Before means this clock causally precedes the other.
	Before Comparison = "before"
	// After means this clock causally follows the other.
	After Comparison = "after"
	// Equal means the clocks are identical.
	Equal Comparison = "equal"
	// Concurrent means neither clock dominates - the edits raced.
	Concurrent Comparison = "concurrent"
)

// Clock is a vector clock: a map from actor id to a monotonically
// increasing counter. The zero value is not usable; call NewClock.
type Clock map[string]int64

// NewClock returns an empty clock.
func NewClock() Clock {
	return Clock{}
}

// Increment bumps the counter for actor and returns the clock for
// chaining. Called on every locally committed command.
func (c Clock) Increment(actor string) Clock {
	c[actor]++
	return c
}

// Get returns the counter for actor (zero when absent).
func (c Clock) Get(actor string) int64 {
	return c[actor]
}

// Clone returns an independent copy.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a new clock holding the per-actor maximum of c and other.
// Neither input is mutated.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for actor, counter := range other {
		if counter > out[actor] {
			out[actor] = counter
		}
	}
	return out
}

// Compare determines the causal relation of c to other under the standard
// partial order: c <= other iff every counter in c is <= the matching
// counter in other. Absent actors count as zero.
func (c Clock) Compare(other Clock) Comparison {
	cLess, oLess := false, false

	for actor, counter := range c {
		switch o := other[actor]; {
		case counter < o:
			cLess = true
		case counter > o:
			oLess = true
		}
	}
	for actor, o := range other {
		if _, seen := c[actor]; !seen && o > 0 {
			cLess = true
		}
	}

	switch {
	case cLess && oLess:
		return Concurrent
	case cLess:
		return Before
	case oLess:
		return After
	default:
		return Equal
	}
}

// Equal reports whether the clocks are identical, treating absent actors
// as zero.
func (c Clock) Equal(other Clock) bool {
	return c.Compare(other) == Equal
}

// MarshalJSON emits the actor→counter mapping. encoding/json sorts map
// keys, so the serialized form is deterministic.
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64(c))
}

// UnmarshalJSON parses the actor→counter mapping, rejecting negative
// counters - counters are non-decreasing per actor by construction, so a
// negative value can only be corruption.
func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for actor, counter := range raw {
		if counter < 0 {
			return fmt.Errorf("vector clock: negative counter %d for actor %q", counter, actor)
		}
	}
	if raw == nil {
		raw = map[string]int64{}
	}
	*c = Clock(raw)
	return nil
}

// String renders the clock for logs.
func (c Clock) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("clock<%d actors>", len(c))
	}
	return string(data)
}

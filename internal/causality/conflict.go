package causality

import (
	"sort"
	"time"
)

// ConflictType classifies a conflict by the kind of resource involved.
type ConflictType string

const (
	ConflictScheduling ConflictType = "scheduling"
	ConflictResource   ConflictType = "resource"
	ConflictStaff      ConflictType = "staff"
	ConflictInventory  ConflictType = "inventory"
	ConflictTimeline   ConflictType = "timeline"
)

// Valid reports whether t is a known conflict type.
func (t ConflictType) Valid() bool {
	_, ok := typeRank[t]
	return ok
}

// ConflictSeverity grades how urgent a conflict is.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// Valid reports whether s is a known conflict severity.
func (s ConflictSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// typeRank orders conflict types by urgency of the underlying resource.
// Used to pick one type deterministically when the two operations carry
// different footprint kinds, keeping detection symmetric.
var typeRank = map[ConflictType]int{
	ConflictResource:   1,
	ConflictTimeline:   2,
	ConflictInventory:  3,
	ConflictScheduling: 4,
	ConflictStaff:      5,
}

// Footprint is the set of resource identifiers one operation touched,
// tagged with the kind of resource (a shift id, an inventory item id...).
type Footprint struct {
	Kind      ConflictType `json:"kind"`
	Resources []string     `json:"resources"`
}

// Operation is one side of a conflict check: an edit with its vector clock
// at commit time and the resources it touched.
type Operation struct {
	ActorID   string    `json:"actorId"`
	Clock     Clock     `json:"clock"`
	Footprint Footprint `json:"footprint"`
}

// ConflictRecord reports one detected concurrent-edit conflict.
type ConflictRecord struct {
	Type       ConflictType     `json:"type"`
	Severity   ConflictSeverity `json:"severity"`
	Aggregates []string         `json:"aggregates"`
	DetectedAt time.Time        `json:"detectedAt"`
}

// SeverityRule grades a conflict type by overlap extent. Full overlap
// means every resource of the smaller footprint is contested.
type SeverityRule struct {
	Full    ConflictSeverity `yaml:"full" json:"full"`
	Partial ConflictSeverity `yaml:"partial" json:"partial"`
}

// Policy maps conflict types to severity rules.
type Policy map[ConflictType]SeverityRule

// DefaultPolicy grades conflicts the way the operations team triages them:
// a fully double-booked staff member is critical, a fully contested shift
// is high, partially overlapping notes or timelines are low urgency.
func DefaultPolicy() Policy {
	return Policy{
		ConflictScheduling: {Full: SeverityHigh, Partial: SeverityMedium},
		ConflictStaff:      {Full: SeverityCritical, Partial: SeverityHigh},
		ConflictResource:   {Full: SeverityHigh, Partial: SeverityMedium},
		ConflictInventory:  {Full: SeverityMedium, Partial: SeverityLow},
		ConflictTimeline:   {Full: SeverityMedium, Partial: SeverityLow},
	}
}

// Detector classifies pairs of operations. Detection is side-effect free:
// it never mutates either clock.
type Detector struct {
	policy Policy
	now    func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithNow overrides the detection timestamp source (tests).
func WithNow(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector creates a Detector. A nil policy falls back to DefaultPolicy.
func NewDetector(policy Policy, opts ...DetectorOption) *Detector {
	d := &Detector{policy: policy, now: time.Now}
	if d.policy == nil {
		d.policy = DefaultPolicy()
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect reports whether two operations conflict. A conflict exists iff
// the clocks are mutually non-dominating (concurrent) AND the footprints
// intersect. The result is symmetric in its arguments.
func (d *Detector) Detect(a, b Operation) (ConflictRecord, bool) {
	if a.Clock.Compare(b.Clock) != Concurrent {
		return ConflictRecord{}, false
	}

	contested := intersect(a.Footprint.Resources, b.Footprint.Resources)
	if len(contested) == 0 {
		return ConflictRecord{}, false
	}

	conflictType := dominantType(a.Footprint.Kind, b.Footprint.Kind)

	smaller := min(uniqueCount(a.Footprint.Resources), uniqueCount(b.Footprint.Resources))
	rule := d.policy[conflictType]
	severity := rule.Partial
	if len(contested) == smaller {
		severity = rule.Full
	}
	if severity == "" {
		severity = SeverityLow
	}

	sort.Strings(contested)
	return ConflictRecord{
		Type:       conflictType,
		Severity:   severity,
		Aggregates: contested,
		DetectedAt: d.now().UTC(),
	}, true
}

func dominantType(a, b ConflictType) ConflictType {
	if typeRank[b] > typeRank[a] {
		return b
	}
	return a
}

func intersect(a, b []string) []string {
	inA := make(map[string]bool, len(a))
	for _, r := range a {
		inA[r] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range b {
		if inA[r] && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func uniqueCount(rs []string) int {
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		seen[r] = true
	}
	return len(seen)
}

package types

// Migration helpers for records persisted before schema_version was written.
// Version 0 records predate the field; defaults are applied in place and the
// version is bumped so the next write persists the current shape.

import (
	"sort"
	"time"
)

// MigrateEvent upgrades an Event decoded from an older persisted shape.
func MigrateEvent(ev *Event) {
	if ev.SchemaVersion >= SchemaVersion {
		return
	}
	if ev.Salience == 0 {
		ev.Salience = 0.5
	}
	if ev.End.Before(ev.Start) {
		ev.End = ev.Start
	}
	ev.SchemaVersion = SchemaVersion
}

// MigrateFact upgrades a SemanticFact decoded from an older persisted shape.
func MigrateFact(f *SemanticFact) {
	if f.SchemaVersion >= SchemaVersion {
		return
	}
	f.Confidence = Clamp01(f.Confidence)
	f.Importance = Clamp01(f.Importance)
	f.SchemaVersion = SchemaVersion
}

// MigrateCommitment upgrades a Commitment decoded from an older shape.
func MigrateCommitment(c *Commitment) {
	if c.SchemaVersion >= SchemaVersion {
		return
	}
	if c.Status == "" {
		c.Status = CommitmentActive
	}
	sortTimes(c.Reactivations)
	c.SchemaVersion = SchemaVersion
}

// MigrateABMItem upgrades an ABMItem decoded from an older shape.
func MigrateABMItem(it *ABMItem) {
	if it.SchemaVersion >= SchemaVersion {
		return
	}
	if it.Status == "" {
		it.Status = ABMActive
	}
	if it.Stability == 0 {
		it.Stability = 0.8
	}
	if it.Importance == 0 {
		it.Importance = 0.5
	}
	it.SchemaVersion = SchemaVersion
}

// MigrateRelationship upgrades a RelationshipState decoded from an older shape.
func MigrateRelationship(r *RelationshipState) {
	if r.SchemaVersion >= SchemaVersion {
		return
	}
	if r.Stage == "" {
		r.Stage = StageStranger
	}
	r.Familiarity = Clamp01(r.Familiarity)
	r.SchemaVersion = SchemaVersion
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

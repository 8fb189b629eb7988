// Package metrics collects in-process counters for the memory engine.
// Everything is held in memory and surfaced through the admin view.
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates engine activity. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	turns          int
	turnLatency    time.Duration
	maxTurnLatency time.Duration

	promptTokens int

	consistencyChecks int
	consistencyFails  int

	commitmentsMade     int
	commitmentsResolved int
	commitmentsExpired  int
	resolutionLatency   time.Duration

	recallQueries int
	recallHits    int

	eventsCreated  int
	factsPromoted  int
	factsForgotten int
}

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// ObserveTurn records one processed turn and its latency.
func (c *Collector) ObserveTurn(latency time.Duration, promptTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns++
	c.turnLatency += latency
	if latency > c.maxTurnLatency {
		c.maxTurnLatency = latency
	}
	c.promptTokens += promptTokens
}

// ObserveConsistency records one guard check and whether it failed.
func (c *Collector) ObserveConsistency(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consistencyChecks++
	if failed {
		c.consistencyFails++
	}
}

// ObserveCommitmentMade records a newly detected commitment.
func (c *Collector) ObserveCommitmentMade() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitmentsMade++
}

// ObserveCommitmentResolved records a fulfilled commitment and how long it
// stayed open.
func (c *Collector) ObserveCommitmentResolved(openFor time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitmentsResolved++
	c.resolutionLatency += openFor
}

// ObserveCommitmentExpired records a commitment that ran out of
// reactivations.
func (c *Collector) ObserveCommitmentExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitmentsExpired++
}

// ObserveRecall records one retrieval query and whether it produced hits.
func (c *Collector) ObserveRecall(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recallQueries++
	if hit {
		c.recallHits++
	}
}

// ObserveEvent records a segmented event.
func (c *Collector) ObserveEvent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsCreated++
}

// ObserveConsolidation records a consolidation sweep's outcome.
func (c *Collector) ObserveConsolidation(promoted, forgotten int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factsPromoted += promoted
	c.factsForgotten += forgotten
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Turns             int
	AvgTurnLatency    time.Duration
	MaxTurnLatency    time.Duration
	AvgPromptTokens   int
	ConsistencyChecks int
	ConsistencyFails  int
	ConsistencyRate   float64
	CommitmentsMade   int
	CommitmentsDone   int
	CommitmentsLapsed int
	ResolutionRate    float64
	AvgResolution     time.Duration
	RecallQueries     int
	RecallHitRate     float64
	EventsCreated     int
	FactsPromoted     int
	FactsForgotten    int
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Turns:             c.turns,
		MaxTurnLatency:    c.maxTurnLatency,
		ConsistencyChecks: c.consistencyChecks,
		ConsistencyFails:  c.consistencyFails,
		CommitmentsMade:   c.commitmentsMade,
		CommitmentsDone:   c.commitmentsResolved,
		CommitmentsLapsed: c.commitmentsExpired,
		RecallQueries:     c.recallQueries,
		EventsCreated:     c.eventsCreated,
		FactsPromoted:     c.factsPromoted,
		FactsForgotten:    c.factsForgotten,
	}
	if c.turns > 0 {
		s.AvgTurnLatency = c.turnLatency / time.Duration(c.turns)
		s.AvgPromptTokens = c.promptTokens / c.turns
	}
	if c.consistencyChecks > 0 {
		s.ConsistencyRate = 1 - float64(c.consistencyFails)/float64(c.consistencyChecks)
	}
	// Still-open commitments count against the rate; a promise is only
	// resolved once it is actually kept.
	if c.commitmentsMade > 0 {
		s.ResolutionRate = float64(c.commitmentsResolved) / float64(c.commitmentsMade)
	}
	if c.commitmentsResolved > 0 {
		s.AvgResolution = c.resolutionLatency / time.Duration(c.commitmentsResolved)
	}
	if c.recallQueries > 0 {
		s.RecallHitRate = float64(c.recallHits) / float64(c.recallQueries)
	}
	return s
}

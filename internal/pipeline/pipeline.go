// Package pipeline runs the maintenance loop behind the conversation:
// promoting salient episodes into semantic memory, decaying stale facts,
// sweeping commitment reactivations, regenerating the canon and rolling up
// daily digests. Sweeps run on a deterministic schedule, by turn count or
// elapsed time, whichever comes first.
package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/abm"
	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/memstore"
	"github.com/xiy/echomem/internal/metrics"
	"github.com/xiy/echomem/pkg/types"
)

// Pipeline owns one user's maintenance state.
type Pipeline struct {
	cfg       config.ConsolidationConfig
	agentName string

	mem         *memstore.Store
	claims      *abm.Store
	commitments *CommitmentTracker
	collector   *metrics.Collector
	logger      *log.Logger

	mu         sync.Mutex
	canon      types.Canon
	turnsSince int
	lastRun    time.Time
}

// New constructs a Pipeline over the given stores.
func New(cfg config.ConsolidationConfig, agentName string, mem *memstore.Store, claims *abm.Store, commitments *CommitmentTracker, collector *metrics.Collector, logger *log.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		agentName:   agentName,
		mem:         mem,
		claims:      claims,
		commitments: commitments,
		collector:   collector,
		logger:      logger,
	}
}

// Canon returns the current canon snapshot.
func (p *Pipeline) Canon() types.Canon {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canon
}

// SetCanon seeds the canon from persistence.
func (p *Pipeline) SetCanon(c types.Canon) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canon = c
}

// TurnCompleted advances the scheduler and reports whether a sweep is due.
func (p *Pipeline) TurnCompleted(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastRun.IsZero() {
		p.lastRun = now
	}
	p.turnsSince++
	return p.dueLocked(now)
}

// SweepDue reports whether enough time has passed for a background sweep.
func (p *Pipeline) SweepDue(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastRun.IsZero() {
		p.lastRun = now
		return false
	}
	return p.dueLocked(now)
}

func (p *Pipeline) dueLocked(now time.Time) bool {
	if p.cfg.EveryTurns > 0 && p.turnsSince >= p.cfg.EveryTurns {
		return true
	}
	interval := time.Duration(p.cfg.EveryMinutes) * time.Minute
	return interval > 0 && now.Sub(p.lastRun) >= interval
}

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Promoted     int
	Forgotten    int
	Surfaced     []types.Commitment
	Expired      int
	CanonRebuilt bool
	CanonVersion int
}

// Run executes a full maintenance pass and resets the scheduler.
func (p *Pipeline) Run(now time.Time) SweepResult {
	var res SweepResult

	res.Promoted = p.mem.Consolidate(now)
	res.Forgotten = p.mem.ApplyDecay(now)
	res.Surfaced, res.Expired = p.commitments.Sweep(now)

	p.mu.Lock()
	canon := p.canon
	p.mu.Unlock()

	if next, rebuilt := p.claims.BuildCanon(canon, p.agentName, now); rebuilt {
		p.mu.Lock()
		p.canon = next
		p.mu.Unlock()
		res.CanonRebuilt = true
		res.CanonVersion = next.Version
	} else {
		res.CanonVersion = canon.Version
	}

	p.mu.Lock()
	p.turnsSince = 0
	p.lastRun = now
	p.mu.Unlock()

	p.collector.ObserveConsolidation(res.Promoted, res.Forgotten)
	for i := 0; i < res.Expired; i++ {
		p.collector.ObserveCommitmentExpired()
	}

	p.logger.Debug("maintenance sweep",
		"promoted", res.Promoted, "forgotten", res.Forgotten,
		"surfaced", len(res.Surfaced), "expired", res.Expired,
		"canon_version", res.CanonVersion)
	return res
}

const digestCardMax = 700

// BuildDigest rolls the day up into a compact card: strongest facts,
// open commitments, tracked topics and the next obligation.
func (p *Pipeline) BuildDigest(day time.Time) types.DailyDigest {
	facts := p.mem.Facts()
	if len(facts) > 10 {
		facts = facts[:10]
	}
	active := p.commitments.Active()
	if len(active) > 5 {
		active = active[:5]
	}
	rel := p.mem.Relationship()
	topics := rel.Topics
	if len(topics) > 5 {
		topics = topics[len(topics)-5:]
	}

	d := types.DailyDigest{
		Date:          day.Format("2006-01-02"),
		SchemaVersion: types.SchemaVersion,
	}
	for _, f := range facts {
		d.NewFacts = append(d.NewFacts, f.Text())
	}
	for _, c := range active {
		d.Commitments = append(d.Commitments, c.Desc)
	}
	d.OpenTopics = append(d.OpenTopics, topics...)
	if len(active) > 0 {
		d.NextStep = active[0].Desc
	}

	d.Card = renderDigestCard(d)
	return d
}

func renderDigestCard(d types.DailyDigest) string {
	var b strings.Builder
	b.WriteString("Resumo de ")
	b.WriteString(d.Date)
	b.WriteString(".")
	if len(d.NewFacts) > 0 {
		b.WriteString(" Fatos: ")
		b.WriteString(strings.Join(d.NewFacts, "; "))
		b.WriteString(".")
	}
	if len(d.Commitments) > 0 {
		b.WriteString(" Compromissos: ")
		b.WriteString(strings.Join(d.Commitments, "; "))
		b.WriteString(".")
	}
	if len(d.OpenTopics) > 0 {
		b.WriteString(" Assuntos: ")
		b.WriteString(strings.Join(d.OpenTopics, ", "))
		b.WriteString(".")
	}
	if d.NextStep != "" {
		b.WriteString(" Próximo passo: ")
		b.WriteString(d.NextStep)
		b.WriteString(".")
	}

	card := b.String()
	r := []rune(card)
	if len(r) > digestCardMax {
		card = strings.TrimSpace(string(r[:digestCardMax-3])) + "..."
	}
	return card
}

package pipeline

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/abm"
	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/memstore"
	"github.com/xiy/echomem/internal/metrics"
	"github.com/xiy/echomem/pkg/types"
)

func newTestPipeline(t *testing.T, cfg config.Config) (*Pipeline, *memstore.Store, *abm.Store, *CommitmentTracker) {
	t.Helper()
	logger := log.New(io.Discard)
	mem := memstore.New(cfg.Capacity, cfg.Consolidation, cfg.AgentName, logger)
	claims := abm.New(logger)
	tracker := NewCommitmentTracker(logger)
	p := New(cfg.Consolidation, cfg.AgentName, mem, claims, tracker, metrics.NewCollector(), logger)
	return p, mem, claims, tracker
}

func TestTrackerReactivationSchedule(t *testing.T) {
	t.Parallel()
	tracker := NewCommitmentTracker(log.New(io.Discard))
	now := time.Now()

	c, added := tracker.Add("lembrar da consulta", "ev-1", nil, now)
	if !added {
		t.Fatal("expected commitment to be tracked")
	}
	if len(c.Reactivations) != 4 {
		t.Fatalf("expected 4 reactivations, got %d", len(c.Reactivations))
	}
	wantOffsets := []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour, 720 * time.Hour}
	for i, want := range wantOffsets {
		if got := c.Reactivations[i].Sub(now); got != want {
			t.Fatalf("reactivation %d: want +%s, got +%s", i, want, got)
		}
	}
}

func TestTrackerDeduplicatesActiveCommitments(t *testing.T) {
	t.Parallel()
	tracker := NewCommitmentTracker(log.New(io.Discard))
	now := time.Now()

	tracker.Add("Lembrar da consulta médica", "", nil, now)
	_, added := tracker.Add("lembrar da consulta médica", "", nil, now)
	if added {
		t.Fatal("duplicate active commitment must not be tracked twice")
	}
	if got := len(tracker.Active()); got != 1 {
		t.Fatalf("expected 1 active commitment, got %d", got)
	}
}

func TestTrackerSweepPopsAndExpires(t *testing.T) {
	t.Parallel()
	tracker := NewCommitmentTracker(log.New(io.Discard))
	now := time.Now()

	c, _ := tracker.Add("lembrar da consulta", "", nil, now)

	surfaced, expired := tracker.Sweep(now.Add(25 * time.Hour))
	if len(surfaced) != 1 || expired != 0 {
		t.Fatalf("expected first reactivation surfaced, got surfaced=%d expired=%d", len(surfaced), expired)
	}
	if len(surfaced[0].Reactivations) != 3 {
		t.Fatalf("expected 3 remaining reactivations, got %d", len(surfaced[0].Reactivations))
	}

	// Nothing due again until the next offset.
	surfaced, expired = tracker.Sweep(now.Add(26 * time.Hour))
	if len(surfaced) != 0 || expired != 0 {
		t.Fatalf("expected quiet sweep, got surfaced=%d expired=%d", len(surfaced), expired)
	}

	// Far in the future the schedule exhausts and the commitment expires.
	surfaced, expired = tracker.Sweep(now.Add(31 * 24 * time.Hour))
	if len(surfaced) != 1 || expired != 1 {
		t.Fatalf("expected final surfacing with expiry, got surfaced=%d expired=%d", len(surfaced), expired)
	}
	got, _ := tracker.Get(c.ID)
	if got.Status != types.CommitmentExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
}

func TestTrackerMarkDoneStopsReactivation(t *testing.T) {
	t.Parallel()
	tracker := NewCommitmentTracker(log.New(io.Discard))
	now := time.Now()

	c, _ := tracker.Add("lembrar da consulta", "", nil, now)
	resolved, ok := tracker.MarkDone(c.ID, now.Add(time.Hour))
	if !ok || resolved.Status != types.CommitmentDone {
		t.Fatalf("expected resolution, got %+v", resolved)
	}

	if surfaced, _ := tracker.Sweep(now.Add(48 * time.Hour)); len(surfaced) != 0 {
		t.Fatal("resolved commitments must not resurface")
	}
	if _, ok := tracker.MarkDone(c.ID, now); ok {
		t.Fatal("resolving twice must fail")
	}
}

func TestSchedulerByTurnCount(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Consolidation.EveryTurns = 3
	cfg.Consolidation.EveryMinutes = 0
	p, _, _, _ := newTestPipeline(t, cfg)
	now := time.Now()

	if p.TurnCompleted(now) || p.TurnCompleted(now.Add(time.Second)) {
		t.Fatal("sweep must not trigger before the turn threshold")
	}
	if !p.TurnCompleted(now.Add(2 * time.Second)) {
		t.Fatal("third turn must trigger a sweep")
	}

	p.Run(now.Add(3 * time.Second))
	if p.TurnCompleted(now.Add(4 * time.Second)) {
		t.Fatal("scheduler must reset after a run")
	}
}

func TestSchedulerByElapsedTime(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Consolidation.EveryTurns = 0
	cfg.Consolidation.EveryMinutes = 30
	p, _, _, _ := newTestPipeline(t, cfg)
	now := time.Now()

	if p.SweepDue(now) {
		t.Fatal("first check only arms the timer")
	}
	if p.SweepDue(now.Add(10 * time.Minute)) {
		t.Fatal("sweep must not trigger before the interval")
	}
	if !p.SweepDue(now.Add(31 * time.Minute)) {
		t.Fatal("sweep must trigger after the interval")
	}
}

func TestRunConsolidatesAndRebuildsCanon(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	p, mem, claims, _ := newTestPipeline(t, cfg)
	now := time.Now()

	mem.AddEpisode("gosto de corrida na praia", 0.9, 0.9, now)
	claims.AddClaim(types.ABMTool, "Eu posso te ajudar com lembretes", "", 0.8, 0.9, now)

	res := p.Run(now)
	if res.Promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", res.Promoted)
	}
	if !res.CanonRebuilt || res.CanonVersion != 1 {
		t.Fatalf("expected canon rebuild to version 1, got %+v", res)
	}
	if got := p.Canon().Version; got != 1 {
		t.Fatalf("canon snapshot not updated, version %d", got)
	}

	// A second run with no new signals keeps the canon version stable.
	res = p.Run(now.Add(time.Minute))
	if res.CanonRebuilt || res.CanonVersion != 1 {
		t.Fatalf("expected stable canon, got %+v", res)
	}
}

func TestBuildDigestBoundedCard(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	p, mem, _, tracker := newTestPipeline(t, cfg)
	now := time.Now()

	for i := 0; i < 15; i++ {
		mem.PutFact(types.SemanticFact{
			Subject: "usuário", Relation: "mencionou",
			Object:     strings.Repeat("um detalhe bem longo ", 3) + string(rune('a'+i)),
			Importance: 0.5, LastReinforced: now,
		}, now)
	}
	tracker.Add("lembrar da consulta médica", "", nil, now)
	mem.RecordInteraction("Hoje falamos de trabalho e futebol", now)

	d := p.BuildDigest(now)
	if d.Date != now.Format("2006-01-02") {
		t.Fatalf("unexpected digest date %q", d.Date)
	}
	if len(d.NewFacts) > 10 {
		t.Fatalf("digest must cap facts at 10, got %d", len(d.NewFacts))
	}
	if len([]rune(d.Card)) > 700 {
		t.Fatalf("digest card exceeds 700 chars: %d", len([]rune(d.Card)))
	}
	if d.NextStep != "lembrar da consulta médica" {
		t.Fatalf("expected next step from oldest commitment, got %q", d.NextStep)
	}
	if len(d.OpenTopics) == 0 {
		t.Fatal("expected tracked topics in digest")
	}
}

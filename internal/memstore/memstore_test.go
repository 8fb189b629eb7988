package memstore

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	return New(cfg.Capacity, cfg.Consolidation, "Eco", log.New(io.Discard))
}

func TestEpisodicBufferEvictsOldest(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Capacity.EpisodicBuffer = 3
	s := New(cfg.Capacity, cfg.Consolidation, "Eco", log.New(io.Discard))

	now := time.Now()
	for _, text := range []string{"um", "dois", "três", "quatro"} {
		s.AddEpisode(text, 0.5, 0.5, now)
	}
	if got := s.EpisodeCount(); got != 3 {
		t.Fatalf("expected 3 episodes after eviction, got %d", got)
	}
	recent := s.RecentEpisodes(3)
	if recent[0].Text != "dois" {
		t.Fatalf("expected oldest surviving episode %q, got %q", "dois", recent[0].Text)
	}
}

func TestConsolidatePromotesAboveThreshold(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.AddEpisode("gosto de corrida", 0.9, 0.9, now)
	s.AddEpisode("tempo nublado", 0.1, 0.1, now)

	if promoted := s.Consolidate(now); promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", promoted)
	}
	if got := s.FactCount(); got != 1 {
		t.Fatalf("expected 1 semantic fact, got %d", got)
	}
	facts := s.Facts()
	if facts[0].Object != "gosto de corrida" {
		t.Fatalf("unexpected promoted fact: %+v", facts[0])
	}
}

func TestConsolidateIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	// 0.9 importance sits above anything the turn pipeline produces; the
	// residual-salience trick holds up to roughly 0.93.
	s.AddEpisode("gosto de corrida", 0.9, 0.9, now)
	first := s.Consolidate(now)
	weight := s.Facts()[0].Importance
	second := s.Consolidate(now)
	if first != 1 || second != 0 {
		t.Fatalf("expected promotions (1, 0), got (%d, %d)", first, second)
	}
	if got := s.FactCount(); got != 1 {
		t.Fatalf("second pass must not duplicate facts, got %d", got)
	}
	if got := s.Facts()[0].Importance; got != weight {
		t.Fatalf("second pass must not change fact weight: %f != %f", got, weight)
	}
}

func TestConsolidateReinforcesExistingFact(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.AddEpisode("gosto de corrida", 0.9, 0.9, now)
	s.Consolidate(now)
	before := s.Facts()[0].Importance

	s.AddEpisode("gosto de corrida", 0.9, 0.9, now.Add(time.Minute))
	s.Consolidate(now.Add(time.Minute))

	after := s.Facts()[0].Importance
	if after <= before {
		t.Fatalf("expected reinforcement to raise importance: before=%f after=%f", before, after)
	}
	if got := s.FactCount(); got != 1 {
		t.Fatalf("reinforcement must not add a fact, got %d", got)
	}
}

func TestApplyDecayForgetsWeakFacts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	old := time.Now().Add(-90 * 24 * time.Hour)

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "mencionou", Object: "detalhe passageiro",
		Importance: 0.15, Confidence: 0.5, LastReinforced: old,
	}, old)

	if forgotten := s.ApplyDecay(time.Now()); forgotten != 1 {
		t.Fatalf("expected 1 forgotten fact, got %d", forgotten)
	}
	if got := s.FactCount(); got != 0 {
		t.Fatalf("expected empty semantic store, got %d facts", got)
	}
}

func TestApplyDecayAccessResistance(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()
	old := now.Add(-10 * 24 * time.Hour)

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "café",
		Importance: 0.5, LastReinforced: old, AccessCount: 10,
	}, old)
	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "chá",
		Importance: 0.5, LastReinforced: old, AccessCount: 0,
	}, old)

	s.ApplyDecay(now)

	var accessed, untouched float64
	for _, f := range s.Facts() {
		switch f.Object {
		case "café":
			accessed = f.Importance
		case "chá":
			untouched = f.Importance
		}
	}
	if accessed <= untouched {
		t.Fatalf("frequently accessed fact must decay slower: accessed=%f untouched=%f", accessed, untouched)
	}
}

func TestReinforceMemory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "café",
		Importance: 0.4, LastReinforced: now,
	}, now)

	if !s.ReinforceMemory("usuário gosta café", 0.3, now) {
		t.Fatal("expected reinforcement of existing fact")
	}
	if s.ReinforceMemory("inexistente", 0.3, now) {
		t.Fatal("expected false for unknown fact")
	}
	if got := s.Facts()[0].Importance; got < 0.69 || got > 0.71 {
		t.Fatalf("expected importance near 0.7, got %f", got)
	}
	if got := s.Facts()[0].AccessCount; got != 1 {
		t.Fatalf("reinforcement must bump the access count, got %d", got)
	}
}

func TestReinforceMemorySlowsDecay(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	old := time.Now().Add(-20 * 24 * time.Hour)

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "café",
		Importance: 0.5, LastReinforced: old,
	}, old)
	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "chá",
		Importance: 0.5, LastReinforced: old,
	}, old)
	for i := 0; i < 10; i++ {
		s.ReinforceMemory("usuário gosta café", 0, old)
	}

	s.ApplyDecay(time.Now())

	var reinforced, plain float64
	for _, f := range s.Facts() {
		switch f.Object {
		case "café":
			reinforced = f.Importance
		case "chá":
			plain = f.Importance
		}
	}
	if reinforced <= plain {
		t.Fatalf("reinforced fact must decay slower: reinforced=%f plain=%f", reinforced, plain)
	}
}

func TestCorrectFactReplacesSameSubjectRelation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "chama-se", Object: "João",
		Importance: 0.9, Confidence: 0.8, LastReinforced: now,
	}, now)
	s.CorrectFact(types.SemanticFact{
		Subject: "usuário", Relation: "chama-se", Object: "Maria",
		Importance: 0.95, Confidence: 1.0,
	}, now)

	facts := s.Facts()
	if len(facts) != 1 {
		t.Fatalf("correction must replace, not accumulate: got %d facts", len(facts))
	}
	if facts[0].Object != "Maria" || facts[0].Confidence != 1.0 {
		t.Fatalf("unexpected corrected fact: %+v", facts[0])
	}
}

func TestRecallRanksByKeywordOverlap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "gosta", Object: "corrida na praia",
		Importance: 0.3, LastReinforced: now,
	}, now)
	s.PutFact(types.SemanticFact{
		Subject: "usuário", Relation: "trabalha", Object: "banco",
		Importance: 0.9, LastReinforced: now,
	}, now)

	hits := s.Recall("corrida praia", 5, now)
	if len(hits) != 1 {
		t.Fatalf("expected 1 recall hit, got %d", len(hits))
	}
	if hits[0].Object != "corrida na praia" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}

	// Recall must count as access so decay slows down.
	for _, f := range s.Facts() {
		if f.Object == "corrida na praia" && f.AccessCount != 1 {
			t.Fatalf("expected access count 1, got %d", f.AccessCount)
		}
	}
}

func TestFactCapacityEvictsWeakest(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Capacity.MaxSemanticFacts = 2
	s := New(cfg.Capacity, cfg.Consolidation, "Eco", log.New(io.Discard))
	now := time.Now()

	s.PutFact(types.SemanticFact{Subject: "a", Relation: "r", Object: "x", Importance: 0.9}, now)
	s.PutFact(types.SemanticFact{Subject: "b", Relation: "r", Object: "y", Importance: 0.2}, now)
	s.PutFact(types.SemanticFact{Subject: "c", Relation: "r", Object: "z", Importance: 0.8}, now)

	if got := s.FactCount(); got != 2 {
		t.Fatalf("expected capacity enforcement to keep 2 facts, got %d", got)
	}
	for _, f := range s.Facts() {
		if f.Subject == "b" {
			t.Fatal("weakest fact should have been evicted")
		}
	}
}

func TestRelationshipProgression(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	rel := s.Relationship()
	if rel.Stage != types.StageStranger {
		t.Fatalf("expected initial stage stranger, got %s", rel.Stage)
	}

	for i := 0; i < 10; i++ {
		rel = s.RecordInteraction("Oi Eco, como foi seu dia? Hoje eu corri na praia de manhã.", now)
		now = now.Add(time.Minute)
	}
	if rel.Interactions != 10 {
		t.Fatalf("expected 10 interactions, got %d", rel.Interactions)
	}
	if rel.Stage == types.StageStranger {
		t.Fatalf("expected stage above stranger after 10 interactions, familiarity=%f", rel.Familiarity)
	}
	if rel.FirstMeeting.IsZero() {
		t.Fatal("first meeting must be set")
	}
}

func TestRelationshipFamiliarityBonuses(t *testing.T) {
	t.Parallel()
	plain := newTestStore(t)
	named := newTestStore(t)
	now := time.Now()

	p := plain.RecordInteraction("oi", now)
	n := named.RecordInteraction("Oi Eco, tudo bem com você hoje?", now)
	if n.Familiarity <= p.Familiarity {
		t.Fatalf("name and question bonuses must grow familiarity faster: %f vs %f", n.Familiarity, p.Familiarity)
	}
}

func TestRelationshipTracksTopicsAndGivenName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.RecordInteraction("Hoje no trabalho falamos sobre futebol", now)
	rel := s.RecordInteraction("Vou te chamar de faísca", now)

	if len(rel.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", rel.Topics)
	}
	if rel.GivenName != "Faísca" {
		t.Fatalf("expected given name Faísca, got %q", rel.GivenName)
	}
}

func TestLoadRelationshipRecomputesStage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	s.LoadRelationship(types.RelationshipState{Familiarity: 0.25, Interactions: 30})
	rel := s.Relationship()
	if rel.Stage != types.StageFriend {
		t.Fatalf("expected stage friend for familiarity 0.25, got %s", rel.Stage)
	}
	if rel.SchemaVersion != types.SchemaVersion {
		t.Fatalf("expected migrated schema version, got %d", rel.SchemaVersion)
	}
}

package retrieve

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/pkg/types"
)

func newTestRetriever(budget int) *Retriever {
	cfg := config.Default().Retrieval
	cfg.TokenBudget = budget
	return New(cfg, log.New(io.Discard))
}

func sampleInput(now time.Time) Input {
	due := now.Add(24 * time.Hour)
	return Input{
		Query: "consulta médica lembrete",
		Now:   now,
		Canon: types.Canon{
			Role:         "Eu sou o Eco, um companheiro de conversas.",
			Capabilities: []string{"Posso guardar lembretes"},
			Version:      1,
		},
		Claims: []types.ABMItem{
			{ID: "a1", Type: types.ABMInteractionCommitment, Text: "Sempre que precisar, estou por aqui", Status: types.ABMActive, Importance: 0.7},
			{ID: "a2", Type: types.ABMInteractionCommitment, Text: "Aviso quando algo ficar pendente", Status: types.ABMActive, Importance: 0.2},
			{ID: "a3", Type: types.ABMTool, Text: "Eu posso guardar lembretes", Status: types.ABMActive, Importance: 0.9},
		},
		Commitments: []types.Commitment{
			{ID: "c1", Desc: "Lembrar da consulta médica na quinta", Status: types.CommitmentActive, MadeAt: now.Add(-time.Hour), Due: &due},
			{ID: "c2", Desc: "Perguntar sobre a viagem", Status: types.CommitmentActive, MadeAt: now.Add(-2 * time.Hour)},
			{ID: "c3", Desc: "Compromisso antigo resolvido", Status: types.CommitmentDone, MadeAt: now.Add(-48 * time.Hour)},
		},
		Facts: []types.SemanticFact{
			{Subject: "usuário", Relation: "tem", Object: "consulta médica na quinta", Importance: 0.6, LastReinforced: now.Add(-time.Hour)},
			{Subject: "usuário", Relation: "gosta", Object: "corrida", Importance: 0.5, LastReinforced: now.Add(-200 * time.Hour)},
		},
		Events: []types.Event{
			{ID: "e1", Title: "Conversa sobre saúde", Summary: "Usuário marcou consulta médica e pediu lembrete.", Salience: 0.7, End: now.Add(-2 * time.Hour)},
			{ID: "e2", Title: "Conversa sobre futebol", Summary: "Jogo do fim de semana.", Salience: 0.3, End: now.Add(-100 * time.Hour)},
		},
		Patterns: []types.EchoPattern{
			{ID: "p1", Text: "Pode deixar, eu te lembro!", Context: types.ContextConfirmation, Success: 0.9},
		},
	}
}

func TestRetrieveTierOrderAndSelection(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(1000)
	now := time.Now()

	res := r.Retrieve(sampleInput(now))
	if res.CanonText == "" {
		t.Fatal("canon must always be present under a generous budget")
	}
	if len(res.Claims) != 1 || res.Claims[0].ID != "a1" {
		t.Fatalf("expected only the weighty interaction promise, got %+v", res.Claims)
	}
	if len(res.Commitments) != 2 {
		t.Fatalf("expected 2 active commitments, got %d", len(res.Commitments))
	}
	if res.Commitments[0].ID != "c1" {
		t.Fatalf("due-soon commitment must come first, got %s", res.Commitments[0].ID)
	}
	if len(res.Facts) == 0 || res.Facts[0].Object != "consulta médica na quinta" {
		t.Fatalf("query-matching fact must rank first, got %+v", res.Facts)
	}
	if res.Event == nil || res.Event.ID != "e1" {
		t.Fatalf("expected health event selected, got %+v", res.Event)
	}
	if res.Pattern == nil || res.Pattern.ID != "p1" {
		t.Fatal("expected echo pattern under budget")
	}
}

func TestRetrieveExcludesResolvedCommitments(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(1000)

	res := r.Retrieve(sampleInput(time.Now()))
	for _, c := range res.Commitments {
		if c.Status != types.CommitmentActive {
			t.Fatalf("non-active commitment leaked into retrieval: %+v", c)
		}
	}
}

func TestRetrieveRespectsBudget(t *testing.T) {
	t.Parallel()
	now := time.Now()

	for _, budget := range []int{10, 50, 100, 1000} {
		res := newTestRetriever(budget).Retrieve(sampleInput(now))
		if res.TokensUsed > budget {
			t.Fatalf("budget %d exceeded: used %d", budget, res.TokensUsed)
		}
	}
}

func TestRetrieveBudgetMonotonicity(t *testing.T) {
	t.Parallel()
	now := time.Now()
	in := sampleInput(now)

	prevUsed := -1
	prevItems := -1
	for _, budget := range []int{10, 30, 60, 120, 500, 2000} {
		res := newTestRetriever(budget).Retrieve(in)
		items := len(res.Claims) + len(res.Commitments) + len(res.Facts)
		if res.Event != nil {
			items++
		}
		if res.Pattern != nil {
			items++
		}
		if res.TokensUsed < prevUsed || items < prevItems {
			t.Fatalf("larger budget %d retrieved less: used=%d items=%d", budget, res.TokensUsed, items)
		}
		prevUsed = res.TokensUsed
		prevItems = items
	}
}

func TestRetrieveTinyBudgetTruncatesCanon(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(5)

	res := r.Retrieve(sampleInput(time.Now()))
	if res.TokensUsed > 5 {
		t.Fatalf("tiny budget exceeded: %d", res.TokensUsed)
	}
	if len(res.Facts) != 0 || res.Event != nil {
		t.Fatal("nothing beyond truncated canon fits a tiny budget")
	}
}

func TestRetrieveMaxFactsCap(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(100000)
	now := time.Now()

	in := sampleInput(now)
	in.Facts = nil
	for i := 0; i < 20; i++ {
		in.Facts = append(in.Facts, types.SemanticFact{
			Subject: "usuário", Relation: "mencionou", Object: fmt.Sprintf("detalhe %d", i),
			Importance: 0.5, LastReinforced: now,
		})
	}
	res := r.Retrieve(in)
	if len(res.Facts) != config.Default().Retrieval.MaxFacts {
		t.Fatalf("expected max facts cap, got %d", len(res.Facts))
	}
}

func TestRetrieveCapsInteractionClaims(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(100000)
	now := time.Now()

	in := sampleInput(now)
	in.Claims = nil
	for i := 0; i < 8; i++ {
		in.Claims = append(in.Claims, types.ABMItem{
			ID:     fmt.Sprintf("a%d", i),
			Type:   types.ABMInteractionCommitment,
			Text:   fmt.Sprintf("Sempre que quiser, posso conversar sobre o assunto %d", i),
			Status: types.ABMActive, Importance: 0.8,
		})
	}
	in.Claims = append(in.Claims, types.ABMItem{
		ID: "revised", Type: types.ABMInteractionCommitment,
		Text: "Promessa antiga já revisada", Status: types.ABMRevised, Importance: 0.9,
	})

	res := r.Retrieve(in)
	if len(res.Claims) != 5 {
		t.Fatalf("expected at most 5 interaction promises, got %d", len(res.Claims))
	}
	for _, c := range res.Claims {
		if c.Status != types.ABMActive {
			t.Fatalf("non-active claim leaked into retrieval: %+v", c)
		}
	}
}

func TestTruncateToTokensWordBoundary(t *testing.T) {
	t.Parallel()
	s := "usuário tem consulta médica na quinta-feira de manhã"

	got := TruncateToTokens(s, 5)
	if len([]rune(got)) > 20 {
		t.Fatalf("truncation exceeds allowance: %q", got)
	}
	if strings.HasSuffix(got, " ") || got == "" {
		t.Fatalf("expected clean word boundary, got %q", got)
	}
	if TruncateToTokens(s, 1000) != s {
		t.Fatal("generous allowance must not truncate")
	}
}

func TestBuildPromptSectionOrder(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(1000)
	now := time.Now()

	res := r.Retrieve(sampleInput(now))
	prompt := BuildPrompt(res, PromptInput{
		AgentName:    "Eco",
		UserMessage:  "Que dia é a consulta?",
		Relationship: types.RelationshipState{Stage: types.StageFriend},
	})

	order := []string{
		"INSTRUÇÃO:", "IDENTIDADE:", "COMPROMISSOS ATIVOS:",
		"FATOS IMPORTANTES:", "CONTEXTO RECENTE:", "PADRÃO DE COMUNICAÇÃO:",
		"MENSAGEM DO USUÁRIO:", "RESPOSTA:",
	}
	last := -1
	for _, section := range order {
		idx := strings.Index(prompt, section)
		if idx < 0 {
			t.Fatalf("missing section %q in prompt:\n%s", section, prompt)
		}
		if idx < last {
			t.Fatalf("section %q out of order", section)
		}
		last = idx
	}
	if !strings.HasSuffix(prompt, "RESPOSTA:") {
		t.Fatal("prompt must end at the response marker")
	}
}

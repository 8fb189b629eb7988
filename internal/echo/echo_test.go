package echo

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/pkg/types"
)

func newTestTrace(maxPatterns int) *Trace {
	return NewTrace(maxPatterns, log.New(io.Discard))
}

func TestAddPatternRejectsShortFragments(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)

	if _, ok := tr.AddPattern("oi!", types.ContextGreeting, 0.7, time.Now()); ok {
		t.Fatal("fragments under 10 runes must be rejected")
	}
	if _, ok := tr.AddPattern("Oi! Que bom te ver por aqui.", types.ContextGreeting, 0.7, time.Now()); !ok {
		t.Fatal("expected fragment to be stored")
	}
}

func TestAddPatternTruncates(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)

	long := strings.Repeat("que bom te ver ", 20)
	p, ok := tr.AddPattern(long, types.ContextGreeting, 0.7, time.Now())
	if !ok {
		t.Fatal("expected long fragment to be stored")
	}
	if n := len([]rune(p.Text)); n > 120 {
		t.Fatalf("pattern exceeds 120 runes: %d", n)
	}
}

func TestAddPatternReinforcesDuplicate(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)
	now := time.Now()

	first, _ := tr.AddPattern("Pode deixar, eu te lembro!", types.ContextConfirmation, 0.6, now)
	second, _ := tr.AddPattern("pode deixar, eu te lembro!", types.ContextConfirmation, 1.0, now.Add(time.Minute))

	if second.ID != first.ID {
		t.Fatal("duplicate must reinforce the existing pattern")
	}
	if second.UsageCount != 2 {
		t.Fatalf("expected usage 2, got %d", second.UsageCount)
	}
	if second.Success < 0.79 || second.Success > 0.81 {
		t.Fatalf("expected success averaged to 0.8, got %f", second.Success)
	}
	if got := len(tr.Patterns()); got != 1 {
		t.Fatalf("expected 1 stored pattern, got %d", got)
	}
}

func TestCapacityPrunesWeakest(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(3)
	now := time.Now()

	tr.AddPattern("Fragmento forte número um aqui", types.ContextExplanation, 0.9, now)
	tr.AddPattern("Fragmento fraco que deve sair", types.ContextExplanation, 0.1, now)
	tr.AddPattern("Fragmento forte número dois aqui", types.ContextExplanation, 0.8, now)
	tr.AddPattern("Fragmento forte número três aqui", types.ContextExplanation, 0.7, now)

	patterns := tr.Patterns()
	if len(patterns) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(patterns))
	}
	for _, p := range patterns {
		if strings.Contains(p.Text, "fraco") {
			t.Fatal("weakest pattern should have been pruned")
		}
	}
}

func TestPatternsForContextRanksBySuccessAndUsage(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)
	now := time.Now()

	low, _ := tr.AddPattern("Entendi, vou anotar isso aqui", types.ContextConfirmation, 0.4, now)
	tr.AddPattern("Combinado, conte comigo sempre", types.ContextConfirmation, 0.9, now)
	tr.AddPattern("Sinto muito por esse momento", types.ContextEmpathy, 1.0, now)

	for i := 0; i < 10; i++ {
		tr.MarkUsed(low.ID, 0.9, now)
	}

	got := tr.PatternsForContext(types.ContextConfirmation, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 confirmation patterns, got %d", len(got))
	}
	if got[0].ID != low.ID {
		t.Fatalf("heavy usage must outrank idle success: got %q first", got[0].Text)
	}
}

func TestPatternsForContextLimit(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)
	now := time.Now()

	for i := 0; i < 5; i++ {
		tr.AddPattern(fmt.Sprintf("Que legal, história número %d!", i), types.ContextEnthusiasm, 0.7, now)
	}
	if got := tr.PatternsForContext(types.ContextEnthusiasm, 2); len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
}

func TestClassifyContext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message string
		want    types.PatternContext
	}{
		{"Oi, tudo bem?", types.ContextGreeting},
		{"Bom dia! Dormiu bem?", types.ContextGreeting},
		{"Tchau, até amanhã", types.ContextFarewell},
		{"Combinado, obrigado!", types.ContextConfirmation},
		{"Hoje foi um dia muito difícil", types.ContextEmpathy},
		{"Que legal, adorei a ideia", types.ContextEnthusiasm},
		{"Qual é a capital da Austrália?", types.ContextQuestion},
		{"Hoje joguei bola com meus amigos", types.ContextConfirmation},
	}
	for _, tc := range cases {
		if got := ClassifyContext(tc.message); got != tc.want {
			t.Errorf("ClassifyContext(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}

func TestExtractFromResponse(t *testing.T) {
	t.Parallel()
	tr := newTestTrace(50)

	response := "Oi! Que bom falar com você de novo. Pode deixar, eu anoto o lembrete. Como foi seu dia hoje?"
	added := tr.ExtractFromResponse(response, time.Now())

	contexts := map[types.PatternContext]bool{}
	for _, p := range added {
		contexts[p.Context] = true
	}
	for _, want := range []types.PatternContext{types.ContextGreeting, types.ContextConfirmation, types.ContextQuestion} {
		if !contexts[want] {
			t.Fatalf("expected %s pattern extracted, got %v", want, added)
		}
	}
}

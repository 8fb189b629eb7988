// Package retrieve assembles the memory context for a response within a
// fixed token budget. Tiers are spent in identity-first order: canon,
// standing interaction promises, active commitments, semantic facts, one
// episodic event, one phrasing pattern. Whatever does not fit is dropped,
// never summarized on the fly.
package retrieve

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/abm"
	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/embedding"
	"github.com/xiy/echomem/pkg/types"
)

// EstimateTokens approximates token count as one token per four
// characters. Cheap and close enough for budget enforcement.
func EstimateTokens(s string) int {
	return len([]rune(s)) / 4
}

// TruncateToTokens cuts s so it fits the token allowance, breaking at the
// last word boundary before the limit.
func TruncateToTokens(s string, tokens int) string {
	limit := tokens * 4
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	cut := string(r[:limit])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// Input carries the candidate memories for one retrieval pass.
type Input struct {
	Query          string
	QueryEmbedding []float32
	Now            time.Time
	Canon          types.Canon
	Claims         []types.ABMItem
	Commitments    []types.Commitment
	Facts          []types.SemanticFact
	Events         []types.Event
	Patterns       []types.EchoPattern
}

// Result is the budgeted selection.
type Result struct {
	CanonText   string
	Claims      []types.ABMItem
	Commitments []types.Commitment
	Facts       []types.SemanticFact
	Event       *types.Event
	Pattern     *types.EchoPattern
	TokensUsed  int
}

// Retriever ranks and selects memories under the configured budget.
type Retriever struct {
	cfg    config.RetrievalConfig
	logger *log.Logger
}

// New constructs a Retriever.
func New(cfg config.RetrievalConfig, logger *log.Logger) *Retriever {
	return &Retriever{cfg: cfg, logger: logger}
}

const (
	maxClaims      = 5
	maxCommitments = 5
)

// Retrieve selects memories tier by tier until the budget runs out.
func (r *Retriever) Retrieve(in Input) Result {
	var out Result
	budget := r.cfg.TokenBudget

	// Tier 1: canon. Identity always leads; it is truncated rather than
	// dropped when the budget is too small for all of it.
	canonText := abm.PromptText(in.Canon, r.cfg.MaxCanonLines)
	if canonText != "" {
		if cost := EstimateTokens(canonText); cost > budget-out.TokensUsed {
			canonText = TruncateToTokens(canonText, budget-out.TokensUsed)
		}
		if canonText != "" {
			out.CanonText = canonText
			out.TokensUsed += EstimateTokens(canonText)
		}
	}

	// Tier 2: standing interaction promises from the autobiographical
	// record, weightiest first. Marginal claims stay out of the prompt.
	for _, c := range in.Claims {
		if len(out.Claims) >= maxClaims {
			break
		}
		if c.Status != types.ABMActive || c.Type != types.ABMInteractionCommitment {
			continue
		}
		if c.Importance < r.cfg.MinImportance {
			continue
		}
		cost := EstimateTokens(c.Text)
		if out.TokensUsed+cost > budget {
			break
		}
		out.Claims = append(out.Claims, c)
		out.TokensUsed += cost
	}

	// Tracked commitments ride along with the same tier, soonest
	// obligation first.
	commitments := activeSortedByUrgency(in.Commitments)
	for _, c := range commitments {
		if len(out.Commitments) >= maxCommitments {
			break
		}
		cost := EstimateTokens(c.Desc)
		if out.TokensUsed+cost > budget {
			break
		}
		out.Commitments = append(out.Commitments, c)
		out.TokensUsed += cost
	}

	// Tier 3: semantic facts by hybrid score.
	for _, f := range r.rankFacts(in) {
		if len(out.Facts) >= r.cfg.MaxFacts {
			break
		}
		cost := EstimateTokens(f.Text())
		if out.TokensUsed+cost > budget {
			break
		}
		out.Facts = append(out.Facts, f)
		out.TokensUsed += cost
	}

	// Tier 4: the single best episodic event.
	if ev := r.bestEvent(in); ev != nil {
		cost := EstimateTokens(ev.Title) + EstimateTokens(ev.Summary)
		if out.TokensUsed+cost <= budget {
			out.Event = ev
			out.TokensUsed += cost
		}
	}

	// Tier 5: one phrasing pattern. The caller passes candidates for the
	// current context only, best first.
	if len(in.Patterns) > 0 {
		p := in.Patterns[0]
		cost := EstimateTokens(p.Text)
		if out.TokensUsed+cost <= budget {
			out.Pattern = &p
			out.TokensUsed += cost
		}
	}

	r.logger.Debug("retrieval pass",
		"tokens", out.TokensUsed, "budget", budget,
		"facts", len(out.Facts), "commitments", len(out.Commitments))
	return out
}

func activeSortedByUrgency(commitments []types.Commitment) []types.Commitment {
	var active []types.Commitment
	for _, c := range commitments {
		if c.Status == types.CommitmentActive {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return nextObligation(active[i]).Before(nextObligation(active[j]))
	})
	return active
}

// nextObligation is the earliest pending due date or reactivation; a
// commitment with neither sorts by age, oldest first.
func nextObligation(c types.Commitment) time.Time {
	next := c.MadeAt.Add(10 * 365 * 24 * time.Hour)
	if c.Due != nil {
		next = *c.Due
	}
	if len(c.Reactivations) > 0 && c.Reactivations[0].Before(next) {
		next = c.Reactivations[0]
	}
	return next
}

func (r *Retriever) rankFacts(in Input) []types.SemanticFact {
	queryWords := contentWords(in.Query)

	type scored struct {
		fact  types.SemanticFact
		score float64
	}
	ranked := make([]scored, 0, len(in.Facts))
	for _, f := range in.Facts {
		hours := in.Now.Sub(f.LastReinforced).Hours()
		score := f.Importance + 0.3*math.Exp(-hours/168)
		score += 0.4 * keywordScore(queryWords, f.Text())
		if len(in.QueryEmbedding) > 0 && len(f.Embedding) > 0 {
			score += 0.3 * embedding.CosineSimilarity(in.QueryEmbedding, f.Embedding)
		}
		ranked = append(ranked, scored{fact: f, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]types.SemanticFact, len(ranked))
	for i, s := range ranked {
		out[i] = s.fact
	}
	return out
}

func (r *Retriever) bestEvent(in Input) *types.Event {
	queryWords := contentWords(in.Query)

	var best *types.Event
	bestScore := 0.0
	for i := range in.Events {
		ev := &in.Events[i]
		hours := in.Now.Sub(ev.End).Hours()
		score := ev.Salience + 0.4*math.Exp(-hours/72)
		score += 0.3 * keywordScore(queryWords, ev.Title+" "+ev.Summary)
		if len(in.QueryEmbedding) > 0 && len(ev.Embedding) > 0 {
			score += 0.3 * embedding.CosineSimilarity(in.QueryEmbedding, ev.Embedding)
		}
		if best == nil || score > bestScore {
			best = ev
			bestScore = score
		}
	}
	return best
}

// keywordScore is the fraction of query content words found in text.
func keywordScore(queryWords map[string]struct{}, text string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for w := range queryWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

func contentWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len([]rune(w)) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Package echo keeps short phrasing fragments that worked well in past
// responses. Retrieval surfaces them as paraphrasing material, never for
// verbatim reuse.
package echo

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/echomem/pkg/types"
)

const (
	maxPatternRunes = 120
	minPatternRunes = 10
)

// Trace is the bounded pattern store. When full, the weakest pattern by
// success and usage is pruned to make room.
type Trace struct {
	mu          sync.Mutex
	maxPatterns int
	patterns    map[string]*types.EchoPattern
	logger      *log.Logger
}

// NewTrace constructs an empty Trace holding at most maxPatterns entries.
func NewTrace(maxPatterns int, logger *log.Logger) *Trace {
	return &Trace{
		maxPatterns: maxPatterns,
		patterns:    make(map[string]*types.EchoPattern),
		logger:      logger,
	}
}

// AddPattern records a fragment for the given context. A near-duplicate of
// an existing pattern in the same context reinforces it: usage rises and
// success moves toward the new observation. Fragments shorter than ten
// runes carry no phrasing signal and are dropped.
func (t *Trace) AddPattern(text string, ctx types.PatternContext, success float64, now time.Time) (types.EchoPattern, bool) {
	text = truncate(strings.TrimSpace(text), maxPatternRunes)
	if len([]rune(text)) < minPatternRunes {
		return types.EchoPattern{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lower := strings.ToLower(text)
	for _, p := range t.patterns {
		if p.Context != ctx {
			continue
		}
		existing := strings.ToLower(p.Text)
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			p.UsageCount++
			p.Success = (p.Success + types.Clamp01(success)) / 2
			p.LastUsed = now
			return *p, true
		}
	}

	p := &types.EchoPattern{
		ID:            uuid.NewString(),
		Text:          text,
		Context:       ctx,
		Success:       types.Clamp01(success),
		UsageCount:    1,
		LastUsed:      now,
		CreatedAt:     now,
		SchemaVersion: types.SchemaVersion,
	}
	t.patterns[p.ID] = p
	t.pruneLocked()
	return *p, true
}

// MarkUsed bumps usage after a pattern influenced a response.
func (t *Trace) MarkUsed(id string, success float64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[id]
	if !ok {
		return false
	}
	p.UsageCount++
	p.Success = (p.Success + types.Clamp01(success)) / 2
	p.LastUsed = now
	return true
}

// PatternsForContext returns patterns for ctx ranked by blended success and
// usage, best first.
func (t *Trace) PatternsForContext(ctx types.PatternContext, limit int) []types.EchoPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.EchoPattern
	for _, p := range t.patterns {
		if p.Context == ctx {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return rankScore(out[i]) > rankScore(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Patterns returns all stored patterns.
func (t *Trace) Patterns() []types.EchoPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.EchoPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Load seeds the trace from persistence.
func (t *Trace) Load(patterns []types.EchoPattern) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range patterns {
		p := patterns[i]
		t.patterns[p.ID] = &p
	}
	t.pruneLocked()
}

// rankScore blends success with a capped usage bonus for retrieval order.
func rankScore(p types.EchoPattern) float64 {
	usage := float64(p.UsageCount) / 10
	if usage > 1 {
		usage = 1
	}
	return p.Success*0.7 + usage*0.3
}

// pruneScore decides survival under capacity pressure; it weighs success
// heavier than retrieval order does.
func pruneScore(p types.EchoPattern) float64 {
	usage := float64(p.UsageCount) / 10
	if usage > 1 {
		usage = 1
	}
	return p.Success*0.6 + usage*0.4
}

// pruneLocked drops the weakest patterns while over capacity. Caller holds
// t.mu.
func (t *Trace) pruneLocked() {
	if t.maxPatterns <= 0 {
		return
	}
	for len(t.patterns) > t.maxPatterns {
		var weakestID string
		weakest := 2.0
		for id, p := range t.patterns {
			if score := pruneScore(*p); score < weakest {
				weakest = score
				weakestID = id
			}
		}
		if weakestID == "" {
			return
		}
		delete(t.patterns, weakestID)
		t.logger.Debug("pruned echo pattern", "id", weakestID, "score", weakest)
	}
}

var greetingOpeners = []string{"oi", "olá", "ola", "e aí", "opa", "bom dia", "boa tarde"}

var contextMarkers = []struct {
	ctx     types.PatternContext
	markers []string
}{
	{types.ContextFarewell, []string{"tchau", "até mais", "até logo", "até amanhã", "boa noite"}},
	{types.ContextConfirmation, []string{"obrigad", "combinado", "perfeito", "beleza", "valeu", "pode deixar", "tá bom", "ta bom"}},
	{types.ContextEmpathy, []string{"triste", "difícil", "dificil", "saudade", "medo", "preocupad", "chatead", "cansad"}},
	{types.ContextEnthusiasm, []string{"que legal", "que ótimo", "adorei", "incrível", "maravilh"}},
}

// ClassifyContext tags a user message with the context the reply will need.
// Greetings only count at the start of the message and win over punctuation
// cues, so "Oi, tudo bem?" is a greeting, not a question. Plain statements
// default to confirmation, the register most replies to them carry.
func ClassifyContext(message string) types.PatternContext {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, opener := range greetingOpeners {
		if strings.HasPrefix(lower, opener) {
			return types.ContextGreeting
		}
	}
	for _, group := range contextMarkers {
		for _, m := range group.markers {
			if strings.Contains(lower, m) {
				return group.ctx
			}
		}
	}
	if strings.Contains(lower, "?") {
		return types.ContextQuestion
	}
	return types.ContextConfirmation
}

var extractionRules = []struct {
	re      *regexp.Regexp
	ctx     types.PatternContext
	success float64
}{
	{regexp.MustCompile(`(?i)^(?:oi|olá|e aí|opa)[!,.]?\s*[^.!?\n]*[.!]?`), types.ContextGreeting, 0.7},
	{regexp.MustCompile(`(?i)(até mais|até logo|tchau|boa noite)[^.!?\n]*[.!]?`), types.ContextFarewell, 0.7},
	{regexp.MustCompile(`(?i)(entendi|perfeito|combinado|pode deixar)[^.!?\n]*[.!]?`), types.ContextConfirmation, 0.7},
	{regexp.MustCompile(`(?i)(sinto muito|imagino como|deve ser difícil)[^.!?\n]*[.!]?`), types.ContextEmpathy, 0.7},
	{regexp.MustCompile(`(?i)(que legal|que ótimo|adorei|incrível)[^.!?\n]*[!.]?`), types.ContextEnthusiasm, 0.7},
	{regexp.MustCompile(`(?i)(desculpa|me desculpe|foi mal)[^.!?\n]*[.!]?`), types.ContextApology, 0.7},
	{regexp.MustCompile(`[^.!?\n]+\?`), types.ContextQuestion, 0.3},
}

// ExtractFromResponse mines an agent response for reusable fragments.
// Social moves (greetings, confirmations, empathy) start with a strong
// prior; plain questions start weak and must earn usage.
func (t *Trace) ExtractFromResponse(response string, now time.Time) []types.EchoPattern {
	var added []types.EchoPattern
	for _, rule := range extractionRules {
		match := rule.re.FindString(response)
		if match == "" {
			continue
		}
		if p, ok := t.AddPattern(match, rule.ctx, rule.success, now); ok {
			added = append(added, p)
		}
	}
	return added
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit < 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

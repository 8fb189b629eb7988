// Package guard checks draft responses against the agent's own claims
// before they reach the user, catching capability contradictions, policy
// slips, broken promises and tone drift.
package guard

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/pkg/types"
)

// ViolationType classifies what a draft response got wrong.
type ViolationType string

const (
	ViolationContradiction ViolationType = "capability_contradiction"
	ViolationDeniedLimit   ViolationType = "denied_limit"
	ViolationPolicy        ViolationType = "policy_violation"
	ViolationBrokenPromise ViolationType = "broken_promise"
	ViolationToneShift     ViolationType = "tone_shift"
	ViolationVerbosity     ViolationType = "verbosity"
)

// Violation is one inconsistency found in a draft.
type Violation struct {
	Type     ViolationType
	Severity float64
	Claim    string
	Detail   string
}

// Guard runs consistency checks against a snapshot of ABM claims and the
// Canon. It never mutates either.
type Guard struct {
	logger *log.Logger
}

// New constructs a Guard.
func New(logger *log.Logger) *Guard {
	return &Guard{logger: logger}
}

// minOverlap is the content-word overlap ratio above which two capability
// fragments are considered to describe the same thing.
const minOverlap = 0.6

var adviceMarkers = []string{
	"você deve", "recomendo que", "sugiro que", "é melhor você",
}

var formalMarkers = []string{"portanto", "ademais", "outrossim", "destarte", "prezado"}

var casualMarkers = []string{" né", " tá ", " pô", " cara,", " mano"}

// CheckResponse inspects a draft against active claims and the canon.
// An empty result means the draft is consistent.
func (g *Guard) CheckResponse(draft string, canon types.Canon, claims []types.ABMItem) []Violation {
	var out []Violation
	lowerDraft := strings.ToLower(draft)

	for _, claim := range claims {
		if claim.Status != types.ABMActive {
			continue
		}
		lowerClaim := strings.ToLower(claim.Text)

		// Claimed "posso X", draft says "não posso X".
		if frag, ok := affirmedFragment(lowerClaim); ok {
			if deniedFrag, ok := deniedFragment(lowerDraft); ok && overlap(frag, deniedFrag) >= minOverlap {
				out = append(out, Violation{
					Type:     ViolationContradiction,
					Severity: 0.9,
					Claim:    claim.Text,
					Detail:   "resposta nega capacidade afirmada antes",
				})
			}
		}

		// Claimed "não posso X", draft says "posso X".
		if frag, ok := deniedFragment(lowerClaim); ok {
			if affirmedFrag, ok := affirmedFragment(lowerDraft); ok && overlap(frag, affirmedFrag) >= minOverlap {
				out = append(out, Violation{
					Type:     ViolationDeniedLimit,
					Severity: 0.95,
					Claim:    claim.Text,
					Detail:   "resposta afirma capacidade negada antes",
				})
			}
		}

		// Policy "não dou conselhos" vs advice phrasing in the draft.
		if strings.Contains(lowerClaim, "não dou conselho") || strings.Contains(lowerClaim, "nao dou conselho") {
			for _, marker := range adviceMarkers {
				if strings.Contains(lowerDraft, marker) {
					out = append(out, Violation{
						Type:     ViolationPolicy,
						Severity: 0.95,
						Claim:    claim.Text,
						Detail:   "resposta contém conselho: " + marker,
					})
					break
				}
			}
		}

		// Policy "não faço X" vs "vou X" in the draft.
		if frag, ok := fragmentAfter(lowerClaim, "não faço ", "nao faço ", "não faco ", "nunca faço "); ok {
			if doingFrag, ok := fragmentAfter(lowerDraft, "vou ", "posso "); ok && overlap(frag, doingFrag) >= minOverlap {
				out = append(out, Violation{
					Type:     ViolationPolicy,
					Severity: 0.8,
					Claim:    claim.Text,
					Detail:   "resposta faz o que a política exclui",
				})
			}
		}

		// Promise "nunca vou X" vs the draft doing X.
		if frag, ok := fragmentAfter(lowerClaim, "nunca vou "); ok {
			if doingFrag, ok := fragmentAfter(lowerDraft, "vou ", "decidi "); ok && overlap(frag, doingFrag) >= minOverlap {
				out = append(out, Violation{
					Type:     ViolationBrokenPromise,
					Severity: 0.85,
					Claim:    claim.Text,
					Detail:   "resposta quebra promessa permanente",
				})
			}
		}
	}

	out = append(out, g.checkTone(lowerDraft, canon)...)

	if len(out) > 0 {
		g.logger.Warn("draft failed consistency check", "violations", len(out))
	}
	return out
}

// checkTone compares the draft's register against the canon style.
func (g *Guard) checkTone(lowerDraft string, canon types.Canon) []Violation {
	style := strings.ToLower(canon.Style)
	if style == "" {
		return nil
	}

	var out []Violation
	informalStyle := strings.Contains(style, "leve") || strings.Contains(style, "informal") ||
		strings.Contains(style, "descontra")
	formalStyle := strings.Contains(style, "formal") && !strings.Contains(style, "informal")

	if informalStyle {
		for _, marker := range formalMarkers {
			if strings.Contains(lowerDraft, marker) {
				out = append(out, Violation{
					Type:     ViolationToneShift,
					Severity: 0.5,
					Claim:    canon.Style,
					Detail:   "registro formal em voz informal: " + marker,
				})
				break
			}
		}
	}
	if formalStyle {
		for _, marker := range casualMarkers {
			if strings.Contains(lowerDraft, marker) {
				out = append(out, Violation{
					Type:     ViolationToneShift,
					Severity: 0.5,
					Claim:    canon.Style,
					Detail:   "registro casual em voz formal",
				})
				break
			}
		}
	}

	concise := strings.Contains(style, "concis") || strings.Contains(style, "curt") ||
		strings.Contains(style, "diret")
	if concise && len([]rune(lowerDraft)) > 500 {
		out = append(out, Violation{
			Type:     ViolationVerbosity,
			Severity: 0.4,
			Claim:    canon.Style,
			Detail:   "resposta longa para uma voz concisa",
		})
	}
	return out
}

// CorrectResponse rewrites a draft when a severe violation was found.
// Contradictions and policy slips above severity 0.8 get a corrective
// opening restating the violated claim; anything milder passes through.
func (g *Guard) CorrectResponse(draft string, violations []Violation, now time.Time) (string, bool) {
	var worst *Violation
	for i := range violations {
		v := &violations[i]
		if v.Severity < 0.8 {
			continue
		}
		switch v.Type {
		case ViolationContradiction, ViolationDeniedLimit, ViolationPolicy, ViolationBrokenPromise:
			if worst == nil || v.Severity > worst.Severity {
				worst = v
			}
		}
	}
	if worst == nil {
		return draft, false
	}

	claim := strings.TrimRight(strings.TrimSpace(worst.Claim), ".!?")
	corrected := "Deixa eu me corrigir: " + lowerFirst(claim) + ". " + draft
	g.logger.Info("corrected draft response", "type", worst.Type, "severity", worst.Severity)
	return corrected, true
}

// affirmedFragment returns the text after a positive capability marker,
// skipping occurrences negated by "não".
func affirmedFragment(lower string) (string, bool) {
	for _, marker := range []string{"posso ", "consigo "} {
		from := 0
		for {
			idx := strings.Index(lower[from:], marker)
			if idx < 0 {
				break
			}
			idx += from
			if !negatedAt(lower, idx) {
				return clipSentence(lower[idx+len(marker):]), true
			}
			from = idx + len(marker)
		}
	}
	return "", false
}

// deniedFragment returns the text after a negated capability marker.
func deniedFragment(lower string) (string, bool) {
	return fragmentAfter(lower,
		"não posso ", "nao posso ", "não consigo ", "nao consigo ")
}

// fragmentAfter returns the sentence remainder after the first marker found.
func fragmentAfter(lower string, markers ...string) (string, bool) {
	for _, marker := range markers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return clipSentence(lower[idx+len(marker):]), true
		}
	}
	return "", false
}

// negatedAt reports whether the marker at idx is preceded by "não"/"nao".
func negatedAt(lower string, idx int) bool {
	prefix := strings.TrimRight(lower[:idx], " ")
	return strings.HasSuffix(prefix, "não") || strings.HasSuffix(prefix, "nao") ||
		strings.HasSuffix(prefix, "nunca")
}

// clipSentence cuts a fragment at the first sentence boundary.
func clipSentence(s string) string {
	if idx := strings.IndexAny(s, ".!?\n"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// overlap computes the content-word overlap ratio between two fragments:
// shared words over the smaller word set. Filler words under three runes
// are ignored so "te ajudar com lembretes" matches "ajudar com lembretes".
func overlap(a, b string) float64 {
	aw := contentWords(a)
	bw := contentWords(b)
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	shared := 0
	for w := range aw {
		if _, ok := bw[w]; ok {
			shared++
		}
	}
	min := len(aw)
	if len(bw) < min {
		min = len(bw)
	}
	return float64(shared) / float64(min)
}

func contentWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len([]rune(w)) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return strings.ToLower(string(r[0])) + string(r[1:])
}

package abm

import (
	"sort"
	"strings"
	"time"

	"github.com/xiy/echomem/pkg/types"
)

const (
	canonSectionMax   = 3
	canonImportantMin = 0.7
	canonNewItemMax   = 5
)

// NeedsCanonUpdate reports whether enough has changed since the last
// rebuild: a high-importance new claim, more than five new claims, or any
// revision.
func (s *Store) NeedsCanonUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.revised ||
		s.pending.maxImportance > canonImportantMin ||
		s.pending.newItems > canonNewItemMax
}

// BuildCanon synthesizes a fresh Canon from the active claim set. The
// version is bumped only when a rebuild actually happens; otherwise prev is
// returned unchanged. An empty prev (version 0) always builds.
func (s *Store) BuildCanon(prev types.Canon, agentName string, now time.Time) (types.Canon, bool) {
	if prev.Version > 0 && !s.NeedsCanonUpdate() {
		return prev, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := types.Canon{
		Role:          "Eu sou " + agentName + ", um companheiro de conversas.",
		Version:       prev.Version + 1,
		LastUpdated:   now,
		SchemaVersion: types.SchemaVersion,
	}

	roleSet := false
	for _, it := range s.activeSortedLocked() {
		switch it.Type {
		case types.ABMSelfClaim:
			if !roleSet {
				next.Role = it.Text
				roleSet = true
			}
		case types.ABMTool:
			if len(next.Capabilities) < canonSectionMax {
				next.Capabilities = append(next.Capabilities, it.Text)
			}
		case types.ABMPolicy:
			if isLimit(it.Text) {
				if len(next.Limits) < canonSectionMax {
					next.Limits = append(next.Limits, it.Text)
				}
			} else if len(next.Principles) < canonSectionMax {
				next.Principles = append(next.Principles, it.Text)
			}
		case types.ABMVoice:
			if next.Style == "" {
				next.Style = it.Text
			}
		case types.ABMInteractionCommitment:
			if len(next.Commitments) < canonSectionMax {
				next.Commitments = append(next.Commitments, it.Text)
			}
		}
	}

	s.pending = canonSignals{}
	s.logger.Info("rebuilt canon", "version", next.Version,
		"capabilities", len(next.Capabilities), "limits", len(next.Limits))
	return next, true
}

// activeSortedLocked returns active claims by importance. Caller holds s.mu.
func (s *Store) activeSortedLocked() []types.ABMItem {
	out := make([]types.ABMItem, 0, len(s.items))
	for _, it := range s.items {
		if it.Status == types.ABMActive {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

func isLimit(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "não posso") || strings.Contains(lower, "nao posso")
}

// PromptText renders a Canon as at most maxSentences short first-person
// sentences for prompt assembly.
func PromptText(c types.Canon, maxSentences int) string {
	var sentences []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || len(sentences) >= maxSentences {
			return
		}
		if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
			s += "."
		}
		sentences = append(sentences, s)
	}

	add(c.Role)
	for _, capability := range c.Capabilities {
		add(capability)
	}
	for _, lim := range c.Limits {
		add(lim)
	}
	add(c.Style)
	for _, p := range c.Principles {
		add(p)
	}
	for _, cm := range c.Commitments {
		add(cm)
	}
	return strings.Join(sentences, " ")
}

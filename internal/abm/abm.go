// Package abm holds the agent's autobiographical memory: first-person
// claims extracted from its own responses, and the compact Canon
// synthesized from them.
package abm

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/echomem/pkg/types"
)

const maxClaimRunes = 140

// Store tracks autobiographical claims and the signals that decide when
// the Canon needs a rebuild.
type Store struct {
	mu      sync.Mutex
	items   map[string]*types.ABMItem
	pending canonSignals
	logger  *log.Logger
}

// canonSignals accumulates between Canon rebuilds.
type canonSignals struct {
	newItems      int
	maxImportance float64
	revised       bool
}

// New constructs an empty Store.
func New(logger *log.Logger) *Store {
	return &Store{items: make(map[string]*types.ABMItem), logger: logger}
}

// AddClaim records a first-person claim. A near-duplicate of an existing
// active claim of the same type reinforces it instead: importance rises by
// 0.1 and the verification timestamp refreshes. The returned bool reports
// whether an existing claim was reinforced.
func (s *Store) AddClaim(typ types.ABMType, text, sourceEventID string, importance, stability float64, now time.Time) (types.ABMItem, bool) {
	text = truncate(strings.TrimSpace(text), maxClaimRunes)
	if text == "" {
		return types.ABMItem{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(text)
	for _, it := range s.items {
		if it.Status != types.ABMActive || it.Type != typ {
			continue
		}
		existing := strings.ToLower(it.Text)
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			it.Importance = math.Min(1, it.Importance+0.1)
			it.LastVerified = now
			return *it, true
		}
	}

	item := &types.ABMItem{
		ID:            uuid.NewString(),
		Type:          typ,
		Text:          text,
		SourceEventID: sourceEventID,
		Stability:     types.Clamp01(stability),
		Importance:    types.Clamp01(importance),
		Status:        types.ABMActive,
		CreatedAt:     now,
		LastVerified:  now,
		SchemaVersion: types.SchemaVersion,
	}
	s.items[item.ID] = item
	s.pending.newItems++
	if item.Importance > s.pending.maxImportance {
		s.pending.maxImportance = item.Importance
	}
	return *item, false
}

// ReviseClaim retires the active claim whose text contains oldFragment and
// creates its successor: a new active item carrying newText under the same
// type, importance and stability. The revised claim stays in the store as
// history. Returns false when no active claim matches the fragment.
func (s *Store) ReviseClaim(oldFragment, newText, reason string, now time.Time) (types.ABMItem, bool) {
	newText = truncate(strings.TrimSpace(newText), maxClaimRunes)
	oldFragment = strings.ToLower(strings.TrimSpace(oldFragment))
	if newText == "" || oldFragment == "" {
		return types.ABMItem{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var old *types.ABMItem
	for _, it := range s.items {
		if it.Status == types.ABMActive && strings.Contains(strings.ToLower(it.Text), oldFragment) {
			old = it
			break
		}
	}
	if old == nil {
		return types.ABMItem{}, false
	}

	old.Status = types.ABMRevised
	old.RevisionReason = reason
	old.LastVerified = now

	successor := &types.ABMItem{
		ID:            uuid.NewString(),
		Type:          old.Type,
		Text:          newText,
		SourceEventID: old.SourceEventID,
		Stability:     old.Stability,
		Importance:    old.Importance,
		Status:        types.ABMActive,
		CreatedAt:     now,
		LastVerified:  now,
		SchemaVersion: types.SchemaVersion,
	}
	s.items[successor.ID] = successor
	s.pending.revised = true
	s.logger.Info("revised autobiographical claim", "old", old.ID, "new", successor.ID, "reason", reason)
	return *successor, true
}

// DropClaim retires a claim entirely.
func (s *Store) DropClaim(id, reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status == types.ABMDropped {
		return false
	}
	it.Status = types.ABMDropped
	it.RevisionReason = reason
	it.LastVerified = now
	s.pending.revised = true
	return true
}

// ActiveItems returns active claims sorted by importance, optionally
// filtered to the given types.
func (s *Store) ActiveItems(filter ...types.ABMType) []types.ABMItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ABMItem, 0, len(s.items))
	for _, it := range s.items {
		if it.Status != types.ABMActive {
			continue
		}
		if len(filter) > 0 && !containsType(filter, it.Type) {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Items returns every claim regardless of status.
func (s *Store) Items() []types.ABMItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ABMItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Load seeds the store from persistence.
func (s *Store) Load(items []types.ABMItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range items {
		it := items[i]
		types.MigrateABMItem(&it)
		s.items[it.ID] = &it
	}
}

func containsType(filter []types.ABMType, typ types.ABMType) bool {
	for _, t := range filter {
		if t == typ {
			return true
		}
	}
	return false
}

var claimPatterns = []struct {
	re  *regexp.Regexp
	typ types.ABMType
}{
	{regexp.MustCompile(`(?i)\beu\s+sou\s+[^.!?\n]+`), types.ABMSelfClaim},
	{regexp.MustCompile(`(?i)\bmeu\s+papel\s+é\s+[^.!?\n]+`), types.ABMSelfClaim},
	{regexp.MustCompile(`(?i)\beu\s+não\s+posso\s+[^.!?\n]+`), types.ABMPolicy},
	{regexp.MustCompile(`(?i)\beu\s+posso\s+[^.!?\n]+`), types.ABMTool},
	{regexp.MustCompile(`(?i)\beu\s+consigo\s+[^.!?\n]+`), types.ABMTool},
	{regexp.MustCompile(`(?i)\bnão\s+(?:dou|faço)\s+[^.!?\n]+`), types.ABMPolicy},
	{regexp.MustCompile(`(?i)\bnunca\s+(?:vou|faço|dou)\s+[^.!?\n]+`), types.ABMPolicy},
	{regexp.MustCompile(`(?i)\bsempre\s+que\s+(?:precisar|quiser)[^.!?\n]*`), types.ABMInteractionCommitment},
	{regexp.MustCompile(`(?i)\bfalo\s+de\s+forma\s+[^.!?\n]+`), types.ABMVoice},
}

// ExtractFromResponse scans an agent response for first-person claims and
// records each one. Returns the claims that were newly added.
func (s *Store) ExtractFromResponse(response, sourceEventID string, now time.Time) []types.ABMItem {
	var added []types.ABMItem
	for _, p := range claimPatterns {
		for _, match := range p.re.FindAllString(response, -1) {
			item, reinforced := s.AddClaim(p.typ, match, sourceEventID, 0.7, 0.9, now)
			if !reinforced && item.ID != "" {
				added = append(added, item)
			}
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

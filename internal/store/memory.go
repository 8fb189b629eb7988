package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xiy/echomem/pkg/types"
)

// MemoryStore is the volatile fallback used when SQLite cannot be opened.
// It implements Store over plain maps; everything is lost on restart.
type MemoryStore struct {
	mu            sync.Mutex
	events        map[string][]types.Event
	facts         map[string][]types.SemanticFact
	commitments   map[string][]types.Commitment
	abmItems      map[string][]types.ABMItem
	patterns      map[string][]types.EchoPattern
	canons        map[string]types.Canon
	relationships map[string]types.RelationshipState
	digests       map[string]map[string]types.DailyDigest
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string][]types.Event),
		facts:         make(map[string][]types.SemanticFact),
		commitments:   make(map[string][]types.Commitment),
		abmItems:      make(map[string][]types.ABMItem),
		patterns:      make(map[string][]types.EchoPattern),
		canons:        make(map[string]types.Canon),
		relationships: make(map[string]types.RelationshipState),
		digests:       make(map[string]map[string]types.DailyDigest),
	}
}

func (m *MemoryStore) SaveEvent(ctx context.Context, userID string, ev types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.events[userID] {
		if existing.ID == ev.ID {
			m.events[userID][i] = ev
			return nil
		}
	}
	m.events[userID] = append(m.events[userID], ev)
	return nil
}

func (m *MemoryStore) Events(ctx context.Context, userID string) ([]types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events[userID]))
	copy(out, m.events[userID])
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryStore) PruneEvents(ctx context.Context, userID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[userID][:0]
	var pruned int64
	for _, ev := range m.events[userID] {
		if ev.End.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, ev)
	}
	m.events[userID] = kept
	return pruned, nil
}

func (m *MemoryStore) ReplaceFacts(ctx context.Context, userID string, facts []types.SemanticFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[userID] = append([]types.SemanticFact(nil), facts...)
	return nil
}

func (m *MemoryStore) Facts(ctx context.Context, userID string) ([]types.SemanticFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SemanticFact(nil), m.facts[userID]...), nil
}

func (m *MemoryStore) ReplaceCommitments(ctx context.Context, userID string, commitments []types.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments[userID] = append([]types.Commitment(nil), commitments...)
	return nil
}

func (m *MemoryStore) Commitments(ctx context.Context, userID string) ([]types.Commitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Commitment(nil), m.commitments[userID]...), nil
}

func (m *MemoryStore) ReplaceABMItems(ctx context.Context, userID string, items []types.ABMItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abmItems[userID] = append([]types.ABMItem(nil), items...)
	return nil
}

func (m *MemoryStore) ABMItems(ctx context.Context, userID string) ([]types.ABMItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ABMItem(nil), m.abmItems[userID]...), nil
}

func (m *MemoryStore) ReplaceEchoPatterns(ctx context.Context, userID string, patterns []types.EchoPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[userID] = append([]types.EchoPattern(nil), patterns...)
	return nil
}

func (m *MemoryStore) EchoPatterns(ctx context.Context, userID string) ([]types.EchoPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.EchoPattern(nil), m.patterns[userID]...), nil
}

func (m *MemoryStore) SaveCanon(ctx context.Context, userID string, c types.Canon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canons[userID] = c
	return nil
}

func (m *MemoryStore) Canon(ctx context.Context, userID string) (types.Canon, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.canons[userID]
	return c, ok, nil
}

func (m *MemoryStore) SaveRelationship(ctx context.Context, userID string, rel types.RelationshipState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships[userID] = rel
	return nil
}

func (m *MemoryStore) Relationship(ctx context.Context, userID string) (types.RelationshipState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.relationships[userID]
	return rel, ok, nil
}

func (m *MemoryStore) SaveDigest(ctx context.Context, userID string, d types.DailyDigest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.digests[userID] == nil {
		m.digests[userID] = make(map[string]types.DailyDigest)
	}
	m.digests[userID][d.Date] = d
	return nil
}

func (m *MemoryStore) Digests(ctx context.Context, userID string, limit int) ([]types.DailyDigest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DailyDigest, 0, len(m.digests[userID]))
	for _, d := range m.digests[userID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Users(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for id := range m.events {
		seen[id] = struct{}{}
	}
	for id := range m.facts {
		seen[id] = struct{}{}
	}
	for id := range m.relationships {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context, userID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Events:      int64(len(m.events[userID])),
		Facts:       int64(len(m.facts[userID])),
		Commitments: int64(len(m.commitments[userID])),
		ABMItems:    int64(len(m.abmItems[userID])),
		Patterns:    int64(len(m.patterns[userID])),
		Digests:     int64(len(m.digests[userID])),
	}, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

package memstore

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/pkg/types"
)

// Episode is a single raw observation held in the short-term buffer until
// consolidation promotes it or eviction drops it.
type Episode struct {
	ID         string
	Text       string
	Salience   float64
	Importance float64
	Timestamp  time.Time
}

// Store holds one user's working memory: a bounded episodic buffer, the
// semantic fact map keyed by normalized fact text, and relationship state.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	capacity  config.CapacityConfig
	blend     config.ConsolidationConfig
	agentName string
	episodes  []Episode
	facts     map[string]*types.SemanticFact
	rel       types.RelationshipState
	logger    *log.Logger
}

// New constructs an empty Store.
func New(capacity config.CapacityConfig, blend config.ConsolidationConfig, agentName string, logger *log.Logger) *Store {
	return &Store{
		capacity:  capacity,
		blend:     blend,
		agentName: strings.ToLower(strings.TrimSpace(agentName)),
		facts:     make(map[string]*types.SemanticFact),
		rel: types.RelationshipState{
			Stage:         types.StageStranger,
			SchemaVersion: types.SchemaVersion,
		},
		logger: logger,
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// AddEpisode appends an observation to the episodic buffer, evicting the
// oldest entry when the buffer is full.
func (s *Store) AddEpisode(text string, salience, importance float64, now time.Time) Episode {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep := Episode{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(text),
		Salience:   types.Clamp01(salience),
		Importance: types.Clamp01(importance),
		Timestamp:  now,
	}
	s.episodes = append(s.episodes, ep)
	if max := s.capacity.EpisodicBuffer; max > 0 && len(s.episodes) > max {
		s.episodes = s.episodes[len(s.episodes)-max:]
	}
	return ep
}

// EpisodeCount reports the current buffer size.
func (s *Store) EpisodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.episodes)
}

// Consolidate promotes episodes whose blended score clears the threshold
// into the semantic store. Promoted text that already exists as a fact is
// reinforced instead of duplicated. Promoted episodes keep a tenth of their
// salience so a second pass will not promote them again; that holds for any
// importance below 0.93, and callers cap episode importance at 0.8. Returns
// how many episodes were promoted or reinforced.
func (s *Store) Consolidate(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := 0
	for i := range s.episodes {
		ep := &s.episodes[i]
		combined := s.blend.SalienceWeight*ep.Salience + s.blend.ImportanceWeight*ep.Importance
		if combined < s.blend.Threshold {
			continue
		}
		key := normalize("usuário mencionou " + ep.Text)
		if existing, ok := s.facts[key]; ok {
			existing.Importance = math.Min(1, existing.Importance+combined*0.3)
			existing.LastReinforced = now
		} else {
			s.putFactLocked(&types.SemanticFact{
				ID:             uuid.NewString(),
				Subject:        "usuário",
				Relation:       "mencionou",
				Object:         ep.Text,
				Confidence:     0.7,
				Importance:     combined,
				LastReinforced: now,
				SchemaVersion:  types.SchemaVersion,
			})
		}
		ep.Salience *= 0.1
		promoted++
	}
	if promoted > 0 {
		s.logger.Debug("consolidated episodic buffer", "promoted", promoted, "facts", len(s.facts))
	}
	return promoted
}

// ApplyDecay weakens semantic facts based on time since reinforcement,
// slowed by access count. Facts falling below the forget threshold are
// removed. Returns the number of forgotten facts.
func (s *Store) ApplyDecay(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	forgotten := 0
	for key, f := range s.facts {
		hours := now.Sub(f.LastReinforced).Hours()
		if hours <= 0 {
			continue
		}
		resistance := 1.0 / (1.0 + 0.2*float64(f.AccessCount))
		idle := math.Min(1, hours/720)
		decay := (hours / 168) * resistance * idle * 0.1
		f.Importance -= decay
		if f.Importance < 0.1 {
			delete(s.facts, key)
			forgotten++
		}
	}
	if forgotten > 0 {
		s.logger.Debug("decay sweep forgot facts", "forgotten", forgotten, "remaining", len(s.facts))
	}
	return forgotten
}

// ReinforceMemory boosts an existing fact matched by normalized text. The
// access count rises too, which slows future decay. Returns false when no
// such fact exists; the caller decides whether to create one.
func (s *Store) ReinforceMemory(text string, boost float64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[normalize(text)]
	if !ok {
		return false
	}
	f.Importance = math.Min(1, f.Importance+boost)
	f.AccessCount++
	f.LastReinforced = now
	return true
}

// PutFact inserts a fact keyed by its full text, reinforcing any existing
// entry with the same text.
func (s *Store) PutFact(f types.SemanticFact, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.LastReinforced.IsZero() {
		f.LastReinforced = now
	}
	f.SchemaVersion = types.SchemaVersion
	key := normalize(f.Text())
	if existing, ok := s.facts[key]; ok {
		existing.Importance = math.Max(existing.Importance, f.Importance)
		existing.Confidence = math.Max(existing.Confidence, f.Confidence)
		existing.LastReinforced = now
		return
	}
	s.putFactLocked(&f)
}

// CorrectFact replaces any fact holding the same subject and relation.
// Used for user corrections, which override rather than accumulate.
func (s *Store) CorrectFact(f types.SemanticFact, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.facts {
		if existing.Subject == f.Subject && existing.Relation == f.Relation {
			delete(s.facts, key)
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.LastReinforced = now
	f.SchemaVersion = types.SchemaVersion
	s.putFactLocked(&f)
}

// putFactLocked stores f and evicts the weakest fact when over capacity.
// Caller holds s.mu.
func (s *Store) putFactLocked(f *types.SemanticFact) {
	s.facts[normalize(f.Text())] = f
	max := s.capacity.MaxSemanticFacts
	if max <= 0 || len(s.facts) <= max {
		return
	}
	var weakestKey string
	weakest := math.Inf(1)
	for key, cand := range s.facts {
		if cand.Importance < weakest {
			weakest = cand.Importance
			weakestKey = key
		}
	}
	if weakestKey != "" {
		delete(s.facts, weakestKey)
	}
}

// Recall returns up to limit facts ranked by keyword overlap with the query
// then by importance. Returned facts get their access count bumped, which
// slows their decay.
func (s *Store) Recall(query string, limit int, now time.Time) []types.SemanticFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	words := contentWords(query)
	if len(words) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		fact    *types.SemanticFact
		matches int
	}
	var hits []scored
	for _, f := range s.facts {
		text := normalize(f.Text())
		matches := 0
		for w := range words {
			if strings.Contains(text, w) {
				matches++
			}
		}
		if matches > 0 {
			hits = append(hits, scored{fact: f, matches: matches})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		return hits[i].fact.Importance > hits[j].fact.Importance
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]types.SemanticFact, 0, len(hits))
	for _, h := range hits {
		h.fact.AccessCount++
		out = append(out, *h.fact)
	}
	return out
}

// RecentEpisodes returns the newest n buffer entries, oldest first.
func (s *Store) RecentEpisodes(n int) []Episode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.episodes) == 0 {
		return nil
	}
	start := len(s.episodes) - n
	if start < 0 {
		start = 0
	}
	out := make([]Episode, len(s.episodes)-start)
	copy(out, s.episodes[start:])
	return out
}

// EpisodesBetween returns buffer entries inside [from, to].
func (s *Store) EpisodesBetween(from, to time.Time) []Episode {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Episode
	for _, ep := range s.episodes {
		if !ep.Timestamp.Before(from) && !ep.Timestamp.After(to) {
			out = append(out, ep)
		}
	}
	return out
}

// Facts returns a snapshot of all semantic facts sorted by importance.
func (s *Store) Facts() []types.SemanticFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.SemanticFact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

// FactCount reports the semantic store size.
func (s *Store) FactCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.facts)
}

// LoadFacts seeds the semantic store from persistence.
func (s *Store) LoadFacts(facts []types.SemanticFact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range facts {
		f := facts[i]
		types.MigrateFact(&f)
		s.facts[normalize(f.Text())] = &f
	}
}

var stopWords = map[string]struct{}{
	"para": {}, "com": {}, "uma": {}, "que": {}, "não": {}, "nao": {},
	"por": {}, "mais": {}, "como": {}, "mas": {}, "foi": {}, "ele": {},
	"ela": {}, "seu": {}, "sua": {}, "meu": {}, "minha": {}, "isso": {},
	"esse": {}, "essa": {}, "este": {}, "esta": {}, "você": {}, "voce": {},
	"quando": {}, "muito": {}, "também": {}, "tambem": {}, "sobre": {},
}

// contentWords tokenizes text into lowercase words of three or more runes,
// dropping stop words.
func contentWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(normalize(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len([]rune(w)) < 3 {
			continue
		}
		if _, skip := stopWords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

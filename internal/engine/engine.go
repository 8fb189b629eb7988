// Package engine wires the memory subsystems into a per-user turn
// lifecycle: capture, retrieval, generation, consistency checking and
// consolidation, with persistence after every turn.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/internal/abm"
	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/detect"
	"github.com/xiy/echomem/internal/echo"
	"github.com/xiy/echomem/internal/embedding"
	"github.com/xiy/echomem/internal/guard"
	"github.com/xiy/echomem/internal/llm"
	"github.com/xiy/echomem/internal/memstore"
	"github.com/xiy/echomem/internal/metrics"
	"github.com/xiy/echomem/internal/pipeline"
	"github.com/xiy/echomem/internal/retrieve"
	"github.com/xiy/echomem/internal/salience"
	"github.com/xiy/echomem/internal/segment"
	"github.com/xiy/echomem/internal/store"
	"github.com/xiy/echomem/internal/vector"
	"github.com/xiy/echomem/pkg/types"
)

// Engine coordinates every user session. It owns the shared services
// (persistence, vector index, generation backend, metrics) and hands each
// user a private set of in-memory stores.
type Engine struct {
	cfg       config.Config
	store     store.Store
	index     *vector.Index
	embedder  embedding.Embedder
	generator llm.Generator
	fallback  *llm.TemplateGenerator
	collector *metrics.Collector
	logger    *log.Logger

	scorer     *salience.Scorer
	retriever  *retrieve.Retriever
	guard      *guard.Guard
	summarizer segment.Summarizer

	commitments *detect.CommitmentDetector
	corrections *detect.CorrectionDetector
	openLoops   *detect.OpenLoopDetector
	revisions   *detect.RevisionDetector

	// now is swappable so tests can drive the clock.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs an Engine. embedder may be nil (embedding-dependent
// features degrade to keyword matching); generator may be nil (the
// deterministic template fallback answers every turn).
func New(cfg config.Config, st store.Store, index *vector.Index, embedder embedding.Embedder, generator llm.Generator, logger *log.Logger) *Engine {
	fallback := llm.NewTemplateGenerator(cfg.AgentName)
	// Only a real model summarizes segments; the template fallback has
	// nothing useful to say about a transcript.
	var summarizer segment.Summarizer
	if generator != nil {
		summarizer = llm.NewSegmentSummarizer(generator, logger)
	}
	if generator == nil {
		generator = fallback
	}
	return &Engine{
		cfg:         cfg,
		store:       st,
		index:       index,
		embedder:    embedder,
		generator:   generator,
		fallback:    fallback,
		collector:   metrics.NewCollector(),
		logger:      logger,
		scorer:      salience.New(cfg.Salience),
		retriever:   retrieve.New(cfg.Retrieval, logger),
		guard:       guard.New(logger),
		summarizer:  summarizer,
		commitments: detect.NewCommitmentDetector(),
		corrections: detect.NewCorrectionDetector(),
		openLoops:   detect.NewOpenLoopDetector(),
		revisions:   detect.NewRevisionDetector(),
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

// session holds one user's working memory. All turn processing for a user
// is serialized on sess.mu; the engine-level lock only guards the map.
type session struct {
	mu     sync.Mutex
	boot   sync.Once
	userID string

	mem       *memstore.Store
	claims    *abm.Store
	trace     *echo.Trace
	tracker   *pipeline.CommitmentTracker
	pipe      *pipeline.Pipeline
	segmenter *segment.Segmenter

	events  []types.Event
	pending []types.OpenLoop
	seen    map[string]int
}

// session returns the user's session, booting it from persistence on first
// access. The engine lock only covers the map insert; the boot reads run
// under the session's own lock so one user's cold start never stalls
// another user's turn. Load failures degrade to an empty store: losing
// history is survivable, refusing to talk is not.
func (e *Engine) session(ctx context.Context, userID string) *session {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	if !ok {
		mem := memstore.New(e.cfg.Capacity, e.cfg.Consolidation, e.cfg.AgentName, e.logger)
		claims := abm.New(e.logger)
		trace := echo.NewTrace(e.cfg.Capacity.MaxEchoPatterns, e.logger)
		tracker := pipeline.NewCommitmentTracker(e.logger)
		sess = &session{
			userID:    userID,
			mem:       mem,
			claims:    claims,
			trace:     trace,
			tracker:   tracker,
			pipe:      pipeline.New(e.cfg.Consolidation, e.cfg.AgentName, mem, claims, tracker, e.collector, e.logger),
			segmenter: segment.New(e.cfg.Segmenter),
			seen:      make(map[string]int),
		}
		e.sessions[userID] = sess
	}
	e.mu.Unlock()

	sess.boot.Do(func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		e.load(ctx, sess)
	})
	return sess
}

func (e *Engine) load(ctx context.Context, sess *session) {
	if facts, err := e.store.Facts(ctx, sess.userID); err != nil {
		e.logger.Warn("loading facts failed", "user", sess.userID, "error", err)
	} else {
		sess.mem.LoadFacts(facts)
	}
	if rel, found, err := e.store.Relationship(ctx, sess.userID); err != nil {
		e.logger.Warn("loading relationship failed", "user", sess.userID, "error", err)
	} else if found {
		sess.mem.LoadRelationship(rel)
	}
	if items, err := e.store.ABMItems(ctx, sess.userID); err != nil {
		e.logger.Warn("loading self-claims failed", "user", sess.userID, "error", err)
	} else {
		sess.claims.Load(items)
	}
	if patterns, err := e.store.EchoPatterns(ctx, sess.userID); err != nil {
		e.logger.Warn("loading echo patterns failed", "user", sess.userID, "error", err)
	} else {
		sess.trace.Load(patterns)
	}
	if commitments, err := e.store.Commitments(ctx, sess.userID); err != nil {
		e.logger.Warn("loading commitments failed", "user", sess.userID, "error", err)
	} else {
		sess.tracker.Load(commitments)
	}
	if canon, found, err := e.store.Canon(ctx, sess.userID); err != nil {
		e.logger.Warn("loading canon failed", "user", sess.userID, "error", err)
	} else if found {
		sess.pipe.SetCanon(canon)
	}
	if events, err := e.store.Events(ctx, sess.userID); err != nil {
		e.logger.Warn("loading events failed", "user", sess.userID, "error", err)
	} else {
		sess.events = events
		e.reindex(ctx, sess.userID, events)
	}
}

// reindex rebuilds the user's vector collection from persisted events.
func (e *Engine) reindex(ctx context.Context, userID string, events []types.Event) {
	if e.index == nil {
		return
	}
	for _, ev := range events {
		if len(ev.Embedding) == 0 {
			continue
		}
		if err := e.index.Add(ctx, userID, "event", ev.ID, ev.Title+" "+ev.Summary, ev.Embedding); err != nil {
			e.logger.Warn("reindexing event failed", "user", userID, "event", ev.ID, "error", err)
		}
	}
}

// persist writes the session's mutated collections through. Failures are
// logged and swallowed; the in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context, sess *session) {
	if err := e.store.ReplaceFacts(ctx, sess.userID, sess.mem.Facts()); err != nil {
		e.logger.Warn("persisting facts failed", "user", sess.userID, "error", err)
	}
	if err := e.store.ReplaceCommitments(ctx, sess.userID, sess.tracker.All()); err != nil {
		e.logger.Warn("persisting commitments failed", "user", sess.userID, "error", err)
	}
	if err := e.store.ReplaceABMItems(ctx, sess.userID, sess.claims.Items()); err != nil {
		e.logger.Warn("persisting self-claims failed", "user", sess.userID, "error", err)
	}
	if err := e.store.ReplaceEchoPatterns(ctx, sess.userID, sess.trace.Patterns()); err != nil {
		e.logger.Warn("persisting echo patterns failed", "user", sess.userID, "error", err)
	}
	if err := e.store.SaveRelationship(ctx, sess.userID, sess.mem.Relationship()); err != nil {
		e.logger.Warn("persisting relationship failed", "user", sess.userID, "error", err)
	}
	if canon := sess.pipe.Canon(); canon.Version > 0 {
		if err := e.store.SaveCanon(ctx, sess.userID, canon); err != nil {
			e.logger.Warn("persisting canon failed", "user", sess.userID, "error", err)
		}
	}
}

// MarkCommitmentDone resolves a commitment, records its open duration and
// persists the change.
func (e *Engine) MarkCommitmentDone(ctx context.Context, userID, id string) (types.Commitment, bool) {
	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := e.now()
	c, ok := sess.tracker.MarkDone(id, now)
	if !ok {
		return types.Commitment{}, false
	}
	e.collector.ObserveCommitmentResolved(now.Sub(c.MadeAt))
	e.persist(ctx, sess)
	return c, true
}

// ActiveCommitments lists the user's open commitments.
func (e *Engine) ActiveCommitments(ctx context.Context, userID string) []types.Commitment {
	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.tracker.Active()
}

// Greeting renders a stage-appropriate opening line for the user.
func (e *Engine) Greeting(ctx context.Context, userID string) string {
	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return llm.RelationshipGreeting(sess.mem.Relationship(), e.cfg.AgentName)
}

// BuildDigest rolls the day's memory into a shareable card and persists it.
func (e *Engine) BuildDigest(ctx context.Context, userID string, day time.Time) types.DailyDigest {
	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	d := sess.pipe.BuildDigest(day)
	if err := e.store.SaveDigest(ctx, userID, d); err != nil {
		e.logger.Warn("persisting digest failed", "user", userID, "error", err)
	}
	return d
}

// SearchEvents answers a free-text query against the user's episodic
// history via the vector index. Returns nil when embeddings are disabled.
func (e *Engine) SearchEvents(ctx context.Context, userID, query string, limit int) ([]vector.Hit, error) {
	if e.index == nil || e.embedder == nil {
		return nil, nil
	}
	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	// Sessions index their events lazily; make sure this user's are in.
	e.session(ctx, userID)
	return e.index.Query(ctx, userID, emb, limit, "event")
}

// Flush closes the open segment, runs a final consolidation pass and
// persists the session. Called on shutdown so a half-built segment still
// becomes an event and nothing waits for the next scheduled sweep.
func (e *Engine) Flush(ctx context.Context, userID string) {
	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	e.closeSegment(ctx, sess)
	sess.pipe.Run(e.now())
	e.persist(ctx, sess)
}

// Maintain runs due consolidation sweeps and event retention for every
// active session. Called periodically by the background worker.
func (e *Engine) Maintain(ctx context.Context) {
	now := e.now()
	cutoff := now.AddDate(0, 0, -e.cfg.Capacity.EventRetentionDays)

	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		sessions = append(sessions, sess)
	}
	e.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.pipe.SweepDue(now) {
			sweep := sess.pipe.Run(now)
			e.logger.Info("maintenance sweep",
				"user", sess.userID,
				"promoted", sweep.Promoted,
				"forgotten", sweep.Forgotten,
				"expired", sweep.Expired,
				"canon_version", sweep.CanonVersion)
			e.persist(ctx, sess)
		}
		if e.cfg.Capacity.EventRetentionDays > 0 {
			if pruned, err := e.store.PruneEvents(ctx, sess.userID, cutoff); err != nil {
				e.logger.Warn("pruning events failed", "user", sess.userID, "error", err)
			} else if pruned > 0 {
				kept := sess.events[:0]
				for _, ev := range sess.events {
					if !ev.End.Before(cutoff) {
						kept = append(kept, ev)
					}
				}
				sess.events = kept
				e.logger.Info("pruned old events", "user", sess.userID, "count", pruned)
			}
		}
		sess.mu.Unlock()
	}
}

// Metrics returns a point-in-time snapshot of the engine counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.collector.Snapshot()
}

// Store exposes the persistence layer for read-only admin surfaces.
func (e *Engine) Store() store.Store {
	return e.store
}

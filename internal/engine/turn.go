package engine

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/xiy/echomem/internal/detect"
	"github.com/xiy/echomem/internal/echo"
	"github.com/xiy/echomem/internal/guard"
	"github.com/xiy/echomem/internal/retrieve"
	"github.com/xiy/echomem/internal/salience"
	"github.com/xiy/echomem/internal/segment"
	"github.com/xiy/echomem/pkg/types"
)

// TurnResult reports what one turn produced besides the response text.
type TurnResult struct {
	Response          string
	PromptTokens      int
	Violations        []guard.Violation
	Corrected         bool
	CorrectionApplied bool
	Commitment        *types.Commitment
	Surfaced          []types.Commitment
	EventCreated      bool
	RevisionApplied   bool
}

// ProcessTurn runs the full lifecycle for one user message: segment
// bookkeeping, correction handling, episodic capture, retrieval, generation,
// consistency enforcement, extraction and persistence.
func (e *Engine) ProcessTurn(ctx context.Context, userID, message string) (TurnResult, error) {
	started := time.Now()
	now := e.now()
	message = strings.TrimSpace(message)
	if message == "" {
		return TurnResult{}, errors.New("message must not be empty")
	}

	sess := e.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var res TurnResult
	emb := e.embed(ctx, message)

	// Close the open segment before this turn extends it.
	if sess.segmenter.ShouldSegment(emb, now) {
		res.EventCreated = e.closeSegment(ctx, sess)
	}

	// User corrections override stored facts silently.
	if corr, ok := e.corrections.Detect(message); ok {
		e.applyCorrection(sess, corr, now)
		res.CorrectionApplied = true
	}

	// Episodic capture with salience scoring. A repeat of something
	// already promoted to a fact reinforces it directly; first mentions
	// stay episodic until consolidation promotes them.
	norm := normalizeText(message)
	rep := sess.seen[norm]
	sess.seen[norm] = rep + 1
	if rep > 0 {
		sess.mem.ReinforceMemory("usuário mencionou "+message, 0.1, now)
	}
	explicit := explicitMemoryAsk(message)
	score := e.scorer.Score(now, salience.Input{
		Timestamp:        now,
		RepetitionCount:  rep,
		Novel:            rep == 0,
		EmotionIntensity: emotionIntensity(message),
		Explicit:         explicit,
	})
	importance := 0.5
	if explicit {
		importance = 0.8
	}
	sess.mem.AddEpisode(message, score, importance, now)

	if desc, ok := e.openLoops.Detect(message); ok {
		sess.pending = append(sess.pending, types.OpenLoop{Desc: desc, Status: "open"})
	}

	rel := sess.mem.RecordInteraction(message, now)

	// Pop due commitment reactivations so they reach the prompt.
	surfaced, expired := sess.tracker.Sweep(now)
	for i := 0; i < expired; i++ {
		e.collector.ObserveCommitmentExpired()
	}
	res.Surfaced = surfaced

	sel := e.retriever.Retrieve(retrieve.Input{
		Query:          message,
		QueryEmbedding: emb,
		Now:            now,
		Canon:          sess.pipe.Canon(),
		Claims:         sess.claims.ActiveItems(types.ABMInteractionCommitment),
		Commitments:    sess.tracker.Active(),
		Facts:          sess.mem.Facts(),
		Events:         sess.events,
		Patterns:       sess.trace.PatternsForContext(echo.ClassifyContext(message), 1),
	})
	e.collector.ObserveRecall(len(sel.Facts) > 0 || sel.Event != nil)
	if sel.Pattern != nil {
		sess.trace.MarkUsed(sel.Pattern.ID, 0.5, now)
	}

	prompt := retrieve.BuildPrompt(sel, retrieve.PromptInput{
		AgentName:    e.cfg.AgentName,
		UserMessage:  message,
		Relationship: rel,
		Recent:       sess.mem.RecentEpisodes(3),
	})

	response, err := e.generator.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(response) == "" {
		if err != nil {
			e.logger.Warn("generation failed; answering from template", "user", userID, "error", err)
		}
		response, _ = e.fallback.Generate(ctx, prompt)
	}

	// An explicit self-revision supersedes the stored claim before the
	// guard runs, so the agent is allowed to change its mind on purpose.
	if claim, ok := e.revisions.Detect(response); ok {
		if subject := detect.ClaimSubject(claim); subject != "" {
			if _, revised := sess.claims.ReviseClaim(subject, claim, "revisão explícita na resposta", now); revised {
				res.RevisionApplied = true
			}
		}
	}

	// Check the draft against the canon before the user sees it.
	violations := e.guard.CheckResponse(response, sess.pipe.Canon(), sess.claims.Items())
	e.collector.ObserveConsistency(len(violations) > 0)
	if len(violations) > 0 {
		res.Violations = violations
		if fixed, changed := e.guard.CorrectResponse(response, violations, now); changed {
			response = fixed
			res.Corrected = true
		}
	}

	// Promises made in the response become tracked commitments.
	if desc, ok := e.commitments.Detect(response); ok {
		if c, added := sess.tracker.Add(desc, "", nil, now); added {
			e.collector.ObserveCommitmentMade()
			res.Commitment = &c
		}
	}

	sess.claims.ExtractFromResponse(response, "", now)
	sess.trace.ExtractFromResponse(response, now)

	sess.segmenter.AddTurn(segment.Turn{
		User:      message,
		Agent:     response,
		Timestamp: now,
		Embedding: emb,
	})

	if sess.pipe.TurnCompleted(now) {
		sweep := sess.pipe.Run(now)
		res.Surfaced = append(res.Surfaced, sweep.Surfaced...)
	}

	e.persist(ctx, sess)
	e.collector.ObserveTurn(time.Since(started), retrieve.EstimateTokens(prompt))

	res.Response = response
	res.PromptTokens = retrieve.EstimateTokens(prompt)
	return res, nil
}

// closeSegment turns the open segment into an event, indexes it and
// persists it. Reports whether an event was actually created.
func (e *Engine) closeSegment(ctx context.Context, sess *session) bool {
	ev := sess.segmenter.CreateEvent(ctx, e.summarizer)
	if ev == nil {
		return false
	}
	if len(sess.pending) > 0 {
		ev.OpenLoops = append(ev.OpenLoops, sess.pending...)
		sess.pending = nil
	}
	ev.Salience = e.scorer.Score(ev.End, salience.Input{
		Timestamp:        ev.End,
		Novel:            true,
		EmotionIntensity: meanEmotion(ev.Emotions),
		Explicit:         len(ev.Commitments) > 0,
	})
	sess.events = append(sess.events, *ev)
	e.collector.ObserveEvent()

	if err := e.store.SaveEvent(ctx, sess.userID, *ev); err != nil {
		e.logger.Warn("persisting event failed", "user", sess.userID, "event", ev.ID, "error", err)
	}
	if e.index != nil && len(ev.Embedding) > 0 {
		if err := e.index.Add(ctx, sess.userID, "event", ev.ID, ev.Title+" "+ev.Summary, ev.Embedding); err != nil {
			e.logger.Warn("indexing event failed", "user", sess.userID, "event", ev.ID, "error", err)
		}
	}
	return true
}

func (e *Engine) applyCorrection(sess *session, corr detect.Correction, now time.Time) {
	switch corr.Kind {
	case "name":
		sess.mem.CorrectFact(types.SemanticFact{
			Subject:    "usuário",
			Relation:   "chama-se",
			Object:     capitalize(corr.Value),
			Confidence: 1.0,
			Importance: 0.95,
		}, now)
	case "preference":
		sess.mem.PutFact(types.SemanticFact{
			Subject:    "usuário",
			Relation:   "prefere",
			Object:     corr.Value,
			Confidence: 0.9,
			Importance: 0.8,
		}, now)
	default:
		sess.mem.PutFact(types.SemanticFact{
			Subject:    "usuário",
			Relation:   "corrigiu",
			Object:     corr.Value,
			Confidence: 1.0,
			Importance: 0.9,
		}, now)
	}
}

// embed returns the message embedding, or nil when embeddings are disabled
// or the backend is down. A nil embedding only degrades ranking quality.
func (e *Engine) embed(ctx context.Context, text string) []float32 {
	if e.embedder == nil {
		return nil
	}
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed; falling back to keywords", "error", err)
		return nil
	}
	return emb
}

var emotionWords = []string{
	"amo", "adoro", "odeio", "detesto", "triste", "feliz", "felicidade",
	"medo", "raiva", "saudade", "ansioso", "ansiosa", "animado", "animada",
	"preocupado", "preocupada", "incrível", "maravilhoso", "péssimo", "horrível",
}

// emotionIntensity is a cheap surface heuristic: emotion vocabulary plus
// exclamation, capped at 1.
func emotionIntensity(message string) float64 {
	lower := strings.ToLower(message)
	intensity := 0.0
	for _, w := range emotionWords {
		if strings.Contains(lower, w) {
			intensity += 0.4
		}
	}
	intensity += 0.2 * float64(strings.Count(message, "!"))
	if intensity > 1 {
		intensity = 1
	}
	return intensity
}

var explicitMarkers = []string{
	"lembra", "lembre", "não esquece", "nao esquece", "não se esqueça",
	"guarda isso", "importante",
}

// explicitMemoryAsk reports whether the user explicitly asked for the
// message to be remembered.
func explicitMemoryAsk(message string) bool {
	lower := strings.ToLower(message)
	for _, m := range explicitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func meanEmotion(emotions map[string]float64) float64 {
	if len(emotions) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range emotions {
		sum += v
	}
	return sum / float64(len(emotions))
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func capitalize(word string) string {
	r := []rune(word)
	if len(r) == 0 {
		return word
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

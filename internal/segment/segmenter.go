// Package segment groups a stream of conversation turns into bounded
// episodic events.
package segment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/internal/embedding"
	"github.com/xiy/echomem/pkg/types"
)

const (
	maxTitleLen   = 80
	maxSummaryLen = 500
)

// Turn is one user/agent exchange.
type Turn struct {
	User      string
	Agent     string
	Timestamp time.Time
	Embedding []float32
}

// Summary is the structured output of a Summarizer for a closed segment.
type Summary struct {
	Title       string
	Summary     string
	Entities    []string
	Emotions    map[string]float64
	OpenLoops   []types.OpenLoop
	Commitments []string
	Facts       []string
	Embedding   []float32
}

// Summarizer condenses a closed segment into a Summary. Implementations may
// call a generation backend; a nil Summarizer falls back to concatenation.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (Summary, error)
}

// Segmenter accumulates turns and decides when the open segment should close.
// Not safe for concurrent use; each user session owns one.
type Segmenter struct {
	cfg           config.SegmenterConfig
	turns         []Turn
	lastEmbedding []float32
	lastTimestamp time.Time
}

// New returns an empty Segmenter.
func New(cfg config.SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// AddTurn appends a turn to the open segment and updates tracking fields.
func (s *Segmenter) AddTurn(t Turn) {
	s.turns = append(s.turns, t)
	s.lastTimestamp = t.Timestamp
	if len(t.Embedding) > 0 {
		s.lastEmbedding = t.Embedding
	}
}

// Len reports how many turns the open segment holds.
func (s *Segmenter) Len() int { return len(s.turns) }

// ShouldSegment reports whether the open segment should close before the
// next turn is added.
func (s *Segmenter) ShouldSegment(newEmbedding []float32, newTimestamp time.Time) bool {
	if len(s.turns) < s.cfg.MinTurns {
		return false
	}
	if len(s.turns) >= s.cfg.MaxTurns {
		return true
	}
	if !s.lastTimestamp.IsZero() {
		gap := newTimestamp.Sub(s.lastTimestamp).Minutes()
		if gap > s.cfg.TimeGapMinutes {
			return true
		}
	}
	if len(s.lastEmbedding) > 0 && len(newEmbedding) > 0 {
		if embedding.CosineDistance(s.lastEmbedding, newEmbedding) > s.cfg.TopicThreshold {
			return true
		}
	}
	return false
}

// CreateEvent closes the open segment into an Event and clears state.
// Returns nil when there are no turns.
func (s *Segmenter) CreateEvent(ctx context.Context, summarizer Summarizer) *types.Event {
	if len(s.turns) == 0 {
		return nil
	}

	start := s.turns[0].Timestamp
	end := s.turns[len(s.turns)-1].Timestamp

	var sum Summary
	if summarizer != nil {
		var err error
		sum, err = summarizer.Summarize(ctx, s.turns)
		if err != nil {
			sum = fallbackSummary(s.turns)
		}
	} else {
		sum = fallbackSummary(s.turns)
	}

	ev := &types.Event{
		ID:            uuid.NewString(),
		Title:         truncate(sum.Title, maxTitleLen),
		Start:         start,
		End:           end,
		Summary:       truncate(sum.Summary, maxSummaryLen),
		Entities:      sum.Entities,
		Emotions:      sum.Emotions,
		OpenLoops:     sum.OpenLoops,
		Commitments:   sum.Commitments,
		Facts:         sum.Facts,
		Salience:      0.5,
		Embedding:     sum.Embedding,
		SchemaVersion: types.SchemaVersion,
	}

	s.turns = nil
	s.lastEmbedding = nil
	s.lastTimestamp = time.Time{}

	return ev
}

func fallbackSummary(turns []Turn) Summary {
	title := fmt.Sprintf("Conversa (%d turnos)", len(turns))
	parts := make([]string, 0, 3)
	for _, t := range turns[:min(3, len(turns))] {
		parts = append(parts, truncate(t.User, 50))
	}
	return Summary{
		Title:   title,
		Summary: strings.Join(parts, " | "),
	}
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

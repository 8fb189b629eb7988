// Package salience scores how memorable a memory item is.
package salience

import (
	"math"
	"time"

	"github.com/xiy/echomem/internal/config"
	"github.com/xiy/echomem/pkg/types"
)

// Input captures the five signals the scorer blends.
type Input struct {
	Timestamp        time.Time
	RepetitionCount  int
	Novel            bool
	EmotionIntensity float64
	Explicit         bool
}

// Scorer is a pure weighted blend of five normalized sub-scores.
// Safe for concurrent use; it holds only immutable weights.
type Scorer struct {
	weights config.SalienceWeights
}

// New returns a Scorer with the given weights.
func New(w config.SalienceWeights) *Scorer {
	return &Scorer{weights: w}
}

// Score returns a salience value in [0,1] as of now.
func (s *Scorer) Score(now time.Time, in Input) float64 {
	hours := now.Sub(in.Timestamp).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-hours / 24.0) // 24h half-life

	// Diminishing returns on repetition.
	repetition := math.Min(1.0, math.Log(1+float64(in.RepetitionCount))/math.Log(10))

	novelty := 0.0
	if in.Novel {
		novelty = 1.0
	}

	emotion := math.Min(1.0, in.EmotionIntensity)
	if emotion < 0 {
		emotion = 0
	}

	explicit := 0.0
	if in.Explicit {
		explicit = 1.0
	}

	w := s.weights
	score := w.Recency*recency +
		w.Repetition*repetition +
		w.Novelty*novelty +
		w.Emotion*emotion +
		w.Explicit*explicit

	return types.Clamp01(score)
}

package salience

import (
	"testing"
	"time"

	"github.com/xiy/echomem/internal/config"
)

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	t.Parallel()
	s := New(config.Default().Salience)
	now := time.Now().UTC()

	inputs := []Input{
		{Timestamp: now, RepetitionCount: 0},
		{Timestamp: now.Add(-1000 * time.Hour), RepetitionCount: 100, Novel: true, EmotionIntensity: 5.0, Explicit: true},
		{Timestamp: now.Add(time.Hour), RepetitionCount: -1, EmotionIntensity: -2},
		{Timestamp: now, Novel: true, EmotionIntensity: 1.0, Explicit: true},
	}
	for i, in := range inputs {
		got := s.Score(now, in)
		if got < 0 || got > 1 {
			t.Errorf("input %d: score %v out of [0,1]", i, got)
		}
	}
}

func TestScore_ExplicitNeverLowers(t *testing.T) {
	t.Parallel()
	s := New(config.Default().Salience)
	now := time.Now().UTC()

	base := Input{Timestamp: now.Add(-6 * time.Hour), RepetitionCount: 2, Novel: true, EmotionIntensity: 0.4}
	explicit := base
	explicit.Explicit = true

	if s.Score(now, explicit) < s.Score(now, base) {
		t.Errorf("explicit=true scored lower than explicit=false: %v < %v",
			s.Score(now, explicit), s.Score(now, base))
	}
}

func TestScore_RecencyDecays(t *testing.T) {
	t.Parallel()
	s := New(config.Default().Salience)
	now := time.Now().UTC()

	fresh := s.Score(now, Input{Timestamp: now})
	stale := s.Score(now, Input{Timestamp: now.Add(-48 * time.Hour)})
	if fresh <= stale {
		t.Errorf("fresh item (%v) should outscore 48h-old item (%v)", fresh, stale)
	}
}

func TestScore_RepetitionDiminishingReturns(t *testing.T) {
	t.Parallel()
	s := New(config.Default().Salience)
	now := time.Now().UTC()
	at := now.Add(-24 * time.Hour)

	one := s.Score(now, Input{Timestamp: at, RepetitionCount: 1})
	ten := s.Score(now, Input{Timestamp: at, RepetitionCount: 10})
	hundred := s.Score(now, Input{Timestamp: at, RepetitionCount: 100})

	if !(one < ten) {
		t.Errorf("repetition should increase score: %v !< %v", one, ten)
	}
	if hundred-ten > ten-one {
		t.Errorf("repetition gains should diminish: Δ(10→100)=%v > Δ(1→10)=%v", hundred-ten, ten-one)
	}
}

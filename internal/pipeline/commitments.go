package pipeline

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/echomem/pkg/types"
)

// reactivationOffsets is the fixed follow-up schedule for a new
// commitment: surface it again after one, three, seven and thirty days.
var reactivationOffsets = []time.Duration{
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

// CommitmentTracker owns the lifecycle of promises the agent made. A
// commitment stays active while it has pending reactivations; once the
// schedule is exhausted without resolution it expires.
type CommitmentTracker struct {
	mu          sync.Mutex
	commitments map[string]*types.Commitment
	logger      *log.Logger
}

// NewCommitmentTracker constructs an empty tracker.
func NewCommitmentTracker(logger *log.Logger) *CommitmentTracker {
	return &CommitmentTracker{
		commitments: make(map[string]*types.Commitment),
		logger:      logger,
	}
}

// Add records a new commitment with the standard reactivation schedule.
// A near-duplicate of an existing active commitment is returned as-is
// instead of being tracked twice.
func (t *CommitmentTracker) Add(desc, evidenceEventID string, due *time.Time, now time.Time) (types.Commitment, bool) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return types.Commitment{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lower := strings.ToLower(desc)
	for _, c := range t.commitments {
		if c.Status != types.CommitmentActive {
			continue
		}
		existing := strings.ToLower(c.Desc)
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			return *c, false
		}
	}

	reactivations := make([]time.Time, len(reactivationOffsets))
	for i, off := range reactivationOffsets {
		reactivations[i] = now.Add(off)
	}
	c := &types.Commitment{
		ID:              uuid.NewString(),
		Desc:            desc,
		MadeAt:          now,
		Due:             due,
		Status:          types.CommitmentActive,
		EvidenceEventID: evidenceEventID,
		Reactivations:   reactivations,
		SchemaVersion:   types.SchemaVersion,
	}
	t.commitments[c.ID] = c
	t.logger.Info("tracking commitment", "id", c.ID, "desc", desc)
	return *c, true
}

// MarkDone resolves an active commitment. Returns the resolved commitment
// so callers can measure how long it stayed open.
func (t *CommitmentTracker) MarkDone(id string, now time.Time) (types.Commitment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.commitments[id]
	if !ok || c.Status != types.CommitmentActive {
		return types.Commitment{}, false
	}
	c.Status = types.CommitmentDone
	c.Reactivations = nil
	t.logger.Info("commitment resolved", "id", id, "open_for", now.Sub(c.MadeAt))
	return *c, true
}

// Sweep pops every reactivation that has come due. Commitments with a
// popped reactivation are returned for surfacing; those whose schedule is
// now empty expire. The second return value counts expirations.
func (t *CommitmentTracker) Sweep(now time.Time) ([]types.Commitment, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var surfaced []types.Commitment
	expired := 0
	for _, c := range t.commitments {
		if c.Status != types.CommitmentActive {
			continue
		}
		popped := false
		for len(c.Reactivations) > 0 && !c.Reactivations[0].After(now) {
			c.Reactivations = c.Reactivations[1:]
			popped = true
		}
		if !popped {
			continue
		}
		// The final reactivation still surfaces; the commitment just
		// will not come back again.
		if len(c.Reactivations) == 0 {
			c.Status = types.CommitmentExpired
			expired++
			t.logger.Info("commitment expired", "id", c.ID, "desc", c.Desc)
		}
		surfaced = append(surfaced, *c)
	}
	sort.Slice(surfaced, func(i, j int) bool { return surfaced[i].MadeAt.Before(surfaced[j].MadeAt) })
	return surfaced, expired
}

// Active returns active commitments, oldest first.
func (t *CommitmentTracker) Active() []types.Commitment {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.Commitment
	for _, c := range t.commitments {
		if c.Status == types.CommitmentActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MadeAt.Before(out[j].MadeAt) })
	return out
}

// All returns every tracked commitment, oldest first.
func (t *CommitmentTracker) All() []types.Commitment {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Commitment, 0, len(t.commitments))
	for _, c := range t.commitments {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MadeAt.Before(out[j].MadeAt) })
	return out
}

// Get looks up one commitment by id.
func (t *CommitmentTracker) Get(id string) (types.Commitment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.commitments[id]
	if !ok {
		return types.Commitment{}, false
	}
	return *c, true
}

// Load seeds the tracker from persistence.
func (t *CommitmentTracker) Load(commitments []types.Commitment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range commitments {
		c := commitments[i]
		types.MigrateCommitment(&c)
		t.commitments[c.ID] = &c
	}
}

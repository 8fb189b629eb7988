// Package store persists memory entities as JSON documents, one kind per
// logical collection, keyed by user. The in-memory stores stay
// authoritative at runtime; this layer exists so a restart loses nothing.
// When SQLite cannot be opened the engine degrades to a volatile map store
// rather than refusing to start.
package store

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/echomem/pkg/types"
)

// Record kinds in the documents table.
const (
	kindEvent        = "event"
	kindFact         = "fact"
	kindCommitment   = "commitment"
	kindABMItem      = "abm_item"
	kindEchoPattern  = "echo_pattern"
	kindCanon        = "canon"
	kindRelationship = "relationship"
	kindDigest       = "digest"
)

// singletonID keys the one-per-user kinds (canon, relationship).
const singletonID = "current"

// Stats summarizes one user's stored collections for admin dashboards.
type Stats struct {
	Events      int64
	Facts       int64
	Commitments int64
	ABMItems    int64
	Patterns    int64
	Digests     int64
}

// Store is the persistence surface used by the engine. Collection-valued
// kinds are written whole on mutation; events and digests append.
type Store interface {
	SaveEvent(ctx context.Context, userID string, ev types.Event) error
	Events(ctx context.Context, userID string) ([]types.Event, error)
	PruneEvents(ctx context.Context, userID string, before time.Time) (int64, error)

	ReplaceFacts(ctx context.Context, userID string, facts []types.SemanticFact) error
	Facts(ctx context.Context, userID string) ([]types.SemanticFact, error)

	ReplaceCommitments(ctx context.Context, userID string, commitments []types.Commitment) error
	Commitments(ctx context.Context, userID string) ([]types.Commitment, error)

	ReplaceABMItems(ctx context.Context, userID string, items []types.ABMItem) error
	ABMItems(ctx context.Context, userID string) ([]types.ABMItem, error)

	ReplaceEchoPatterns(ctx context.Context, userID string, patterns []types.EchoPattern) error
	EchoPatterns(ctx context.Context, userID string) ([]types.EchoPattern, error)

	SaveCanon(ctx context.Context, userID string, c types.Canon) error
	Canon(ctx context.Context, userID string) (types.Canon, bool, error)

	SaveRelationship(ctx context.Context, userID string, rel types.RelationshipState) error
	Relationship(ctx context.Context, userID string) (types.RelationshipState, bool, error)

	SaveDigest(ctx context.Context, userID string, d types.DailyDigest) error
	Digests(ctx context.Context, userID string, limit int) ([]types.DailyDigest, error)

	Users(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, userID string) (Stats, error)
	Close() error
}

// OpenWithFallback opens the SQLite store at dbPath, degrading to the
// volatile in-memory store when the database cannot be opened. The
// degradation is logged once; the engine keeps full functionality minus
// durability.
func OpenWithFallback(ctx context.Context, dbPath string, logger *log.Logger) Store {
	s, err := OpenSQLite(ctx, dbPath, logger)
	if err != nil {
		logger.Warn("sqlite unavailable; memories will not survive restarts",
			"path", dbPath, "error", err)
		return NewMemoryStore()
	}
	return s
}

// Package vector provides an embedded similarity index over per-user
// collections. It backs the embedding bonus in retrieval scoring and is
// rebuilt from the canonical store on boot, so losing it costs nothing.
package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"
)

// Hit is one similarity match.
type Hit struct {
	ID         string
	Kind       string
	Text       string
	Similarity float32
}

// Index wraps an in-process chromem database with one collection per user.
type Index struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	logger      *log.Logger
}

// NewIndex constructs an empty Index.
func NewIndex(logger *log.Logger) *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		logger:      logger,
	}
}

func (ix *Index) collection(userID string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[userID]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	if userID == "" {
		name = "global"
	}
	col, err := ix.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	ix.collections[userID] = col
	ix.logger.Debug("created vector collection", "name", name)
	return col, nil
}

// Add stores one embedded record. Kind tags what the ID refers to
// (event, fact) so callers can route hits back to their store.
func (ix *Index) Add(ctx context.Context, userID, kind, id, text string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	col, err := ix.collection(userID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: embedding,
		Metadata:  map[string]string{"kind": kind},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns up to limit hits for the embedding, filtered by kind when
// kind is non-empty. An empty collection yields no hits and no error.
func (ix *Index) Query(ctx context.Context, userID string, embedding []float32, limit int, kind string) ([]Hit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	col, err := ix.collection(userID)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{"kind": kind}
	}

	// With a kind filter the matching subset can be smaller than the
	// collection, and chromem rejects nResults above it. Shrink and retry.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, embedding, n, where, nil)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, fmt.Errorf("query embedding: %w", err)
		}
	}
	if err != nil {
		return nil, nil
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:         r.ID,
			Kind:       r.Metadata["kind"],
			Text:       r.Content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

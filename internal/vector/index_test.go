package vector

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func TestQueryEmptyCollection(t *testing.T) {
	t.Parallel()
	ix := NewIndex(log.New(io.Discard))

	hits, err := ix.Query(context.Background(), "u1", []float32{1, 0, 0}, 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestAddAndQueryRanksBySimilarity(t *testing.T) {
	t.Parallel()
	ix := NewIndex(log.New(io.Discard))
	ctx := context.Background()

	if err := ix.Add(ctx, "u1", "fact", "f1", "gosta de corrida", []float32{1, 0, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ix.Add(ctx, "u1", "fact", "f2", "trabalha no banco", []float32{0, 1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := ix.Query(ctx, "u1", []float32{0.9, 0.1, 0}, 2, "fact")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "f1" {
		t.Fatalf("expected f1 first, got %s", hits[0].ID)
	}
	if hits[0].Similarity <= hits[1].Similarity {
		t.Fatal("hits must be ordered by similarity")
	}
}

func TestCollectionsAreIsolatedPerUser(t *testing.T) {
	t.Parallel()
	ix := NewIndex(log.New(io.Discard))
	ctx := context.Background()

	if err := ix.Add(ctx, "u1", "event", "e1", "viagem para o litoral", []float32{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := ix.Query(ctx, "u2", []float32{1, 0}, 5, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected isolation between users, got %d hits", len(hits))
	}
}

func TestQueryLimitClampedToCollectionSize(t *testing.T) {
	t.Parallel()
	ix := NewIndex(log.New(io.Discard))
	ctx := context.Background()

	if err := ix.Add(ctx, "u1", "fact", "f1", "gosta de café", []float32{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := ix.Query(ctx, "u1", []float32{1, 0}, 10, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

package vectorstore

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vthunder/cogmem/internal/types"
)

func TestSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	s, err := New("", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := time.UnixMilli(1_700_000_000_000)
	docs := []Document{
		{ID: "a", Content: "alpha", Embedding: []float64{1, 0}, Timestamp: ts},
		{ID: "b", Content: "beta", Embedding: []float64{0.6, 0.8}, Metadata: map[string]string{"topic": "greek"}},
		{ID: "c", Content: "gamma", Embedding: []float64{0, 1}},
	}
	for _, d := range docs {
		if _, err := s.Index(ctx, d); err != nil {
			t.Fatalf("Index(%s): %v", d.ID, err)
		}
	}
	if s.Count() != 3 {
		t.Fatalf("Count = %d", s.Count())
	}

	// topK larger than the collection is clamped
	hits, err := s.Search(ctx, []float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "b" || hits[2].ID != "c" {
		t.Errorf("order = %s %s %s", hits[0].ID, hits[1].ID, hits[2].ID)
	}
	if math.Abs(hits[1].Score-0.6) > 1e-4 {
		t.Errorf("score b = %v, want 0.6", hits[1].Score)
	}
	if hits[0].Timestamp != ts.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", hits[0].Timestamp, ts.UnixMilli())
	}
	if _, ok := hits[0].Metadata[metaTimestamp]; ok {
		t.Error("timestamp should not leak into metadata")
	}
	if hits[1].Metadata["topic"] != "greek" {
		t.Errorf("metadata = %v", hits[1].Metadata)
	}
	if len(hits[0].Embedding) != 2 {
		t.Errorf("embedding not returned: %v", hits[0].Embedding)
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	s, _ := New("", "empty", nil)
	hits, err := s.Search(context.Background(), []float64{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("got %v, %v", hits, err)
	}
}

func TestIndexUsesEmbedder(t *testing.T) {
	ctx := context.Background()
	calls := 0
	embedder := types.EmbedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		calls++
		return []float64{1, 1}, nil
	})
	s, _ := New("", "", embedder)

	id, err := s.Index(ctx, Document{Content: "needs embedding"})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if id == "" {
		t.Error("expected generated id")
	}
	if calls != 1 {
		t.Errorf("embedder called %d times", calls)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count after delete = %d", s.Count())
	}
}

func TestIndexWithoutEmbedder(t *testing.T) {
	s, _ := New("", "", nil)
	if _, err := s.Index(context.Background(), Document{Content: "x"}); err == nil {
		t.Error("expected error without embedder or embedding")
	}

	failing := types.EmbedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		return nil, errors.New("down")
	})
	s, _ = New("", "", failing)
	if _, err := s.Index(context.Background(), Document{Content: "x"}); err == nil {
		t.Error("expected embedder error")
	}
}

func TestPersistentStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir, "docs", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Index(ctx, Document{ID: "p", Content: "persisted", Embedding: []float64{0, 1}})

	reopened, err := New(dir, "docs", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 1 {
		t.Errorf("Count after reopen = %d", reopened.Count())
	}
}

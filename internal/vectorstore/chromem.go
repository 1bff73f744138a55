// Package vectorstore adapts chromem-go into the Searcher the cognitive
// handler queries for candidates.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/types"
	"github.com/vthunder/cogmem/internal/vecmath"
)

// DefaultCollection is used when no collection name is configured
const DefaultCollection = "documents"

// metaTimestamp is the metadata key holding the document timestamp (Unix ms)
const metaTimestamp = "timestamp_ms"

// Document is content to index. A nil Embedding is computed by the
// collection's embedder.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float64
	Timestamp time.Time
}

// Store is a chromem-go collection
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// New opens a collection. An empty path keeps everything in memory,
// otherwise the database is persisted under path. embedder may be nil when
// every document is indexed with its embedding.
func New(path, collection string, embedder types.Embedder) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, embedFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}

	return &Store{db: db, collection: col}, nil
}

func embedFunc(embedder types.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if embedder == nil {
			return nil, fmt.Errorf("no embedder configured for %q", logging.Truncate(text, 40))
		}
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return toFloat32(emb), nil
	}
}

// Index adds or replaces a document and returns its id
func (s *Store) Index(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}

	meta := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[metaTimestamp] = strconv.FormatInt(doc.Timestamp.UnixMilli(), 10)

	cdoc := chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: meta,
	}
	if len(doc.Embedding) > 0 {
		cdoc.Embedding = toFloat32(doc.Embedding)
	}

	if err := s.collection.AddDocument(ctx, cdoc); err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	return doc.ID, nil
}

// Search returns up to topK nearest documents by cosine similarity
func (s *Store) Search(ctx context.Context, embedding []float64, topK int) ([]types.SearchHit, error) {
	count := s.collection.Count()
	if count == 0 || topK <= 0 {
		return []types.SearchHit{}, nil
	}
	// chromem rejects n larger than the collection
	n := topK
	if n > count {
		n = count
	}

	results, err := s.collection.QueryEmbedding(ctx, toFloat32(embedding), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	hits := make([]types.SearchHit, 0, len(results))
	for _, r := range results {
		hit := types.SearchHit{
			ID:        r.ID,
			Content:   r.Content,
			Score:     vecmath.Clamp01(float64(r.Similarity)),
			Embedding: toFloat64(r.Embedding),
			Metadata:  make(map[string]string, len(r.Metadata)),
		}
		for k, v := range r.Metadata {
			if k == metaTimestamp {
				hit.Timestamp, _ = strconv.ParseInt(v, 10, 64)
				continue
			}
			hit.Metadata[k] = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete removes documents by id
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.collection.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of indexed documents
func (s *Store) Count() int {
	return s.collection.Count()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

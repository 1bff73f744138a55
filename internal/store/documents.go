package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/types"
	"github.com/vthunder/cogmem/internal/vecmath"
)

// Document is an indexed piece of content searchable by embedding
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float64
	Timestamp int64 // Unix ms, 0 when unknown
}

// IndexDocument inserts or replaces a document
func (s *Store) IndexDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" || len(doc.Embedding) == 0 {
		return fmt.Errorf("index document: id and embedding are required")
	}

	emb, err := json.Marshal(doc.Embedding)
	if err != nil {
		return err
	}
	var meta []byte
	if doc.Metadata != nil {
		if meta, err = json.Marshal(doc.Metadata); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, metadata, embedding, timestamp_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			timestamp_ms = excluded.timestamp_ms
	`, doc.ID, doc.Content, nullableString(meta), emb, doc.Timestamp)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}

	if !s.VecAvailable() {
		return nil
	}
	if err := s.ensureVecTable(ctx, len(doc.Embedding)); err != nil {
		logging.Warn("store", "document %s not added to vec index: %v", doc.ID, err)
		return nil
	}
	var rowid int64
	if err := s.db.QueryRowContext(ctx, `SELECT rowid FROM documents WHERE id = ?`, doc.ID).Scan(&rowid); err != nil {
		return err
	}
	if err := s.upsertVec(ctx, rowid, doc.ID, doc.Embedding); err != nil {
		logging.Warn("store", "vec insert failed for %s: %v", doc.ID, err)
	}
	return nil
}

// CountDocuments returns the number of indexed documents
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Search returns the topK documents most similar to embedding, scored by
// cosine similarity clamped to [0,1]. It uses sqlite-vec when available and
// otherwise scans every document.
func (s *Store) Search(ctx context.Context, embedding []float64, topK int) ([]types.SearchHit, error) {
	if topK <= 0 {
		return []types.SearchHit{}, nil
	}

	s.vec.mu.Lock()
	useVec := s.vec.available && s.vec.dim == len(embedding)
	s.vec.mu.Unlock()

	if useVec {
		hits, err := s.searchVec(ctx, embedding, topK)
		if err == nil {
			return hits, nil
		}
		logging.Warn("store", "vec search failed, falling back to scan: %v", err)
	}
	return s.searchScan(ctx, embedding, topK)
}

func (s *Store) searchVec(ctx context.Context, embedding []float64, topK int) ([]types.SearchHit, error) {
	rowids, dists, err := s.knn(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}
	if len(rowids) == 0 {
		return []types.SearchHit{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rowids)), ",")
	args := make([]any, len(rowids))
	for i, id := range rowids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, id, content, metadata, embedding, timestamp_ms FROM documents WHERE rowid IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byRow := make(map[int64]types.SearchHit, len(rowids))
	for rows.Next() {
		var rowid int64
		hit, err := scanHit(rows, &rowid)
		if err != nil {
			return nil, err
		}
		byRow[rowid] = hit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]types.SearchHit, 0, len(rowids))
	for i, id := range rowids {
		hit, ok := byRow[id]
		if !ok {
			continue
		}
		hit.Score = vecmath.Clamp01(l2ToCosineSim(dists[i]))
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) searchScan(ctx context.Context, embedding []float64, topK int) ([]types.SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rowid, id, content, metadata, embedding, timestamp_ms FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []types.SearchHit
	for rows.Next() {
		var rowid int64
		hit, err := scanHit(rows, &rowid)
		if err != nil {
			return nil, err
		}
		sim, err := vecmath.Cosine(embedding, hit.Embedding)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", hit.ID, err)
		}
		hit.Score = vecmath.Clamp01(sim)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []types.SearchHit{}
	}
	return hits, nil
}

func scanHit(rows *sql.Rows, rowid *int64) (types.SearchHit, error) {
	var hit types.SearchHit
	var meta sql.NullString
	var emb []byte
	if err := rows.Scan(rowid, &hit.ID, &hit.Content, &meta, &emb, &hit.Timestamp); err != nil {
		return hit, err
	}
	if err := json.Unmarshal(emb, &hit.Embedding); err != nil {
		return hit, fmt.Errorf("document %s embedding: %w", hit.ID, err)
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &hit.Metadata); err != nil {
			return hit, fmt.Errorf("document %s metadata: %w", hit.ID, err)
		}
	}
	return hit, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vthunder/cogmem/internal/graph"
)

// SaveGraph replaces the stored concept graph with def
func (s *Store) SaveGraph(ctx context.Context, def *graph.Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM concepts`); err != nil {
		return err
	}

	for _, c := range def.Concepts {
		var emb []byte
		if len(c.Embedding) > 0 {
			if emb, err = json.Marshal(c.Embedding); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO concepts (key, embedding) VALUES (?, ?)`, c.Key, emb); err != nil {
			return fmt.Errorf("insert concept %q: %w", c.Key, err)
		}
	}
	for _, r := range def.Relations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (source, target, weight) VALUES (?, ?, ?)`,
			r.Source, r.Target, r.Weight); err != nil {
			return fmt.Errorf("insert relation %s -> %s: %w", r.Source, r.Target, err)
		}
	}
	return tx.Commit()
}

// LoadGraph reads the stored concept graph, concepts and relations sorted by key
func (s *Store) LoadGraph(ctx context.Context) (*graph.Definition, error) {
	def := &graph.Definition{}

	rows, err := s.db.QueryContext(ctx, `SELECT key, embedding FROM concepts ORDER BY key`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c graph.ConceptDef
		var emb []byte
		if err := rows.Scan(&c.Key, &emb); err != nil {
			rows.Close()
			return nil, err
		}
		if len(emb) > 0 {
			if err := json.Unmarshal(emb, &c.Embedding); err != nil {
				rows.Close()
				return nil, fmt.Errorf("concept %q embedding: %w", c.Key, err)
			}
		}
		def.Concepts = append(def.Concepts, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT source, target, weight FROM relations ORDER BY source, target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r graph.Edge
		var w sql.NullFloat64
		if err := rows.Scan(&r.Source, &r.Target, &w); err != nil {
			return nil, err
		}
		r.Weight = w.Float64
		def.Relations = append(def.Relations, r)
	}
	return def, rows.Err()
}

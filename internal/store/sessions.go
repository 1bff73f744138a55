package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/cogmem/internal/episodic"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("store: not found")

// SaveSession replaces the stored state of a session with snap
func (s *Store) SaveSession(ctx context.Context, id string, snap episodic.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, capacity, dimension, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			capacity = excluded.capacity,
			dimension = excluded.dimension,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`, id, snap.Capacity, snap.Dimension, snap.Checksum, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("clear episodes %s: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO episodes (session_id, seq, query, response, embedding, timestamp_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ep := range snap.Episodes {
		emb, err := json.Marshal(ep.Embedding)
		if err != nil {
			return err
		}
		var meta []byte
		if ep.Metadata != nil {
			if meta, err = json.Marshal(ep.Metadata); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, id, i, ep.Query, ep.Response, emb, ep.Timestamp, nullableString(meta)); err != nil {
			return fmt.Errorf("insert episode %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadSession reads a stored session snapshot. The checksum recorded at save
// time is carried over so episodic.Buffer.Restore can verify it.
func (s *Store) LoadSession(ctx context.Context, id string) (episodic.Snapshot, error) {
	snap := episodic.Snapshot{Version: episodic.SnapshotVersion}
	err := s.db.QueryRowContext(ctx,
		`SELECT capacity, dimension, checksum FROM sessions WHERE id = ?`, id,
	).Scan(&snap.Capacity, &snap.Dimension, &snap.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return snap, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT query, response, embedding, timestamp_ms, metadata
		FROM episodes WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	snap.Episodes = []episodic.Episode{}
	for rows.Next() {
		var ep episodic.Episode
		var emb []byte
		var meta sql.NullString
		if err := rows.Scan(&ep.Query, &ep.Response, &emb, &ep.Timestamp, &meta); err != nil {
			return snap, err
		}
		if err := json.Unmarshal(emb, &ep.Embedding); err != nil {
			return snap, fmt.Errorf("%w: episode embedding: %v", episodic.ErrMalformedSnapshot, err)
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &ep.Metadata); err != nil {
				return snap, fmt.Errorf("%w: episode metadata: %v", episodic.ErrMalformedSnapshot, err)
			}
		}
		snap.Episodes = append(snap.Episodes, ep)
	}
	return snap, rows.Err()
}

// SessionIDs lists stored sessions in id order
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes a session and its episodes
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

package cognitive

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vthunder/cogmem/internal/episodic"
	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/store"
)

// Session returns the buffer of id, creating it on first use
func (h *Handler) Session(id string) (*episodic.Buffer, error) {
	if id == "" {
		return nil, ErrEmptySession
	}

	h.mu.RLock()
	buf, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		return buf, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if buf, ok := h.sessions[id]; ok {
		return buf, nil
	}
	buf, err := h.newBuffer()
	if err != nil {
		return nil, err
	}
	h.sessions[id] = buf
	logging.Debug("cognitive", "session %s created (capacity=%d)", id, h.cfg.BufferCapacity)
	return buf, nil
}

func (h *Handler) newBuffer() (*episodic.Buffer, error) {
	return episodic.New(h.cfg.BufferCapacity,
		episodic.WithHalfLife(h.cfg.HalfLife),
		episodic.WithClock(h.now),
	)
}

// Sessions lists known session ids in sorted order
func (h *Handler) Sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearSession drops a session and its episodes
func (h *Handler) ClearSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// AddEpisode records a turn directly, outside ProcessQuery
func (h *Handler) AddEpisode(sessionID, query, response string, embedding []float64, metadata map[string]string) error {
	buf, err := h.Session(sessionID)
	if err != nil {
		return err
	}
	return buf.Add(query, response, embedding, metadata)
}

// SaveSession writes a session snapshot to path
func (h *Handler) SaveSession(id, path string) error {
	buf, err := h.Session(id)
	if err != nil {
		return err
	}
	return buf.SaveToFile(path)
}

// LoadSession replaces a session with the snapshot at path
func (h *Handler) LoadSession(id, path string) error {
	buf, err := h.Session(id)
	if err != nil {
		return err
	}
	return buf.LoadFromFile(path)
}

// Persist writes every session and the concept graph to s
func (h *Handler) Persist(ctx context.Context, s *store.Store) error {
	h.mu.RLock()
	snapshots := make(map[string]episodic.Snapshot, len(h.sessions))
	for id, buf := range h.sessions {
		snap, err := buf.Snapshot()
		if err != nil {
			h.mu.RUnlock()
			return fmt.Errorf("snapshot %s: %w", id, err)
		}
		snapshots[id] = snap
	}
	h.mu.RUnlock()

	for id, snap := range snapshots {
		if err := s.SaveSession(ctx, id, snap); err != nil {
			return fmt.Errorf("save session %s: %w", id, err)
		}
	}
	if err := s.SaveGraph(ctx, h.network.Definition()); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}

	logging.Info("cognitive", "persisted %d sessions, %d concepts", len(snapshots), h.network.NumNodes())
	return nil
}

// Restore loads every stored session and applies the stored graph on top of
// the current network
func (h *Handler) Restore(ctx context.Context, s *store.Store) error {
	ids, err := s.SessionIDs(ctx)
	if err != nil {
		return err
	}

	restored := make(map[string]*episodic.Buffer, len(ids))
	for _, id := range ids {
		snap, err := s.LoadSession(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load session %s: %w", id, err)
		}
		buf, err := h.newBuffer()
		if err != nil {
			return err
		}
		if err := buf.Restore(snap); err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		restored[id] = buf
	}

	def, err := s.LoadGraph(ctx)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if err := h.network.Apply(def); err != nil {
		return fmt.Errorf("apply graph: %w", err)
	}

	h.mu.Lock()
	for id, buf := range restored {
		h.sessions[id] = buf
	}
	h.mu.Unlock()

	logging.Info("cognitive", "restored %d sessions, %d concepts", len(restored), len(def.Concepts))
	return nil
}

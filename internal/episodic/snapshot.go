package episodic

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ErrMalformedSnapshot is returned when persisted buffer state cannot be trusted
var ErrMalformedSnapshot = errors.New("episodic: malformed snapshot")

// checksumPayload is the part of a snapshot covered by the checksum
type checksumPayload struct {
	Capacity  int       `json:"capacity"`
	Dimension int       `json:"dimension"`
	Episodes  []Episode `json:"episodes"`
}

func computeChecksum(capacity, dimension int, episodes []Episode) (string, error) {
	data, err := json.Marshal(checksumPayload{
		Capacity:  capacity,
		Dimension: dimension,
		Episodes:  episodes,
	})
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot captures capacity and all episodes in insertion order
func (b *Buffer) Snapshot() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	episodes := make([]Episode, len(b.episodes))
	for i, ep := range b.episodes {
		episodes[i] = ep.clone()
	}

	checksum, err := computeChecksum(b.capacity, b.dimension, episodes)
	if err != nil {
		return Snapshot{}, fmt.Errorf("checksum snapshot: %w", err)
	}

	return Snapshot{
		Version:   SnapshotVersion,
		Capacity:  b.capacity,
		Dimension: b.dimension,
		Episodes:  episodes,
		Checksum:  checksum,
	}, nil
}

// Restore replaces the buffer state with s after validating it. The checksum
// is verified when present.
func (b *Buffer) Restore(s Snapshot) error {
	if err := validateSnapshot(s); err != nil {
		return err
	}

	episodes := make([]Episode, 0, s.Capacity)
	for _, ep := range s.Episodes {
		episodes = append(episodes, ep.clone())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = s.Capacity
	b.dimension = s.Dimension
	b.episodes = episodes
	return nil
}

func validateSnapshot(s Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedSnapshot, s.Version)
	}
	if s.Capacity < 1 {
		return fmt.Errorf("%w: capacity %d", ErrMalformedSnapshot, s.Capacity)
	}
	if len(s.Episodes) > s.Capacity {
		return fmt.Errorf("%w: %d episodes exceed capacity %d", ErrMalformedSnapshot, len(s.Episodes), s.Capacity)
	}
	if len(s.Episodes) > 0 && s.Dimension < 1 {
		return fmt.Errorf("%w: missing dimension", ErrMalformedSnapshot)
	}
	for i, ep := range s.Episodes {
		if len(ep.Embedding) != s.Dimension {
			return fmt.Errorf("%w: episode %d has dimension %d, want %d",
				ErrMalformedSnapshot, i, len(ep.Embedding), s.Dimension)
		}
		if ep.Timestamp < 0 {
			return fmt.Errorf("%w: episode %d has negative timestamp", ErrMalformedSnapshot, i)
		}
	}
	if s.Checksum != "" {
		want, err := computeChecksum(s.Capacity, s.Dimension, s.Episodes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
		if want != s.Checksum {
			return fmt.Errorf("%w: checksum mismatch", ErrMalformedSnapshot)
		}
	}
	return nil
}

// SaveToFile writes the buffer snapshot as JSON
func (b *Buffer) SaveToFile(path string) error {
	snap, err := b.Snapshot()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadFromFile replaces the buffer state with a snapshot written by SaveToFile
func (b *Buffer) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if snap.Checksum == "" {
		return fmt.Errorf("%w: missing checksum", ErrMalformedSnapshot)
	}
	return b.Restore(snap)
}

// LoadFile reads a snapshot file into a new buffer sized from the snapshot
func LoadFile(path string, opts ...Option) (*Buffer, error) {
	b, err := New(1, opts...)
	if err != nil {
		return nil, err
	}
	if err := b.LoadFromFile(path); err != nil {
		return nil, err
	}
	return b, nil
}

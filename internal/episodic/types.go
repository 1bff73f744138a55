package episodic

import (
	"maps"
	"slices"
	"time"
)

// Episode is one recorded conversational turn
type Episode struct {
	Query     string            `json:"query"`
	Response  string            `json:"response"`
	Embedding []float64         `json:"embedding"`
	Timestamp int64             `json:"timestamp_ms"` // Unix milliseconds
	Metadata  map[string]string `json:"metadata"`
}

// Time returns the episode timestamp as a time.Time
func (e Episode) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// clone returns a deep copy so callers never share backing arrays with the buffer
func (e Episode) clone() Episode {
	e.Embedding = slices.Clone(e.Embedding)
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}

// Scored is an episode returned from similarity retrieval
type Scored struct {
	Episode
	Similarity float64 `json:"similarity"` // raw cosine similarity
	Score      float64 `json:"score"`      // similarity weighted by temporal decay
}

// SnapshotVersion is the current on-disk snapshot version
const SnapshotVersion = 1

// Snapshot is the persisted state of a buffer: capacity plus episodes in
// insertion order.
type Snapshot struct {
	Version   int       `json:"version"`
	Capacity  int       `json:"capacity"`
	Dimension int       `json:"dimension"`
	Episodes  []Episode `json:"episodes"`
	Checksum  string    `json:"checksum"`
}

// Package activity keeps an append-only JSONL log of what the memory layer
// did: answered queries, degraded runs, indexed documents and failures.
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeQuery    Type = "query"    // Query answered
	TypeDegraded Type = "degraded" // Query answered without vector search
	TypeIndex    Type = "index"    // Document added to the vector backend
	TypeGraph    Type = "graph"    // Concept graph changed
	TypeError    Type = "error"    // Something went wrong
)

// Entry represents a single activity log entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	Summary   string         `json:"summary"`
	Session   string         `json:"session,omitempty"`
	QueryID   string         `json:"query_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// QueryOutcome is what LogQuery records about an answered query
type QueryOutcome struct {
	Session    string
	QueryID    string
	Query      string
	Status     string
	Confidence float64
	Degraded   bool
	TotalMs    float64
}

// Log is the activity logger
type Log struct {
	path string
	mu   sync.Mutex
}

// New creates an activity logger writing to <statePath>/activity.jsonl
func New(statePath string) *Log {
	return &Log{path: filepath.Join(statePath, "activity.jsonl")}
}

// Path returns the log file location
func (l *Log) Path() string { return l.path }

// Log appends an entry
func (l *Log) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// LogQuery records an answered query. Degraded runs get their own type so
// they can be listed with ByType.
func (l *Log) LogQuery(o QueryOutcome) error {
	t := TypeQuery
	if o.Degraded {
		t = TypeDegraded
	}
	return l.Log(Entry{
		Type:    t,
		Summary: o.Query,
		Session: o.Session,
		QueryID: o.QueryID,
		Data: map[string]any{
			"status":     o.Status,
			"confidence": o.Confidence,
			"total_ms":   o.TotalMs,
		},
	})
}

// LogIndex records a document added to the vector backend
func (l *Log) LogIndex(id, source string) error {
	data := map[string]any{"id": id}
	if source != "" {
		data["source"] = source
	}
	return l.Log(Entry{Type: TypeIndex, Summary: fmt.Sprintf("indexed %s", id), Data: data})
}

// LogGraph records a change to the concept graph
func (l *Log) LogGraph(summary string) error {
	return l.Log(Entry{Type: TypeGraph, Summary: summary})
}

// LogError records a failure
func (l *Log) LogError(summary string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return l.Log(Entry{Type: TypeError, Summary: summary, Data: data})
}

// Recent returns the last n entries, oldest first
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Search returns up to limit entries whose summary or data contains query,
// most recent first
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if strings.Contains(strings.ToLower(e.Summary), query) {
			result = append(result, e)
			continue
		}
		if e.Data != nil {
			dataJSON, _ := json.Marshal(e.Data)
			if strings.Contains(strings.ToLower(string(dataJSON)), query) {
				result = append(result, e)
			}
		}
	}
	return result, nil
}

// ByType returns up to limit entries of type t, most recent first
func (l *Log) ByType(t Type, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].Type == t {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// Range returns entries with start <= ts <= end
func (l *Log) Range(start, end time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

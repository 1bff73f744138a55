package activity

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(t.TempDir())
}

func TestLog_WritesJSONL(t *testing.T) {
	log := newTestLog(t)

	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if err := log.Log(Entry{Timestamp: ts, Type: TypeGraph, Summary: "hello world"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") || strings.Count(string(data), "\n") != 1 {
		t.Errorf("not one JSON line: %q", data)
	}

	entries, err := log.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Timestamp.Equal(ts) || entries[0].Summary != "hello world" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestLog_DefaultTimestamp(t *testing.T) {
	log := newTestLog(t)
	before := time.Now()
	log.LogGraph("loaded graph")

	entries, _ := log.Recent(1)
	if len(entries) != 1 || entries[0].Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp not set: %+v", entries)
	}
}

func TestLogQuery(t *testing.T) {
	log := newTestLog(t)

	tests := []struct {
		name     string
		outcome  QueryOutcome
		wantType Type
	}{
		{"answered", QueryOutcome{Session: "s1", QueryID: "q1", Query: "what is a btree", Status: "validated", Confidence: 0.8}, TypeQuery},
		{"degraded", QueryOutcome{Session: "s1", QueryID: "q2", Query: "what is a heap", Status: "unverified", Degraded: true}, TypeDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := log.LogQuery(tt.outcome); err != nil {
				t.Fatalf("LogQuery: %v", err)
			}
			entries, _ := log.Recent(1)
			e := entries[0]
			if e.Type != tt.wantType || e.QueryID != tt.outcome.QueryID || e.Session != "s1" {
				t.Errorf("entry = %+v", e)
			}
			if e.Data["status"] != tt.outcome.Status {
				t.Errorf("status = %v", e.Data["status"])
			}
		})
	}
}

func TestRecentKeepsOrder(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range []string{"a", "b", "c", "d"} {
		log.Log(Entry{Timestamp: base.Add(time.Duration(i) * time.Minute), Type: TypeGraph, Summary: s})
	}

	entries, err := log.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Summary != "c" || entries[1].Summary != "d" {
		t.Errorf("recent = %+v", entries)
	}
}

func TestRecentMissingFile(t *testing.T) {
	entries, err := newTestLog(t).Recent(5)
	if err != nil || entries != nil {
		t.Errorf("expected nil, nil; got %v, %v", entries, err)
	}
}

func TestSearchAndByType(t *testing.T) {
	log := newTestLog(t)
	log.LogIndex("doc-1", "notes/btree.md")
	log.LogQuery(QueryOutcome{Query: "How do BTrees work", Status: "validated"})
	log.LogError("vector search failed", errors.New("connection refused"), nil)
	log.LogIndex("doc-2", "")

	found, _ := log.Search("btree", 10)
	if len(found) != 2 || found[0].Type != TypeQuery || found[1].Type != TypeIndex {
		t.Errorf("search = %+v", found)
	}

	found, _ = log.Search("refused", 10)
	if len(found) != 1 || found[0].Type != TypeError {
		t.Errorf("search in data = %+v", found)
	}

	idx, _ := log.ByType(TypeIndex, 1)
	if len(idx) != 1 || idx[0].Data["id"] != "doc-2" {
		t.Errorf("by type = %+v", idx)
	}
	if _, ok := idx[0].Data["source"]; ok {
		t.Error("empty source recorded")
	}
}

func TestRange(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.Log(Entry{Timestamp: base.Add(time.Duration(i) * time.Hour), Type: TypeGraph, Summary: "x"})
	}

	got, err := log.Range(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("range returned %d entries", len(got))
	}
}

func TestMalformedLinesSkipped(t *testing.T) {
	log := newTestLog(t)
	log.LogGraph("first")
	f, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n\n")
	f.Close()
	log.LogGraph("second")

	entries, _ := log.Recent(0)
	if len(entries) != 2 {
		t.Errorf("expected 2 valid entries, got %d", len(entries))
	}
}

func TestConcurrentWrites(t *testing.T) {
	log := newTestLog(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.LogQuery(QueryOutcome{Query: "q", Status: "validated"})
		}()
	}
	wg.Wait()

	entries, _ := log.Recent(0)
	if len(entries) != 20 {
		t.Errorf("expected 20 entries, got %d", len(entries))
	}
}

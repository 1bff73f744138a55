package episodic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vthunder/cogmem/internal/vecmath"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustBuffer(t *testing.T, capacity int, opts ...Option) *Buffer {
	t.Helper()
	b, err := New(capacity, opts...)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return b
}

func TestNew_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("New(%d) err = %v, want ErrInvalidCapacity", c, err)
		}
	}
}

// TestBoundedBuffer checks size never exceeds capacity and that the last
// capacity episodes survive in order.
func TestBoundedBuffer(t *testing.T) {
	const capacity = 4
	b := mustBuffer(t, capacity)

	for i := 0; i < capacity+7; i++ {
		if err := b.Add(fmt.Sprintf("q%d", i), fmt.Sprintf("r%d", i), []float64{1, float64(i)}, nil); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		if b.Len() > capacity {
			t.Fatalf("size %d exceeds capacity after insert %d", b.Len(), i)
		}
	}

	got := b.Recent(capacity)
	if len(got) != capacity {
		t.Fatalf("got %d episodes, want %d", len(got), capacity)
	}
	for i, ep := range got {
		want := fmt.Sprintf("q%d", 7+i)
		if ep.Query != want {
			t.Errorf("episode %d = %q, want %q", i, ep.Query, want)
		}
	}
	if !b.Full() {
		t.Error("expected buffer to report full")
	}
}

func TestRecent_Scenario(t *testing.T) {
	b := mustBuffer(t, 3)
	for i := 1; i <= 5; i++ {
		b.Add(fmt.Sprintf("E%d", i), "", []float64{1, 0}, nil)
	}

	got := b.Recent(3)
	want := []string{"E3", "E4", "E5"}
	if len(got) != len(want) {
		t.Fatalf("got %d episodes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Query != want[i] {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].Query, want[i])
		}
	}

	if n := len(b.Recent(10)); n != 3 {
		t.Errorf("Recent(10) returned %d, want 3", n)
	}
	if n := len(b.Recent(0)); n != 0 {
		t.Errorf("Recent(0) returned %d, want 0", n)
	}
}

func TestAdd_DimensionMismatch(t *testing.T) {
	b := mustBuffer(t, 3)
	if err := b.Add("q", "r", []float64{1, 2, 3}, nil); err != nil {
		t.Fatal(err)
	}
	err := b.Add("q2", "r2", []float64{1, 2}, nil)
	if !errors.Is(err, vecmath.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("rejected episode was stored")
	}

	if err := b.Add("q3", "r3", nil, nil); !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("expected ErrEmptyEmbedding, got %v", err)
	}
}

func TestRetrieveSimilar_DimensionMismatch(t *testing.T) {
	b := mustBuffer(t, 3)
	b.Add("q", "r", []float64{1, 0, 0}, nil)

	_, err := b.RetrieveSimilar([]float64{1, 0}, 3, 0)
	if !errors.Is(err, vecmath.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestRetrieveSimilar_Ranking(t *testing.T) {
	clock := newFakeClock()
	b := mustBuffer(t, 10, WithClock(clock.Now))

	b.Add("far", "", []float64{0, 1}, nil)
	clock.Advance(time.Millisecond)
	b.Add("close", "", []float64{1, 0.1}, nil)
	clock.Advance(time.Millisecond)
	b.Add("exact", "", []float64{1, 0}, nil)

	results, err := b.RetrieveSimilar([]float64{1, 0}, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (far is below min score)", len(results))
	}
	if results[0].Query != "exact" || results[1].Query != "close" {
		t.Errorf("unexpected order: %s, %s", results[0].Query, results[1].Query)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted by descending score")
	}

	top1, _ := b.RetrieveSimilar([]float64{1, 0}, 1, 0)
	if len(top1) != 1 || top1[0].Query != "exact" {
		t.Errorf("topK=1 returned %+v", top1)
	}
}

func TestRetrieveSimilar_TiesPreferRecent(t *testing.T) {
	clock := newFakeClock()
	b := mustBuffer(t, 5, WithClock(clock.Now), WithDecay(0))

	b.Add("older", "", []float64{1, 0}, nil)
	clock.Advance(time.Second)
	b.Add("newer", "", []float64{1, 0}, nil)

	results, err := b.RetrieveSimilar([]float64{1, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Query != "newer" {
		t.Errorf("tie should prefer more recent episode, got %s first", results[0].Query)
	}
}

// TestDecayMonotonicity checks that a fixed episode never scores higher as
// time moves forward.
func TestDecayMonotonicity(t *testing.T) {
	clock := newFakeClock()
	b := mustBuffer(t, 2, WithClock(clock.Now), WithHalfLife(time.Minute))
	b.Add("q", "r", []float64{0.6, 0.8}, nil)

	query := []float64{0.8, 0.6}
	prev := 2.0
	for step := 0; step < 20; step++ {
		results, err := b.RetrieveSimilar(query, 1, -1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Fatalf("step %d: expected one result", step)
		}
		if results[0].Score > prev {
			t.Fatalf("step %d: score increased from %f to %f", step, prev, results[0].Score)
		}
		prev = results[0].Score
		clock.Advance(15 * time.Second)
	}
}

func TestReturnedEpisodesAreCopies(t *testing.T) {
	b := mustBuffer(t, 2)
	b.Add("q", "r", []float64{1, 2}, map[string]string{"k": "v"})

	got := b.Recent(1)
	got[0].Embedding[0] = 99
	got[0].Metadata["k"] = "changed"

	again := b.Recent(1)
	if again[0].Embedding[0] != 1 || again[0].Metadata["k"] != "v" {
		t.Error("mutating a returned episode changed buffer state")
	}
}

func TestClear(t *testing.T) {
	b := mustBuffer(t, 2)
	b.Add("q", "r", []float64{1, 2}, nil)
	b.Clear()
	if b.Len() != 0 || b.Dimension() != 0 {
		t.Fatalf("clear left len=%d dim=%d", b.Len(), b.Dimension())
	}
	if err := b.Add("q", "r", []float64{1, 2, 3}, nil); err != nil {
		t.Errorf("after clear a new dimension should be accepted: %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	clock := newFakeClock()
	b := mustBuffer(t, 3, WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		clock.Advance(1234 * time.Millisecond)
		meta := map[string]string{"turn": fmt.Sprint(i)}
		if i == 2 {
			meta = nil
		}
		b.Add(fmt.Sprintf("query %d", i), fmt.Sprintf("answer %d", i), []float64{0.1 * float64(i), 1.0 / 3.0, -2.5e-7}, meta)
	}

	path := filepath.Join(t.TempDir(), "session", "buffer.json")
	if err := b.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded := mustBuffer(t, 99)
	loaded.Add("stale", "", []float64{1}, nil)
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if loaded.Capacity() != b.Capacity() {
		t.Errorf("capacity = %d, want %d", loaded.Capacity(), b.Capacity())
	}
	if !reflect.DeepEqual(loaded.Recent(10), b.Recent(10)) {
		t.Errorf("episodes differ after round trip:\n got %+v\nwant %+v", loaded.Recent(10), b.Recent(10))
	}

	fromFile, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if fromFile.Len() != 3 {
		t.Errorf("LoadFile len = %d, want 3", fromFile.Len())
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	dir := t.TempDir()

	b := mustBuffer(t, 2)
	b.Add("q", "r", []float64{1, 2}, nil)
	good := filepath.Join(dir, "good.json")
	if err := b.SaveToFile(good); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(good)

	tampered := filepath.Join(dir, "tampered.json")
	os.WriteFile(tampered, []byte(strings.Replace(string(data), `"q"`, `"x"`, 1)), 0644)

	garbage := filepath.Join(dir, "garbage.json")
	os.WriteFile(garbage, []byte("{not json"), 0644)

	noChecksum := filepath.Join(dir, "nochecksum.json")
	os.WriteFile(noChecksum, []byte(`{"version":1,"capacity":2,"dimension":0,"episodes":[]}`), 0644)

	for _, path := range []string{tampered, garbage, noChecksum} {
		target := mustBuffer(t, 2)
		if err := target.LoadFromFile(path); !errors.Is(err, ErrMalformedSnapshot) {
			t.Errorf("%s: expected ErrMalformedSnapshot, got %v", filepath.Base(path), err)
		}
	}
}

func TestRestore_Validation(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"bad version", Snapshot{Version: 7, Capacity: 1}},
		{"zero capacity", Snapshot{Version: SnapshotVersion, Capacity: 0}},
		{"over capacity", Snapshot{Version: SnapshotVersion, Capacity: 1, Dimension: 1, Episodes: []Episode{
			{Embedding: []float64{1}}, {Embedding: []float64{1}},
		}}},
		{"mixed dimensions", Snapshot{Version: SnapshotVersion, Capacity: 2, Dimension: 2, Episodes: []Episode{
			{Embedding: []float64{1, 2}}, {Embedding: []float64{1}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBuffer(t, 1)
			if err := b.Restore(tt.snap); !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("expected ErrMalformedSnapshot, got %v", err)
			}
		})
	}
}

func TestConcurrentAddAndRetrieve(t *testing.T) {
	b := mustBuffer(t, 16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Add("q", "r", []float64{float64(w), float64(i), 1}, nil)
				if _, err := b.RetrieveSimilar([]float64{1, 1, 1}, 3, 0); err != nil {
					t.Errorf("retrieve: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if b.Len() != 16 {
		t.Errorf("len = %d, want 16", b.Len())
	}
}

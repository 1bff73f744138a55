package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/cogmem/internal/activity"
	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/store"
	"github.com/vthunder/cogmem/internal/types"
)

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	embedder := types.EmbedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		return []float64{1, 0, 0}, nil
	})
	searcher := types.SearcherFunc(func(ctx context.Context, emb []float64, topK int) ([]types.SearchHit, error) {
		return []types.SearchHit{
			{ID: "doc-1", Content: "btree indexes speed up database lookups", Score: 0.9, Embedding: []float64{0.95, 0.31, 0}},
			{ID: "doc-2", Content: "sourdough needs a starter", Score: 0.2, Embedding: []float64{0, 0, 1}},
		}, nil
	})
	h, err := cognitive.New(cognitive.DefaultConfig(), cognitive.Deps{
		Embedder: embedder,
		Searcher: searcher,
		Clock:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	if err != nil {
		t.Fatalf("cognitive.New: %v", err)
	}
	return &Dependencies{Handler: h, Embedder: embedder, DefaultSession: "test"}
}

func call(t *testing.T, deps *Dependencies, name string, args map[string]any) (string, bool) {
	t.Helper()
	for _, tool := range Tools(deps) {
		if tool.Tool.Name != name {
			continue
		}
		var req mcp.CallToolRequest
		req.Params.Name = name
		req.Params.Arguments = args
		res, err := tool.Handler(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(res.Content) == 0 {
			t.Fatalf("%s: empty result", name)
		}
		text, ok := res.Content[0].(mcp.TextContent)
		if !ok {
			t.Fatalf("%s: content is %T", name, res.Content[0])
		}
		return text.Text, res.IsError
	}
	t.Fatalf("tool %s not registered", name)
	return "", false
}

func toolNames(deps *Dependencies) map[string]bool {
	names := map[string]bool{}
	for _, tool := range Tools(deps) {
		names[tool.Tool.Name] = true
	}
	return names
}

func TestOptionalToolsRegistered(t *testing.T) {
	deps := testDeps(t)
	names := toolNames(deps)
	for _, want := range []string{"process_query", "add_semantic_concept", "add_semantic_relation", "session_recent", "clear_session", "memory_stats", "set_fusion_weights"} {
		if !names[want] {
			t.Errorf("%s not registered", want)
		}
	}
	if names["persist_state"] || names["index_document"] {
		t.Errorf("optional tools registered without their services: %v", names)
	}

	deps.Index = func(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
		return id, nil
	}
	if !toolNames(deps)["index_document"] {
		t.Error("index_document missing with Index set")
	}

	// RegisterAll must accept the same set
	s := server.NewMCPServer("test", "0.0.1", server.WithToolCapabilities(true))
	RegisterAll(s, deps)
}

func TestProcessQueryTool(t *testing.T) {
	deps := testDeps(t)
	var called []string
	deps.OnToolCall = func(name string) { called = append(called, name) }

	out, isErr := call(t, deps, "process_query", map[string]any{
		"query":               "database index",
		"top_k":               float64(1),
		"include_explanation": false,
	})
	if isErr {
		t.Fatalf("unexpected error: %s", out)
	}

	var got struct {
		Answer      string             `json:"answer"`
		Status      string             `json:"status"`
		Results     []map[string]any   `json:"results"`
		Explanation string             `json:"explanation"`
		Latency     map[string]float64 `json:"latency_ms"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got.Answer != "btree indexes speed up database lookups" {
		t.Errorf("answer = %q", got.Answer)
	}
	if len(got.Results) != 1 {
		t.Errorf("top_k ignored: %d results", len(got.Results))
	}
	if got.Explanation != "" {
		t.Errorf("explanation not suppressed: %q", got.Explanation)
	}
	if _, ok := got.Latency["total"]; !ok {
		t.Errorf("latency = %v", got.Latency)
	}
	if strings.Contains(out, "embedding") {
		t.Error("embeddings leaked into tool output")
	}
	if len(called) != 1 || called[0] != "process_query" {
		t.Errorf("OnToolCall = %v", called)
	}

	// recorded into the default session
	buf, _ := deps.Handler.Session("test")
	if buf.Len() != 1 {
		t.Errorf("default session has %d episodes", buf.Len())
	}
}

func TestProcessQueryToolErrors(t *testing.T) {
	deps := testDeps(t)
	if out, isErr := call(t, deps, "process_query", map[string]any{}); !isErr || !strings.Contains(out, "query") {
		t.Errorf("missing query: %q, isErr=%v", out, isErr)
	}
	if _, isErr := call(t, deps, "process_query", map[string]any{"query": "   "}); !isErr {
		t.Error("blank query accepted")
	}
}

func TestSemanticTools(t *testing.T) {
	deps := testDeps(t)

	if out, isErr := call(t, deps, "add_semantic_concept", map[string]any{
		"key":       "database",
		"embedding": []any{1.0, 0.0, 0.0},
	}); isErr {
		t.Fatalf("add concept: %s", out)
	}
	if out, isErr := call(t, deps, "add_semantic_concept", map[string]any{"key": "btree", "text": "balanced tree"}); isErr {
		t.Fatalf("add concept from text: %s", out)
	}
	if node, ok := deps.Handler.Network().Node("btree"); !ok || len(node.Embedding) != 3 {
		t.Errorf("btree node = %+v, %v", node, ok)
	}

	if _, isErr := call(t, deps, "add_semantic_concept", map[string]any{"key": "x", "embedding": []any{"a"}}); !isErr {
		t.Error("non-numeric embedding accepted")
	}
	if _, isErr := call(t, deps, "add_semantic_concept", map[string]any{}); !isErr {
		t.Error("missing key accepted")
	}

	if out, isErr := call(t, deps, "add_semantic_relation", map[string]any{
		"source": "database", "target": "btree", "weight": 0.8,
	}); isErr {
		t.Fatalf("add relation: %s", out)
	}
	if deps.Handler.Network().NumEdges() != 1 {
		t.Errorf("edges = %d", deps.Handler.Network().NumEdges())
	}
	if _, isErr := call(t, deps, "add_semantic_relation", map[string]any{
		"source": "database", "target": "btree", "weight": -1.0,
	}); !isErr {
		t.Error("negative weight accepted")
	}
	if _, isErr := call(t, deps, "add_semantic_relation", map[string]any{"source": "a"}); !isErr {
		t.Error("missing target accepted")
	}
}

func TestSessionTools(t *testing.T) {
	deps := testDeps(t)

	if out, _ := call(t, deps, "session_recent", map[string]any{"session_id": "s1"}); out != "No episodes recorded" {
		t.Errorf("empty session = %q", out)
	}

	for _, q := range []string{"first", "second", "third"} {
		if err := deps.Handler.AddEpisode("s1", q, "answer to "+q, []float64{1, 0, 0}, nil); err != nil {
			t.Fatal(err)
		}
	}

	out, isErr := call(t, deps, "session_recent", map[string]any{"session_id": "s1", "count": float64(2)})
	if isErr {
		t.Fatal(out)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0]["query"] != "second" || entries[1]["query"] != "third" {
		t.Errorf("recent = %v", entries)
	}

	if _, isErr := call(t, deps, "clear_session", map[string]any{"session_id": "s1"}); isErr {
		t.Fatal("clear failed")
	}
	buf, _ := deps.Handler.Session("s1")
	if buf.Len() != 0 {
		t.Errorf("session not cleared: %d", buf.Len())
	}
	if _, isErr := call(t, deps, "clear_session", map[string]any{}); !isErr {
		t.Error("clear without session_id accepted")
	}
}

func TestSetFusionWeightsTool(t *testing.T) {
	deps := testDeps(t)
	before := deps.Handler.FusionWeights()

	if out, isErr := call(t, deps, "set_fusion_weights", map[string]any{"semantic": 2.5}); isErr {
		t.Fatal(out)
	}
	after := deps.Handler.FusionWeights()
	if after.Semantic != 2.5 || after.Vector != before.Vector || after.Bias != before.Bias {
		t.Errorf("weights = %+v, before %+v", after, before)
	}

	if _, isErr := call(t, deps, "set_fusion_weights", map[string]any{"vector": -1.0}); !isErr {
		t.Error("negative weight accepted")
	}
	if deps.Handler.FusionWeights() != after {
		t.Error("rejected weights were applied")
	}
}

func TestMemoryStatsTool(t *testing.T) {
	deps := testDeps(t)
	call(t, deps, "process_query", map[string]any{"query": "database index"})

	out, isErr := call(t, deps, "memory_stats", nil)
	if isErr {
		t.Fatal(out)
	}
	var stats cognitive.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Queries != 1 || stats.Sessions != 1 || stats.Episodes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPersistAndIndexTools(t *testing.T) {
	deps := testDeps(t)
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "cogmem.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	deps.Store = st

	var indexed map[string]string
	deps.Index = func(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
		indexed = metadata
		if id == "" {
			id = "generated"
		}
		return id, nil
	}

	out, isErr := call(t, deps, "index_document", map[string]any{
		"content":  "btree indexes",
		"metadata": map[string]any{"source": "notes", "page": 3.0},
	})
	if isErr || out != "Indexed document generated" {
		t.Errorf("index = %q, isErr=%v", out, isErr)
	}
	if indexed["source"] != "notes" || indexed["page"] != "3" {
		t.Errorf("metadata = %v", indexed)
	}
	if _, isErr := call(t, deps, "index_document", map[string]any{}); !isErr {
		t.Error("empty content accepted")
	}

	deps.Handler.AddEpisode("s1", "q", "r", []float64{1, 0, 0}, nil)
	deps.Handler.AddSemanticRelation("database", "btree", 0.5)
	if out, isErr := call(t, deps, "persist_state", nil); isErr {
		t.Fatal(out)
	}

	ids, err := st.SessionIDs(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("persisted sessions = %v, %v", ids, err)
	}
	def, err := st.LoadGraph(context.Background())
	if err != nil || len(def.Relations) != 1 {
		t.Errorf("persisted graph = %+v, %v", def, err)
	}
}

func TestActivityLogging(t *testing.T) {
	deps := testDeps(t)
	if toolNames(deps)["recent_activity"] {
		t.Error("recent_activity registered without a log")
	}
	deps.Activity = activity.New(t.TempDir())

	call(t, deps, "process_query", map[string]any{"query": "database index", "session_id": "s1"})
	call(t, deps, "add_semantic_relation", map[string]any{"source": "database", "target": "btree", "weight": 0.5})

	out, isErr := call(t, deps, "recent_activity", map[string]any{})
	if isErr {
		t.Fatal(out)
	}
	var entries []activity.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].Type != activity.TypeQuery || entries[0].Session != "s1" || entries[1].Type != activity.TypeGraph {
		t.Errorf("entries = %+v", entries)
	}

	out, _ = call(t, deps, "recent_activity", map[string]any{"type": "error"})
	if out != "No activity recorded" {
		t.Errorf("errors = %q", out)
	}
}

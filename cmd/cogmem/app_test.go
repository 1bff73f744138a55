package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/config"
)

// fakeOllama embeds texts mentioning "database" near [1,0,0], others near [0,1,0]
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		emb := []float64{0.1, 1, 0}
		if strings.Contains(strings.ToLower(req.Prompt), "database") {
			emb = []float64{1, 0.1, 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": emb})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "missing.yaml")
	t.Setenv("COGMEM_STATE_PATH", dir)
	t.Setenv("COGMEM_VECTOR_BACKEND", backend)
	t.Setenv("OLLAMA_URL", fakeOllama(t).URL)
	return dir
}

func TestAppEndToEnd(t *testing.T) {
	for _, backend := range []string{config.BackendChromem, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			setupEnv(t, backend)
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				t.Fatalf("newApp: %v", err)
			}
			if backend == config.BackendSQLite && a.vectors != nil {
				t.Error("chromem opened for sqlite backend")
			}

			if _, err := a.index(ctx, "db", "Database indexes use btrees", nil); err != nil {
				t.Fatalf("index: %v", err)
			}
			if _, err := a.index(ctx, "bread", "Sourdough needs a starter", nil); err != nil {
				t.Fatalf("index: %v", err)
			}

			resp, err := a.query(ctx, cognitive.NewRequest("s1", "how do database indexes work"))
			if err != nil {
				t.Fatalf("ProcessQuery: %v", err)
			}
			if resp.Answer != "Database indexes use btrees" {
				t.Errorf("answer = %q (results %+v)", resp.Answer, resp.Results)
			}
			if resp.Degraded() {
				t.Errorf("degraded: %v", resp.Warnings)
			}
			if logged, _ := a.activity.Recent(1); len(logged) != 1 || logged[0].QueryID != resp.QueryID {
				t.Errorf("activity = %+v", logged)
			}

			a.persist(ctx)
			a.close()

			// state survives a restart
			b, err := newApp(ctx)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer b.close()
			if stats := b.handler.Stats(ctx); stats.Sessions != 1 || stats.Episodes != 1 {
				t.Errorf("restored stats = %+v", stats)
			}
		})
	}
}

func TestAppGraphFile(t *testing.T) {
	dir := setupEnv(t, config.BackendSQLite)
	graphFile := filepath.Join(dir, "graph.yaml")
	t.Setenv("COGMEM_GRAPH_FILE", graphFile)

	yaml := "concepts:\n  - key: database\n  - key: btree\nrelations:\n  - source: database\n    target: btree\n    weight: 0.7\n"
	if err := os.WriteFile(graphFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(context.Background())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.handler.Network().NumEdges() != 1 {
		t.Errorf("graph file not applied: %d edges", a.handler.Network().NumEdges())
	}
}

func TestAppInvalidConfig(t *testing.T) {
	setupEnv(t, "redis")
	if _, err := newApp(context.Background()); err == nil {
		t.Error("expected invalid backend to fail")
	}
}

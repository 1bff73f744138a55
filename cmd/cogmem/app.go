package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/cogmem/internal/activity"
	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/config"
	"github.com/vthunder/cogmem/internal/embedding"
	"github.com/vthunder/cogmem/internal/extract"
	"github.com/vthunder/cogmem/internal/graph"
	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/profiling"
	"github.com/vthunder/cogmem/internal/store"
	"github.com/vthunder/cogmem/internal/types"
	"github.com/vthunder/cogmem/internal/vectorstore"
)

// app wires the configured services together
type app struct {
	cfg      config.Config
	embedder types.Embedder
	store    *store.Store
	vectors  *vectorstore.Store // nil with the sqlite backend
	profiler *profiling.Profiler
	handler  *cognitive.Handler
	activity *activity.Log

	closeLog func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StatePath, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	closeLog, err := logging.Setup(cfg.Log.File, logging.ParseLevel(cfg.Log.Level))
	if err != nil {
		logging.Warn("main", "file logging disabled: %v", err)
	}

	a := &app{cfg: cfg, closeLog: closeLog, activity: activity.New(cfg.StatePath)}

	a.profiler, err = profiling.New(profiling.ParseLevel(cfg.Profiling.Level), cfg.Profiling.File)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("profiler: %w", err)
	}

	a.store, err = store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		a.close()
		return nil, err
	}

	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	a.embedder = client

	var searcher types.Searcher = a.store
	if cfg.Vector.Backend == config.BackendChromem {
		a.vectors, err = vectorstore.New(cfg.Vector.Path, cfg.Vector.Collection, client)
		if err != nil {
			a.close()
			return nil, err
		}
		searcher = a.vectors
	}

	var extractor extract.ConceptExtractor = extract.NewKeywordExtractor()
	if cfg.Extract.Prose {
		extractor = extract.Chain{extract.NewKeywordExtractor(), extract.NewProseExtractor()}
	}

	a.handler, err = cognitive.New(cfg.Memory, cognitive.Deps{
		Embedder:  client,
		Searcher:  searcher,
		Extractor: extractor,
		Profiler:  a.profiler,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if err := a.handler.Restore(ctx, a.store); err != nil {
		a.close()
		return nil, fmt.Errorf("restore state: %w", err)
	}

	if cfg.Graph.File != "" {
		def, err := graph.LoadDefinition(cfg.Graph.File)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := a.handler.Network().Apply(def); err != nil {
			a.close()
			return nil, fmt.Errorf("apply %s: %w", cfg.Graph.File, err)
		}
		a.activity.LogGraph(fmt.Sprintf("applied %s", cfg.Graph.File))
	}

	logging.Info("main", "ready: backend=%s store=%s (%s) model=%s", cfg.Vector.Backend, cfg.Store.Path, a.store.Driver(), client.Model())
	return a, nil
}

// query runs one request and records it in the activity log
func (a *app) query(ctx context.Context, req cognitive.Request) (*cognitive.Response, error) {
	resp, err := a.handler.ProcessQuery(ctx, req)
	if err != nil {
		a.activity.LogError("query", err, map[string]any{"query": req.Query, "session": req.SessionID})
		return nil, err
	}
	a.activity.LogQuery(activity.QueryOutcome{
		Session:    resp.SessionID,
		QueryID:    resp.QueryID,
		Query:      resp.Query,
		Status:     string(resp.Status),
		Confidence: resp.Confidence,
		Degraded:   resp.Degraded(),
		TotalMs:    resp.Latency[cognitive.StageTotal],
	})
	return resp, nil
}

// index embeds and stores a document in the configured vector backend
func (a *app) index(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	if a.vectors != nil {
		return a.vectors.Index(ctx, vectorstore.Document{ID: id, Content: content, Metadata: metadata})
	}

	emb, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed document: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
	}
	err = a.store.IndexDocument(ctx, store.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: emb,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// persist saves sessions and the graph, logging rather than failing
func (a *app) persist(ctx context.Context) {
	if err := a.handler.Persist(ctx, a.store); err != nil {
		logging.Warn("main", "persist state: %v", err)
	}
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.profiler != nil {
		a.profiler.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/cogmem/internal/activity"
	"github.com/vthunder/cogmem/internal/cognitive"
	"github.com/vthunder/cogmem/internal/fusion"
	"github.com/vthunder/cogmem/internal/logging"
)

// handlerFunc is the shape every tool implements; errors become tool errors
type handlerFunc func(ctx context.Context, args map[string]any) (string, error)

// RegisterAll registers all MCP tools with the given server and dependencies.
func RegisterAll(s *server.MCPServer, deps *Dependencies) {
	s.AddTools(Tools(deps)...)
}

// Tools returns every tool the dependencies support
func Tools(deps *Dependencies) []server.ServerTool {
	var tools []server.ServerTool
	add := func(tool mcp.Tool, fn handlerFunc) {
		tools = append(tools, server.ServerTool{Tool: tool, Handler: wrap(deps, tool.Name, fn)})
	}

	registerQueryTools(add, deps)
	registerGraphTools(add, deps)
	registerSessionTools(add, deps)
	registerAdminTools(add, deps)
	return tools
}

func wrap(deps *Dependencies, name string, fn handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		if deps.OnToolCall != nil {
			deps.OnToolCall(name)
		}

		out, err := fn(ctx, args)
		if err != nil {
			logging.Warn("mcp", "%s failed: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

type addFunc func(mcp.Tool, handlerFunc)

func registerQueryTools(add addFunc, deps *Dependencies) {
	add(mcp.NewTool("process_query",
		mcp.WithDescription("Answer a query from vector search results ranked with conversation memory and related concepts. Returns the chosen answer, ranked candidates, validation status, explanation and per-stage latency."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The query text"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation session. Episodes recorded in one session are only recalled within it."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of ranked results (default from config)"),
		),
		mcp.WithBoolean("use_episodic", mcp.Description("Recall similar past turns of this session (default true)")),
		mcp.WithBoolean("use_semantic", mcp.Description("Spread activation over the concept graph (default true)")),
		mcp.WithBoolean("use_validation", mcp.Description("Check the answer against retrieved evidence (default true)")),
		mcp.WithBoolean("include_explanation", mcp.Description("Include the reasoning trace (default true)")),
	), func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("query is required")
		}

		req := cognitive.Request{
			SessionID:          sessionArg(args, deps),
			Query:              query,
			TopK:               intArg(args, "top_k", 0),
			UseEpisodic:        boolArg(args, "use_episodic", true),
			UseSemantic:        boolArg(args, "use_semantic", true),
			UseValidation:      boolArg(args, "use_validation", true),
			IncludeExplanation: boolArg(args, "include_explanation", true),
		}

		resp, err := deps.Handler.ProcessQuery(ctx, req)
		if err != nil {
			deps.record(func(l *activity.Log) error {
				return l.LogError("process_query", err, map[string]any{"query": query, "session": req.SessionID})
			})
			return "", err
		}
		deps.record(func(l *activity.Log) error {
			return l.LogQuery(activity.QueryOutcome{
				Session:    resp.SessionID,
				QueryID:    resp.QueryID,
				Query:      resp.Query,
				Status:     string(resp.Status),
				Confidence: resp.Confidence,
				Degraded:   resp.Degraded(),
				TotalMs:    resp.Latency[cognitive.StageTotal],
			})
		})
		return toJSON(summarize(resp))
	})
}

func registerGraphTools(add addFunc, deps *Dependencies) {
	add(mcp.NewTool("add_semantic_concept",
		mcp.WithDescription("Add a concept to the semantic network, optionally with an embedding. If text is given instead of an embedding it is embedded first."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Concept key, e.g. machine_learning"),
		),
		mcp.WithArray("embedding",
			mcp.Description("Concept embedding (numbers)"),
		),
		mcp.WithString("text",
			mcp.Description("Text to embed as the concept embedding"),
		),
	), func(ctx context.Context, args map[string]any) (string, error) {
		key, _ := args["key"].(string)
		if key == "" {
			return "", fmt.Errorf("key is required")
		}

		emb, err := floatsArg(args, "embedding")
		if err != nil {
			return "", err
		}
		if text, _ := args["text"].(string); len(emb) == 0 && text != "" {
			if deps.Embedder == nil {
				return "", fmt.Errorf("no embedder configured to embed text")
			}
			if emb, err = deps.Embedder.Embed(ctx, text); err != nil {
				return "", fmt.Errorf("embed concept text: %w", err)
			}
		}

		if err := deps.Handler.AddSemanticConcept(key, emb); err != nil {
			return "", err
		}
		return fmt.Sprintf("Concept %s added (embedding dim %d)", key, len(emb)), nil
	})

	add(mcp.NewTool("add_semantic_relation",
		mcp.WithDescription("Add or replace a weighted, directed relation between two concepts. Missing concepts are created."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source concept key")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target concept key")),
		mcp.WithNumber("weight", mcp.Required(), mcp.Description("Relation strength, greater than 0")),
	), func(ctx context.Context, args map[string]any) (string, error) {
		source, _ := args["source"].(string)
		target, _ := args["target"].(string)
		weight, ok := args["weight"].(float64)
		if source == "" || target == "" || !ok {
			return "", fmt.Errorf("source, target and weight are required")
		}
		if err := deps.Handler.AddSemanticRelation(source, target, weight); err != nil {
			return "", err
		}
		summary := fmt.Sprintf("Relation %s -> %s (%.2f) added", source, target, weight)
		deps.record(func(l *activity.Log) error { return l.LogGraph(summary) })
		return summary, nil
	})
}

func registerSessionTools(add addFunc, deps *Dependencies) {
	add(mcp.NewTool("session_recent",
		mcp.WithDescription("List the most recent episodes of a session, oldest first."),
		mcp.WithString("session_id", mcp.Description("Session to inspect")),
		mcp.WithNumber("count", mcp.Description("Number of episodes (default 5)")),
	), func(ctx context.Context, args map[string]any) (string, error) {
		buf, err := deps.Handler.Session(sessionArg(args, deps))
		if err != nil {
			return "", err
		}

		var entries []map[string]any
		for _, ep := range buf.Recent(intArg(args, "count", 5)) {
			entries = append(entries, map[string]any{
				"query":     ep.Query,
				"response":  logging.Truncate(ep.Response, 200),
				"timestamp": ep.Time().UTC().Format("2006-01-02T15:04:05Z"),
				"metadata":  ep.Metadata,
			})
		}
		if len(entries) == 0 {
			return "No episodes recorded", nil
		}
		return toJSON(entries)
	})

	add(mcp.NewTool("clear_session",
		mcp.WithDescription("Forget every episode of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to clear")),
	), func(ctx context.Context, args map[string]any) (string, error) {
		id, _ := args["session_id"].(string)
		if id == "" {
			return "", fmt.Errorf("session_id is required")
		}
		deps.Handler.ClearSession(id)
		return fmt.Sprintf("Session %s cleared", id), nil
	})
}

func registerAdminTools(add addFunc, deps *Dependencies) {
	add(mcp.NewTool("memory_stats",
		mcp.WithDescription("Show sessions, episodes, concept graph size, query counts, circuit breaker state, fusion weights and process usage."),
	), func(ctx context.Context, args map[string]any) (string, error) {
		return toJSON(deps.Handler.Stats(ctx))
	})

	add(mcp.NewTool("set_fusion_weights",
		mcp.WithDescription("Replace the fusion weights. Omitted weights keep their current value. All weights must be non-negative."),
		mcp.WithNumber("vector", mcp.Description("Weight of the vector search score")),
		mcp.WithNumber("episodic", mcp.Description("Weight of the episodic memory score")),
		mcp.WithNumber("semantic", mcp.Description("Weight of the concept activation score")),
		mcp.WithNumber("recency", mcp.Description("Weight of the recency score")),
		mcp.WithNumber("bias", mcp.Description("Constant added before the sigmoid")),
	), func(ctx context.Context, args map[string]any) (string, error) {
		w := deps.Handler.FusionWeights()
		w = fusion.Weights{
			Vector:   floatArg(args, "vector", w.Vector),
			Episodic: floatArg(args, "episodic", w.Episodic),
			Semantic: floatArg(args, "semantic", w.Semantic),
			Recency:  floatArg(args, "recency", w.Recency),
			Bias:     floatArg(args, "bias", w.Bias),
		}
		if err := deps.Handler.SetFusionWeights(w); err != nil {
			return "", err
		}
		return toJSON(w)
	})

	if deps.Store != nil {
		add(mcp.NewTool("persist_state",
			mcp.WithDescription("Save every session buffer and the concept graph to the database."),
		), func(ctx context.Context, args map[string]any) (string, error) {
			if err := deps.Handler.Persist(ctx, deps.Store); err != nil {
				return "", err
			}
			return fmt.Sprintf("Persisted %d sessions", len(deps.Handler.Sessions())), nil
		})
	}

	if deps.Index != nil {
		add(mcp.NewTool("index_document",
			mcp.WithDescription("Add a document to the vector search backend so later queries can retrieve it."),
			mcp.WithString("content", mcp.Required(), mcp.Description("Document text")),
			mcp.WithString("id", mcp.Description("Document ID (generated when omitted)")),
			mcp.WithObject("metadata", mcp.Description("String metadata attached to the document")),
		), func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}
			id, _ := args["id"].(string)

			meta := map[string]string{}
			if m, ok := args["metadata"].(map[string]any); ok {
				for k, v := range m {
					meta[k] = fmt.Sprint(v)
				}
			}

			id, err := deps.Index(ctx, id, content, meta)
			if err != nil {
				return "", err
			}
			deps.record(func(l *activity.Log) error { return l.LogIndex(id, meta["source"]) })
			return fmt.Sprintf("Indexed document %s", id), nil
		})
	}

	if deps.Activity != nil {
		add(mcp.NewTool("recent_activity",
			mcp.WithDescription("Show the activity log: answered and degraded queries, indexed documents, graph changes and errors. Most recent last unless searching."),
			mcp.WithNumber("count", mcp.Description("Number of entries (default 20)")),
			mcp.WithString("type", mcp.Description("Only entries of this type: query, degraded, index, graph, error")),
			mcp.WithString("search", mcp.Description("Only entries whose text contains this")),
		), func(ctx context.Context, args map[string]any) (string, error) {
			count := intArg(args, "count", 20)
			var (
				entries []activity.Entry
				err     error
			)
			if q, _ := args["search"].(string); q != "" {
				entries, err = deps.Activity.Search(q, count)
			} else if t, _ := args["type"].(string); t != "" {
				entries, err = deps.Activity.ByType(activity.Type(t), count)
			} else {
				entries, err = deps.Activity.Recent(count)
			}
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "No activity recorded", nil
			}
			return toJSON(entries)
		})
	}
}

// record writes to the activity log when one is configured
func (d *Dependencies) record(fn func(*activity.Log) error) {
	if d.Activity == nil {
		return
	}
	if err := fn(d.Activity); err != nil {
		logging.Warn("mcp", "activity log: %v", err)
	}
}

// queryResult is the tool-facing view of a response, without embeddings
type queryResult struct {
	QueryID     string                            `json:"query_id"`
	Answer      string                            `json:"answer"`
	Confidence  float64                           `json:"confidence"`
	Status      cognitive.Status                  `json:"status"`
	Warnings    []string                          `json:"warnings,omitempty"`
	Results     []fusion.Result                   `json:"results"`
	Episodes    []episodeView                     `json:"episodes,omitempty"`
	Concepts    any                               `json:"concepts,omitempty"`
	Validation  any                               `json:"validation,omitempty"`
	Explanation string                            `json:"explanation,omitempty"`
	Latency     map[string]float64                `json:"latency_ms"`
	Stages      map[string]cognitive.StageOutcome `json:"stages"`
}

type episodeView struct {
	Query    string  `json:"query"`
	Response string  `json:"response"`
	Score    float64 `json:"score"`
}

func summarize(resp *cognitive.Response) queryResult {
	out := queryResult{
		QueryID:     resp.QueryID,
		Answer:      resp.Answer,
		Confidence:  resp.Confidence,
		Status:      resp.Status,
		Warnings:    resp.Warnings,
		Results:     resp.Results,
		Explanation: resp.Explanation,
		Latency:     resp.Latency,
		Stages:      resp.Stages,
	}
	if len(resp.Concepts) > 0 {
		out.Concepts = resp.Concepts
	}
	if resp.Validation != nil {
		out.Validation = resp.Validation
	}
	for _, ep := range resp.Episodes {
		out.Episodes = append(out.Episodes, episodeView{
			Query:    ep.Query,
			Response: logging.Truncate(ep.Response, 200),
			Score:    ep.Score,
		})
	}
	return out
}

func sessionArg(args map[string]any, deps *Dependencies) string {
	if id, _ := args["session_id"].(string); id != "" {
		return id
	}
	if deps.DefaultSession != "" {
		return deps.DefaultSession
	}
	return "default"
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func floatsArg(args map[string]any, key string) ([]float64, error) {
	raw, ok := args[key].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a number", key, i)
		}
		out[i] = f
	}
	return out, nil
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package cognitive

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vthunder/cogmem/internal/episodic"
	"github.com/vthunder/cogmem/internal/explain"
	"github.com/vthunder/cogmem/internal/extract"
	"github.com/vthunder/cogmem/internal/fusion"
	"github.com/vthunder/cogmem/internal/graph"
	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/profiling"
	"github.com/vthunder/cogmem/internal/resilience"
	"github.com/vthunder/cogmem/internal/types"
	"github.com/vthunder/cogmem/internal/validate"
	"github.com/vthunder/cogmem/internal/vecmath"
)

// Pipeline stage names, as reported in Response.Latency and Response.Stages
const (
	StageEmbed        = "embed"
	StageVectorSearch = "vector_search"
	StageEpisodic     = "episodic_retrieve"
	StageSemantic     = "semantic_activation"
	StageFuse         = "fuse"
	StageValidate     = "validate"
	StageExplain      = "explain"
	StageRecord       = "record"
	StageTotal        = "total"
)

// NoResultsAnswer is the answer when no candidate survives
const NoResultsAnswer = "No results found."

// DegradedWarning is reported when ranking proceeds without vector search
const DegradedWarning = "vector search unavailable, ranking limited to episodic/semantic signals"

var errNoSearcher = errors.New("no vector search engine configured")

// Status tells the caller how far to trust the answer
type Status string

const (
	StatusValidated    Status = "validated"     // corroborated by enough evidence
	StatusUnverified   Status = "unverified"    // answer chosen but not corroborated
	StatusNoCandidates Status = "no_candidates" // nothing to answer with
)

// StageOutcome is the result of one pipeline stage
type StageOutcome string

const (
	OutcomeOK       StageOutcome = "ok"
	OutcomeSkipped  StageOutcome = "skipped"
	OutcomeDegraded StageOutcome = "degraded"
	OutcomeEmpty    StageOutcome = "empty"
)

// Request is one query. TopK <= 0 uses the configured default.
type Request struct {
	SessionID          string `json:"session_id"`
	Query              string `json:"query"`
	TopK               int    `json:"top_k"`
	UseEpisodic        bool   `json:"use_episodic"`
	UseSemantic        bool   `json:"use_semantic"`
	UseValidation      bool   `json:"use_validation"`
	IncludeExplanation bool   `json:"include_explanation"`
}

// NewRequest returns a request with every optional stage enabled
func NewRequest(sessionID, query string) Request {
	return Request{
		SessionID:          sessionID,
		Query:              query,
		UseEpisodic:        true,
		UseSemantic:        true,
		UseValidation:      true,
		IncludeExplanation: true,
	}
}

// Response is the structured outcome of ProcessQuery
type Response struct {
	QueryID     string                  `json:"query_id"`
	SessionID   string                  `json:"session_id"`
	Query       string                  `json:"query"`
	Answer      string                  `json:"answer"`
	Confidence  float64                 `json:"confidence"`
	Status      Status                  `json:"status"`
	Results     []fusion.Result         `json:"results"`
	Episodes    []episodic.Scored       `json:"episodes"`
	Concepts    []graph.Activation      `json:"concepts"`
	Validation  *validate.Result        `json:"validation,omitempty"`
	Explanation string                  `json:"explanation,omitempty"`
	Trace       []explain.Step          `json:"trace,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Latency     map[string]float64      `json:"latency_ms"`
	Stages      map[string]StageOutcome `json:"stages"`
}

// Degraded reports whether vector search was unavailable
func (r *Response) Degraded() bool {
	return r.Stages[StageVectorSearch] == OutcomeDegraded
}

// candidate is a fusion input plus the embedding used for validation
type candidate struct {
	result    fusion.Result
	embedding []float64
	episode   int // index into retrieved episodes, -1 for search hits
}

// ProcessQuery runs the pipeline for one query. Only an empty query or
// session, a failed embedding, or a dimension mismatch against stored data
// return an error; every other outcome is reported in the Response.
func (h *Handler) ProcessQuery(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	buf, err := h.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.cfg.TopK
	}

	start := time.Now()
	h.queries.Add(1)
	resp := &Response{
		QueryID:   uuid.New().String(),
		SessionID: req.SessionID,
		Query:     req.Query,
		Results:   []fusion.Result{},
		Episodes:  []episodic.Scored{},
		Concepts:  []graph.Activation{},
		Stages:    make(map[string]StageOutcome),
	}
	timer := profiling.NewStageTimer(resp.QueryID, h.profiler)
	trace := explain.New()

	// 1. embed
	stop := timer.Time(StageEmbed)
	queryEmb, err := h.embedder.Embed(ctx, req.Query)
	stop()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(queryEmb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrEmbedding)
	}
	resp.Stages[StageEmbed] = OutcomeOK
	trace.AddStep(explain.StepEmbed, fmt.Sprintf("embedded query (%d dimensions)", len(queryEmb)), nil, 0)

	// 2-4 only depend on the embedding
	var (
		hits      []types.SearchHit
		searchErr error
		episodes  []episodic.Scored
		sources   []string
		concepts  []graph.Activation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer timer.Time(StageVectorSearch)()
		hits, searchErr = h.search(gctx, queryEmb, topK)
		return nil
	})
	if req.UseEpisodic {
		g.Go(func() error {
			defer timer.Time(StageEpisodic)()
			eps, err := buf.RetrieveSimilar(queryEmb, h.cfg.EpisodicTopK, h.cfg.EpisodicMinScore)
			if err != nil {
				return fmt.Errorf("episodic retrieve: %w", err)
			}
			episodes = eps
			return nil
		})
	} else {
		timer.Skip(StageEpisodic)
	}
	if req.UseSemantic {
		g.Go(func() error {
			defer timer.Time(StageSemantic)()
			var err error
			sources, err = h.conceptSources(req.Query, queryEmb)
			if err != nil {
				return fmt.Errorf("semantic activation: %w", err)
			}
			concepts = h.network.SpreadActivation(sources, h.cfg.MaxHops, h.cfg.ActivationDecay, h.cfg.ActivationThreshold)
			return nil
		})
	} else {
		timer.Skip(StageSemantic)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	degraded := searchErr != nil
	switch {
	case degraded:
		h.degraded.Add(1)
		resp.Stages[StageVectorSearch] = OutcomeDegraded
		resp.Warnings = append(resp.Warnings, DegradedWarning)
		logging.Warn("cognitive", "query %s: vector search failed: %v", resp.QueryID, searchErr)
	case len(hits) == 0:
		resp.Stages[StageVectorSearch] = OutcomeEmpty
	default:
		resp.Stages[StageVectorSearch] = OutcomeOK
	}
	resp.Stages[StageEpisodic] = outcome(req.UseEpisodic, len(episodes))
	resp.Stages[StageSemantic] = outcome(req.UseSemantic, len(concepts))
	resp.Episodes = append(resp.Episodes, episodes...)
	resp.Concepts = append(resp.Concepts, concepts...)

	// 5. fuse
	stop = timer.Time(StageFuse)
	var cands []candidate
	if degraded {
		cands = h.episodeCandidates(episodes)
	} else {
		cands = h.hitCandidates(hits, queryEmb, episodes, concepts)
	}
	weights := h.fusion.Weights()
	inputs := make([]fusion.Result, len(cands))
	byID := make(map[string]candidate, len(cands))
	for i, c := range cands {
		inputs[i] = c.result
		byID[c.result.ID] = c
	}
	ranked := weights.FuseAll(inputs)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	stop()
	resp.Results = ranked
	if len(ranked) == 0 {
		resp.Stages[StageFuse] = OutcomeEmpty
		resp.Answer = NoResultsAnswer
		resp.Status = StatusNoCandidates
	} else {
		resp.Stages[StageFuse] = OutcomeOK
		resp.Answer = ranked[0].Content
		resp.Confidence = ranked[0].Confidence
		resp.Status = StatusUnverified
	}

	var shares fusion.Shares
	if len(ranked) > 0 {
		shares = weights.Shares(ranked[0])
	}
	h.traceRetrieval(trace, degraded, hits, episodes, sources, concepts, shares)
	if len(ranked) > 0 {
		trace.AddStep(explain.StepFusion, fmt.Sprintf(
			"fused %d candidates (weights vector=%.2f episodic=%.2f semantic=%.2f recency=%.2f), top confidence %.2f",
			len(cands), weights.Vector, weights.Episodic, weights.Semantic, weights.Recency, ranked[0].Confidence),
			[]string{ranked[0].ID}, ranked[0].Confidence)
	}

	// 6. validate
	if req.UseValidation && len(ranked) > 0 {
		stop = timer.Time(StageValidate)
		res, err := h.validateTop(ctx, byID[ranked[0].ID], hits, episodes)
		stop()
		if err != nil {
			return nil, err
		}
		if res == nil {
			resp.Stages[StageValidate] = OutcomeDegraded
			resp.Warnings = append(resp.Warnings, "validation skipped: could not embed the answer")
		} else {
			resp.Validation = res
			resp.Stages[StageValidate] = OutcomeOK
			if res.Valid {
				resp.Status = StatusValidated
			} else {
				resp.Warnings = append(resp.Warnings, "answer could not be corroborated: "+res.Reason)
			}
			trace.AddStep(explain.StepValidation, validationSummary(res), evidenceRefs(res.Evidence), res.Confidence)
		}
	} else {
		timer.Skip(StageValidate)
		resp.Stages[StageValidate] = OutcomeSkipped
	}

	// 7. explain
	if req.IncludeExplanation {
		stop = timer.Time(StageExplain)
		resp.Explanation = trace.Generate(req.Query, resp.Answer, h.cfg.VerboseExplanation)
		resp.Trace = trace.Steps()
		stop()
		resp.Stages[StageExplain] = OutcomeOK
	} else {
		timer.Skip(StageExplain)
		resp.Stages[StageExplain] = OutcomeSkipped
	}

	// 8. record
	if len(ranked) > 0 {
		stop = timer.Time(StageRecord)
		err := buf.Add(req.Query, resp.Answer, queryEmb, map[string]string{
			"candidate_id": ranked[0].ID,
			"confidence":   strconv.FormatFloat(resp.Confidence, 'f', 4, 64),
			"status":       string(resp.Status),
		})
		stop()
		if err != nil {
			return nil, fmt.Errorf("record episode: %w", err)
		}
		resp.Stages[StageRecord] = OutcomeOK
	} else {
		timer.Skip(StageRecord)
		resp.Stages[StageRecord] = OutcomeSkipped
	}

	resp.Latency = timer.Breakdown()
	resp.Latency[StageTotal] = float64(time.Since(start).Microseconds()) / 1000
	h.profiler.Record(resp.QueryID, StageTotal, time.Since(start), map[string]any{
		"status":  string(resp.Status),
		"results": len(ranked),
	})

	logging.Info("cognitive", "query %s [%s]: %d results, status=%s, %.1fms",
		resp.QueryID[:8], req.SessionID, len(ranked), resp.Status, resp.Latency[StageTotal])
	return resp, nil
}

func outcome(enabled bool, n int) StageOutcome {
	switch {
	case !enabled:
		return OutcomeSkipped
	case n == 0:
		return OutcomeEmpty
	default:
		return OutcomeOK
	}
}

// searchCall is one vector search request and its result
type searchCall struct {
	emb  []float64
	topK int
	hits []types.SearchHit
}

func (h *Handler) runSearch(ctx context.Context, c searchCall) (searchCall, error) {
	hits, err := h.searcher.Search(ctx, c.emb, c.topK)
	c.hits = hits
	return c, err
}

// search calls the vector search engine through the breaker
func (h *Handler) search(ctx context.Context, emb []float64, topK int) ([]types.SearchHit, error) {
	if h.searcher == nil {
		return nil, errNoSearcher
	}
	res, err := h.breaker.Process(ctx, searchCall{emb: emb, topK: topK})
	if errors.Is(err, resilience.ErrOpen) {
		logging.Debug("cognitive", "vector search rejected: breaker open")
	}
	return res.hits, err
}

// conceptSources extracts concept keys from the query that exist in the
// network, plus concepts close to the query embedding when ConceptTopK > 0
func (h *Handler) conceptSources(query string, emb []float64) ([]string, error) {
	if h.network.NumNodes() == 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	var sources []string
	for _, key := range h.extractor.Extract(query) {
		if !seen[key] && h.network.Has(key) {
			seen[key] = true
			sources = append(sources, key)
		}
	}
	if h.cfg.ConceptTopK > 0 {
		similar, err := h.network.FindSimilarConcepts(emb, h.cfg.ConceptTopK, h.cfg.ConceptSimilarity)
		if err != nil {
			return nil, err
		}
		for _, key := range similar {
			if !seen[key] {
				seen[key] = true
				sources = append(sources, key)
			}
		}
	}
	return sources, nil
}

func (h *Handler) hitCandidates(hits []types.SearchHit, queryEmb []float64, episodes []episodic.Scored, concepts []graph.Activation) []candidate {
	activation := make(map[string]float64, len(concepts))
	for _, a := range concepts {
		activation[a.Concept] = a.Level
	}
	now := h.now().UnixMilli()

	out := make([]candidate, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		if seen[hit.ID] {
			continue
		}
		seen[hit.ID] = true

		emb := hit.Embedding
		if len(emb) != len(queryEmb) {
			emb = nil
		}
		out = append(out, candidate{
			result: fusion.Result{
				ID:            hit.ID,
				Content:       hit.Content,
				Metadata:      maps.Clone(hit.Metadata),
				VectorScore:   vecmath.Clamp01(hit.Score),
				EpisodicScore: episodicScore(emb, hit.Content, episodes),
				SemanticScore: h.semanticScore(hit.Content, hit.Metadata, activation),
				RecencyScore:  h.recency(hit.Timestamp, now),
			},
			embedding: emb,
			episode:   -1,
		})
	}
	return out
}

// episodeCandidates turns recalled episodes into candidates when vector
// search is unavailable
func (h *Handler) episodeCandidates(episodes []episodic.Scored) []candidate {
	now := h.now().UnixMilli()
	out := make([]candidate, 0, len(episodes))
	for i, ep := range episodes {
		meta := maps.Clone(ep.Metadata)
		if meta == nil {
			meta = make(map[string]string)
		}
		meta["source"] = validate.SourceEpisodic
		meta["episode_query"] = ep.Query
		out = append(out, candidate{
			result: fusion.Result{
				ID:            episodeRef(ep, i),
				Content:       ep.Response,
				Metadata:      meta,
				EpisodicScore: vecmath.Clamp01(ep.Similarity),
				RecencyScore:  h.recency(ep.Timestamp, now),
			},
			embedding: ep.Embedding,
			episode:   i,
		})
	}
	return out
}

// episodeRef names the i-th recalled episode. Episodes recorded in the same
// millisecond share a timestamp, so the recall index keeps refs unique.
func episodeRef(ep episodic.Scored, i int) string {
	return "episode:" + strconv.FormatInt(ep.Timestamp, 10) + ":" + strconv.Itoa(i)
}

var lexical = &extract.KeywordExtractor{MinLength: 3}

// episodicScore is the best cosine between emb and a recalled episode. A
// candidate without a usable embedding falls back to keyword overlap with
// the episode text.
func episodicScore(emb []float64, content string, episodes []episodic.Scored) float64 {
	if len(episodes) == 0 {
		return 0
	}
	var best float64
	if len(emb) > 0 {
		for _, ep := range episodes {
			sim, err := vecmath.Cosine(emb, ep.Embedding)
			if err == nil && sim > best {
				best = sim
			}
		}
		return vecmath.Clamp01(best)
	}

	words := lexical.Extract(content)
	if len(words) == 0 {
		return 0
	}
	for _, ep := range episodes {
		other := make(map[string]bool)
		for _, w := range lexical.Extract(ep.Query + " " + ep.Response) {
			other[w] = true
		}
		matched := 0
		for _, w := range words {
			if other[w] {
				matched++
			}
		}
		if overlap := float64(matched) / float64(len(words)); overlap > best {
			best = overlap
		}
	}
	return best
}

// semanticScore is the highest activation among concepts mentioned in the
// candidate's content or metadata values
func (h *Handler) semanticScore(content string, metadata map[string]string, activation map[string]float64) float64 {
	if len(activation) == 0 {
		return 0
	}
	var best float64
	consider := func(key string) {
		if a := activation[key]; a > best {
			best = a
		}
	}

	for _, key := range h.extractor.Extract(content) {
		consider(key)
	}
	for _, k := range slices.Sorted(maps.Keys(metadata)) {
		v := metadata[k]
		consider(extract.Normalize(v))
		for _, key := range h.extractor.Extract(v) {
			consider(key)
		}
	}
	return vecmath.Clamp01(best)
}

// recency decays with the age of ts. A missing timestamp is neutral.
func (h *Handler) recency(ts, now int64) float64 {
	if ts <= 0 {
		return 1
	}
	age := now - ts
	if age < 0 {
		age = 0
	}
	return vecmath.Decay(h.lambda, age)
}

// validateTop checks the chosen candidate against the other hits and the
// recalled episodes. A nil result means the claim could not be embedded.
func (h *Handler) validateTop(ctx context.Context, top candidate, hits []types.SearchHit, episodes []episodic.Scored) (*validate.Result, error) {
	claim := top.embedding
	if len(claim) == 0 {
		emb, err := h.embedder.Embed(ctx, top.result.Content)
		if err != nil || len(emb) == 0 {
			logging.Warn("cognitive", "validation embed failed for %s: %v", top.result.ID, err)
			return nil, nil
		}
		claim = emb
	}

	var hitSupport, episodeSupport []validate.Support
	for _, hit := range hits {
		if hit.ID == top.result.ID {
			continue
		}
		emb := hit.Embedding
		if len(emb) != len(claim) {
			emb = nil // skipped by the detector
		}
		hitSupport = append(hitSupport, validate.Support{Ref: hit.ID, Embedding: emb, Timestamp: hit.Timestamp})
	}
	for i, ep := range episodes {
		if i == top.episode {
			continue
		}
		episodeSupport = append(episodeSupport, validate.Support{Ref: episodeRef(ep, i), Embedding: ep.Embedding, Timestamp: ep.Timestamp})
	}

	res, err := h.detector.ValidateClaim(claim, hitSupport, episodeSupport, h.cfg.ValidationThreshold, h.cfg.MinEvidence)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	res.Flags = h.detector.Flags(top.result.Content, len(res.Evidence))
	return &res, nil
}

// traceRetrieval records the search, recall and activation steps. shares
// are the top candidate's per-signal contributions.
func (h *Handler) traceRetrieval(trace *explain.Engine, degraded bool, hits []types.SearchHit, episodes []episodic.Scored, sources []string, concepts []graph.Activation, shares fusion.Shares) {
	switch {
	case degraded:
		trace.AddStep(explain.StepDegradation, DegradedWarning, nil, 0)
	case len(hits) > 0:
		n := min(3, len(hits))
		var sum float64
		refs := make([]string, 0, n)
		for _, hit := range hits[:n] {
			sum += hit.Score
			refs = append(refs, hit.ID)
		}
		trace.AddStep(explain.StepVector,
			fmt.Sprintf("retrieved %d candidates, mean similarity %.2f over the top %d", len(hits), sum/float64(n), n),
			refs, shares.Vector)
	default:
		trace.AddStep(explain.StepVector, "vector search returned no candidates", nil, 0)
	}

	if len(episodes) > 0 {
		n := min(2, len(episodes))
		var sum float64
		refs := make([]string, 0, n)
		for _, ep := range episodes[:n] {
			sum += ep.Score
			refs = append(refs, logging.Truncate(ep.Query, 40))
		}
		trace.AddStep(explain.StepEpisodic,
			fmt.Sprintf("recalled %d related episodes, mean relevance %.2f", len(episodes), sum/float64(n)),
			refs, shares.Episodic)
	}

	if len(concepts) > 0 {
		n := min(5, len(concepts))
		refs := make([]string, 0, n)
		for _, a := range concepts[:n] {
			refs = append(refs, fmt.Sprintf("%s (%.2f)", a.Concept, a.Level))
		}
		trace.AddStep(explain.StepSemantic,
			fmt.Sprintf("activated %d concepts from %s", len(concepts), strings.Join(sources, ", ")),
			refs, shares.Semantic)
	}
}

func validationSummary(res *validate.Result) string {
	if res.Valid {
		return fmt.Sprintf("answer supported by %d evidence items (confidence %.2f)", len(res.Evidence), res.Confidence)
	}
	return "insufficient evidence: " + res.Reason
}

func evidenceRefs(evidence []validate.Evidence) []string {
	refs := make([]string, len(evidence))
	for i, e := range evidence {
		refs[i] = fmt.Sprintf("%s:%s (%.2f)", e.Source, e.Ref, e.Relevance)
	}
	return refs
}

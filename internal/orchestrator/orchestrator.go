// Package orchestrator implements the Orchestrator (spec §4.10): the
// engine's five public entry points, wiring EmbeddingProvider ∥ OracleClient
// into HybridSearcher (LexicalIndex ∥ VectorIndex) into Ranker, with
// PrefixCompletionEngine consulted first on long queries.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/amanbi/qassist/internal/behavior"
	"github.com/amanbi/qassist/internal/docstore"
	qerrors "github.com/amanbi/qassist/internal/errors"
	"github.com/amanbi/qassist/internal/hybrid"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/oracle"
	"github.com/amanbi/qassist/internal/prefix"
	"github.com/amanbi/qassist/internal/rank"
)

// Embedder is the subset of embed.Embedder the Orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the tunables spec §5/§6 name. TotalTimeout is T_total;
// OriginalBoost is the multiplicative priority given to the original query
// over its Oracle expansions in get_suggestions step 2.
type Config struct {
	TotalTimeout   time.Duration
	OriginalBoost  float64
	RelatedHistory int // how many recent history entries to surface in get_related_queries
}

// DefaultConfig returns spec §5/§4.10 defaults.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:   1500 * time.Millisecond,
		OriginalBoost:  1.1,
		RelatedHistory: 5,
	}
}

// Engine is the Orchestrator, built once per process (or per test case) via
// New and torn down with Close -- the explicit initialize/shutdown pair
// spec §9 asks the out-of-scope HTTP layer to use.
type Engine struct {
	embedder Embedder
	hybrid   *hybrid.Searcher
	ranker   *rank.Ranker
	prefix   *prefix.Engine
	oracle   oracle.Client
	docs     *docstore.Store
	behavior *behavior.Store
	config   Config
}

// New wires an Engine from already-constructed components. behaviorStore,
// prefixEngine, and oracleClient may be nil: the Orchestrator degrades by
// skipping personalization, prefix completion, or LLM enrichment
// respectively, rather than failing.
func New(
	embedder Embedder,
	searcher *hybrid.Searcher,
	ranker *rank.Ranker,
	prefixEngine *prefix.Engine,
	oracleClient oracle.Client,
	docs *docstore.Store,
	behaviorStore *behavior.Store,
	cfg Config,
) (*Engine, error) {
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultConfig().TotalTimeout
	}
	if cfg.OriginalBoost <= 0 {
		cfg.OriginalBoost = DefaultConfig().OriginalBoost
	}
	if cfg.RelatedHistory <= 0 {
		cfg.RelatedHistory = DefaultConfig().RelatedHistory
	}
	return &Engine{
		embedder: embedder,
		hybrid:   searcher,
		ranker:   ranker,
		prefix:   prefixEngine,
		oracle:   oracleClient,
		docs:     docs,
		behavior: behaviorStore,
		config:   cfg,
	}, nil
}

// Close releases nothing of its own; the Engine doesn't own the lifetime of
// its components (the caller that built them with lexindex.New/vecindex.New/
// behavior.Open closes them). It exists to match spec §9's handle/shutdown
// pair so callers have one lifecycle hook regardless of which components
// need closing.
func (e *Engine) Close() error { return nil }

// GetSuggestions is get_suggestions(query, user?, limit, min_score?)
// (spec §4.10).
func (e *Engine) GetSuggestions(ctx context.Context, query, user string, limit int) ([]model.Suggestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.ValidationError(qerrors.ErrCodeQueryEmpty, "query must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.TotalTimeout)
	defer cancel()

	if e.prefix != nil && e.prefix.Triggers(query) {
		if suggestions, ok := e.prefix.Complete(ctx, query, limit); ok {
			return suggestions, nil
		}
	}

	var expansions []string
	expanded := make(chan struct{})
	go func() {
		defer close(expanded)
		if e.oracle != nil && e.oracle.IsAvailable(ctx) {
			expansions = e.oracle.ExpandQuery(ctx, query)
		}
	}()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("orchestrator_embed_failed", slog.String("error", err.Error()))
		embedding = nil
	}
	<-expanded

	queries := []queryWeight{{text: query, boost: e.config.OriginalBoost, original: true}}
	for _, expansion := range expansions {
		queries = append(queries, queryWeight{text: expansion, boost: 1.0})
	}

	candidates, err := e.searchMany(ctx, queries, embedding, limit)
	if err != nil {
		return nil, err
	}

	return e.ranker.Rank(ctx, query, user, candidates, limit), nil
}

type queryWeight struct {
	text     string
	boost    float64
	original bool
}

// searchMany runs HybridSearcher once per query variant and merges the
// results, applying each variant's boost and keeping the highest score per
// document id (spec §4.10 step 2: "merge results giving the original a
// multiplicative priority 1.1").
func (e *Engine) searchMany(ctx context.Context, queries []queryWeight, embedding []float32, limit int) ([]model.Candidate, error) {
	merged := make(map[string]model.Candidate)
	var lastErr error
	succeeded := false

	for _, q := range queries {
		var qEmbedding []float32
		if q.original {
			qEmbedding = embedding
		}
		results, err := e.hybrid.Search(ctx, q.text, qEmbedding, limit)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true
		for _, c := range results {
			c.Score *= q.boost
			if existing, ok := merged[c.ID]; !ok || c.Score > existing.Score {
				merged[c.ID] = c
			}
		}
	}

	if !succeeded {
		return nil, qerrors.UnavailableError("all suggestion sources failed", lastErr)
	}

	out := make([]model.Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].LexScore != out[j].LexScore {
			return out[i].LexScore > out[j].LexScore
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetSimilarQueries is get_similar_queries(query, user?, limit): a
// vector-only path through HybridSearcher (spec §4.10).
func (e *Engine) GetSimilarQueries(ctx context.Context, query, user string, limit int) ([]model.Suggestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.ValidationError(qerrors.ErrCodeQueryEmpty, "query must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.TotalTimeout)
	defer cancel()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeEmbeddingFailed, err)
	}

	candidates, err := e.hybrid.SearchVectorOnly(ctx, embedding, limit)
	if err != nil {
		return nil, qerrors.UnavailableError("vector search unavailable", err)
	}
	return e.ranker.Rank(ctx, query, user, candidates, limit), nil
}

// GetRelatedQueries is get_related_queries(query, user?, limit): the union
// of five sources, deduplicated by case-insensitive whitespace-normalized
// text keeping the highest score (spec §4.10).
func (e *Engine) GetRelatedQueries(ctx context.Context, query, user string, limit int) ([]model.Suggestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.ValidationError(qerrors.ErrCodeQueryEmpty, "query must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.TotalTimeout)
	defer cancel()

	var suggestions []model.Suggestion

	if e.oracle != nil && e.oracle.IsAvailable(ctx) {
		related := e.oracle.GenerateRelated(ctx, query, nil)
		for i, text := range related {
			score := 0.95 - float64(i)*0.01
			if score < 0.90 {
				score = 0.90
			}
			suggestions = append(suggestions, model.Suggestion{Text: text, Score: score, Source: model.SourceLLM})
		}
	}

	if e.behavior != nil {
		edges := e.behavior.GetSequences(ctx, query, user)
		maxNext := maxScore(edges.Next)
		for _, edge := range edges.Next {
			suggestions = append(suggestions, model.Suggestion{
				Text: edge.Text, Score: 0.85 * normalize(edge.Score, maxNext), Source: model.SourceSequenceNext,
			})
		}
		maxPrev := maxScore(edges.Previous)
		for _, edge := range edges.Previous {
			suggestions = append(suggestions, model.Suggestion{
				Text: edge.Text, Score: 0.75 * normalize(edge.Score, maxPrev), Source: model.SourceSequencePrev,
			})
		}
	}

	if e.hybrid != nil {
		candidates, err := e.hybrid.Search(ctx, query, nil, limit)
		if err == nil {
			for _, c := range candidates {
				doc, ok := e.docs.Get(c.ID)
				if !ok {
					continue
				}
				score := c.Score
				if score > 0.80 {
					score = 0.80
				}
				suggestions = append(suggestions, model.Suggestion{Text: doc.Text, Score: score, Source: model.SourceHybrid})
			}
		}
	}

	if e.behavior != nil && user != "" {
		history := e.behavior.GetHistory(ctx, user, e.config.RelatedHistory)
		for _, h := range history {
			if strings.EqualFold(strings.TrimSpace(h.Query), strings.TrimSpace(query)) {
				suggestions = append(suggestions, model.Suggestion{Text: h.Selected, Score: 0.70, Source: model.SourceHistory})
			}
		}
	}

	return dedupeByText(suggestions, limit), nil
}

func maxScore(edges []model.ScoredText) float64 {
	var max float64
	for _, e := range edges {
		if e.Score > max {
			max = e.Score
		}
	}
	return max
}

func normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max
}

// dedupeByText implements spec §4.10's "deduplicate by text (case-
// insensitive, whitespace-normalized), keep highest score, sort desc, take
// top limit".
func dedupeByText(suggestions []model.Suggestion, limit int) []model.Suggestion {
	best := make(map[string]model.Suggestion)
	order := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		key := strings.ToLower(strings.Join(strings.Fields(s.Text), " "))
		if key == "" {
			continue
		}
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = s
			continue
		}
		if s.Score > existing.Score {
			best[key] = s
		}
	}

	out := make([]model.Suggestion, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecordFeedback is record_feedback(query, selected, user?, timestamp?)
// (spec §4.10): forwards to BehaviorStore and bumps the matching document's
// frequency counter if one exists.
func (e *Engine) RecordFeedback(ctx context.Context, query, selected, user string, timestamp time.Time) error {
	if strings.TrimSpace(selected) == "" {
		return qerrors.ValidationError(qerrors.ErrCodeQueryEmpty, "selected must not be empty")
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	if e.behavior != nil {
		e.behavior.RecordSelection(ctx, user, query, selected, timestamp)
	}

	if id := e.findDocumentByText(selected); id != "" {
		if err := e.docs.IncrementFrequency(ctx, id, 1); err != nil {
			slog.Warn("orchestrator_increment_frequency_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// findDocumentByText resolves selected back to a document id via the same
// stable-hash policy DocumentStore.Add uses for caller-less ids (spec
// §4.4); it only finds documents that were added without an explicit
// custom id.
func (e *Engine) findDocumentByText(text string) string {
	id := docstore.StableID(text)
	if _, ok := e.docs.Get(id); ok {
		return id
	}
	return ""
}

// AddDocument is add_document, forwarding to DocumentStore (spec §4.10).
func (e *Engine) AddDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	return e.docs.Add(ctx, doc)
}

// BulkAddDocuments is bulk_add_document, forwarding to DocumentStore
// (spec §4.10). The result carries a per-document success/error split
// rather than failing the whole batch for one bad document.
func (e *Engine) BulkAddDocuments(ctx context.Context, docs []*model.Document) (*docstore.BulkAddResult, error) {
	return e.docs.BulkAdd(ctx, docs)
}

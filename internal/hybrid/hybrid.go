// Package hybrid implements HybridSearcher (spec §4.6): a concurrent
// lexical+vector fan-out, normalized and blended into one ranked candidate
// list. The concurrency shape (errgroup, per-leg timeout, graceful
// single-source degradation) is grounded on
// pkg/searcher/fusion.go's FusionSearcher; the fusion arithmetic itself is
// rewritten as max-normalize-then-weighted-blend rather than
// Reciprocal Rank Fusion, since that is the formula this engine's
// scoring contract requires.
package hybrid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/vecindex"
)

// Config controls fan-out limits, weights, and per-leg timeouts (spec §6's
// `search` and `timeouts` sections).
type Config struct {
	// LexicalWeight and VectorWeight blend the two legs (w_kw, w_vec).
	// Must sum to 1; DefaultConfig enforces the spec defaults.
	LexicalWeight float64
	VectorWeight  float64

	// LexicalLimit and VectorLimit bound each leg's candidate fetch (K_l, K_v).
	LexicalLimit int
	VectorLimit  int

	// LexTimeout and VecTimeout bound each leg's own call (T_lex, T_vec).
	LexTimeout time.Duration
	VecTimeout time.Duration
}

// DefaultConfig returns spec §4.6/§6 defaults.
func DefaultConfig() Config {
	return Config{
		LexicalWeight: 0.7,
		VectorWeight:  0.3,
		LexicalLimit:  50,
		VectorLimit:   50,
		LexTimeout:    200 * time.Millisecond,
		VecTimeout:    200 * time.Millisecond,
	}
}

// ErrAllSourcesFailed is returned when both the lexical and vector legs
// fail; a single-leg failure instead degrades gracefully to the surviving
// leg's results.
type ErrAllSourcesFailed struct {
	LexicalErr error
	VectorErr  error
}

func (e ErrAllSourcesFailed) Error() string {
	return fmt.Sprintf("all search sources failed: lexical=%v vector=%v", e.LexicalErr, e.VectorErr)
}

// Searcher is the HybridSearcher component.
type Searcher struct {
	lexical *lexindex.Index
	vector  *vecindex.Index
	docs    *docstore.Store
	config  Config
}

// New wires a Searcher from its collaborators.
func New(lexical *lexindex.Index, vector *vecindex.Index, docs *docstore.Store, cfg Config) *Searcher {
	if cfg.LexicalLimit <= 0 {
		cfg.LexicalLimit = 50
	}
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = 50
	}
	if cfg.LexTimeout <= 0 {
		cfg.LexTimeout = 200 * time.Millisecond
	}
	if cfg.VecTimeout <= 0 {
		cfg.VecTimeout = 200 * time.Millisecond
	}
	return &Searcher{lexical: lexical, vector: vector, docs: docs, config: cfg}
}

// Search issues the concurrent lexical/vector pair, normalizes and blends
// their scores (spec §4.6 steps 1-3), and returns a deterministically
// ordered candidate list. queryEmbedding may be nil if the caller has no
// embedding available (e.g. the embedder is unavailable); the vector leg
// is then skipped rather than attempted with a zero vector.
func (s *Searcher) Search(ctx context.Context, queryText string, queryEmbedding []float32, limit int) ([]model.Candidate, error) {
	return s.search(ctx, queryText, queryEmbedding, limit, s.config.LexicalWeight, s.config.VectorWeight)
}

// SearchVectorOnly runs the vector leg exclusively (spec §4.10's
// get_similar_queries: "vector-only search path through HybridSearcher with
// w_kw = 0, w_vec = 1"). The lexical leg is skipped entirely rather than run
// and zero-weighted, so its candidates don't appear at score 0.
func (s *Searcher) SearchVectorOnly(ctx context.Context, queryEmbedding []float32, limit int) ([]model.Candidate, error) {
	return s.search(ctx, "", queryEmbedding, limit, 0, 1)
}

func (s *Searcher) search(ctx context.Context, queryText string, queryEmbedding []float32, limit int, lexWeight, vecWeight float64) ([]model.Candidate, error) {
	var (
		lexResults []lexindex.Result
		vecResults []vecindex.Result
		lexErr     error
		vecErr     error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if lexWeight == 0 {
			return nil
		}
		lctx, cancel := context.WithTimeout(gctx, s.config.LexTimeout)
		defer cancel()
		lexResults, lexErr = s.lexical.Search(lctx, queryText, s.config.LexicalLimit)
		return nil
	})

	g.Go(func() error {
		if len(queryEmbedding) == 0 || vecWeight == 0 {
			return nil
		}
		vctx, cancel := context.WithTimeout(gctx, s.config.VecTimeout)
		defer cancel()
		vecResults, vecErr = s.vector.Search(vctx, queryEmbedding, s.config.VectorLimit)
		return nil
	})

	_ = g.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, ErrAllSourcesFailed{LexicalErr: lexErr, VectorErr: vecErr}
	}

	lexNorm, lexRaw := normalizeLexical(lexResults)
	if lexErr != nil {
		lexNorm = nil
		lexRaw = nil
	}
	vecNorm := normalizeVector(vecResults)
	if vecErr != nil {
		vecNorm = nil
	}

	candidates := s.blend(lexNorm, lexRaw, vecNorm, lexWeight, vecWeight)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].LexScore != candidates[j].LexScore {
			return candidates[i].LexScore > candidates[j].LexScore
		}
		if candidates[i].Frequency != candidates[j].Frequency {
			return candidates[i].Frequency > candidates[j].Frequency
		}
		return candidates[i].ID < candidates[j].ID
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// normalizeLexical maps each result's raw score to [0, 1] by dividing by
// the observed maximum in the batch (spec §4.6 step 1), returning both the
// normalized map and the raw scores (kept for tie-break).
func normalizeLexical(results []lexindex.Result) (map[string]float64, map[string]float64) {
	if len(results) == 0 {
		return nil, nil
	}
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	norm := make(map[string]float64, len(results))
	raw := make(map[string]float64, len(results))
	for _, r := range results {
		raw[r.ID] = r.Score
		if max > 0 {
			norm[r.ID] = r.Score / max
		}
	}
	return norm, raw
}

// normalizeVector maps each result's cosine-derived score to [0, 1].
// vecindex already scores as (cosine_similarity + 1) / 2, which is exactly
// the mapping spec §4.6 step 1 describes for vector similarity, so no
// further batch-relative normalization is applied.
func normalizeVector(results []vecindex.Result) map[string]float64 {
	if len(results) == 0 {
		return nil
	}
	norm := make(map[string]float64, len(results))
	for _, r := range results {
		norm[r.ID] = float64(r.Score)
	}
	return norm
}

func (s *Searcher) blend(lexNorm, lexRaw, vecNorm map[string]float64, lexWeight, vecWeight float64) []model.Candidate {
	ids := make(map[string]struct{}, len(lexNorm)+len(vecNorm))
	for id := range lexNorm {
		ids[id] = struct{}{}
	}
	for id := range vecNorm {
		ids[id] = struct{}{}
	}

	candidates := make([]model.Candidate, 0, len(ids))
	for id := range ids {
		lexScore, fromLex := lexNorm[id]
		vecScore, fromVec := vecNorm[id]

		score := lexWeight*lexScore + vecWeight*vecScore

		var source string
		switch {
		case fromLex && fromVec:
			source = model.SourceHybrid
		case fromLex:
			source = model.SourceKeyword
		default:
			source = model.SourceVector
		}

		candidates = append(candidates, model.Candidate{
			ID:        id,
			Score:     score,
			Source:    source,
			LexScore:  lexRaw[id],
			Frequency: s.frequencyOf(id),
		})
	}
	return candidates
}

func (s *Searcher) frequencyOf(id string) int64 {
	if s.docs == nil {
		return 0
	}
	doc, ok := s.docs.Get(id)
	if !ok {
		return 0
	}
	return doc.Frequency
}

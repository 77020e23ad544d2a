// Package prefix implements PrefixCompletionEngine (spec §4.8): tail-word
// completion for long, in-progress queries, preserving everything the user
// already typed and only resolving the last (possibly partial) word.
package prefix

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/amanbi/qassist/internal/docstore"
	"github.com/amanbi/qassist/internal/lexindex"
	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/oracle"
	"github.com/amanbi/qassist/internal/qtext"
)

// Config holds the trigger thresholds and scoring knobs (spec §6's `prefix`
// section).
type Config struct {
	// MinTokens (τ_tokens) is the minimum token count that engages the
	// engine.
	MinTokens int
	// MinTailChars (τ_tail) is the minimum rune length of the trailing
	// token.
	MinTailChars int
	// CandidateLimit (K_cand) bounds how many candidate completions are
	// considered.
	CandidateLimit int
	// MinPreserved is the minimum number of completions required before
	// the engine reports success; below this it signals the Orchestrator
	// to fall back to the regular path.
	MinPreserved int
	// FallbackLogScale (C) divides the log-frequency term in the
	// no-oracle fallback score.
	FallbackLogScale float64
}

// DefaultConfig returns spec §4.8 defaults.
func DefaultConfig() Config {
	return Config{
		MinTokens:        5,
		MinTailChars:     1,
		CandidateLimit:   20,
		MinPreserved:     1,
		FallbackLogScale: 10,
	}
}

// Engine is the PrefixCompletionEngine component.
type Engine struct {
	lexical *lexindex.Index
	docs    *docstore.Store
	oracle  oracle.Client
	config  Config
}

// New wires an Engine. oracleClient may be nil, in which case the fallback
// scoring path is always used.
func New(lexical *lexindex.Index, docs *docstore.Store, oracleClient oracle.Client, cfg Config) *Engine {
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = 5
	}
	if cfg.MinTailChars <= 0 {
		cfg.MinTailChars = 1
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 20
	}
	if cfg.MinPreserved <= 0 {
		cfg.MinPreserved = 1
	}
	if cfg.FallbackLogScale <= 0 {
		cfg.FallbackLogScale = 10
	}
	if oracleClient == nil {
		oracleClient = oracle.NoopOracle{}
	}
	return &Engine{lexical: lexical, docs: docs, oracle: oracleClient, config: cfg}
}

type candidateCompletion struct {
	text      string
	docScore  float64
	frequency int64
}

type rankedCompletion struct {
	text  string
	score float64
}

// Triggers reports whether query meets spec §4.8's engagement condition
// without running the rest of the algorithm, so the Orchestrator can check
// cheaply before committing to the prefix path.
func (e *Engine) Triggers(query string) bool {
	tokens := qtext.Tokenize(query)
	return e.triggers(tokens)
}

func (e *Engine) triggers(tokens []qtext.Token) bool {
	if len(tokens) < e.config.MinTokens {
		return false
	}
	tail := tokens[len(tokens)-1]
	return len([]rune(tail.Text)) >= e.config.MinTailChars
}

// Complete runs the full algorithm (spec §4.8 steps 1-5). The second return
// value is false when the trigger condition doesn't hold or fewer than
// MinPreserved completions were produced, signaling the Orchestrator to fall
// back to the regular suggestion path.
func (e *Engine) Complete(ctx context.Context, query string, limit int) ([]model.Suggestion, bool) {
	tokens := qtext.Tokenize(query)
	if !e.triggers(tokens) {
		return nil, false
	}

	tail := tokens[len(tokens)-1]
	prefixText := query[:tail.Start]

	candidates := e.candidateCompletions(ctx, tail.Text)
	if len(candidates) == 0 {
		return nil, false
	}

	ranked, method := e.rank(ctx, prefixText, tail.Text, candidates)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].text < ranked[j].text
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	suggestions := make([]model.Suggestion, 0, len(ranked))
	for _, r := range ranked {
		suggestions = append(suggestions, model.Suggestion{
			Text:   prefixText + r.text,
			Score:  r.score,
			Source: model.SourcePrefixPreserved,
			Metadata: map[string]string{
				"prefix":          prefixText,
				"incomplete_term": tail.Text,
				"completed_term":  r.text,
				"method":          method,
			},
		})
	}

	if len(suggestions) < e.config.MinPreserved {
		return nil, false
	}
	return suggestions, true
}

// candidateCompletions finds, among documents whose text matches tail as a
// phrase-prefix query, the distinct tokens that themselves start with tail
// -- these are the candidate tail completions, not whole-document
// replacements (spec §4.8 step 2).
func (e *Engine) candidateCompletions(ctx context.Context, tail string) []candidateCompletion {
	results, err := e.lexical.Search(ctx, tail, e.config.CandidateLimit)
	if err != nil || len(results) == 0 {
		return nil
	}

	tailLower := strings.ToLower(tail)
	seen := make(map[string]struct{})
	var out []candidateCompletion

	for _, r := range results {
		doc, ok := e.docs.Get(r.ID)
		if !ok {
			continue
		}
		for _, tok := range qtext.Words(doc.Text) {
			tokLower := strings.ToLower(tok)
			if !strings.HasPrefix(tokLower, tailLower) {
				continue
			}
			if _, dup := seen[tokLower]; dup {
				continue
			}
			seen[tokLower] = struct{}{}
			out = append(out, candidateCompletion{text: tok, docScore: r.Score, frequency: doc.Frequency})
		}
	}
	return out
}

// rank applies step 3: OracleClient.RankPrefixCompletions when available,
// otherwise the fallback lex_norm + log(1+frequency)/C formula.
func (e *Engine) rank(ctx context.Context, prefix, tail string, candidates []candidateCompletion) ([]rankedCompletion, string) {
	if e.oracle.IsAvailable(ctx) {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.text
		}
		oracleRanked := e.oracle.RankPrefixCompletions(ctx, prefix, tail, texts, nil)
		if len(oracleRanked) > 0 {
			ranked := make([]rankedCompletion, len(oracleRanked))
			for i, r := range oracleRanked {
				ranked[i] = rankedCompletion{text: r.Text, score: r.Score}
			}
			return ranked, "oracle"
		}
	}
	return e.fallbackRank(candidates), "fallback"
}

func (e *Engine) fallbackRank(candidates []candidateCompletion) []rankedCompletion {
	var maxScore float64
	for _, c := range candidates {
		if c.docScore > maxScore {
			maxScore = c.docScore
		}
	}

	ranked := make([]rankedCompletion, len(candidates))
	for i, c := range candidates {
		var lexNorm float64
		if maxScore > 0 {
			lexNorm = c.docScore / maxScore
		}
		score := lexNorm + math.Log(1+float64(c.frequency))/e.config.FallbackLogScale
		ranked[i] = rankedCompletion{text: c.text, score: score}
	}
	return ranked
}
